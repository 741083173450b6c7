package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/pyronotes/internal/audio"
	"github.com/rbright/pyronotes/internal/backend"
	"github.com/rbright/pyronotes/internal/backend/backendtest"
	"github.com/rbright/pyronotes/internal/drafts"
	"github.com/rbright/pyronotes/internal/fsm"
	"github.com/rbright/pyronotes/internal/ipc"
	"github.com/rbright/pyronotes/internal/recognizer"
	"github.com/rbright/pyronotes/internal/session"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "pyronotes")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteBrokenConfigFails(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	require.NoError(t, os.WriteFile(paths.configPath, []byte(`{"indicator": {}}`), 0o600))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	exitCode := Execute(context.Background(), []string{"--config", paths.configPath, "drafts"}, &stdout, &stderr)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "unknown field")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveRecording(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active pyronotes recording")
}

func TestRunnerForwardsCommandsToActiveRecording(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	requests := make(chan ipc.Request, 8)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "recording"}
		case "stop", "reset", "save":
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	runs := [][]string{
		{"status"},
		{"stop"},
		{"reset"},
		{"stop", "--title", "Genetics", "--folder", "bio"},
	}
	for _, args := range runs {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, args)
		require.Empty(t, stderr.String(), args)
	}

	got := []ipc.Request{<-requests, <-requests, <-requests, <-requests}
	require.Equal(t, []ipc.Request{
		{Command: "status"},
		{Command: "stop"},
		{Command: "reset"},
		{Command: "save", Title: "Genetics", FolderID: "bio"},
	}, got)
}

func TestRunnerForwardSurfacesRefusal(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: false, Error: "cannot stop from state done"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "cannot stop from state done")
}

func TestRunnerRecordRefusedWhileAnotherRecordingOwnsSocket(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "recording", SessionID: "lec-7"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "a recording is already running (recording, session lec-7)")

	_, statErr := os.Stat(paths.socketPath())
	require.NoError(t, statErr)
}

func TestRunnerStatusRendersLiveSession(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{
			OK:         true,
			State:      "recording",
			SessionID:  "lec-7",
			Transcript: "Photosynthesis converts light.",
			Insights:   []ipc.Insight{{Subtype: "definition", Term: "Chlorophyll", Text: "Green pigment."}},
			Level:      0.5,
		}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "lec-7")
	require.Contains(t, stdout.String(), "Photosynthesis converts light.")
	require.Contains(t, stdout.String(), "Chlorophyll")
	require.Contains(t, stdout.String(), "level ")
}

func TestRunnerStatusFallsBackToIdleWhenServerStateEmpty(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "status", req.Command)
		return ipc.Response{OK: true, State: ""}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerRecordStopWithTitleSaves(t *testing.T) {
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	paths := setupRunnerEnv(t, srv.URL)

	capture := &pipeCapture{}
	engines := &sinkEngines{}
	owner := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, Capture: capture, StartEngine: engines.start}
	ownerOut := owner.Stdout.(*bytes.Buffer)

	exitCh := make(chan int, 1)
	go func() {
		exitCh <- owner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	}()

	sink := engines.wait(t)
	capture.write(t, bytes.Repeat([]byte{0x01, 0x00}, 800))
	sink.Final("Mitosis has four phases.")
	waitForTranscript(t, paths, "Mitosis has four phases.")

	ctl := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, ctl.Execute(context.Background(), []string{"--config", paths.configPath, "stop", "--title", "Cell Biology"}))

	select {
	case code := <-exitCh:
		require.Equal(t, 0, code, ownerOut.String())
	case <-time.After(5 * time.Second):
		t.Fatal("record did not finish")
	}

	require.Contains(t, ownerOut.String(), "Mitosis has four phases.")
	require.Contains(t, ownerOut.String(), "saved lecture lec-1")

	lecture, ok := srv.Lecture("lec-1")
	require.True(t, ok)
	require.Equal(t, "Cell Biology", lecture.Title)
	require.Equal(t, backend.LectureReady, lecture.Status)
	require.NotEmpty(t, srv.Audio("lec-1"))

	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)

	store, err := drafts.Open(paths.draftsPath)
	require.NoError(t, err)
	defer store.Close()
	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRunnerRecordCancelledContextDiscards(t *testing.T) {
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	paths := setupRunnerEnv(t, srv.URL)

	engines := &sinkEngines{}
	var stdout bytes.Buffer
	owner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}, Capture: &pipeCapture{}, StartEngine: engines.start}

	ctx, cancel := context.WithCancel(context.Background())
	exitCh := make(chan int, 1)
	go func() {
		exitCh <- owner.Execute(ctx, []string{"--config", paths.configPath, "record", "--title", "never saved"})
	}()

	engines.wait(t)
	cancel()

	require.Equal(t, 0, <-exitCh)
	require.Contains(t, stdout.String(), "recording discarded")
	_, ok := srv.Lecture("lec-1")
	require.False(t, ok)
}

func TestRunnerRecordStartFailureCleansUpSocket(t *testing.T) {
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	paths := setupRunnerEnv(t, srv.URL)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Capture: &pipeCapture{err: audio.ErrPermissionDenied}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")

	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerUploadThenSaveDraft(t *testing.T) {
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.FailUpdate.Store(true)
	paths := setupRunnerEnv(t, srv.URL)

	wavPath := filepath.Join(t.TempDir(), "lecture.wav")
	pcm := bytes.Repeat([]byte{0x02, 0x00}, 16000)
	require.NoError(t, os.WriteFile(wavPath, audio.EncodeWAV(pcm, audio.DefaultFormat), 0o600))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "upload", wavPath, "--title", "Week 1"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "retry with")

	stdout.Reset()
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "drafts"}))
	require.Contains(t, stdout.String(), "upload")

	store, err := drafts.Open(paths.draftsPath)
	require.NoError(t, err)
	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, list, 1)
	id := list[0].ID

	srv.FailUpdate.Store(false)
	stdout.Reset()
	stderr.Reset()
	exitCode = runner.Execute(context.Background(), []string{"--config", paths.configPath, "save", id, "--title", "Week 1", "--folder", "bio"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), fmt.Sprintf("saved lecture %s", id))

	lecture, ok := srv.Lecture(id)
	require.True(t, ok)
	require.Equal(t, "Week 1", lecture.Title)
	require.Equal(t, "bio", *lecture.FolderID)
}

func TestRunnerSaveUnknownDraft(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "save", "lec-404", "--title", "Lost"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), `no draft "lec-404"`)
}

func TestRunnerGenerate(t *testing.T) {
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	paths := setupRunnerEnv(t, srv.URL)

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "generate", "--type", "flashcards", "--scope", "folder", "bio"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "flashcards for folder bio")
}

func TestRunnerDevices(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	runner := Runner{
		Stdout: &stdout,
		Stderr: &bytes.Buffer{},
		Devices: func(context.Context) ([]audio.Device, error) {
			return []audio.Device{{ID: "alsa_input.usb", Description: "USB Mic", Available: true, Default: true}}, nil
		},
	}
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"}))
	require.Contains(t, stdout.String(), "alsa_input.usb")

	runner.Devices = func(context.Context) ([]audio.Device, error) {
		return nil, errors.New("connect pulse server: refused")
	}
	var stderr bytes.Buffer
	runner.Stderr = &stderr
	require.Equal(t, 1, runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"}))
	require.Contains(t, stderr.String(), "connect pulse server")
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, "http://127.0.0.1:1")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] backend")
}

func TestLogSessionResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logSessionResult(logger, session.Result{
		Session:    session.Session{ID: "lec-1", Status: fsm.StatusDone, Transcript: "hello"},
		Saved:      true,
		StartedAt:  started,
		FinishedAt: finished,
	})
	require.Contains(t, logBuf.String(), "session complete")
	require.Contains(t, logBuf.String(), `"transcript_length":5`)

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		StartedAt:  started,
		FinishedAt: finished,
		Err:        errors.New("boom"),
	})
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")
}

func TestAudioDumperWritesWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	dump := audioDumper(dir, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	dump("lec-3", []byte("RIFF"))
	got, err := os.ReadFile(filepath.Join(dir, "lec-3.wav"))
	require.NoError(t, err)
	require.Equal(t, []byte("RIFF"), got)
}

type runnerPaths struct {
	configPath string
	runtimeDir string
	draftsPath string
}

func (p runnerPaths) socketPath() string {
	return filepath.Join(p.runtimeDir, "pyronotes.sock")
}

func setupRunnerEnv(t *testing.T, backendURL string) runnerPaths {
	t.Helper()

	xdgStateHome := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv("PYRONOTES_SOCKET", "")

	if backendURL == "" {
		backendURL = "http://127.0.0.1:8000/api"
	}
	draftsPath := filepath.Join(t.TempDir(), "drafts.sqlite")
	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	contents := fmt.Sprintf(`{
  "backend": {"url": %q, "timeout_ms": 2000},
  "stream": {"finalize_timeout_ms": 2000},
  "level": {"frame_ms": 10},
  "drafts": {"path": %q},
  "log": {"console": false},
}`, backendURL, draftsPath)
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir, draftsPath: draftsPath}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

// waitForTranscript polls the owner's status over the control socket.
func waitForTranscript(t *testing.T, paths runnerPaths, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := ipc.Send(context.Background(), paths.socketPath(), ipc.Request{Command: "status"}, 200*time.Millisecond)
		return err == nil && resp.Transcript == want
	}, 3*time.Second, 20*time.Millisecond)
}

type pipeCapture struct {
	err error

	mu   sync.Mutex
	pipe *audio.PipeStream
}

func (c *pipeCapture) Acquire(context.Context) (audio.Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	pipe := audio.NewPipeStream(audio.Device{ID: "test-mic"}, audio.DefaultFormat)
	c.mu.Lock()
	c.pipe = pipe
	c.mu.Unlock()
	return pipe, nil
}

func (c *pipeCapture) write(t *testing.T, pcm []byte) {
	t.Helper()
	c.mu.Lock()
	pipe := c.pipe
	c.mu.Unlock()
	require.NotNil(t, pipe)
	require.True(t, pipe.Write(pcm))
}

type sinkEngine struct {
	tap     *audio.Tap
	drained chan struct{}
}

func (e *sinkEngine) Stop(context.Context) error {
	e.tap.Close()
	<-e.drained
	return nil
}

func (e *sinkEngine) Abort() { e.tap.Close() }

type sinkEngines struct {
	once  sync.Once
	sinks chan recognizer.Sink
}

func (f *sinkEngines) start(_ context.Context, tap *audio.Tap, sink recognizer.Sink) (session.Engine, error) {
	e := &sinkEngine{tap: tap, drained: make(chan struct{})}
	go func() {
		defer close(e.drained)
		for range tap.C() {
		}
	}()
	f.channel() <- sink
	return e, nil
}

func (f *sinkEngines) channel() chan recognizer.Sink {
	f.once.Do(func() { f.sinks = make(chan recognizer.Sink, 4) })
	return f.sinks
}

func (f *sinkEngines) wait(t *testing.T) recognizer.Sink {
	t.Helper()
	select {
	case sink := <-f.channel():
		return sink
	case <-time.After(3 * time.Second):
		t.Fatal("engine never started")
		return recognizer.Sink{}
	}
}
