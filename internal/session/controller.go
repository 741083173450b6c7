package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/pyronotes/internal/audio"
	"github.com/rbright/pyronotes/internal/backend"
	"github.com/rbright/pyronotes/internal/drafts"
	"github.com/rbright/pyronotes/internal/fsm"
	"github.com/rbright/pyronotes/internal/level"
	"github.com/rbright/pyronotes/internal/metrics"
	"github.com/rbright/pyronotes/internal/recognizer"
	"github.com/rbright/pyronotes/internal/recorder"
	"github.com/rbright/pyronotes/internal/stream"
)

// recordingFilename names the assembled asset uploaded at stop.
const recordingFilename = "recording.wav"

// wavHeaderBytes is how much of an uploaded file is kept to read its duration.
const wavHeaderBytes = 44

// Deps wires the controller to its producers. Nil fields fall back to
// implementations that fail with the matching sentinel error.
type Deps struct {
	Logger        *slog.Logger
	Capture       CaptureDevice
	Backend       Backend
	DialTransport TransportFactory
	StartEngine   EngineFactory
	StartRecorder RecorderFactory
	StartMonitor  MonitorFactory
	Journal       Journal
	Metrics       *metrics.Metrics
	Level         level.Config
	ChunkInterval time.Duration
	Now           func() time.Time

	// AudioDump, when set, receives every assembled recording before upload.
	AudioDump func(sessionID string, wav []byte)
}

// SaveRequest carries the library fields written on save.
type SaveRequest struct {
	Title    string
	FolderID string
}

// Controller owns the session and sequences its producers.
//
// lifecycle serializes start, stop, upload, save, and reset. mu guards the
// session value and is only ever held for reduction and snapshots, so
// producers delivering events never wait on a lifecycle operation.
type Controller struct {
	logger        *slog.Logger
	capture       CaptureDevice
	backend       Backend
	dialTransport TransportFactory
	startEngine   EngineFactory
	startRecorder RecorderFactory
	startMonitor  MonitorFactory
	journal       Journal
	metrics       *metrics.Metrics
	levelCfg      level.Config
	chunkInterval time.Duration
	now           func() time.Time
	audioDump     func(string, []byte)

	lifecycle sync.Mutex
	rec       *recording
	// capturing mirrors rec != nil for readers that must not wait on lifecycle.
	capturing atomic.Bool

	mu        sync.RWMutex
	session   *Session
	pendingID string
	pending   []stream.Event
	notice    string
	cancelOp  context.CancelFunc

	level atomic.Uint64

	actions chan action
	// resets counts Reset calls; resetSignal wakes a waiting Run.
	resets      atomic.Uint64
	resetSignal chan struct{}
}

// NewController constructs a controller with safe fallbacks for missing deps.
func NewController(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Capture == nil {
		deps.Capture = unavailableCapture{}
	}
	if deps.Backend == nil {
		deps.Backend = unavailableBackend{}
	}
	if deps.DialTransport == nil {
		deps.DialTransport = unavailableTransport
	}
	if deps.StartEngine == nil {
		deps.StartEngine = unavailableEngine
	}
	if deps.StartRecorder == nil {
		deps.StartRecorder = startChunkRecorder
	}
	if deps.StartMonitor == nil {
		deps.StartMonitor = startLevelMonitor
	}
	if deps.Journal == nil {
		deps.Journal = noopJournal{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Controller{
		logger:        deps.Logger,
		capture:       deps.Capture,
		backend:       deps.Backend,
		dialTransport: deps.DialTransport,
		startEngine:   deps.StartEngine,
		startRecorder: deps.StartRecorder,
		startMonitor:  deps.StartMonitor,
		journal:       deps.Journal,
		metrics:       deps.Metrics,
		levelCfg:      deps.Level,
		chunkInterval: deps.ChunkInterval,
		now:           deps.Now,
		audioDump:     deps.AudioDump,
		actions:       make(chan action, 1),
		resetSignal:   make(chan struct{}, 1),
	}
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session.clone(), true
}

// Status returns the session status, idle when there is none.
func (c *Controller) Status() fsm.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return fsm.StatusIdle
	}
	return c.session.Status
}

// Level returns the latest input level in [0,1].
func (c *Controller) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

// LastNotice returns the most recent user-facing error message.
func (c *Controller) LastNotice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notice
}

// Dispatch reduces ev into the current session. While a recording is being
// started, events are held and replayed once the session is published.
func (c *Controller) Dispatch(ev stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingID != "" {
		c.pending = append(c.pending, ev)
		return
	}
	c.applyLocked(ev)
}

// deliver routes an event produced for session id, dropping it when that
// session is gone.
func (c *Controller) deliver(id string, ev stream.Event) {
	c.metrics.Event(string(ev.Type))

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.pendingID == id:
		c.pending = append(c.pending, ev)
	case c.session != nil && c.session.ID == id:
		c.applyLocked(ev)
	default:
		c.logger.Debug("drop stale stream event", "session_id", id, "type", string(ev.Type))
	}
}

func (c *Controller) applyLocked(ev stream.Event) {
	if ev.Type == stream.TypeError {
		c.notice = ev.Message
		id := ""
		if c.session != nil {
			id = c.session.ID
		}
		c.logger.Warn("session error", "session_id", id, "message", ev.Message)
	}
	c.session = Reduce(c.session, ev)
}

func (c *Controller) publishLevel(v float64) {
	c.level.Store(math.Float64bits(v))
}

// checkStartable rejects a new session while one is in flight. Callers hold lifecycle.
func (c *Controller) checkStartable(event fsm.Event) error {
	if c.rec != nil {
		return ErrSessionActive
	}
	status := c.Status()
	if status.Active() {
		return fmt.Errorf("%w: status %s", ErrSessionActive, status)
	}
	if _, err := fsm.Transition(status, event); err != nil {
		return err
	}
	return nil
}

// beginOp makes the running lifecycle operation cancellable by Reset.
func (c *Controller) beginOp(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelOp = cancel
	c.mu.Unlock()
	return ctx, cancel
}

func (c *Controller) endOp(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancelOp = nil
	c.mu.Unlock()
	cancel()
}

// StartRecording acquires every producer and only then publishes a
// recording session. A failure releases what was acquired, surfaces one
// error notice, and leaves the previous session untouched.
func (c *Controller) StartRecording(ctx context.Context) (Session, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if err := c.checkStartable(fsm.EventRecord); err != nil {
		return Session{}, err
	}
	ctx, cancel := c.beginOp(ctx)
	defer c.endOp(cancel)

	capture, err := c.capture.Acquire(ctx)
	if err != nil {
		return Session{}, c.startFailed("capture", fmt.Errorf("acquire capture device: %w", err))
	}
	rec := &recording{capture: capture, format: capture.Format()}

	id, err := c.backend.StartTranscription(ctx)
	if err != nil {
		rec.abort(ctx)
		return Session{}, c.startFailed("backend", fmt.Errorf("start transcription: %w", err))
	}
	rec.id = id
	c.holdEvents(id)

	transport, err := c.dialTransport(ctx, id, func(ev stream.Event) { c.deliver(id, ev) })
	if err != nil {
		c.dropHeldEvents()
		rec.abort(ctx)
		return Session{}, c.startFailed("transport", fmt.Errorf("open live channel: %w", err))
	}
	rec.transport = transport

	engineTap := capture.Tap(false)
	engine, err := c.startEngine(ctx, engineTap, c.engineSink(id, transport))
	if err != nil {
		engineTap.Close()
		c.dropHeldEvents()
		rec.abort(ctx)
		return Session{}, c.startFailed("engine", fmt.Errorf("start recognizer: %w", err))
	}
	rec.engine = engine
	rec.recorder = c.startRecorder(capture.Tap(false), rec.format, c.chunkInterval)
	rec.monitor = c.startMonitor(capture.Tap(true), c.levelCfg, c.publishLevel)
	rec.startedAt = c.now()
	c.rec = rec
	c.capturing.Store(true)

	snapshot := c.publishRecording(rec)
	c.metrics.SessionStarted(string(SourceLive))
	c.logger.Info("recording started",
		"session_id", id,
		"device", capture.Device().ID,
		"sample_rate", rec.format.SampleRate,
	)
	return snapshot, nil
}

func (c *Controller) holdEvents(id string) {
	c.mu.Lock()
	c.pendingID = id
	c.pending = nil
	c.mu.Unlock()
}

func (c *Controller) dropHeldEvents() {
	c.mu.Lock()
	c.pendingID = ""
	c.pending = nil
	c.mu.Unlock()
}

// publishRecording installs the new session and replays held events into it.
func (c *Controller) publishRecording(rec *recording) Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notice = ""
	c.session = &Session{
		ID:        rec.id,
		Status:    fsm.StatusRecording,
		Source:    SourceLive,
		StartTime: rec.startedAt,
	}
	held := c.pending
	c.pendingID = ""
	c.pending = nil
	for _, ev := range held {
		c.applyLocked(ev)
	}
	return *c.session.clone()
}

// engineSink forwards finalized segments to the live channel as they arrive
// and routes engine failures through the reducer.
func (c *Controller) engineSink(id string, transport Transport) recognizer.Sink {
	return recognizer.Sink{
		Final: func(text string) {
			if err := transport.SendTranscript(text); err != nil {
				c.logger.Debug("forward transcript segment failed", "session_id", id, "error", err.Error())
			}
		},
		Error: func(err error) {
			c.metrics.Error("engine")
			c.deliver(id, stream.Error(err.Error()))
		},
		Active: func() bool {
			c.mu.RLock()
			defer c.mu.RUnlock()
			if c.pendingID == id {
				return true
			}
			return c.session != nil && c.session.ID == id && c.session.Status == fsm.StatusRecording
		},
		Restarted: c.metrics.EngineRestarted,
	}
}

func (c *Controller) startFailed(stage string, err error) error {
	c.metrics.Error(stage)
	c.logger.Error("start recording failed", "stage", stage, "error", err.Error())
	c.Dispatch(stream.Error(err.Error()))
	return err
}

// StopRecording runs the shutdown sequence. Each step completes before the
// next begins:
//
//  1. stop the level monitor
//  2. stop the recognizer, forwarding its trailing results
//  3. stop the recorder and wait for the final flush
//  4. upload the assembled recording
//  5. release the capture device
//  6. close the live channel with the finalize handshake
//  7. record the duration and mark the session done
//
// Failures in steps 2 to 6 are logged and do not keep the session from done.
func (c *Controller) StopRecording(ctx context.Context) (Session, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	rec := c.rec
	if rec == nil {
		if _, ok := c.Snapshot(); !ok {
			return Session{}, ErrNoSession
		}
		_, err := fsm.Transition(c.Status(), fsm.EventStop)
		return Session{}, err
	}
	ctx, cancel := c.beginOp(ctx)
	defer c.endOp(cancel)

	c.mu.Lock()
	if c.session != nil && c.session.ID == rec.id && c.session.Status == fsm.StatusRecording {
		next := c.session.clone()
		next.Status, _ = fsm.Transition(next.Status, fsm.EventStop)
		c.session = next
	}
	c.mu.Unlock()

	logger := c.logger.With("session_id", rec.id)

	rec.stopMonitor()
	c.publishLevel(0)

	if err := rec.stopEngine(ctx); err != nil {
		logger.Warn("stop recognizer", "error", err.Error())
	}

	rec.flushCapture()
	chunks, err := rec.stopRecorder(ctx)
	if err != nil {
		logger.Warn("stop recorder", "error", err.Error())
	}

	if len(chunks) > 0 {
		asset := recorder.Assemble(chunks, rec.format)
		if c.audioDump != nil {
			c.audioDump(rec.id, asset)
		}
		if err := c.backend.UploadLectureAudio(ctx, rec.id, recordingFilename, asset); err != nil {
			c.metrics.UploadFailed()
			logger.Warn("upload recording failed", "bytes", len(asset), "error", err.Error())
		} else {
			logger.Info("recording uploaded", "chunks", len(chunks), "bytes", len(asset))
		}
	}

	if err := rec.releaseCapture(); err != nil {
		logger.Warn("release capture device", "error", err.Error())
	}

	if err := rec.closeTransport(ctx); err != nil {
		logger.Warn("close live channel", "error", err.Error())
	}
	c.rec = nil
	c.capturing.Store(false)

	elapsed := c.now().Sub(rec.startedAt)
	snapshot := c.finishRecording(rec.id, elapsed)
	c.metrics.RecordingFinished(elapsed)
	c.metrics.SessionEnded()
	c.writeDraft(ctx, snapshot)

	logger.Info("recording stopped",
		"status", string(snapshot.Status),
		"duration_sec", snapshot.DurationSec,
		"transcript_length", len(snapshot.Transcript),
		"insights", len(snapshot.Insights),
	)
	return snapshot, nil
}

func (c *Controller) finishRecording(id string, elapsed time.Duration) Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.session.ID != id {
		return Session{}
	}
	next := c.session.clone()
	next.DurationSec = int(math.Round(elapsed.Seconds()))
	if next.Status != fsm.StatusDone {
		if status, err := fsm.Transition(next.Status, fsm.EventStopped); err == nil {
			next.Status = status
		}
	}
	c.session = next
	return *next.clone()
}

// StartUpload transcribes a prerecorded file as a new session.
func (c *Controller) StartUpload(ctx context.Context, name string, r io.Reader) (Session, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if err := c.checkStartable(fsm.EventUpload); err != nil {
		return Session{}, err
	}
	ctx, cancel := c.beginOp(ctx)
	defer c.endOp(cancel)

	id := uuid.NewString()
	c.mu.Lock()
	c.notice = ""
	c.session = &Session{ID: id, Status: fsm.StatusUploading, Source: SourceUpload}
	c.mu.Unlock()

	c.metrics.SessionStarted(string(SourceUpload))
	defer c.metrics.SessionEnded()

	header := &headerBuffer{limit: wavHeaderBytes}
	result, err := c.backend.TranscribeFile(ctx, name, io.TeeReader(r, header))
	if err != nil {
		err = fmt.Errorf("transcribe %s: %w", filepath.Base(name), err)
		c.metrics.Error("upload")
		c.logger.Error("upload failed", "session_id", id, "error", err.Error())
		return c.failUpload(id, err), err
	}

	durationSec := 0
	if result.DurationSec != nil {
		durationSec = *result.DurationSec
	} else if info, infoErr := audio.ReadWAVInfo(header.Bytes()); infoErr == nil {
		durationSec = info.DurationSec()
	}

	c.mu.Lock()
	var snapshot Session
	if c.session != nil && c.session.ID == id {
		next := c.session.clone()
		if result.ID != "" {
			next.ID = result.ID
		}
		next.Transcript = result.Transcript
		next.Insights = fromBackendInsights(result.AIInsights)
		next.DurationSec = durationSec
		next.StartTime = c.now()
		next.Status, _ = fsm.Transition(next.Status, fsm.EventTranscribed)
		c.session = next
		snapshot = *next.clone()
	}
	c.mu.Unlock()

	c.writeDraft(ctx, snapshot)
	c.logger.Info("upload transcribed",
		"session_id", snapshot.ID,
		"duration_sec", durationSec,
		"transcript_length", len(snapshot.Transcript),
	)
	return snapshot, nil
}

func (c *Controller) failUpload(id string, err error) Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notice = err.Error()
	if c.session == nil || c.session.ID != id {
		return Session{}
	}
	next := c.session.clone()
	next.Status, _ = fsm.Transition(next.Status, fsm.EventFail)
	next.LastError = err.Error()
	c.session = next
	return *next.clone()
}

// Save writes the finished session to the lecture library. Success destroys
// the session; failure leaves it in error with its content intact.
func (c *Controller) Save(ctx context.Context, req SaveRequest) error {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return ErrTitleRequired
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.rec != nil {
		return ErrSessionActive
	}

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	status, err := fsm.Transition(c.session.Status, fsm.EventSave)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("save: %w", err)
	}
	saving := c.session.clone()
	saving.Status = status
	c.session = saving
	snapshot := *saving.clone()
	c.mu.Unlock()

	ctx, cancel := c.beginOp(ctx)
	defer c.endOp(cancel)

	update := backend.LectureUpdate{Title: title, Status: backend.LectureReady}
	if folder := strings.TrimSpace(req.FolderID); folder != "" {
		update.FolderID = &folder
	}
	if snapshot.DurationSec > 0 {
		duration := snapshot.DurationSec
		update.DurationSec = &duration
	}

	if _, err := c.backend.UpdateLecture(ctx, snapshot.ID, update); err != nil {
		err = fmt.Errorf("save lecture %s: %w", snapshot.ID, err)
		c.metrics.Error("save")
		c.logger.Error("save failed", "session_id", snapshot.ID, "error", err.Error())
		failed := c.failSave(snapshot.ID, err)
		c.writeDraft(context.WithoutCancel(ctx), failed)
		return err
	}

	c.mu.Lock()
	if c.session != nil && c.session.ID == snapshot.ID {
		c.session = nil
	}
	c.mu.Unlock()

	if err := c.journal.Delete(ctx, snapshot.ID); err != nil {
		c.logger.Warn("delete draft", "session_id", snapshot.ID, "error", err.Error())
	}
	c.logger.Info("lecture saved", "session_id", snapshot.ID, "title", title)
	return nil
}

func (c *Controller) failSave(id string, err error) Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notice = err.Error()
	if c.session == nil || c.session.ID != id {
		return Session{}
	}
	next := c.session.clone()
	next.Status, _ = fsm.Transition(next.Status, fsm.EventFail)
	next.LastError = err.Error()
	c.session = next
	return *next.clone()
}

// Restore rehydrates a journaled draft as the current session so its save
// can be retried.
func (c *Controller) Restore(d drafts.Draft) (Session, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.rec != nil || c.Status().Active() {
		return Session{}, ErrSessionActive
	}
	if strings.TrimSpace(d.ID) == "" {
		return Session{}, errors.New("draft id is empty")
	}

	restored := fromDraft(d)
	c.mu.Lock()
	c.session = restored
	c.notice = ""
	c.mu.Unlock()
	return *restored.clone(), nil
}

// Reset cancels any running operation, releases every held producer, and
// destroys the session along with its draft. It is safe from any state and
// on repeat calls.
func (c *Controller) Reset(ctx context.Context) {
	c.resets.Add(1)
	defer func() {
		select {
		case c.resetSignal <- struct{}{}:
		default:
		}
	}()

	c.mu.Lock()
	cancelOp := c.cancelOp
	c.mu.Unlock()
	if cancelOp != nil {
		cancelOp()
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if rec := c.rec; rec != nil {
		rec.abort(ctx)
		c.rec = nil
		c.capturing.Store(false)
		c.metrics.SessionEnded()
		c.logger.Info("recording reset", "session_id", rec.id)
	}
	c.publishLevel(0)

	c.mu.Lock()
	discarded := ""
	if c.session != nil {
		discarded = c.session.ID
	}
	c.session = nil
	c.pendingID = ""
	c.pending = nil
	c.notice = ""
	c.mu.Unlock()

	if discarded != "" {
		if err := c.journal.Delete(context.WithoutCancel(ctx), discarded); err != nil {
			c.logger.Warn("delete draft", "session_id", discarded, "error", err.Error())
		}
	}
}

func (c *Controller) writeDraft(ctx context.Context, s Session) {
	if s.ID == "" {
		return
	}
	if err := c.journal.Put(ctx, s.draft()); err != nil {
		c.logger.Warn("write draft", "session_id", s.ID, "error", err.Error())
	}
}

// headerBuffer keeps the first limit bytes written to it.
type headerBuffer struct {
	limit int
	buf   []byte
}

func (h *headerBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

func (h *headerBuffer) Bytes() []byte {
	return h.buf
}
