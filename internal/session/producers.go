package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rbright/pyronotes/internal/audio"
	"github.com/rbright/pyronotes/internal/backend"
	"github.com/rbright/pyronotes/internal/drafts"
	"github.com/rbright/pyronotes/internal/level"
	"github.com/rbright/pyronotes/internal/recognizer"
	"github.com/rbright/pyronotes/internal/recorder"
	"github.com/rbright/pyronotes/internal/stream"
)

// CaptureDevice hands out the microphone stream for one session.
type CaptureDevice interface {
	Acquire(ctx context.Context) (audio.Stream, error)
}

// Backend is the REST surface the controller drives.
type Backend interface {
	StartTranscription(ctx context.Context) (string, error)
	TranscribeFile(ctx context.Context, filename string, audio io.Reader) (backend.TranscriptionResult, error)
	UploadLectureAudio(ctx context.Context, id string, filename string, data []byte) error
	UpdateLecture(ctx context.Context, id string, update backend.LectureUpdate) (backend.Lecture, error)
}

// Transport is the open live channel of one session.
type Transport interface {
	SendTranscript(text string) error
	Close(ctx context.Context) error
	Abort()
}

// TransportFactory opens the live channel for sessionID. handler receives
// inbound events in arrival order.
type TransportFactory func(ctx context.Context, sessionID string, handler func(stream.Event)) (Transport, error)

// Engine is a running recognizer.
type Engine interface {
	Stop(ctx context.Context) error
	Abort()
}

// EngineFactory starts a recognizer reading tap and reporting into sink.
type EngineFactory func(ctx context.Context, tap *audio.Tap, sink recognizer.Sink) (Engine, error)

// ChunkRecorder keeps the recording. Stop returns only after the final
// partial chunk has been flushed.
type ChunkRecorder interface {
	Stop(ctx context.Context) ([][]byte, error)
}

// RecorderFactory starts a recorder reading tap.
type RecorderFactory func(tap *audio.Tap, format audio.Format, interval time.Duration) ChunkRecorder

// LevelMonitor publishes input level until stopped.
type LevelMonitor interface {
	Stop()
}

// MonitorFactory starts a level monitor reading tap.
type MonitorFactory func(tap *audio.Tap, cfg level.Config, publish func(float64)) LevelMonitor

func startChunkRecorder(tap *audio.Tap, format audio.Format, interval time.Duration) ChunkRecorder {
	return recorder.Start(tap, format, interval)
}

func startLevelMonitor(tap *audio.Tap, cfg level.Config, publish func(float64)) LevelMonitor {
	return level.Start(tap, cfg, publish)
}

// Journal persists finished sessions until they are saved.
type Journal interface {
	Put(ctx context.Context, d drafts.Draft) error
	Delete(ctx context.Context, id string) error
}

// WebSocketTransport dials the backend live channel.
func WebSocketTransport(baseURL string, cfg stream.Config, logger *slog.Logger) TransportFactory {
	return func(ctx context.Context, sessionID string, handler func(stream.Event)) (Transport, error) {
		url, err := stream.URL(baseURL, sessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", stream.ErrTransport, err)
		}
		conn, err := stream.Dial(ctx, url, cfg, handler, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// GRPCRecognizer starts the streaming recognizer at cfg.Endpoint.
func GRPCRecognizer(cfg recognizer.Config, logger *slog.Logger) EngineFactory {
	return func(ctx context.Context, tap *audio.Tap, sink recognizer.Sink) (Engine, error) {
		engine, err := recognizer.Start(ctx, cfg, tap, sink, logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
}

// The fallbacks below keep the controller usable when a dependency is not
// wired. Every operation that needs one fails with that dependency's
// sentinel error.

type unavailableCapture struct{}

func (unavailableCapture) Acquire(context.Context) (audio.Stream, error) {
	return nil, fmt.Errorf("%w: no capture device configured", audio.ErrDeviceUnavailable)
}

type unavailableBackend struct{}

func (unavailableBackend) StartTranscription(context.Context) (string, error) {
	return "", backend.ErrUnavailable
}

func (unavailableBackend) TranscribeFile(context.Context, string, io.Reader) (backend.TranscriptionResult, error) {
	return backend.TranscriptionResult{}, backend.ErrUnavailable
}

func (unavailableBackend) UploadLectureAudio(context.Context, string, string, []byte) error {
	return backend.ErrUnavailable
}

func (unavailableBackend) UpdateLecture(context.Context, string, backend.LectureUpdate) (backend.Lecture, error) {
	return backend.Lecture{}, backend.ErrUnavailable
}

func unavailableTransport(context.Context, string, func(stream.Event)) (Transport, error) {
	return nil, fmt.Errorf("%w: no live channel configured", stream.ErrTransport)
}

func unavailableEngine(context.Context, *audio.Tap, recognizer.Sink) (Engine, error) {
	return nil, fmt.Errorf("%w: no recognizer configured", recognizer.ErrEngineUnsupported)
}

type noopJournal struct{}

func (noopJournal) Put(context.Context, drafts.Draft) error { return nil }
func (noopJournal) Delete(context.Context, string) error    { return nil }
