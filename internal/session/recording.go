package session

import (
	"context"
	"time"

	"github.com/rbright/pyronotes/internal/audio"
)

// recording holds every producer handle of one live session. Each release
// method clears its handle, so nothing is released twice.
type recording struct {
	id        string
	format    audio.Format
	startedAt time.Time

	capture   audio.Stream
	transport Transport
	engine    Engine
	recorder  ChunkRecorder
	monitor   LevelMonitor
}

func (r *recording) stopMonitor() {
	if r.monitor == nil {
		return
	}
	r.monitor.Stop()
	r.monitor = nil
}

func (r *recording) stopEngine(ctx context.Context) error {
	if r.engine == nil {
		return nil
	}
	engine := r.engine
	r.engine = nil
	return engine.Stop(ctx)
}

// pendingFlusher is a capture stream that batches PCM into fixed frames and
// can hand its partial frame to taps before release.
type pendingFlusher interface {
	FlushPending()
}

// flushCapture moves the capture's partial frame into the recorder tap.
func (r *recording) flushCapture() {
	if f, ok := r.capture.(pendingFlusher); ok {
		f.FlushPending()
	}
}

func (r *recording) stopRecorder(ctx context.Context) ([][]byte, error) {
	if r.recorder == nil {
		return nil, nil
	}
	rec := r.recorder
	r.recorder = nil
	return rec.Stop(ctx)
}

func (r *recording) releaseCapture() error {
	if r.capture == nil {
		return nil
	}
	capture := r.capture
	r.capture = nil
	return capture.Release()
}

func (r *recording) closeTransport(ctx context.Context) error {
	if r.transport == nil {
		return nil
	}
	transport := r.transport
	r.transport = nil
	return transport.Close(ctx)
}

// abort releases whatever is still held without the graceful handshakes.
func (r *recording) abort(ctx context.Context) {
	r.stopMonitor()
	if r.engine != nil {
		r.engine.Abort()
		r.engine = nil
	}
	_, _ = r.stopRecorder(ctx)
	_ = r.releaseCapture()
	if r.transport != nil {
		r.transport.Abort()
		r.transport = nil
	}
}
