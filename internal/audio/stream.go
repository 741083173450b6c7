package audio

import (
	"errors"
	"sync"
)

var (
	// ErrPermissionDenied indicates the audio server refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable indicates no usable input device could be opened.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
)

const (
	losslessTapBuffer = 128
	lossyTapBuffer    = 4
)

// Stream is one exclusively acquired raw PCM capture stream.
//
// Consumers read through taps; only the owner releases the stream, and
// Release is safe to call more than once.
type Stream interface {
	Device() Device
	Format() Format
	Tap(lossy bool) *Tap
	Release() error
}

// Tap is one consumer's view of a Stream.
type Tap struct {
	ch    chan []byte
	lossy bool
	quit  chan struct{}
	once  sync.Once
	owner *fanout
}

// C returns the chunk channel; it is closed when the tap or stream closes.
func (t *Tap) C() <-chan []byte {
	return t.ch
}

// Close detaches the tap so the producer never blocks on it again.
func (t *Tap) Close() {
	t.once.Do(func() {
		close(t.quit)
		if t.owner != nil {
			t.owner.detach(t)
		}
	})
}

// fanout distributes PCM chunks to taps.
// Lossless taps apply backpressure; lossy taps drop chunks when full.
type fanout struct {
	mu     sync.Mutex
	taps   map[*Tap]struct{}
	closed bool
	done   chan struct{}
	stop   sync.Once
}

func newFanout() *fanout {
	return &fanout{
		taps: make(map[*Tap]struct{}),
		done: make(chan struct{}),
	}
}

func (f *fanout) tap(lossy bool) *Tap {
	size := losslessTapBuffer
	if lossy {
		size = lossyTapBuffer
	}
	t := &Tap{
		ch:    make(chan []byte, size),
		lossy: lossy,
		quit:  make(chan struct{}),
		owner: f,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(t.ch)
		return t
	}
	f.taps[t] = struct{}{}
	return t
}

// publish delivers chunk to every attached tap.
func (f *fanout) publish(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for t := range f.taps {
		if t.lossy {
			select {
			case t.ch <- chunk:
			default:
			}
			continue
		}
		select {
		case t.ch <- chunk:
		case <-t.quit:
		case <-f.done:
		}
	}
}

// flush delivers chunk without blocking; used for the residual frame at release.
func (f *fanout) flush(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for t := range f.taps {
		select {
		case t.ch <- chunk:
		default:
		}
	}
}

// interrupt unblocks any publish waiting on a slow lossless tap.
func (f *fanout) interrupt() {
	f.stop.Do(func() { close(f.done) })
}

// close interrupts publishers and closes every tap channel exactly once.
func (f *fanout) close() {
	f.interrupt()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for t := range f.taps {
		close(t.ch)
		delete(f.taps, t)
	}
}

func (f *fanout) detach(t *Tap) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.taps[t]; !ok {
		return
	}
	delete(f.taps, t)
	close(t.ch)
}

// PipeStream is a Stream fed by explicit Write calls.
// File playback and tests drive sessions through it.
type PipeStream struct {
	device Device
	format Format
	fan    *fanout

	mu       sync.Mutex
	released bool
}

// NewPipeStream returns an open stream with the given metadata.
func NewPipeStream(device Device, format Format) *PipeStream {
	return &PipeStream{device: device, format: format, fan: newFanout()}
}

func (p *PipeStream) Device() Device { return p.device }

func (p *PipeStream) Format() Format { return p.format }

func (p *PipeStream) Tap(lossy bool) *Tap { return p.fan.tap(lossy) }

// Write publishes one PCM chunk to all taps. It reports false once released.
func (p *PipeStream) Write(chunk []byte) bool {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return false
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	p.fan.publish(buf)
	return true
}

// Release closes all taps. Later calls are no-ops.
func (p *PipeStream) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	p.mu.Unlock()

	p.fan.close()
	return nil
}

// Released reports whether Release has run.
func (p *PipeStream) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}
