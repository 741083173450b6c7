// Package recorder accumulates captured PCM into fixed-duration chunks and
// packages them as an uploadable audio asset.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rbright/pyronotes/internal/audio"
)

// DefaultInterval is the audio duration carried by one full chunk.
const DefaultInterval = time.Second

// ErrStopped is returned by Flush once the recorder has stopped.
var ErrStopped = errors.New("recorder stopped")

// Recorder buffers a lossless tap into interval-sized chunks.
type Recorder struct {
	tap        *audio.Tap
	format     audio.Format
	chunkBytes int

	mu     sync.Mutex
	chunks [][]byte
	buf    []byte

	flushCh chan chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Start begins chunking tap. interval <= 0 uses DefaultInterval.
func Start(tap *audio.Tap, format audio.Format, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	chunkBytes := int(float64(format.BytesPerSecond()) * interval.Seconds())
	if chunkBytes <= 0 {
		chunkBytes = audio.DefaultFormat.BytesPerSecond()
	}
	// Keep chunks sample aligned.
	chunkBytes -= chunkBytes % 2

	r := &Recorder{
		tap:        tap,
		format:     format,
		chunkBytes: chunkBytes,
		flushCh:    make(chan chan struct{}),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go r.loop()
	return r
}

// Format returns the PCM layout of recorded chunks.
func (r *Recorder) Format() audio.Format {
	return r.format
}

// Flush emits the current partial buffer as its own chunk.
func (r *Recorder) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case r.flushCh <- ack:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends recording and waits until the final partial chunk is flushed.
// It returns every chunk in capture order. Safe to call repeatedly.
func (r *Recorder) Stop(ctx context.Context) ([][]byte, error) {
	r.once.Do(func() { close(r.stopCh) })
	select {
	case <-r.done:
	case <-ctx.Done():
		return r.Chunks(), fmt.Errorf("await recorder flush: %w", ctx.Err())
	}
	return r.Chunks(), nil
}

// Chunks returns a snapshot of the chunks recorded so far.
func (r *Recorder) Chunks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.chunks))
	copy(out, r.chunks)
	return out
}

func (r *Recorder) loop() {
	defer close(r.done)

	var in <-chan []byte
	if r.tap != nil {
		in = r.tap.C()
		defer r.tap.Close()
	}

	for {
		select {
		case <-r.stopCh:
			r.drain(in)
			r.flushPartial()
			return
		case ack := <-r.flushCh:
			r.flushPartial()
			close(ack)
		case pcm, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			r.append(pcm)
		}
	}
}

// drain consumes whatever the tap already holds without waiting for more.
func (r *Recorder) drain(in <-chan []byte) {
	if in == nil {
		return
	}
	for {
		select {
		case pcm, ok := <-in:
			if !ok {
				return
			}
			r.append(pcm)
		default:
			return
		}
	}
}

func (r *Recorder) append(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, pcm...)
	for len(r.buf) >= r.chunkBytes {
		chunk := make([]byte, r.chunkBytes)
		copy(chunk, r.buf[:r.chunkBytes])
		r.buf = r.buf[r.chunkBytes:]
		r.chunks = append(r.chunks, chunk)
	}
}

func (r *Recorder) flushPartial() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return
	}
	chunk := make([]byte, len(r.buf))
	copy(chunk, r.buf)
	r.buf = r.buf[:0]
	r.chunks = append(r.chunks, chunk)
}

// Assemble concatenates chunks in order into one WAV asset.
func Assemble(chunks [][]byte, format audio.Format) []byte {
	size := 0
	for _, chunk := range chunks {
		size += len(chunk)
	}
	pcm := make([]byte, 0, size)
	for _, chunk := range chunks {
		pcm = append(pcm, chunk...)
	}
	return audio.EncodeWAV(pcm, format)
}
