// Package level turns raw capture PCM into a normalized loudness value for
// the live level meter.
package level

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/rbright/pyronotes/internal/audio"
)

const (
	DefaultFrame   = 16 * time.Millisecond
	DefaultGain    = 2.0
	DefaultFFTSize = 256

	minDecibels = -100.0
	maxDecibels = -30.0
)

// Config controls the sampling cadence and scaling of the monitor.
type Config struct {
	Frame   time.Duration
	Gain    float64
	FFTSize int
}

func (c Config) withDefaults() Config {
	if c.Frame <= 0 {
		c.Frame = DefaultFrame
	}
	if c.Gain <= 0 {
		c.Gain = DefaultGain
	}
	if c.FFTSize <= 0 {
		c.FFTSize = DefaultFFTSize
	}
	return c
}

// Monitor samples the latest PCM window once per frame and publishes a level in [0,1].
type Monitor struct {
	cfg     Config
	tap     *audio.Tap
	publish func(float64)

	fft    *fourier.FFT
	window []float64

	mu      sync.Mutex
	stopped bool
	last    float64

	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Start launches the sampling loop on tap. publish may be nil.
func Start(tap *audio.Tap, cfg Config, publish func(float64)) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		cfg:     cfg,
		tap:     tap,
		publish: publish,
		fft:     fourier.NewFFT(cfg.FFTSize),
		window:  make([]float64, 0, cfg.FFTSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.loop()
	return m
}

// Level returns the most recently published value.
func (m *Monitor) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stop ends the loop and waits for it to exit. No value is published after
// Stop returns. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.once.Do(func() { close(m.stopCh) })
	<-m.done
	if m.tap != nil {
		m.tap.Close()
	}
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Frame)
	defer ticker.Stop()

	var chunks <-chan []byte
	if m.tap != nil {
		chunks = m.tap.C()
	}

	for {
		select {
		case <-m.stopCh:
			return
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			m.window = appendSamples(m.window, chunk, m.cfg.FFTSize)
		case <-ticker.C:
			value := Compute(m.fft, m.window, m.cfg.FFTSize, m.cfg.Gain)
			m.emit(value)
		}
	}
}

func (m *Monitor) emit(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.last = value
	if m.publish != nil {
		m.publish(value)
	}
}

// appendSamples decodes s16le PCM into window, keeping the newest size samples.
func appendSamples(window []float64, pcm []byte, size int) []float64 {
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		window = append(window, float64(sample)/32768.0)
	}
	if over := len(window) - size; over > 0 {
		copy(window, window[over:])
		window = window[:size]
	}
	return window
}

// Compute maps the magnitude spectrum of samples to an average byte-scaled
// decibel level, normalized to [0,1], scaled by gain and clamped to 1.
func Compute(fft *fourier.FFT, samples []float64, size int, gain float64) float64 {
	if len(samples) == 0 || size <= 0 {
		return 0
	}

	frame := make([]float64, size)
	offset := size - len(samples)
	if offset < 0 {
		samples = samples[-offset:]
		offset = 0
	}
	for i, s := range samples {
		n := offset + i
		frame[n] = s * blackman(n, size)
	}

	coeffs := fft.Coefficients(nil, frame)
	bins := size / 2
	if bins == 0 || len(coeffs) < bins {
		return 0
	}

	var total float64
	for i := 0; i < bins; i++ {
		magnitude := math.Hypot(real(coeffs[i]), imag(coeffs[i])) / float64(size)
		total += byteScale(magnitude)
	}

	value := (total / float64(bins)) / 255.0 * gain
	return math.Max(0, math.Min(1, value))
}

func byteScale(magnitude float64) float64 {
	if magnitude <= 0 {
		return 0
	}
	db := 20 * math.Log10(magnitude)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	return math.Max(0, math.Min(255, scaled))
}

func blackman(n, size int) float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2
	x := 2 * math.Pi * float64(n) / float64(size)
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
}
