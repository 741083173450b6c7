// Package recognizer drives a continuous streaming speech recognition engine
// over gRPC and turns its result batches into finalized transcript segments.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/pyronotes/internal/audio"
)

var (
	// ErrEngineUnsupported means no recognition engine is usable in this environment.
	ErrEngineUnsupported = errors.New("speech recognition engine unsupported")
	// ErrEngineRuntime wraps failures reported by a running engine.
	ErrEngineRuntime = errors.New("speech recognition engine error")
)

// Config controls engine connection and stream setup.
type Config struct {
	Endpoint     string
	LanguageCode string
	SampleRate   int
	DialTimeout  time.Duration
	OpenTimeout  time.Duration
}

// Sink receives engine output. Final gets one concatenated unit per batch;
// Error gets non-fatal runtime failures; Active reports whether the owning
// session still wants recognition; Restarted is called after each restart.
type Sink struct {
	Final     func(string)
	Error     func(error)
	Active    func() bool
	Restarted func()
}

// generation is one StreamingRecognize RPC; the engine opens a new one per restart.
type generation struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine is one session's recognizer: a send loop fed by a lossless tap and a
// supervised receive loop that restarts the stream on spontaneous end.
type Engine struct {
	cfg    Config
	conn   *grpc.ClientConn
	tap    *audio.Tap
	sink   Sink
	logger *slog.Logger

	sendMu sync.Mutex

	mu         sync.Mutex
	current    *generation
	stopping   bool
	restarting bool
	closed     bool

	sendDone chan struct{}
}

// Start connects, opens the first stream, and begins forwarding tap audio.
// Any failure here wraps ErrEngineUnsupported.
func Start(ctx context.Context, cfg Config, tap *audio.Tap, sink Sink, logger *slog.Logger) (*Engine, error) {
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		conn:     conn,
		tap:      tap,
		sink:     sink,
		logger:   logger,
		sendDone: make(chan struct{}),
	}

	gen, err := e.open(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrEngineUnsupported, err)
	}

	e.mu.Lock()
	e.current = gen
	e.mu.Unlock()

	go e.recvLoop(gen)
	go e.sendLoop()
	return e, nil
}

// Dial establishes a ready gRPC connection to the engine endpoint.
func Dial(ctx context.Context, cfg Config) (*grpc.ClientConn, error) {
	cfg = withDefaults(cfg)
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: recognizer endpoint is empty", ErrEngineUnsupported)
	}

	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dial recognizer grpc %q: %v", ErrEngineUnsupported, endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: wait for recognizer grpc readiness: %v", ErrEngineUnsupported, err)
	}
	return conn, nil
}

func withDefaults(cfg Config) Config {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = cfg.DialTimeout
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultFormat.SampleRate
	}
	return cfg
}

// open starts one StreamingRecognize RPC and sends the config message.
func (e *Engine) open(ctx context.Context) (*generation, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	var stream grpc.ClientStream
	err := runWithTimeout(ctx, e.cfg.OpenTimeout, func() error {
		s, err := e.conn.NewStream(streamCtx, streamingRecognizeDesc, StreamingRecognizeMethod)
		if err != nil {
			return fmt.Errorf("open streaming recognizer: %w", err)
		}
		req, err := configRequest(e.cfg.LanguageCode, e.cfg.SampleRate)
		if err != nil {
			return err
		}
		if err := s.SendMsg(req); err != nil {
			return fmt.Errorf("send recognition config: %w", err)
		}
		stream = s
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &generation{stream: stream, cancel: cancel, done: make(chan struct{})}, nil
}

// recvLoop forwards finals from one generation until it ends, then decides
// whether to restart.
func (e *Engine) recvLoop(gen *generation) {
	var endErr error
	for {
		msg := &structpb.Struct{}
		err := gen.stream.RecvMsg(msg)
		if err == nil {
			if text := decodeBatch(msg).FinalText(); text != "" && e.sink.Final != nil {
				e.sink.Final(text)
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			endErr = err
		}
		break
	}
	close(gen.done)

	e.mu.Lock()
	stopping := e.stopping
	e.mu.Unlock()
	if stopping {
		return
	}

	if endErr != nil {
		e.report(endErr)
	}
	if e.sink.Active == nil || e.sink.Active() {
		e.restart()
	}
}

// restart replaces the ended generation. Concurrent requests while one is
// in flight are ignored.
func (e *Engine) restart() {
	e.mu.Lock()
	if e.stopping || e.restarting {
		e.mu.Unlock()
		return
	}
	e.restarting = true
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.OpenTimeout)
	gen, err := e.open(ctx)
	cancel()

	e.mu.Lock()
	e.restarting = false
	if err != nil {
		e.mu.Unlock()
		e.report(fmt.Errorf("restart recognizer: %w", err))
		return
	}
	if e.stopping {
		e.mu.Unlock()
		gen.cancel()
		return
	}
	e.current = gen
	e.mu.Unlock()

	e.logger.Info("recognizer restarted")
	if e.sink.Restarted != nil {
		e.sink.Restarted()
	}
	go e.recvLoop(gen)
}

func (e *Engine) report(err error) {
	if status.Code(err) == codes.Canceled {
		return
	}
	e.logger.Warn("recognizer error", "error", err.Error())
	if e.sink.Error != nil {
		e.sink.Error(fmt.Errorf("%w: %v", ErrEngineRuntime, err))
	}
}

// sendLoop forwards PCM to whichever generation is current. Audio arriving
// while a restart is in flight is dropped.
func (e *Engine) sendLoop() {
	defer close(e.sendDone)
	if e.tap == nil {
		return
	}
	for chunk := range e.tap.C() {
		if len(chunk) == 0 {
			continue
		}
		e.mu.Lock()
		gen := e.current
		stopping := e.stopping
		e.mu.Unlock()
		if stopping {
			return
		}
		if gen == nil {
			continue
		}
		req, err := audioRequest(chunk)
		if err != nil {
			continue
		}
		e.sendMu.Lock()
		// Send errors surface through RecvMsg on the same generation.
		_ = gen.stream.SendMsg(req)
		e.sendMu.Unlock()
	}
}

// Stop suppresses restarts, half-closes the stream, and waits for trailing
// results to be delivered before closing the connection.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopping = true
	gen := e.current
	e.mu.Unlock()

	if e.tap != nil {
		e.tap.Close()
	}
	select {
	case <-e.sendDone:
	case <-ctx.Done():
	}

	var err error
	if gen != nil {
		e.sendMu.Lock()
		_ = gen.stream.CloseSend()
		e.sendMu.Unlock()

		select {
		case <-gen.done:
		case <-ctx.Done():
			err = fmt.Errorf("drain recognizer results: %w", ctx.Err())
		}
		gen.cancel()
	}
	_ = e.conn.Close()
	return err
}

// Abort tears the engine down without waiting for trailing results.
func (e *Engine) Abort() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopping = true
	gen := e.current
	e.mu.Unlock()

	if e.tap != nil {
		e.tap.Close()
	}
	if gen != nil {
		gen.cancel()
	}
	_ = e.conn.Close()
}
