package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/pyronotes/internal/version"
)

// ErrTransport wraps every failure to open or use the live channel.
var ErrTransport = errors.New("stream transport error")

// ConnectionLostMessage is surfaced when the channel drops outside the finalize handshake.
const ConnectionLostMessage = "Connection lost: the transcript so far is preserved, but live updates have stopped."

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultFinalizeTimeout  = 10 * time.Second
	defaultPingInterval     = 20 * time.Second
	pongTimeout             = 5 * time.Second
)

// Config bounds connection setup and the finalize handshake.
type Config struct {
	HandshakeTimeout time.Duration
	FinalizeTimeout  time.Duration
	PingInterval     time.Duration
}

// URL derives the live channel address for sessionID from the REST base URL.
func URL(baseURL string, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/transcriptions/" + url.PathEscape(sessionID) + "/stream"
	return u.String(), nil
}

// Conn is one open live channel. Inbound events are delivered to the handler
// from a single goroutine in arrival order.
type Conn struct {
	ws      *websocket.Conn
	handler func(Event)
	logger  *slog.Logger
	cfg     Config

	writeMu sync.Mutex

	mu         sync.Mutex
	finalizing bool
	aborted    bool
	closed     bool

	readDone chan struct{}
	pingStop chan struct{}
	pingOnce sync.Once
}

// Dial opens the channel at rawURL and starts reading.
func Dial(ctx context.Context, rawURL string, cfg Config, handler func(Event), logger *slog.Logger) (*Conn, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if handler == nil {
		handler = func(Event) {}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout
	ws, _, err := dialer.DialContext(ctx, rawURL, http.Header{"User-Agent": []string{version.UserAgent()}})
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrTransport, rawURL, err)
	}

	c := &Conn{
		ws:       ws,
		handler:  handler,
		logger:   logger,
		cfg:      cfg,
		readDone: make(chan struct{}),
		pingStop: make(chan struct{}),
	}
	go c.readLoop()
	go c.keepAlive()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.readDone)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			quiet := c.finalizing || c.aborted
			c.mu.Unlock()
			if !quiet {
				c.logger.Warn("live channel closed unexpectedly", "error", err.Error())
				c.handler(Error(ConnectionLostMessage))
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil || !event.Type.Inbound() {
			c.logger.Warn("malformed live channel message", "payload", string(data))
			if !c.isAborted() {
				c.handler(Error("malformed stream message"))
			}
			continue
		}
		if c.isAborted() {
			return
		}
		c.handler(event)
	}
}

func (c *Conn) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

func (c *Conn) keepAlive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.pingStop:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(pongTimeout)); err != nil {
				return
			}
		}
	}
}

// SendTranscript forwards one finalized segment.
func (c *Conn) SendTranscript(text string) error {
	return c.send(TranscriptChunk(text))
}

func (c *Conn) send(event Event) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: channel closed", ErrTransport)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(event); err != nil {
		return fmt.Errorf("%w: send %s: %v", ErrTransport, event.Type, err)
	}
	return nil
}

// Close performs the finalize handshake: it announces end of input, keeps
// delivering inbound events until the server closes or the finalize timeout
// passes, then closes the socket.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.finalizing = true
	c.mu.Unlock()

	var result error
	if err := c.send(Event{Type: TypeFinalize}); err != nil {
		result = err
	} else {
		timer := time.NewTimer(c.cfg.FinalizeTimeout)
		defer timer.Stop()
		select {
		case <-c.readDone:
		case <-timer.C:
			result = fmt.Errorf("%w: finalize timed out after %s", ErrTransport, c.cfg.FinalizeTimeout)
		case <-ctx.Done():
			result = fmt.Errorf("%w: finalize: %v", ErrTransport, ctx.Err())
		}
	}

	c.shutdown()
	return result
}

// Abort closes the socket immediately. No events are delivered after it returns.
func (c *Conn) Abort() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	c.mu.Unlock()

	c.shutdown()
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.pingOnce.Do(func() { close(c.pingStop) })

	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	_ = c.ws.Close()
	<-c.readDone
}
