/*
Package stream keeps a client WebSocket to the viewsync server open.

A Stream dials with exponential backoff, hands every inbound frame to a callback on its
read goroutine, and redials when the connection drops. OnConnect runs on that same
goroutine after every successful dial and before the first frame of the new connection is
read, which is where callers re-join rooms and signal reconnects to their subscribers.
*/
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"viewsync/internal/app/event"
	"viewsync/internal/pkg/logx"
)

const writeWait = 10 * time.Second

// ErrNotConnected is returned by Send while the stream is between connections.
var ErrNotConnected = errors.New("stream not connected")

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("stream closed")

// DefaultBackoff is the redial schedule: exponential from 200ms, capped at 10s per wait.
func DefaultBackoff() retry.Backoff {
	return retry.WithCappedDuration(10*time.Second, retry.NewExponential(200*time.Millisecond))
}

// Config describes a stream.
type Config struct {
	URL    string
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Backoff builds the redial schedule for one reconnect attempt. Defaults to
	// DefaultBackoff.
	Backoff func() retry.Backoff

	// OnConnect runs after each successful dial. reconnect is false for the first one.
	OnConnect func(reconnect bool)

	// OnFrame receives every decoded inbound frame.
	OnFrame func(f event.Frame)

	// Component tags log lines.
	Component string
}

// Stream is a self-healing client connection.
type Stream struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu guards ws. writeMu serializes writers; gorilla allows one concurrent writer.
	mu      sync.RWMutex
	ws      *websocket.Conn
	writeMu sync.Mutex

	logger zerolog.Logger
}

func newStream(cfg Config) *Stream {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.OnConnect == nil {
		cfg.OnConnect = func(bool) {}
	}
	if cfg.OnFrame == nil {
		cfg.OnFrame = func(event.Frame) {}
	}
	if cfg.Component == "" {
		cfg.Component = "Stream"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logx.Component(cfg.Component).With().Str("url", cfg.URL).Logger(),
	}
}

// Dial connects once, failing fast, then keeps the stream alive in the background.
func Dial(ctx context.Context, cfg Config) (*Stream, error) {
	s := newStream(cfg)

	ws, err := s.dialOnce(ctx)
	if err != nil {
		s.cancel()
		close(s.done)
		return nil, err
	}

	go s.run(ws)
	return s, nil
}

// Open returns immediately and connects in the background, retrying until Close.
func Open(cfg Config) *Stream {
	s := newStream(cfg)
	go s.run(nil)
	return s
}

func (s *Stream) dialOnce(ctx context.Context) (*websocket.Conn, error) {
	ws, res, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	if err != nil {
		if res != nil {
			return nil, errors.Wrapf(err, "dial %s: HTTP %d", s.cfg.URL, res.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", s.cfg.URL)
	}

	ws.SetReadLimit(event.MaxFrameSize)
	return ws, nil
}

// redial blocks until a connection is up or the stream is closed.
func (s *Stream) redial() (*websocket.Conn, error) {
	var ws *websocket.Conn

	err := retry.Do(s.ctx, s.cfg.Backoff(), func(ctx context.Context) error {
		conn, err := s.dialOnce(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Redial failed.")
			return retry.RetryableError(err)
		}
		ws = conn
		return nil
	})
	return ws, err
}

func (s *Stream) run(ws *websocket.Conn) {
	defer close(s.done)

	reconnect := false
	if ws == nil {
		var err error
		if ws, err = s.redial(); err != nil {
			return
		}
	}

	for {
		// Close cancels before it looks at ws, so either it sees this connection or
		// this check sees the cancel.
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			ws.Close()
			return
		}
		s.ws = ws
		s.mu.Unlock()

		s.cfg.OnConnect(reconnect)
		s.readLoop(ws)

		s.mu.Lock()
		s.ws = nil
		s.mu.Unlock()
		ws.Close()

		if s.ctx.Err() != nil {
			return
		}

		s.logger.Info().Msg("Connection lost, reconnecting.")

		var err error
		if ws, err = s.redial(); err != nil {
			return
		}
		reconnect = true
		s.logger.Info().Msg("Reconnected.")
	}
}

func (s *Stream) readLoop(ws *websocket.Conn) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Read failed.")
			}
			return
		}

		f, err := event.Decode(msg)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed frame.")
			continue
		}
		s.cfg.OnFrame(f)
	}
}

// Send writes one frame. It fails with ErrNotConnected between connections.
func (s *Stream) Send(name, channel string, data any) error {
	return s.send(name, channel, data, writeWait)
}

// SendTimeout is Send with a custom write deadline.
func (s *Stream) SendTimeout(name, channel string, data any, timeout time.Duration) error {
	return s.send(name, channel, data, timeout)
}

func (s *Stream) send(name, channel string, data any, timeout time.Duration) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	msg, err := event.Encode(name, channel, data)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}

	s.mu.RLock()
	ws := s.ws
	s.mu.RUnlock()
	if ws == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}

// Connected reports whether a connection is currently up.
func (s *Stream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ws != nil
}

// Drop closes the current connection without closing the stream, which then redials.
func (s *Stream) Drop() {
	s.mu.RLock()
	ws := s.ws
	s.mu.RUnlock()

	if ws != nil {
		ws.Close()
	}
}

// Close stops the stream and waits for its goroutine to exit.
func (s *Stream) Close() error {
	s.cancel()

	s.mu.RLock()
	ws := s.ws
	s.mu.RUnlock()

	if ws != nil {
		s.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		ws.Close()
	}

	<-s.done
	return nil
}
