package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-parley/internal/metrics"
	"github.com/teslashibe/go-parley/pkg/protocol"
)

// SocketConfig holds configuration for the socket transport.
type SocketConfig struct {
	// HandshakeTimeout bounds each dial, including reconnects.
	HandshakeTimeout time.Duration

	// ReadTimeout is the idle read deadline; pongs extend it.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write.
	WriteTimeout time.Duration

	// PingInterval is how often keepalive pings are sent.
	PingInterval time.Duration

	// Backoff controls reconnect after an unexpected drop.
	Backoff Backoff

	// Logger is the structured logger to use.
	Logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultSocketConfig returns a SocketConfig with sensible defaults.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		HandshakeTimeout: 15 * time.Second,
		ReadTimeout:      2 * time.Minute,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		Backoff:          DefaultBackoff(),
		Logger:           slog.Default(),
		sleep:            sleepCtx,
	}
}

// SocketOption configures a Socket.
type SocketOption func(*SocketConfig)

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) SocketOption {
	return func(c *SocketConfig) { c.Backoff = b }
}

// WithSocketLogger sets the logger.
func WithSocketLogger(l *slog.Logger) SocketOption {
	return func(c *SocketConfig) { c.Logger = l }
}

// WithReadTimeout sets the idle read deadline.
func WithReadTimeout(d time.Duration) SocketOption {
	return func(c *SocketConfig) { c.ReadTimeout = d }
}

// WithPingInterval sets the keepalive interval.
func WithPingInterval(d time.Duration) SocketOption {
	return func(c *SocketConfig) { c.PingInterval = d }
}

// WithHandshakeTimeout sets the dial timeout.
func WithHandshakeTimeout(d time.Duration) SocketOption {
	return func(c *SocketConfig) { c.HandshakeTimeout = d }
}

// Socket implements Transport over a single WebSocket.
type Socket struct {
	cfg    SocketConfig
	logger *slog.Logger
	dialer websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	gen       int
	closing   bool
	negotiate Negotiator
	life      context.Context
	cancel    context.CancelFunc

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex

	status *statusCell
	events listeners[protocol.ServerEvent]
}

// NewSocket creates a socket transport.
func NewSocket(opts ...SocketOption) *Socket {
	cfg := DefaultSocketConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.sleep == nil {
		cfg.sleep = sleepCtx
	}

	return &Socket{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "transport.socket"),
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		status: newStatusCell(),
	}
}

// Connect dials the endpoint returned by the negotiator.
func (s *Socket) Connect(ctx context.Context, _ MediaSource, negotiate Negotiator) error {
	if negotiate == nil {
		return ErrNoNegotiator
	}
	if st := s.status.get(); st == StatusConnected || st == StatusConnecting {
		return ErrAlreadyConnected
	}

	life, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.negotiate = negotiate
	s.closing = false
	s.life, s.cancel = life, cancel
	s.mu.Unlock()

	s.status.set(StatusConnecting)

	conn, err := s.dial(ctx, negotiate)
	if err != nil {
		cancel()
		s.status.set(StatusFailed)
		return err
	}
	if !s.attach(life, conn) {
		return ErrNotConnected
	}
	s.logger.Info("connected")
	return nil
}

func (s *Socket) dial(ctx context.Context, negotiate Negotiator) (*websocket.Conn, error) {
	creds, err := negotiate.Credentials(ctx)
	if err != nil {
		return nil, NewConnectionError("fetch credentials", err, false)
	}

	header := creds.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, creds.URL, header)
	if err != nil {
		if resp != nil {
			retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
			return nil, NewConnectionError("dial failed with status "+resp.Status, err, retryable)
		}
		return nil, NewConnectionError("dial failed", err, true)
	}
	return conn, nil
}

// attach installs a fresh connection, marks the transport connected and
// starts its goroutines. It reports false if the transport was disconnected
// meanwhile.
func (s *Socket) attach(life context.Context, conn *websocket.Conn) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return false
	}
	s.conn = conn
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	readTimeout := s.cfg.ReadTimeout
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	s.status.set(StatusConnected)
	go s.readLoop(life, conn, gen)
	go s.keepalive(life, conn)
	return true
}

func (s *Socket) readLoop(life context.Context, conn *websocket.Conn, gen int) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if life.Err() != nil {
				return
			}

			s.logger.Warn("connection lost", "error", err)
			s.mu.Lock()
			if s.gen == gen {
				s.conn = nil
			}
			s.mu.Unlock()
			conn.Close()

			s.reconnect(life)
			return
		}

		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			metrics.MalformedFramesTotal.Inc()
			s.logger.Debug("dropping malformed frame", "error", err, "bytes", len(data))
			continue
		}
		s.events.emit(ev)
	}
}

func (s *Socket) reconnect(life context.Context) {
	s.mu.Lock()
	negotiate := s.negotiate
	s.mu.Unlock()

	s.status.set(StatusConnecting)

	b := s.cfg.Backoff
	for attempt := 0; !b.Exhausted(attempt); attempt++ {
		delay := b.Delay(attempt)
		s.logger.Info("reconnecting", "attempt", attempt+1, "max_attempts", b.MaxAttempts, "delay", delay)

		if err := s.cfg.sleep(life, delay); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(life, s.cfg.HandshakeTimeout)
		conn, err := s.dial(ctx, negotiate)
		cancel()
		if err != nil {
			metrics.ReconnectAttemptsTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		if !s.attach(life, conn) {
			return
		}
		metrics.ReconnectAttemptsTotal.WithLabelValues("ok").Inc()
		s.logger.Info("reconnected", "attempt", attempt+1)
		return
	}

	if life.Err() != nil {
		return
	}
	s.logger.Error("reconnect attempts exhausted", "attempts", b.MaxAttempts)
	s.status.set(StatusFailed)
}

func (s *Socket) keepalive(life context.Context, conn *websocket.Conn) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-life.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// Send writes one client event.
func (s *Socket) Send(ctx context.Context, ev protocol.ClientEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || s.status.get() != StatusConnected {
		return ErrNotConnected
	}

	data, err := ev.Bytes()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return NewConnectionError("write "+string(ev.Type), err, true)
	}

	if !ev.IsAudio() {
		s.logger.Debug("sent event", "type", ev.Type, "event_id", ev.EventID)
	}
	return nil
}

// Disconnect closes the connection and stops any reconnect in progress.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	s.closing = true
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		conn.Close()
		s.logger.Info("disconnected")
	}

	s.status.set(StatusDisconnected)
	return nil
}

// Status returns the current connection status.
func (s *Socket) Status() Status { return s.status.get() }

// Subscribe registers a server event handler.
func (s *Socket) Subscribe(h Handler) func() { return s.events.add(h) }

// OnStatus registers a status observer.
func (s *Socket) OnStatus(fn func(Status)) func() { return s.status.observers.add(fn) }

// SessionKey is empty for the socket variant.
func (s *Socket) SessionKey() string { return "" }

// Kind returns KindSocket.
func (s *Socket) Kind() Kind { return KindSocket }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Transport = (*Socket)(nil)
