// Package web exposes a running conversation session over HTTP: start,
// stop and retry it, read its transcript, answer tool confirmations and
// follow live updates on a websocket.
package web

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/conversation"
	"github.com/teslashibe/go-parley/pkg/hub"
	"github.com/teslashibe/go-parley/pkg/tools"
	"github.com/teslashibe/go-parley/pkg/transport"
)

// Controller is the session the server drives. *conversation.Session
// satisfies it.
type Controller interface {
	Start(ctx context.Context, character, topic string) error
	Stop(ctx context.Context) (conversation.Record, error)
	Retry(ctx context.Context) error
	State() conversation.State
	Kind() transport.Kind
	Tools() *tools.Registry
	Confirm(ctx context.Context, callID string) (string, error)
	Decline(callID string) error
	OnState(fn func(conversation.State)) func()
	OnLevel(fn func(float64)) func()
}

// History lists finished sessions. *store.Store satisfies it.
type History interface {
	Sessions(ctx context.Context, limit int) ([]conversation.Record, error)
	Session(ctx context.Context, id string) (conversation.Record, error)
}

// Recordings serves stored audio. *store.Store satisfies it.
type Recordings interface {
	Recording(ctx context.Context, ref string) (audioio.Blob, error)
}

// Drive is the OAuth surface of the recording uploader.
// *backend.DriveUploader satisfies it.
type Drive interface {
	Authorized() bool
	AuthURL(state string) string
	HandleCallback(ctx context.Context, code string) error
	Disconnect() error
}

// Config wires the server's optional parts. Session is required.
type Config struct {
	Session    Controller
	History    History
	Recordings Recordings
	Drive      Drive
	Logger     *slog.Logger

	// StaticDir, when set, is served at "/".
	StaticDir string
}

// Server is the HTTP control surface.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
	status *hub.Hub

	mu        sync.Mutex
	oauth     map[string]struct{}
	detach    []func()
	cancelHub context.CancelFunc
}

// NewServer builds the routes and subscribes to the session.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "web"),
		status: hub.New("status", logger),
		oauth:  make(map[string]struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "parley",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/session", s.handleSession)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/session/retry", s.handleRetry)
	api.Get("/transcript", s.handleTranscript)
	api.Get("/tools", s.handleTools)
	api.Get("/confirmations", s.handleConfirmations)
	api.Post("/confirmations/:id", s.handleConfirm)

	if cfg.History != nil {
		api.Get("/sessions", s.handleSessions)
		api.Get("/sessions/:id", s.handleSessionRecord)
	}
	if cfg.Recordings != nil {
		api.Get("/sessions/:id/recording", s.handleRecording)
	}
	if cfg.Drive != nil {
		api.Get("/drive", s.handleDriveStatus)
		api.Get("/drive/auth", s.handleDriveAuth)
		api.Get("/drive/callback", s.handleDriveCallback)
		api.Delete("/drive", s.handleDriveDisconnect)
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(func(c *websocket.Conn) {
		hub.NewClient(s.status, c).Run()
	}))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	s.attach()
	return s
}

// attach forwards session updates to the status hub.
func (s *Server) attach() {
	ctl := s.cfg.Session
	s.detach = append(s.detach,
		ctl.OnState(func(st conversation.State) {
			if err := s.status.Publish(hub.KindState, newSessionView(st, ctl.Kind())); err != nil {
				s.logger.Warn("publish state", "error", err)
			}
		}),
		ctl.OnLevel(func(level float64) {
			_ = s.status.Publish(hub.KindLevel, level)
		}),
	)
	ctl.Tools().OnConfirmation(func(tools.PendingConfirmation) {
		_ = s.status.Publish(hub.KindConfirmation, ctl.Tools().Pending())
	})
	_ = s.status.Publish(hub.KindState, newSessionView(ctl.State(), ctl.Kind()))
}

// App exposes the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the status hub.
func (s *Server) Hub() *hub.Hub { return s.status }

// Listen starts the status hub and serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.runHub()
	s.logger.Info("control API listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) runHub() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelHub != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelHub = cancel
	go s.status.Run(ctx)
}

// Shutdown stops serving and unsubscribes from the session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, fn := range s.detach {
		fn()
	}
	s.detach = nil
	if s.cancelHub != nil {
		s.cancelHub()
	}
	s.mu.Unlock()
	s.cfg.Session.Tools().OnConfirmation(nil)
	return s.app.ShutdownWithContext(ctx)
}
