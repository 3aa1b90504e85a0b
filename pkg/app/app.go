// Package app wires a conversation session to its storage, remote backend,
// summarizers and control API from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/httpc"
	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/backend"
	"github.com/teslashibe/go-parley/pkg/conversation"
	"github.com/teslashibe/go-parley/pkg/recording"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/summary"
	"github.com/teslashibe/go-parley/pkg/tools"
	"github.com/teslashibe/go-parley/pkg/transport"
	"github.com/teslashibe/go-parley/pkg/web"
)

// App owns every long-lived component of a parley process.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store      *store.Store
	remote     *backend.Client
	drive      *backend.DriveUploader
	negotiator *transport.OpenAINegotiator
	summarizer *summary.Chain
	session    *conversation.Session
	screen     screen
}

// Option customizes New.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	session  []conversation.Option
	store    []store.Option
	inMemory bool
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSessionOptions appends session options after the ones derived from
// the configuration, so they take precedence.
func WithSessionOptions(opts ...conversation.Option) Option {
	return func(o *options) { o.session = append(o.session, opts...) }
}

// WithStoreOptions appends store options.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *options) { o.store = append(o.store, opts...) }
}

// InMemory keeps the store in memory instead of under DataDir.
func InMemory() Option {
	return func(o *options) { o.inMemory = true }
}

// New opens the store and builds the session. Remote collaborators are
// only created when configured.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger.With("component", "app")}

	dir := ""
	if !o.inMemory {
		dir = filepath.Join(cfg.DataDir, "store")
	}
	storeOpts := append([]store.Option{
		store.WithDailyLimit(time.Duration(cfg.Session.DailyLimit) * time.Minute),
		store.WithLogger(logger),
	}, o.store...)
	st, err := store.Open(dir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	if err := a.initRemote(ctx); err != nil {
		st.Close()
		return nil, err
	}

	a.negotiator = transport.NewOpenAINegotiator(transport.OpenAIConfig{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		RealtimeURL: cfg.OpenAI.RealtimeURL,
		CallsURL:    cfg.OpenAI.CallsURL,
		HTTPClient:  httpc.Client,
		Logger:      logger,
	})

	if err := a.initSummarizer(); err != nil {
		st.Close()
		return nil, err
	}

	registry, err := tools.NewRegistry(logger, catalog(a.actions())...)
	if err != nil {
		st.Close()
		return nil, err
	}

	sessOpts := append(a.sessionOptions(registry), o.session...)
	sess, err := conversation.New(sessOpts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	a.session = sess
	return a, nil
}

func (a *App) initRemote(ctx context.Context) error {
	if a.cfg.Backend.URL != "" {
		remote, err := backend.NewClient(backend.Config{
			BaseURL:     a.cfg.Backend.URL,
			TokenSource: backend.StaticToken(a.cfg.Backend.Token),
			Logger:      a.logger,
		})
		if err != nil {
			return fmt.Errorf("backend client: %w", err)
		}
		a.remote = remote
	}

	if a.cfg.Drive.Enabled() {
		drive, err := backend.NewDriveUploader(ctx, backend.DriveConfig{
			ClientID:     a.cfg.Drive.ClientID,
			ClientSecret: a.cfg.Drive.ClientSecret,
			RedirectURL:  a.driveRedirect(),
			TokenPath:    a.cfg.Drive.TokenPath,
			FolderID:     a.cfg.Drive.FolderID,
			Logger:       a.logger,
		})
		if err != nil {
			return fmt.Errorf("drive uploader: %w", err)
		}
		a.drive = drive
	}
	return nil
}

func (a *App) driveRedirect() string {
	if a.cfg.Drive.RedirectURL != "" {
		return a.cfg.Drive.RedirectURL
	}
	host := a.cfg.ListenAddr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + "/api/drive/callback"
}

// initSummarizer orders summarizers from best to always-available.
func (a *App) initSummarizer() error {
	var chain []summary.Summarizer
	if a.cfg.OpenAI.APIKey != "" {
		oa, err := summary.NewOpenAI(a.cfg.OpenAI.APIKey,
			summary.WithModel(a.cfg.OpenAI.SummaryModel),
			summary.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("openai summarizer: %w", err)
		}
		chain = append(chain, oa)
	}
	if a.remote != nil {
		chain = append(chain, a.remote)
	}
	chain = append(chain, summary.Extractive{})

	c, err := summary.NewChainWithLogger(a.logger, chain...)
	if err != nil {
		return err
	}
	a.summarizer = c
	return nil
}

// collaborators composes the local store with the optional remote pieces.
func (a *App) collaborators() conversation.Collaborators {
	local := a.store.Collaborators()
	col := conversation.Collaborators{
		Quota:       local.Quota,
		Persist:     local.Persist,
		Upload:      local.Upload,
		PastContext: local.PastContext,
		Summarize:   summary.Collaborator(a.summarizer),
		Preferences: local.Preferences,
	}

	var hangup conversation.EndServerSessionFunc
	if a.cfg.Session.Transport == config.TransportPeer {
		hangup = a.negotiator.Hangup
	}

	if a.remote != nil {
		remote := a.remote.Collaborators()
		col.Quota = remote.Quota
		col.Persist = persistAll(local.Persist, remote.Persist)
		col.PastContext = contextWithFallback(remote.PastContext, local.PastContext, a.logger)
		col.EndServerSession = endAll(hangup, remote.EndServerSession)
	} else if hangup != nil {
		col.EndServerSession = hangup
	}

	if a.drive != nil {
		col.Upload = uploadWithFallback(a.drive.Upload, local.Upload, a.logger)
	}
	return col
}

func (a *App) sessionOptions(registry *tools.Registry) []conversation.Option {
	cfg := a.cfg
	kind := transport.KindSocket
	if cfg.Session.Transport == config.TransportPeer {
		kind = transport.KindPeer
	}

	audio := audioio.DefaultConfig()
	if cfg.Audio.Backend != "" {
		audio.Backend = audioio.Backend(cfg.Audio.Backend)
	}
	audio.Device = cfg.Audio.Device

	backoff := transport.Backoff{
		Base:        cfg.Reconnect.Base,
		Max:         cfg.Reconnect.Max,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
	logger := a.logger

	opts := []conversation.Option{
		conversation.WithLogger(logger),
		conversation.WithKind(kind),
		conversation.WithNegotiator(a.negotiator),
		conversation.WithTransportFactory(func(k transport.Kind, sink audioio.Sink) transport.Transport {
			if k == transport.KindPeer {
				return transport.NewPeer(transport.WithSink(sink), transport.WithPeerLogger(logger))
			}
			return transport.NewSocket(transport.WithBackoff(backoff), transport.WithSocketLogger(logger))
		}),
		conversation.WithAudioConfig(audio),
		conversation.WithGate(audioio.GateConfig{
			Threshold:     cfg.Gate.Threshold,
			RequiredCount: cfg.Gate.RequiredCount,
			Cooldown:      cfg.Gate.Cooldown,
		}),
		conversation.WithTools(registry),
		conversation.WithCollaborators(a.collaborators()),
		conversation.WithMaxDuration(cfg.Session.MaxDuration),
		conversation.WithWarningFraction(cfg.Session.WarningFraction),
		conversation.WithEndFlowTimings(cfg.Session.EndFallback, cfg.Session.EndGrace),
		conversation.WithRetryDelay(cfg.Session.RetryDelay),
		conversation.WithVoice(cfg.OpenAI.Voice),
	}
	if len(cfg.Session.EndPhrases) > 0 {
		opts = append(opts, conversation.WithEndPhrases(cfg.Session.EndPhrases...))
	}
	if cfg.Session.Record {
		opts = append(opts, conversation.WithRecording(recording.WithLogger(logger)))
	} else {
		opts = append(opts, conversation.WithoutRecording())
	}
	return opts
}

// Session returns the conversation session.
func (a *App) Session() *conversation.Session { return a.session }

// Store returns the local store.
func (a *App) Store() *store.Store { return a.store }

// Remaining returns the conversation seconds left today.
func (a *App) Remaining(ctx context.Context) (int, error) {
	if a.remote != nil {
		return a.remote.Quota(ctx)
	}
	return a.store.Remaining(ctx)
}

// WebConfig returns the control API configuration for this app.
func (a *App) WebConfig() web.Config {
	cfg := web.Config{
		Session:    a.session,
		History:    a.store,
		Recordings: a.store,
		Logger:     a.logger,
	}
	if a.drive != nil {
		cfg.Drive = a.drive
	}
	return cfg
}

// Serve runs the control API until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	srv := web.NewServer(a.WebConfig())
	detach := a.screen.attach(srv.Hub())
	defer detach()
	errc := make(chan error, 1)
	go func() { errc <- srv.Listen(a.cfg.ListenAddr) }()

	select {
	case err := <-errc:
		return fmt.Errorf("listen %s: %w", a.cfg.ListenAddr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close stops any running session, waits for its handoff and closes the
// store.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if _, err := a.session.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop session: %w", err))
	}
	a.session.Wait()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
