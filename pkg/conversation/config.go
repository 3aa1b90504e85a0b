package conversation

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-parley/internal/clock"
	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/protocol"
	"github.com/teslashibe/go-parley/pkg/recording"
	"github.com/teslashibe/go-parley/pkg/tools"
	"github.com/teslashibe/go-parley/pkg/transport"
)

// TransportFactory creates the transport for one session. sink is the
// speaker for variants that play remote audio themselves; others ignore it.
type TransportFactory func(kind transport.Kind, sink audioio.Sink) transport.Transport

// SourceFactory opens a microphone for one session.
type SourceFactory func() (audioio.Source, error)

// SinkFactory opens a speaker for one session.
type SinkFactory func() (audioio.Sink, error)

// Config holds configuration for a Session.
type Config struct {
	// Kind selects the transport variant.
	Kind transport.Kind

	// NewTransport builds the transport. Defaults to the real socket or
	// peer implementation.
	NewTransport TransportFactory

	// Negotiator supplies credentials or exchanges SDP.
	Negotiator transport.Negotiator

	// Audio configures the default device factories.
	Audio audioio.Config

	// NewSource and NewSink override device creation.
	NewSource SourceFactory
	NewSink   SinkFactory

	// Gate configures echo gating on the socket variant.
	Gate audioio.GateConfig

	// Clock drives every session timer.
	Clock clock.Clock

	// Tools is the function catalog offered to the model.
	Tools *tools.Registry

	// Collaborators are the external services used around a session.
	Collaborators Collaborators

	// MaxDuration is the hard cap on a session.
	MaxDuration time.Duration

	// TickInterval is the countdown resolution.
	TickInterval time.Duration

	// WarningFraction of MaxDuration elapsed raises the one-time warning.
	WarningFraction float64

	// FallbackTimeout stops a requested end flow that never sees a farewell.
	FallbackTimeout time.Duration

	// GraceDelay lets the farewell finish playing before the stop.
	GraceDelay time.Duration

	// EndPhrases are user utterances that request the end of a conversation.
	EndPhrases []string

	// CompletionMarker in assistant text requests the end of a
	// conversation. Empty disables it.
	CompletionMarker string

	// MinUserChars is the shortest user transcript kept.
	MinUserChars int

	// RetryDelay separates the stop and start halves of Retry.
	RetryDelay time.Duration

	// ContextTimeout bounds each past-context lookup during Start.
	ContextTimeout time.Duration

	// HandoffTimeout bounds post-session upload, summary and persistence.
	HandoffTimeout time.Duration

	Voice              string
	TurnDetection      protocol.TurnDetection
	TranscriptionModel string

	// Instructions builds the session instructions.
	Instructions InstructionsFunc

	// Recording configures the local recorder. Nil disables recording.
	Recording []recording.Option

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Kind:               transport.KindSocket,
		Audio:              audioio.DefaultConfig(),
		Gate:               audioio.DefaultGateConfig(),
		Clock:              clock.Real{},
		MaxDuration:        10 * time.Minute,
		TickInterval:       time.Second,
		WarningFraction:    0.8,
		FallbackTimeout:    12 * time.Second,
		GraceDelay:         3 * time.Second,
		EndPhrases:         DefaultEndPhrases(),
		MinUserChars:       2,
		RetryDelay:         750 * time.Millisecond,
		ContextTimeout:     3 * time.Second,
		HandoffTimeout:     2 * time.Minute,
		Voice:              "alloy",
		TurnDetection:      protocol.DefaultTurnDetection(),
		TranscriptionModel: protocol.DefaultTranscriptionModel,
		Instructions:       DefaultInstructions,
		Recording:          []recording.Option{},
		Logger:             slog.Default(),
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithKind selects the transport variant.
func WithKind(kind transport.Kind) Option {
	return func(c *Config) { c.Kind = kind }
}

// WithTransportFactory overrides transport construction.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Config) { c.NewTransport = f }
}

// WithNegotiator sets the negotiator used on every Connect.
func WithNegotiator(n transport.Negotiator) Option {
	return func(c *Config) { c.Negotiator = n }
}

// WithAudioConfig sets the device configuration.
func WithAudioConfig(cfg audioio.Config) Option {
	return func(c *Config) { c.Audio = cfg }
}

// WithAudio overrides microphone and speaker creation.
func WithAudio(src SourceFactory, sink SinkFactory) Option {
	return func(c *Config) {
		c.NewSource = src
		c.NewSink = sink
	}
}

// WithGate sets the echo gate parameters.
func WithGate(cfg audioio.GateConfig) Option {
	return func(c *Config) { c.Gate = cfg }
}

// WithClock injects the clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

// WithTools sets the tool registry.
func WithTools(r *tools.Registry) Option {
	return func(c *Config) { c.Tools = r }
}

// WithCollaborators sets the external services.
func WithCollaborators(col Collaborators) Option {
	return func(c *Config) { c.Collaborators = col }
}

// WithMaxDuration caps session length.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Config) { c.MaxDuration = d }
}

// WithTickInterval sets the countdown resolution.
func WithTickInterval(d time.Duration) Option {
	return func(c *Config) { c.TickInterval = d }
}

// WithWarningFraction sets when the time warning is raised.
func WithWarningFraction(f float64) Option {
	return func(c *Config) { c.WarningFraction = f }
}

// WithEndFlowTimings sets the end flow fallback and grace delays.
func WithEndFlowTimings(fallback, grace time.Duration) Option {
	return func(c *Config) {
		c.FallbackTimeout = fallback
		c.GraceDelay = grace
	}
}

// WithEndPhrases replaces the end-intent phrase list.
func WithEndPhrases(phrases ...string) Option {
	return func(c *Config) { c.EndPhrases = phrases }
}

// WithCompletionMarker enables ending on an assistant marker.
func WithCompletionMarker(marker string) Option {
	return func(c *Config) { c.CompletionMarker = marker }
}

// WithMinUserChars sets the shortest user transcript kept.
func WithMinUserChars(n int) Option {
	return func(c *Config) { c.MinUserChars = n }
}

// WithRetryDelay sets the pause inside Retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) { c.RetryDelay = d }
}

// WithVoice sets the assistant voice.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithTurnDetection configures server voice activity detection.
func WithTurnDetection(td protocol.TurnDetection) Option {
	return func(c *Config) { c.TurnDetection = td }
}

// WithInstructions sets the instructions builder.
func WithInstructions(fn InstructionsFunc) Option {
	return func(c *Config) { c.Instructions = fn }
}

// WithRecording configures the local recorder.
func WithRecording(opts ...recording.Option) Option {
	return func(c *Config) { c.Recording = opts }
}

// WithoutRecording disables the local recorder.
func WithoutRecording() Option {
	return func(c *Config) { c.Recording = nil }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}
