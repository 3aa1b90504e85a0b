// Package recording keeps a local copy of the user's microphone audio for
// the duration of a session.
//
// The Manager reads from a capture tap, which is a cloned stream, so it
// never owns the microphone. Encoded audio is cut into fixed timeslice
// fragments and joined into a single blob on Finalize.
package recording

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/pkg/audioio"
)

// ErrAlreadyStarted is returned by Start on a manager that is recording.
var ErrAlreadyStarted = errors.New("recording: already started")

// Config configures a Manager.
type Config struct {
	// Timeslice is the audio duration per fragment.
	Timeslice time.Duration

	// Preferences is the mime probe order.
	Preferences []string

	Encoders Encoders
	Logger   *slog.Logger
}

// DefaultConfig returns one second fragments with the default encoders.
func DefaultConfig() Config {
	return Config{
		Timeslice:   time.Second,
		Preferences: DefaultPreferences,
		Encoders:    DefaultEncoders(),
	}
}

// Option configures a Manager.
type Option func(*Config)

// WithTimeslice sets the fragment duration.
func WithTimeslice(d time.Duration) Option {
	return func(c *Config) { c.Timeslice = d }
}

// WithPreferences sets the mime probe order.
func WithPreferences(mimes ...string) Option {
	return func(c *Config) { c.Preferences = mimes }
}

// WithEncoders replaces the encoder registry.
func WithEncoders(e Encoders) Option {
	return func(c *Config) { c.Encoders = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

type state int

const (
	stateIdle state = iota
	stateRecording
	stateDone
)

// Manager records one session.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     state
	enc       Encoder
	mime      string
	fragments [][]byte
	sliced    time.Duration
	total     time.Duration
	release   func()
	done      chan struct{}
	blob      audioio.Blob
	err       error
}

// NewManager creates an idle manager.
func NewManager(opts ...Option) *Manager {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = time.Second
	}
	if cfg.Encoders == nil {
		cfg.Encoders = DefaultEncoders()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: cfg.Logger.With("component", "recording.manager")}
}

// Start begins consuming tap. release is called exactly once, on Finalize
// or Discard. When no encoder can be created the manager records nothing
// and Finalize returns an empty blob.
func (m *Manager) Start(tap <-chan audioio.AudioChunk, release func()) error {
	if release == nil {
		release = func() {}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateIdle {
		return ErrAlreadyStarted
	}
	m.state = stateRecording
	m.release = onceFunc(release)
	m.done = make(chan struct{})

	enc, mime := m.open()
	if enc == nil {
		m.logger.Warn("recording unavailable, continuing without audio")
		m.release()
		close(m.done)
		return nil
	}
	m.enc, m.mime = enc, mime
	m.logger.Debug("recording started", "mime", mime, "timeslice", m.cfg.Timeslice)

	go m.consume(tap, m.done)
	return nil
}

// open negotiates a mime type and creates its encoder, falling back to the
// default encoding if the preferred one cannot be created.
func (m *Manager) open() (Encoder, string) {
	mime := m.cfg.Encoders.Negotiate(m.cfg.Preferences)
	candidates := []string{mime}
	if mime != DefaultMimeType {
		candidates = append(candidates, DefaultMimeType)
	}

	for _, c := range candidates {
		factory, ok := m.cfg.Encoders[c]
		if !ok {
			continue
		}
		enc, err := factory()
		if err != nil {
			m.logger.Warn("encoder unavailable", "mime", c, "error", err)
			continue
		}
		return enc, c
	}
	return nil, ""
}

func (m *Manager) consume(tap <-chan audioio.AudioChunk, done chan struct{}) {
	defer close(done)
	for chunk := range tap {
		m.write(chunk)
	}
}

func (m *Manager) write(chunk audioio.AudioChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateRecording {
		return
	}

	if err := m.enc.Encode(chunk); err != nil {
		m.logger.Debug("encode failed", "error", err)
		return
	}
	d := time.Duration(chunk.Duration() * float64(time.Second))
	m.sliced += d
	m.total += d

	if m.sliced >= m.cfg.Timeslice {
		m.sliced = 0
		if frag := m.enc.Cut(); len(frag) > 0 {
			m.fragments = append(m.fragments, frag)
		}
	}
}

// Finalize releases the tap, waits for buffered chunks and returns the
// recording. Repeated calls return the same result.
func (m *Manager) Finalize(ctx context.Context) (audioio.Blob, error) {
	m.mu.Lock()
	switch m.state {
	case stateIdle:
		m.state = stateDone
		m.mu.Unlock()
		return audioio.Blob{}, nil
	case stateDone:
		defer m.mu.Unlock()
		return m.blob, m.err
	}
	release, done := m.release, m.done
	m.mu.Unlock()

	release()
	select {
	case <-done:
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateDone {
		return m.blob, m.err
	}
	m.state = stateDone
	if m.enc == nil {
		return m.blob, nil
	}

	tail, err := m.enc.Close()
	if len(tail) > 0 {
		m.fragments = append(m.fragments, tail)
	}
	m.blob = m.assemble()
	m.err = err
	m.fragments = nil
	m.logger.Debug("recording finalized", "mime", m.blob.MimeType, "bytes", len(m.blob.Data), "duration", m.blob.Duration)
	return m.blob, m.err
}

func (m *Manager) assemble() audioio.Blob {
	size := 0
	for _, f := range m.fragments {
		size += len(f)
	}
	if size == 0 {
		return audioio.Blob{}
	}

	var data []byte
	if h, ok := m.enc.(headerWriter); ok {
		data = h.Header(size)
	}
	data = append(make([]byte, 0, len(data)+size), data...)
	for _, f := range m.fragments {
		data = append(data, f...)
	}
	return audioio.Blob{Data: data, MimeType: m.mime, Duration: m.total}
}

// Discard releases the tap and drops everything recorded.
func (m *Manager) Discard() {
	m.mu.Lock()
	release := m.release
	if m.state == stateDone {
		m.mu.Unlock()
		return
	}
	m.state = stateDone
	m.fragments = nil
	m.enc = nil
	m.mu.Unlock()

	if release != nil {
		release()
	}
}

// MimeType returns the negotiated mime type, or "" before Start or when
// recording is unavailable.
func (m *Manager) MimeType() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mime
}

// Fragments returns the number of completed fragments.
func (m *Manager) Fragments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fragments)
}

func onceFunc(fn func()) func() {
	var once sync.Once
	return func() { once.Do(fn) }
}

var _ audioio.Recorder = (*Manager)(nil)
