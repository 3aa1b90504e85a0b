// Package conversation runs realtime voice conversations with an AI
// character.
//
// A Session owns one conversation at a time. Start leases a microphone, a
// speaker and a transport, and Stop releases all of them. Every state change
// goes through a single reducer so transport events, timer callbacks and
// microphone callbacks never race on session state. Observers receive an
// immutable snapshot after every change.
//
// Sessions end when the user calls Stop, when the countdown reaches zero, or
// when the end flow completes after the assistant says goodbye. Finished
// sessions are handed to the configured collaborators in the background.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-parley/internal/clock"
	"github.com/teslashibe/go-parley/internal/metrics"
	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/protocol"
	"github.com/teslashibe/go-parley/pkg/recording"
	"github.com/teslashibe/go-parley/pkg/tools"
	"github.com/teslashibe/go-parley/pkg/transport"
)

const (
	// realtimeRate is the PCM rate the socket endpoint expects.
	realtimeRate = 24000

	sendTimeout = 5 * time.Second
)

// Session is a conversation engine. It is safe for concurrent use.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	clk      clock.Clock
	registry *tools.Registry
	matcher  *phraseMatcher

	dispatchMu sync.Mutex
	stateMu    sync.RWMutex
	state      State
	observers  observers[State]
	levels     observers[float64]

	mu        sync.Mutex
	cur       *run
	gen       int
	last      *stopOp
	lastStart *startArgs

	handoffs sync.WaitGroup
}

type startArgs struct {
	character string
	topic     string
}

// stopOp is the shared result of one teardown.
type stopOp struct {
	done    chan struct{}
	rec     Record
	err     error
	aborted bool
}

// run holds everything leased for one Start.
type run struct {
	gen         int
	id          string
	character   string
	topic       string
	kind        transport.Kind
	requestedAt time.Time
	startedAt   time.Time
	config      protocol.SessionConfig

	ctx    context.Context
	cancel context.CancelFunc

	// Leased resources. Written by Start under Session.mu only while stop
	// is nil; never cleared.
	source    audioio.Source
	sink      audioio.Sink
	capture   *audioio.Capture
	gate      *audioio.Gate
	player    *audioio.Player
	recorder  *recording.Manager
	transport transport.Transport
	unsubs    []func()
	endflow   *endFlow
	countdown *countdown
	stop      *stopOp

	releaseOnce sync.Once

	mu                sync.Mutex
	connected         bool
	failed            bool
	configured        map[string]bool
	greeted           bool
	responseID        string
	cancelledResponse string
	speechStoppedAt   time.Time
	awaitingAudio     bool
}

// New creates a Session.
func New(opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Instructions == nil {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.MaxDuration <= 0 {
		return nil, fmt.Errorf("conversation: max duration must be positive, got %v", cfg.MaxDuration)
	}
	if cfg.Kind == transport.KindSocket {
		if err := cfg.Gate.Validate(); err != nil {
			return nil, fmt.Errorf("conversation: %w", err)
		}
	}
	if cfg.NewTransport == nil {
		cfg.NewTransport = defaultTransport(cfg.Logger)
	}
	if cfg.NewSource == nil {
		audio, logger := cfg.Audio, cfg.Logger
		cfg.NewSource = func() (audioio.Source, error) { return audioio.NewSource(audio, logger) }
	}
	if cfg.NewSink == nil {
		audio, logger := cfg.Audio, cfg.Logger
		cfg.NewSink = func() (audioio.Sink, error) { return audioio.NewSink(audio, logger) }
	}

	registry := cfg.Tools
	if registry == nil {
		var err error
		registry, err = tools.NewRegistry(cfg.Logger, tools.DefaultActions(tools.Actions{})...)
		if err != nil {
			return nil, err
		}
	}

	return &Session{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "conversation.session"),
		clk:      cfg.Clock,
		registry: registry,
		matcher:  newPhraseMatcher(cfg.EndPhrases),
		state:    initialState(),
	}, nil
}

func defaultTransport(logger *slog.Logger) TransportFactory {
	return func(kind transport.Kind, sink audioio.Sink) transport.Transport {
		if kind == transport.KindPeer {
			return transport.NewPeer(transport.WithSink(sink), transport.WithPeerLogger(logger))
		}
		return transport.NewSocket(transport.WithSocketLogger(logger))
	}
}

// State returns a snapshot of the current state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.clone()
}

func (s *Session) session() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Session
}

// OnState registers an observer called with a snapshot after every change.
// Observers run synchronously and must not call Start, Stop or Retry.
func (s *Session) OnState(fn func(State)) func() { return s.observers.add(fn) }

// OnLevel registers an observer of microphone RMS levels.
func (s *Session) OnLevel(fn func(float64)) func() { return s.levels.add(fn) }

// Tools returns the tool registry.
func (s *Session) Tools() *tools.Registry { return s.registry }

// Kind returns the configured transport variant.
func (s *Session) Kind() transport.Kind { return s.cfg.Kind }

// Confirm applies a tool call that was waiting for the user's consent.
func (s *Session) Confirm(ctx context.Context, callID string) (string, error) {
	return s.registry.Confirm(ctx, callID)
}

// Decline drops a tool call that was waiting for the user's consent.
func (s *Session) Decline(callID string) error {
	return s.registry.Decline(callID)
}

// Wait blocks until every background handoff has finished.
func (s *Session) Wait() { s.handoffs.Wait() }

// dispatch is the only entry point that changes state.
func (s *Session) dispatch(a action) State {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.stateMu.Lock()
	next := reduce(s.state, a)
	s.state = next
	s.stateMu.Unlock()

	snap := next.clone()
	s.observers.emit(snap)
	return snap
}

// live reports whether r is the current run and not being torn down.
func (s *Session) live(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur == r && r.stop == nil
}

// claim stores a resource on r unless Stop has already taken the run.
func (s *Session) claim(r *run, set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.stop != nil {
		return false
	}
	set()
	return true
}

// Start begins a conversation with character about topic. It returns once
// the transport is connected or Start has failed; the session is listening
// after the server acknowledges the configuration.
func (s *Session) Start(ctx context.Context, character, topic string) error {
	s.mu.Lock()
	if s.cur != nil {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.gen++
	life, cancel := context.WithCancel(context.Background())
	r := &run{
		gen:         s.gen,
		id:          uuid.NewString(),
		character:   character,
		topic:       topic,
		kind:        s.cfg.Kind,
		requestedAt: s.clk.Now(),
		ctx:         life,
		cancel:      cancel,
		configured:  make(map[string]bool),
	}
	r.endflow = newEndFlow(s.clk, s.cfg.FallbackTimeout, s.cfg.GraceDelay, s.logger, func(string) {
		s.stop(context.Background(), ReasonEndFlow, r.gen)
	})
	s.cur = r
	s.lastStart = &startArgs{character: character, topic: topic}
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	s.dispatch(actStart{
		SessionID:   r.id,
		Character:   character,
		Topic:       topic,
		At:          r.requestedAt,
		MaxDuration: s.cfg.MaxDuration,
	})
	s.logger.Info("starting session", "session_id", r.id, "character", character, "topic", topic, "transport", r.kind)

	if err := s.start(ctx, r); err != nil {
		return s.abortStart(r, err)
	}

	metrics.SessionsStartedTotal.WithLabelValues(string(r.kind), "ok").Inc()
	s.logger.Info("session connected", "session_id", r.id)
	return nil
}

func (s *Session) start(ctx context.Context, r *run) error {
	if err := s.checkQuota(ctx); err != nil {
		return err
	}
	if err := s.acquireAudio(ctx, r); err != nil {
		return err
	}
	s.startRecorder(r)

	cd := newCountdown(s.clk, s.cfg.MaxDuration, s.cfg.TickInterval, s.cfg.WarningFraction,
		func(remaining time.Duration, warn bool) {
			s.dispatch(actTick{Remaining: remaining, Warn: warn})
			if warn {
				s.logger.Info("session time warning", "session_id", r.id, "remaining", remaining)
			}
		},
		func() {
			s.logger.Info("session time limit reached", "session_id", r.id)
			s.stop(context.Background(), ReasonTimeout, r.gen)
		})
	if !s.claim(r, func() {
		r.countdown = cd
		r.startedAt = cd.start()
	}) {
		return ErrInterrupted
	}

	past := s.loadPastContext(ctx)
	prefs := s.loadPreferences(ctx)
	voice := s.cfg.Voice
	if prefs.Voice != "" {
		voice = prefs.Voice
	}
	instructions := s.cfg.Instructions(r.character, r.topic, past)
	if prefs.Language != "" {
		instructions += "\nAlways speak " + prefs.Language + ".\n"
	}
	r.config = protocol.SessionConfig{
		Instructions:       instructions,
		Voice:              voice,
		Tools:              s.registry.Catalog(),
		TurnDetection:      s.cfg.TurnDetection,
		TranscriptionModel: s.cfg.TranscriptionModel,
	}

	t := s.cfg.NewTransport(r.kind, r.sink)
	if t == nil {
		return ErrNoTransport
	}
	if !s.claim(r, func() { r.transport = t }) {
		_ = t.Disconnect()
		return ErrInterrupted
	}
	unsubs := []func(){
		t.Subscribe(func(ev protocol.ServerEvent) { s.handleEvent(r, ev) }),
		t.OnStatus(func(st transport.Status) { s.handleStatus(r, st) }),
	}
	if !s.claim(r, func() { r.unsubs = unsubs }) {
		for _, u := range unsubs {
			u()
		}
		return ErrInterrupted
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(r.ctx, cancel)()

	if err := t.Connect(cctx, r.capture, s.cfg.Negotiator); err != nil {
		if r.ctx.Err() != nil {
			return ErrInterrupted
		}
		se := newSessionError(fmt.Errorf("connect %s: %w", r.kind, err))
		if se.Kind == KindUnknown {
			se.Kind = KindNetwork
		}
		return se
	}

	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	return nil
}

func (s *Session) checkQuota(ctx context.Context) error {
	quota := s.cfg.Collaborators.Quota
	if quota == nil {
		return nil
	}
	remaining, err := quota(ctx)
	if err != nil {
		return &SessionError{Kind: KindNetwork, Err: fmt.Errorf("fetch quota: %w", err)}
	}
	if remaining <= 0 {
		return &SessionError{Kind: KindQuotaExceeded, Err: ErrQuotaExceeded}
	}
	return nil
}

// acquireAudio opens the devices and starts capture. The socket variant
// gates the microphone and plays assistant audio through a Player; the peer
// variant hands the speaker to the transport.
func (s *Session) acquireAudio(ctx context.Context, r *run) error {
	source, err := s.cfg.NewSource()
	if err != nil {
		return &SessionError{Kind: KindMicrophone, Err: fmt.Errorf("open microphone: %w", err)}
	}
	sink, err := s.cfg.NewSink()
	if err != nil {
		_ = source.Close()
		return &SessionError{Kind: KindUnknown, Err: fmt.Errorf("open speaker: %w", err)}
	}

	var (
		gate   *audioio.Gate
		player *audioio.Player
	)
	if r.kind == transport.KindSocket {
		gate = audioio.NewGate(s.cfg.Gate, s.clk.Now)
		player = audioio.NewPlayer(sink, s.logger)
		player.OnDrained(func() { gate.SetAISpeaking(false) })
	}
	capture := audioio.NewCapture(source, gate, s.logger)

	if !s.claim(r, func() {
		r.source, r.sink, r.gate, r.player, r.capture = source, sink, gate, player, capture
	}) {
		_ = source.Close()
		_ = sink.Close()
		return ErrInterrupted
	}

	if r.kind == transport.KindSocket {
		capture.OnChunk(func(chunk audioio.AudioChunk, _ float64) { s.forwardChunk(r, chunk) })
		capture.OnBargeIn(func() { s.bargeIn(r, true) })
	}
	if err := capture.Start(ctx); err != nil {
		return newSessionError(err)
	}
	if player != nil {
		if err := player.Start(ctx); err != nil {
			return &SessionError{Kind: KindUnknown, Err: fmt.Errorf("start playback: %w", err)}
		}
	}
	go s.pumpLevels(r, capture.Levels())
	return nil
}

func (s *Session) pumpLevels(r *run, levels <-chan float64) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case level := <-levels:
			s.levels.emit(level)
		}
	}
}

func (s *Session) startRecorder(r *run) {
	if s.cfg.Recording == nil {
		return
	}
	opts := append([]recording.Option{recording.WithLogger(s.logger)}, s.cfg.Recording...)
	rec := recording.NewManager(opts...)
	tap, release := r.capture.Tap()
	if err := rec.Start(tap, release); err != nil {
		release()
		s.logger.Warn("recording unavailable", "session_id", r.id, "error", err)
		return
	}
	if !s.claim(r, func() { r.recorder = rec }) {
		rec.Discard()
		return
	}
	r.capture.AttachRecorder(rec)
}

// loadPastContext runs every lookup concurrently. A failed or slow lookup
// contributes an empty answer.
func (s *Session) loadPastContext(ctx context.Context) PastContext {
	past := make(PastContext, len(Lookups))
	fetch := s.cfg.Collaborators.PastContext
	if fetch == nil {
		return past
	}

	answers := make([]string, len(Lookups))
	g, gctx := errgroup.WithContext(ctx)
	for i, lookup := range Lookups {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, s.cfg.ContextTimeout)
			defer cancel()
			text, err := fetch(lctx, lookup)
			if err != nil {
				s.logger.Warn("past context lookup failed", "lookup", lookup, "error", err)
				return nil
			}
			answers[i] = text
			return nil
		})
	}
	_ = g.Wait()

	for i, lookup := range Lookups {
		past[lookup] = answers[i]
	}
	return past
}

// loadPreferences reads the saved preferences. Failures fall back to the
// configured voice.
func (s *Session) loadPreferences(ctx context.Context) Preferences {
	load := s.cfg.Collaborators.Preferences
	if load == nil {
		return Preferences{}
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ContextTimeout)
	defer cancel()
	prefs, err := load(pctx)
	if err != nil {
		s.logger.Warn("preferences lookup failed", "error", err)
		return Preferences{}
	}
	return prefs
}

// abortStart releases whatever Start acquired and leaves the session in
// the error state.
func (s *Session) abortStart(r *run, err error) error {
	s.mu.Lock()
	if r.stop != nil || errors.Is(err, ErrInterrupted) {
		s.mu.Unlock()
		metrics.SessionsStartedTotal.WithLabelValues(string(r.kind), "interrupted").Inc()
		return ErrInterrupted
	}
	op := &stopOp{done: make(chan struct{}), aborted: true}
	r.stop = op
	s.mu.Unlock()

	se := newSessionError(err)
	if _, _, rerr := s.release(context.Background(), r); rerr != nil {
		s.logger.Debug("release after failed start", "error", rerr)
	}
	s.dispatch(actError{Err: se})

	s.mu.Lock()
	if s.cur == r {
		s.cur = nil
	}
	s.last = op
	s.mu.Unlock()
	close(op.done)

	metrics.SessionsStartedTotal.WithLabelValues(string(r.kind), string(se.Kind)).Inc()
	metrics.SessionErrorsTotal.WithLabelValues(string(se.Kind)).Inc()
	s.logger.Error("session start failed", "session_id", r.id, "kind", se.Kind, "error", se.Err)
	return se
}

// fail moves a running session to the error state. Resources stay leased
// until Stop or Retry.
func (s *Session) fail(r *run, err error) {
	if !s.live(r) {
		return
	}
	r.mu.Lock()
	if r.failed {
		r.mu.Unlock()
		return
	}
	r.failed = true
	r.mu.Unlock()

	se := newSessionError(err)
	r.countdown.stop()
	r.endflow.reset()
	if r.player != nil {
		r.player.Stop()
	}
	s.dispatch(actError{Err: se})

	metrics.SessionErrorsTotal.WithLabelValues(string(se.Kind)).Inc()
	s.logger.Error("session failed", "session_id", r.id, "kind", se.Kind, "error", se.Err)
}

// Stop ends the current session and returns its record. It is idempotent:
// concurrent callers wait for the first teardown and share its result.
// Stop with no session resets an error state to idle.
func (s *Session) Stop(ctx context.Context) (Record, error) {
	return s.stop(ctx, ReasonUser, 0)
}

// stop tears down the current run. A non-zero gen restricts it to that
// run so stale timers cannot end a later session.
func (s *Session) stop(ctx context.Context, reason StopReason, gen int) (Record, error) {
	s.mu.Lock()
	r := s.cur
	if r == nil || (gen != 0 && r.gen != gen) {
		last := s.last
		s.mu.Unlock()
		if gen != 0 {
			return Record{}, nil
		}
		if s.session() == StateError {
			s.dispatch(actStop{})
		}
		if last != nil {
			return last.rec, last.err
		}
		return Record{}, nil
	}
	if op := r.stop; op != nil {
		s.mu.Unlock()
		select {
		case <-op.done:
		case <-ctx.Done():
			return Record{}, ctx.Err()
		}
		if op.aborted {
			return s.stop(ctx, reason, gen)
		}
		return op.rec, op.err
	}
	op := &stopOp{done: make(chan struct{})}
	r.stop = op
	s.mu.Unlock()

	op.rec, op.err = s.teardown(ctx, r, reason)

	s.mu.Lock()
	if s.cur == r {
		s.cur = nil
	}
	s.last = op
	s.mu.Unlock()
	close(op.done)

	if !op.rec.Empty() || !op.rec.Recording.Empty() {
		s.handoff(op.rec)
	}
	return op.rec, op.err
}

func (s *Session) teardown(ctx context.Context, r *run, reason StopReason) (Record, error) {
	endedAt := s.clk.Now()
	if s.State().Pending != "" {
		s.dispatch(actAssistantDone{At: endedAt})
	}

	key, blob, err := s.release(ctx, r)
	s.mu.Lock()
	startedAt := r.startedAt
	s.mu.Unlock()
	if key != "" && s.cfg.Collaborators.EndServerSession != nil {
		if eerr := s.cfg.Collaborators.EndServerSession(ctx, key); eerr != nil {
			s.logger.Warn("end server session failed", "session_key", key, "error", eerr)
		}
	}

	snap := s.State()
	rec := Record{
		SessionID:  r.id,
		Character:  r.character,
		Topic:      r.topic,
		Transport:  r.kind,
		SessionKey: key,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
		Reason:     reason,
		Transcript: snap.Transcript,
		Recording:  blob,
	}
	s.dispatch(actStop{})

	metrics.SessionStopsTotal.WithLabelValues(string(reason)).Inc()
	if !rec.StartedAt.IsZero() {
		metrics.SessionDuration.Observe(rec.Duration().Seconds())
	}
	s.logger.Info("session stopped",
		"session_id", r.id,
		"reason", reason,
		"duration", rec.Duration(),
		"entries", len(rec.Transcript),
		"recording_bytes", len(blob.Data),
	)
	return rec, err
}

// release frees every resource leased by r exactly once. It returns the
// server session key and the finalized recording.
func (s *Session) release(ctx context.Context, r *run) (key string, blob audioio.Blob, err error) {
	r.releaseOnce.Do(func() {
		r.cancel()

		s.mu.Lock()
		endflow, cd, unsubs := r.endflow, r.countdown, r.unsubs
		t, player, capture := r.transport, r.player, r.capture
		source, sink := r.source, r.sink
		s.mu.Unlock()

		if cd != nil {
			cd.stop()
		}
		if endflow != nil {
			endflow.reset()
		}
		for _, u := range unsubs {
			u()
		}

		var errs []error
		if t != nil {
			key = t.SessionKey()
			if derr := t.Disconnect(); derr != nil {
				errs = append(errs, fmt.Errorf("disconnect: %w", derr))
			}
		}
		if player != nil {
			if perr := player.Close(); perr != nil {
				errs = append(errs, fmt.Errorf("close player: %w", perr))
			}
		}
		if capture != nil {
			b, cerr := capture.StopWithRecording(ctx)
			if cerr != nil {
				errs = append(errs, fmt.Errorf("stop capture: %w", cerr))
			}
			blob = b
		}
		if source != nil {
			_ = source.Close()
		}
		if sink != nil {
			_ = sink.Close()
		}
		s.registry.ClearPending()
		metrics.ActiveSessions.Dec()
		err = errors.Join(errs...)
	})
	return key, blob, err
}

// handoff uploads, summarizes and persists a finished session in the
// background. Failures only mark the summary as failed.
func (s *Session) handoff(rec Record) {
	s.dispatch(actSummary{SessionID: rec.SessionID, Status: SummaryPending})

	s.handoffs.Add(1)
	go func() {
		defer s.handoffs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandoffTimeout)
		defer cancel()

		status := SummaryCompleted
		if err := s.persist(ctx, &rec); err != nil {
			status = SummaryFailed
			s.logger.Warn("session handoff failed", "session_id", rec.SessionID, "error", err)
		}
		s.dispatch(actSummary{SessionID: rec.SessionID, Status: status})
		metrics.SummariesTotal.WithLabelValues(string(status)).Inc()
	}()
}

func (s *Session) persist(ctx context.Context, rec *Record) error {
	col := s.cfg.Collaborators
	var errs []error

	if col.Upload != nil && !rec.Recording.Empty() {
		url, err := col.Upload(ctx, rec.SessionID, rec.Recording)
		if err != nil {
			errs = append(errs, fmt.Errorf("upload recording: %w", err))
		} else {
			rec.RecordingURL = url
		}
	}
	if col.Summarize != nil && !rec.Empty() {
		summary, err := col.Summarize(ctx, rec.Transcript)
		if err != nil {
			errs = append(errs, fmt.Errorf("summarize: %w", err))
		} else {
			rec.Summary = summary
		}
	}
	if col.Persist != nil {
		if err := col.Persist(ctx, *rec); err != nil {
			errs = append(errs, fmt.Errorf("persist: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Retry stops whatever is running, waits RetryDelay and starts again with
// the last character and topic.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	last := s.lastStart
	s.mu.Unlock()
	if last == nil {
		return ErrNothingToRetry
	}

	if _, err := s.stop(ctx, ReasonRetry, 0); err != nil {
		s.logger.Debug("stop before retry", "error", err)
	}
	if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
		return err
	}
	s.logger.Info("retrying session", "character", last.character, "topic", last.topic)
	return s.Start(ctx, last.character, last.topic)
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	t := s.clk.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// observers is an ordered set of callbacks with disposers.
type observers[T any] struct {
	mu     sync.RWMutex
	nextID int
	fns    []observer[T]
}

type observer[T any] struct {
	id int
	fn func(T)
}

func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.fns = append(o.fns, observer[T]{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, entry := range o.fns {
				if entry.id == id {
					o.fns = append(o.fns[:i:i], o.fns[i+1:]...)
					return
				}
			}
		})
	}
}

func (o *observers[T]) emit(v T) {
	o.mu.RLock()
	fns := make([]func(T), len(o.fns))
	for i, entry := range o.fns {
		fns[i] = entry.fn
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}
