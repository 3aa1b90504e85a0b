package audioio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/internal/metrics"
)

// Player streams assistant speech to a Sink in arrival order.
//
// Sinks accept audio faster than it is heard, so the player keeps a
// playback clock: each written chunk extends it by the chunk's duration,
// and the drained callback fires only once that clock has run out.
type Player struct {
	sink   Sink
	logger *slog.Logger

	wake chan struct{}

	mu        sync.Mutex
	queue     []AudioChunk
	playing   bool
	until     time.Time
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
	onDrained func()
}

// NewPlayer wraps a sink.
func NewPlayer(sink Sink, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		sink:   sink,
		logger: logger.With("component", "audioio.player"),
		wake:   make(chan struct{}, 1),
	}
}

// Start opens the sink and begins the playback goroutine. Calling Start
// twice is a no-op.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	if err := p.sink.Start(ctx); err != nil {
		return err
	}

	life, cancel := context.WithCancel(context.Background())
	p.started = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(life, p.done)
	return nil
}

// Enqueue queues a chunk for playback.
func (p *Player) Enqueue(chunk AudioChunk) {
	p.mu.Lock()
	p.queue = append(p.queue, chunk)
	metrics.PlaybackQueued.Set(float64(len(p.queue)))
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// EnqueuePCM queues mono PCM16 bytes sampled at rate, converted to the
// sink's rate and channel count.
func (p *Player) EnqueuePCM(pcm []byte, rate int) {
	cfg := p.sink.Config()
	samples := Resample(BytesToSamples(pcm), rate, cfg.SampleRate)
	p.Enqueue(AudioChunk{
		Samples:    Upmix(samples, cfg.Channels),
		SampleRate: cfg.SampleRate,
		Channels:   max(cfg.Channels, 1),
	})
}

func (p *Player) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				if !p.playing {
					p.mu.Unlock()
					break
				}
				if wait := time.Until(p.until); wait > 0 {
					p.mu.Unlock()
					if !p.sleep(ctx, wait) {
						return
					}
					continue
				}
				p.playing = false
				fn := p.onDrained
				metrics.PlaybackQueued.Set(0)
				p.mu.Unlock()

				if fn != nil {
					fn()
				}
				break
			}
			chunk := p.queue[0]
			p.queue = p.queue[1:]
			p.playing = true
			if now := time.Now(); p.until.Before(now) {
				p.until = now
			}
			p.until = p.until.Add(time.Duration(chunk.Duration() * float64(time.Second)))
			p.mu.Unlock()

			if err := p.sink.Write(ctx, chunk); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn("sink write failed", "error", err)
			}
		}
	}
}

// sleep waits for d, returning early when new audio arrives or Stop is
// called. It reports false once ctx is done.
func (p *Player) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.wake:
	case <-t.C:
	}
	return true
}

// Stop silences playback immediately and discards queued audio. It is safe
// when nothing is playing and safe to call repeatedly.
func (p *Player) Stop() {
	p.mu.Lock()
	dropped := len(p.queue)
	p.queue = nil
	wasPlaying := p.playing
	p.playing = false
	p.until = time.Time{}
	started := p.started
	p.mu.Unlock()

	metrics.PlaybackQueued.Set(0)
	select {
	case p.wake <- struct{}{}:
	default:
	}

	if !started {
		return
	}
	if err := p.sink.Clear(); err != nil {
		p.logger.Debug("sink clear failed", "error", err)
	}
	if wasPlaying || dropped > 0 {
		p.logger.Debug("playback stopped", "dropped_chunks", dropped)
	}
}

// Playing reports whether audio is queued or still being heard.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing || len(p.queue) > 0
}

// OnDrained sets a callback fired when the last queued audio has finished
// playing. It does not fire after Stop.
func (p *Player) OnDrained(fn func()) {
	p.mu.Lock()
	p.onDrained = fn
	p.mu.Unlock()
}

// Close stops playback and releases the sink.
func (p *Player) Close() error {
	p.Stop()

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	return p.sink.Stop()
}
