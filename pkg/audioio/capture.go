package audioio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/internal/metrics"
)

// Device errors returned by Capture.Start.
var (
	// ErrPermissionDenied indicates the OS refused microphone access.
	ErrPermissionDenied = errors.New("audioio: microphone permission denied")

	// ErrDeviceUnavailable indicates no usable input device.
	ErrDeviceUnavailable = errors.New("audioio: microphone unavailable")
)

// Blob is a finalized recording.
type Blob struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Empty reports whether the blob holds no audio.
func (b Blob) Empty() bool { return len(b.Data) == 0 }

// Recorder consumes a tap and produces a blob when finalized.
type Recorder interface {
	Finalize(ctx context.Context) (Blob, error)
}

// ChunkFunc receives ungated microphone chunks with their level.
type ChunkFunc func(chunk AudioChunk, level float64)

// Capture owns the microphone for one session. It fans each chunk out to
// the level stream, recording taps, the raw media stream and, after
// gating, the chunk callback.
type Capture struct {
	source Source
	gate   *Gate
	logger *slog.Logger

	levels chan float64

	mu        sync.RWMutex
	capturing bool
	cancel    context.CancelFunc
	done      chan struct{}
	out       chan AudioChunk
	taps      map[int]chan AudioChunk
	nextTap   int
	onChunk   ChunkFunc
	onBargeIn func()
	recorder  Recorder
}

// NewCapture wraps a source. gate may be nil when the transport relies on
// platform echo cancellation.
func NewCapture(source Source, gate *Gate, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		source: source,
		gate:   gate,
		logger: logger.With("component", "audioio.capture"),
		levels: make(chan float64, 32),
		taps:   make(map[int]chan AudioChunk),
	}
}

// Start acquires the microphone and begins dispatching chunks.
// Calling Start while already capturing is a no-op.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return nil
	}
	prev := c.done
	c.mu.Unlock()

	if prev != nil {
		<-prev
	}

	life, cancel := context.WithCancel(context.Background())
	if err := c.source.Start(life); err != nil {
		cancel()
		return classifyDeviceError(err)
	}

	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.capturing = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.out = make(chan AudioChunk, 64)
	done, out := c.done, c.out
	c.mu.Unlock()

	if c.gate != nil {
		c.gate.Reset()
	}

	go c.run(life, c.source.Stream(), out, done)

	c.logger.Info("capture started", "backend", c.source.Name(), "gated", c.gate != nil)
	return nil
}

func (c *Capture) run(ctx context.Context, stream <-chan AudioChunk, out chan AudioChunk, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		close(out)
		for id, tap := range c.taps {
			close(tap)
			delete(c.taps, id)
		}
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			c.dispatch(chunk, out)
		}
	}
}

func (c *Capture) dispatch(chunk AudioChunk, out chan AudioChunk) {
	level := chunk.Level()

	select {
	case c.levels <- level:
	default:
	}

	c.mu.RLock()
	for _, tap := range c.taps {
		select {
		case tap <- chunk.Clone():
		default:
			c.logger.Debug("recording tap full, dropping chunk")
		}
	}
	select {
	case out <- chunk:
	default:
	}
	onChunk, onBargeIn := c.onChunk, c.onBargeIn
	c.mu.RUnlock()

	if c.gate != nil {
		switch c.gate.Admit(level) {
		case Drop:
			metrics.GatedChunksTotal.Inc()
			return
		case BargeIn:
			metrics.BargeInsTotal.Inc()
			c.logger.Info("barge-in detected", "level", level)
			if onBargeIn != nil {
				onBargeIn()
			}
		}
	}

	if onChunk != nil {
		onChunk(chunk, level)
	}
}

// Stop releases the microphone. It is safe to call at any time.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return nil
	}
	c.capturing = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	err := c.source.Stop()
	c.logger.Info("capture stopped")
	return err
}

// StopWithRecording stops capture and finalizes the attached recorder.
// Without a recorder it returns an empty blob.
func (c *Capture) StopWithRecording(ctx context.Context) (Blob, error) {
	stopErr := c.Stop()

	c.mu.Lock()
	rec := c.recorder
	c.recorder = nil
	c.mu.Unlock()

	if rec == nil {
		return Blob{}, stopErr
	}
	blob, err := rec.Finalize(ctx)
	if err != nil {
		return Blob{}, errors.Join(stopErr, err)
	}
	return blob, stopErr
}

// AttachRecorder sets the recorder finalized by StopWithRecording.
func (c *Capture) AttachRecorder(r Recorder) {
	c.mu.Lock()
	c.recorder = r
	c.mu.Unlock()
}

// OnChunk sets the callback for chunks that pass the gate.
func (c *Capture) OnChunk(fn ChunkFunc) {
	c.mu.Lock()
	c.onChunk = fn
	c.mu.Unlock()
}

// OnBargeIn sets the callback invoked once per confirmed barge-in.
func (c *Capture) OnBargeIn(fn func()) {
	c.mu.Lock()
	c.onBargeIn = fn
	c.mu.Unlock()
}

// Levels returns the RMS level of every captured chunk. Levels are dropped
// when the consumer falls behind. The channel is never closed.
func (c *Capture) Levels() <-chan float64 {
	return c.levels
}

// Stream returns the raw, ungated microphone stream for the current
// capture. It is closed when capture stops.
func (c *Capture) Stream() <-chan AudioChunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.out
}

// Tap returns a copy of the microphone stream and a release func.
// Releasing a tap never affects the primary capture. The tap is closed when
// released or when capture stops.
func (c *Capture) Tap() (<-chan AudioChunk, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan AudioChunk, 128)
	if !c.capturing {
		close(ch)
		return ch, func() {}
	}

	c.nextTap++
	id := c.nextTap
	c.taps[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if tap, ok := c.taps[id]; ok {
				close(tap)
				delete(c.taps, id)
			}
		})
	}
}

// Capturing reports whether the microphone is held.
func (c *Capture) Capturing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capturing
}

// Gate returns the echo gate, or nil.
func (c *Capture) Gate() *Gate {
	return c.gate
}

func classifyDeviceError(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if errors.Is(err, os.ErrPermission) || strings.Contains(msg, "permission") || strings.Contains(msg, "not allowed") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
