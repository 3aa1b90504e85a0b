package audioio

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

type chunkLog struct {
	mu     sync.Mutex
	levels []float64
	bargeN int
}

func (l *chunkLog) onChunk(_ AudioChunk, level float64) {
	l.mu.Lock()
	l.levels = append(l.levels, level)
	l.mu.Unlock()
}

func (l *chunkLog) onBargeIn() {
	l.mu.Lock()
	l.bargeN++
	l.mu.Unlock()
}

func (l *chunkLog) snapshot() ([]float64, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.levels...), l.bargeN
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestCapture(t *testing.T, gate *Gate) (*Capture, *MockSource, *chunkLog) {
	t.Helper()
	src := NewMockSource(DefaultConfig(), nil, WithManualFeed())
	c := NewCapture(src, gate, nil)
	log := &chunkLog{}
	c.OnChunk(log.onChunk)
	c.OnBargeIn(log.onBargeIn)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	return c, src, log
}

func TestCapture_ForwardsUngated(t *testing.T) {
	_, src, log := newTestCapture(t, nil)

	for i := 0; i < 3; i++ {
		src.PushLevel(0.01)
	}
	waitFor(t, func() bool {
		levels, _ := log.snapshot()
		return len(levels) == 3
	})
}

func TestCapture_BargeInScenario(t *testing.T) {
	gate := NewGate(GateConfig{Threshold: 0.6, RequiredCount: 3, Cooldown: 500 * time.Millisecond}, nil)
	_, src, log := newTestCapture(t, gate)

	gate.SetAISpeaking(true)
	for i := 0; i < 5; i++ {
		src.PushLevel(0.9)
	}

	waitFor(t, func() bool {
		levels, _ := log.snapshot()
		return len(levels) == 3
	})
	levels, barges := log.snapshot()
	if barges != 1 {
		t.Errorf("barge-ins = %d, want 1", barges)
	}
	// chunks 3, 4 and 5 pass: the confirming chunk and the two after it
	if len(levels) != 3 {
		t.Errorf("forwarded %d chunks, want 3", len(levels))
	}
	if gate.Closed() {
		t.Error("gate still closed after barge-in")
	}
}

func TestCapture_QuietChunksDroppedWhileGated(t *testing.T) {
	gate := NewGate(GateConfig{Threshold: 0.6, RequiredCount: 3}, nil)
	c, src, log := newTestCapture(t, gate)

	gate.SetAISpeaking(true)
	for i := 0; i < 4; i++ {
		src.PushLevel(0.2)
	}

	// the level stream still sees every chunk
	seen := 0
	waitFor(t, func() bool {
		for {
			select {
			case <-c.Levels():
				seen++
			default:
				return seen == 4
			}
		}
	})

	levels, barges := log.snapshot()
	if len(levels) != 0 || barges != 0 {
		t.Errorf("forwarded %d chunks with %d barge-ins, want none", len(levels), barges)
	}
}

func TestCapture_DoubleStartIsNoop(t *testing.T) {
	c, src, _ := newTestCapture(t, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.Starts() != 1 {
		t.Errorf("device acquired %d times, want 1", src.Starts())
	}
	if !c.Capturing() {
		t.Error("Capturing() = false")
	}
}

func TestCapture_StopIsIdempotent(t *testing.T) {
	c, _, _ := newTestCapture(t, nil)

	for i := 0; i < 3; i++ {
		if err := c.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}
	if c.Capturing() {
		t.Error("still capturing after Stop")
	}
}

func TestCapture_StartClassifiesDeviceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"os permission", os.ErrPermission, ErrPermissionDenied},
		{"permission text", errors.New("NotAllowedError: not allowed"), ErrPermissionDenied},
		{"missing device", errors.New("no such device"), ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewMockSource(DefaultConfig(), nil, WithStartError(tt.err))
			c := NewCapture(src, nil, nil)
			if err := c.Start(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("Start() error = %v, want %v", err, tt.want)
			}
			if c.Capturing() {
				t.Error("capturing after failed Start")
			}
		})
	}
}

func TestCapture_TapReleaseKeepsPrimary(t *testing.T) {
	c, src, log := newTestCapture(t, nil)

	tap, release := c.Tap()
	src.PushLevel(0.3)

	select {
	case chunk := <-tap:
		if chunk.Level() < 0.29 {
			t.Errorf("tap chunk level = %v", chunk.Level())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tap received nothing")
	}

	release()
	release()
	if _, ok := <-tap; ok {
		t.Error("tap still open after release")
	}

	src.PushLevel(0.3)
	waitFor(t, func() bool {
		levels, _ := log.snapshot()
		return len(levels) == 2
	})
	if !c.Capturing() {
		t.Error("releasing a tap stopped capture")
	}
}

func TestCapture_TapClosedOnStop(t *testing.T) {
	c, _, _ := newTestCapture(t, nil)
	tap, release := c.Tap()
	defer release()

	c.Stop()
	select {
	case _, ok := <-tap:
		if ok {
			t.Error("unexpected chunk")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tap not closed after Stop")
	}
}

type stubRecorder struct {
	blob  Blob
	calls int
}

func (r *stubRecorder) Finalize(context.Context) (Blob, error) {
	r.calls++
	return r.blob, nil
}

func TestCapture_StopWithRecording(t *testing.T) {
	c, _, _ := newTestCapture(t, nil)
	rec := &stubRecorder{blob: Blob{Data: []byte("ogg"), MimeType: "audio/ogg"}}
	c.AttachRecorder(rec)

	blob, err := c.StopWithRecording(context.Background())
	if err != nil {
		t.Fatalf("StopWithRecording() error = %v", err)
	}
	if blob.MimeType != "audio/ogg" || string(blob.Data) != "ogg" {
		t.Errorf("blob = %+v", blob)
	}

	blob, err = c.StopWithRecording(context.Background())
	if err != nil || !blob.Empty() {
		t.Errorf("second call = %+v, %v; want empty blob", blob, err)
	}
	if rec.calls != 1 {
		t.Errorf("recorder finalized %d times, want 1", rec.calls)
	}
}
