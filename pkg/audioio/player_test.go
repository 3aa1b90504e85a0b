package audioio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPlayer_StopWhenIdle(t *testing.T) {
	p := NewPlayer(NewMockSink(DefaultConfig(), nil), nil)

	p.Stop()
	p.Stop()
	if p.Playing() {
		t.Error("idle player reports playing")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPlayer_PlaysInOrderAndDrains(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	p := NewPlayer(sink, nil)

	var drained atomic.Int32
	p.OnDrained(func() { drained.Add(1) })

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	for i := 1; i <= 3; i++ {
		p.Enqueue(AudioChunk{Samples: []int16{int16(i)}, SampleRate: 24000, Channels: 1})
	}

	waitFor(t, func() bool { return drained.Load() >= 1 })

	got := sink.Buffered()
	if len(got) != 3 {
		t.Fatalf("sink received %d chunks, want 3", len(got))
	}
	for i, chunk := range got {
		if chunk.Samples[0] != int16(i+1) {
			t.Errorf("chunk %d out of order: %v", i, chunk.Samples)
		}
	}
	if p.Playing() {
		t.Error("player still playing after drain")
	}
}

func TestPlayer_StopClearsSink(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	p := NewPlayer(sink, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	p.EnqueuePCM(make([]byte, 960), 24000)
	p.Stop()
	p.Stop()

	if sink.Clears() != 2 {
		t.Errorf("sink cleared %d times, want 2", sink.Clears())
	}
	if p.Playing() {
		t.Error("player playing after Stop")
	}
}

func TestPlayer_DrainsAfterAudioIsHeard(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	p := NewPlayer(sink, nil)

	var drainedAt atomic.Int64
	p.OnDrained(func() { drainedAt.Store(time.Now().UnixNano()) })

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	// Two 100ms chunks; the mock sink accepts them instantly.
	begin := time.Now()
	for range 2 {
		p.Enqueue(AudioChunk{Samples: make([]int16, 2400), SampleRate: 24000, Channels: 1})
	}

	waitFor(t, func() bool { return len(sink.Buffered()) == 2 })
	if drainedAt.Load() != 0 {
		t.Fatal("drained as soon as the sink accepted the audio")
	}
	if !p.Playing() {
		t.Error("player idle while audio is still being heard")
	}

	waitFor(t, func() bool { return drainedAt.Load() != 0 })
	if elapsed := time.Duration(drainedAt.Load() - begin.UnixNano()); elapsed < 200*time.Millisecond {
		t.Errorf("drained after %v, want at least 200ms", elapsed)
	}
	if p.Playing() {
		t.Error("player still playing after drain")
	}
}

func TestPlayer_StopCancelsPendingDrain(t *testing.T) {
	p := NewPlayer(NewMockSink(DefaultConfig(), nil), nil)

	var drained atomic.Int32
	p.OnDrained(func() { drained.Add(1) })
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	p.Enqueue(AudioChunk{Samples: make([]int16, 2400), SampleRate: 24000, Channels: 1})
	waitFor(t, p.Playing)
	p.Stop()

	time.Sleep(150 * time.Millisecond)
	if drained.Load() != 0 {
		t.Error("drained fired after Stop")
	}
	if p.Playing() {
		t.Error("player playing after Stop")
	}
}

func TestPlayer_EnqueuePCMConvertsToSinkFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 48000
	cfg.Channels = 2
	sink := NewMockSink(cfg, nil)
	p := NewPlayer(sink, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	// 10ms of mono audio at 24kHz.
	p.EnqueuePCM(make([]byte, 480), 24000)

	waitFor(t, func() bool { return len(sink.Buffered()) == 1 })
	chunk := sink.Buffered()[0]
	if chunk.SampleRate != 48000 || chunk.Channels != 2 {
		t.Fatalf("chunk format = %d Hz x%d", chunk.SampleRate, chunk.Channels)
	}
	if d := chunk.Duration(); d < 0.0095 || d > 0.0105 {
		t.Errorf("chunk duration = %vs, want 10ms", d)
	}
}
