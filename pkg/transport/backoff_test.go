package transport

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Max: 8 * time.Second, MaxAttempts: 7}

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	got := b.Schedule()
	if len(got) != len(want) {
		t.Fatalf("Schedule() len = %d, want %d", len(got), len(want))
	}
	for n := range want {
		if got[n] != want[n] {
			t.Errorf("delay(%d) = %v, want %v", n, got[n], want[n])
		}
	}
}

func TestBackoffMatchesFormula(t *testing.T) {
	b := Backoff{Base: 300 * time.Millisecond, Max: 5 * time.Second, MaxAttempts: 10}
	for n := 0; n < b.MaxAttempts; n++ {
		want := b.Base * time.Duration(1<<n)
		if want > b.Max {
			want = b.Max
		}
		if got := b.Delay(n); got != want {
			t.Errorf("Delay(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestBackoffNoOverflow(t *testing.T) {
	b := Backoff{Base: time.Hour, Max: 24 * time.Hour, MaxAttempts: 100}
	if got := b.Delay(80); got != b.Max {
		t.Errorf("Delay(80) = %v, want %v", got, b.Max)
	}
	if got := b.Delay(-1); got != b.Base {
		t.Errorf("Delay(-1) = %v, want %v", got, b.Base)
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := DefaultBackoff()
	if b.Exhausted(b.MaxAttempts - 1) {
		t.Error("exhausted one attempt early")
	}
	if !b.Exhausted(b.MaxAttempts) {
		t.Error("not exhausted after MaxAttempts")
	}
}
