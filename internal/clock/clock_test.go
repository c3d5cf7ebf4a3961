package clock_test

import (
	"testing"
	"time"

	"pkt.systems/abtray/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealSleepSleepsAtLeastDuration(t *testing.T) {
	t.Parallel()

	start := time.Now()
	clock.Real{}.Sleep(5 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("sleep duration too short: %v", elapsed)
	}
}

func TestOrFallsBackToReal(t *testing.T) {
	t.Parallel()

	if _, ok := clock.Or(nil).(clock.Real); !ok {
		t.Fatal("expected Real fallback")
	}
	m := clock.NewManual(time.Unix(0, 0))
	if clock.Or(m) != clock.Clock(m) {
		t.Fatal("expected supplied clock to be returned")
	}
}

func TestManualSleepReleasedByAdvance(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(100, 0))
	done := make(chan struct{})
	go func() {
		m.Sleep(5 * time.Second)
		close(done)
	}()
	if !m.BlockUntil(1, time.Second) {
		t.Fatal("sleeper never registered")
	}
	m.Advance(4 * time.Second)
	select {
	case <-done:
		t.Fatal("sleep returned before the duration elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	m.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after advance")
	}
	if m.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", m.Pending())
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(0, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatal("expected immediate delivery")
	}
	if m.BlockUntil(1, 10*time.Millisecond) {
		t.Fatal("expected BlockUntil to time out with no timers")
	}
}
