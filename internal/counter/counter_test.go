package counter

import (
	"testing"
	"time"
)

func TestCounterRate(t *testing.T) {
	c := New(time.Minute, time.Second)
	now := c.bucketStart
	timeNow = func() time.Time { return now }
	defer func() { timeNow = time.Now }()

	steps := []struct {
		advance  time.Duration
		add      int64
		wantTot  int64
		wantRate float64
	}{
		{0, 0, 0, 0},
		{time.Millisecond, 10, 10, 0},
		{time.Second, 10, 20, 10},
		{time.Second, 10, 30, 10},
		{2 * time.Second, 0, 30, 5},
		{16 * time.Second, 0, 30, 1},
		{40 * time.Second, 10, 40, 0.5},
		{time.Minute, 0, 40, 0},
	}
	for i, s := range steps {
		now = now.Add(s.advance)
		c.Incr(s.add)
		if got := c.Value(); got != s.wantTot {
			t.Fatalf("step %d: Value() = %d, want %d", i, got, s.wantTot)
		}
		if got := c.Rate(time.Minute); got != s.wantRate {
			t.Fatalf("step %d: Rate(1m) = %v, want %v", i, got, s.wantRate)
		}
	}
}

func TestNilCounter(t *testing.T) {
	var c *Counter
	if got := c.Incr(5); got != 0 {
		t.Errorf("nil.Incr() = %d, want 0", got)
	}
	if got := c.Value(); got != 0 {
		t.Errorf("nil.Value() = %d, want 0", got)
	}
	if got := c.Rate(time.Second); got != 0 {
		t.Errorf("nil.Rate() = %v, want 0", got)
	}
}

func TestNewPanicsOnFineResolution(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for an overly fine resolution")
		}
	}()
	New(time.Hour, time.Millisecond)
}
