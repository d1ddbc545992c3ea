package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	c.Sleep(time.Millisecond)
	if c.Since(start) < time.Millisecond {
		t.Errorf("Since() = %v, want >= 1ms", c.Since(start))
	}
}

func TestMockClock(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Fatalf("Now() = %v, want %v", c.Now(), base)
	}

	c.Advance(2 * time.Second)
	if got := c.Since(base); got != 2*time.Second {
		t.Errorf("Since() = %v, want 2s", got)
	}

	c.Sleep(500 * time.Millisecond)
	c.Sleep(250 * time.Millisecond)
	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 500*time.Millisecond || sleeps[1] != 250*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
	if got := c.Since(base); got != 2750*time.Millisecond {
		t.Errorf("Since() after sleeps = %v, want 2.75s", got)
	}

	c.Set(base)
	if !c.Now().Equal(base) {
		t.Errorf("Set() did not reset clock")
	}
}

func TestMockClock_AutoStep(t *testing.T) {
	base := time.Unix(0, 0)
	c := NewMockClock(base)
	c.SetAutoStep(3 * time.Millisecond)

	start := c.Now()
	if got := c.Since(start); got != 3*time.Millisecond {
		t.Errorf("Since() = %v, want 3ms", got)
	}
}
