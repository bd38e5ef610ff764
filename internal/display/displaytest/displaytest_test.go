package displaytest

import (
	"testing"
	"time"
)

func TestClockRunsDueTasksInOrder(t *testing.T) {
	c := NewClock()
	var got []string
	c.After(30*time.Millisecond, func() { got = append(got, "c") })
	c.After(10*time.Millisecond, func() { got = append(got, "a") })
	c.After(10*time.Millisecond, func() { got = append(got, "b") })

	c.Advance(20 * time.Millisecond)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected order after 20ms: %v", got)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected one pending task, got %d", c.Pending())
	}
	c.Advance(10 * time.Millisecond)
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("expected c to run, got %v", got)
	}
}

func TestClockRunsChainedTasksWithinWindow(t *testing.T) {
	c := NewClock()
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.After(100*time.Millisecond, tick)
	}
	c.After(100*time.Millisecond, tick)

	c.Advance(350 * time.Millisecond)
	if ticks != 3 {
		t.Fatalf("expected 3 ticks, got %d", ticks)
	}
	if c.Now() != 350*time.Millisecond {
		t.Fatalf("unexpected now %v", c.Now())
	}
}

func TestClockStoppedTaskNeverRuns(t *testing.T) {
	c := NewClock()
	fired := false
	timer := c.After(time.Millisecond, func() { fired = true })
	timer.Stop()
	timer.Stop()
	c.Advance(time.Second)
	if fired {
		t.Fatal("stopped task ran")
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending tasks, got %d", c.Pending())
	}
}

func TestRecorderStampsClockTime(t *testing.T) {
	c := NewClock()
	r := &Recorder{Clock: c}
	c.After(5*time.Millisecond, func() { r.ShowFrame(Frame(7)) })
	c.Advance(10 * time.Millisecond)
	r.ShowText("hello")

	if len(r.Updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(r.Updates))
	}
	if r.Updates[0].At != 5*time.Millisecond || FrameID(r.Updates[0].Frame) != 7 {
		t.Fatalf("unexpected first update: %+v", r.Updates[0])
	}
	if !r.Last().IsText() || r.Last().Text != "hello" || r.Last().At != 10*time.Millisecond {
		t.Fatalf("unexpected last update: %+v", r.Last())
	}
}
