package action

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// delay finishes after a span of robot time.
type delay struct {
	Terminal
	clk      clock.Clock
	duration time.Duration
	start    time.Time
}

// Delay returns an action that does nothing for d of clk time.
func Delay(clk clock.Clock, d time.Duration) Action {
	return &delay{clk: clk, duration: d}
}

func (d *delay) Start() {
	d.Restart()
	d.start = d.clk.Now()
	d.check()
}

func (d *delay) check() {
	if d.clk.Since(d.start) >= d.duration {
		d.Finish()
	}
}

func (d *delay) Run() {
	if !d.IsDone() {
		d.check()
	}
}

func (d *delay) Cancel() {
	d.Finish()
}

func (d *delay) String() string {
	return fmt.Sprintf("Delay %s", d.duration)
}

// TimeoutAction bounds the running time of another action.
type TimeoutAction struct {
	Terminal
	clk      clock.Clock
	limit    time.Duration
	inner    Action
	start    time.Time
	timedOut bool
}

// Timeout returns an action that runs inner and cancels it once limit of clk time has elapsed.
func Timeout(clk clock.Clock, limit time.Duration, inner Action) *TimeoutAction {
	return &TimeoutAction{clk: clk, limit: limit, inner: inner}
}

// TimedOut reports whether the inner action was cancelled for running too long.
func (t *TimeoutAction) TimedOut() bool {
	return t.timedOut
}

// Start starts the inner action.
func (t *TimeoutAction) Start() {
	t.Restart()
	t.timedOut = false
	t.start = t.clk.Now()
	t.inner.Start()
	if t.inner.IsDone() {
		t.Finish()
	}
}

// Run runs the inner action until it finishes or the limit passes.
func (t *TimeoutAction) Run() {
	if t.IsDone() {
		return
	}
	if t.clk.Since(t.start) >= t.limit {
		t.inner.Cancel()
		t.timedOut = true
		t.Finish()
		return
	}
	t.inner.Run()
	if t.inner.IsDone() {
		t.Finish()
	}
}

// Cancel cancels the inner action.
func (t *TimeoutAction) Cancel() {
	if !t.inner.IsDone() {
		t.inner.Cancel()
	}
	t.Finish()
}

func (t *TimeoutAction) String() string {
	return fmt.Sprintf("Timeout %s [%s]", t.limit, t.inner)
}
