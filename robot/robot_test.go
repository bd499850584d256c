package robot

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/subsystem"
	"github.com/phaser-robotics/xerocore/testutils/inject"
)

// recordingSubsystem appends to a shared journal so tests can check tick ordering.
type recordingSubsystem struct {
	subsystem.Base
	journal      *[]string
	computeErr   error
	panicOnRun   bool
	neutralCalls int
}

func newRecordingSubsystem(t *testing.T, name string, journal *[]string) *recordingSubsystem {
	rs := &recordingSubsystem{journal: journal}
	rs.Base = subsystem.NewBase(name, logging.NewTestLogger(t), nil, func() { rs.neutralCalls++ })
	return rs
}

func (rs *recordingSubsystem) ComputeState(ctx context.Context) error {
	*rs.journal = append(*rs.journal, rs.Name()+".compute")
	if err := rs.Base.ComputeState(ctx); err != nil {
		return err
	}
	return rs.computeErr
}

func (rs *recordingSubsystem) Run(ctx context.Context) error {
	*rs.journal = append(*rs.journal, rs.Name()+".run")
	if rs.panicOnRun {
		panic("boom")
	}
	rs.RunAction()
	return nil
}

func TestRobotTime(t *testing.T) {
	clk := clock.NewMock()
	r := New(nil, logging.NewTestLogger(t), WithClock(clk), WithPeriod(10*time.Millisecond))
	test.That(t, r.Settings, test.ShouldNotBeNil)
	test.That(t, r.Time(), test.ShouldEqual, 0.0)

	r.advance()
	// The clock did not move: fall back to the nominal period.
	test.That(t, r.DeltaTime(), test.ShouldEqual, 10*time.Millisecond)

	clk.Add(25 * time.Millisecond)
	r.advance()
	test.That(t, r.DeltaTime(), test.ShouldEqual, 25*time.Millisecond)
	test.That(t, r.Time(), test.ShouldAlmostEqual, 0.025)
	test.That(t, r.Ticks(), test.ShouldEqual, int64(2))
	test.That(t, r.Now(), test.ShouldEqual, clk.Now())
}

func TestSchedulerOrdering(t *testing.T) {
	var journal []string
	a := newRecordingSubsystem(t, "a", &journal)
	b := newRecordingSubsystem(t, "b", &journal)
	r := New(nil, logging.NewTestLogger(t), WithClock(clock.NewMock()))
	s := NewScheduler(r, a, b)

	program := inject.NewAction("program")
	program.RunFunc = func() { journal = append(journal, "program.run") }
	s.SetProgram(program)
	test.That(t, program.Starts, test.ShouldEqual, 1)

	test.That(t, s.Tick(context.Background()), test.ShouldBeNil)
	test.That(t, journal, test.ShouldResemble, []string{"a.compute", "b.compute", "a.run", "b.run", "program.run"})
	test.That(t, s.String(), test.ShouldEqual, "scheduler [a b]")

	program.Done = true
	test.That(t, s.Tick(context.Background()), test.ShouldBeNil)
	test.That(t, s.Program(), test.ShouldBeNil)
}

func TestSchedulerIsolatesFailures(t *testing.T) {
	var journal []string
	bad := newRecordingSubsystem(t, "bad", &journal)
	good := newRecordingSubsystem(t, "good", &journal)
	r := New(nil, logging.NewTestLogger(t), WithClock(clock.NewMock()))
	s := NewScheduler(r, bad, good)

	badAction := inject.NewAction("bad action")
	goodAction := inject.NewAction("good action")
	test.That(t, bad.SetAction(badAction), test.ShouldBeNil)
	test.That(t, good.SetAction(goodAction), test.ShouldBeNil)

	bad.panicOnRun = true
	bad.computeErr = errors.New("sensor unplugged")
	err := s.Tick(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "sensor unplugged")
	test.That(t, err.Error(), test.ShouldContainSubstring, "panicked during run")

	// The healthy subsystem still ran; the panicking one had its action cancelled.
	test.That(t, goodAction.Runs, test.ShouldEqual, 1)
	test.That(t, badAction.Cancels, test.ShouldEqual, 1)
	test.That(t, bad.Action(), test.ShouldBeNil)
}

func TestSchedulerProgramPanic(t *testing.T) {
	r := New(nil, logging.NewTestLogger(t), WithClock(clock.NewMock()))
	s := NewScheduler(r)
	program := inject.NewAction("program")
	program.RunFunc = func() { panic("bad program") }
	s.SetProgram(program)
	err := s.Tick(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, s.Program(), test.ShouldBeNil)
}

func TestCancelAll(t *testing.T) {
	var journal []string
	a := newRecordingSubsystem(t, "a", &journal)
	r := New(nil, logging.NewTestLogger(t), WithClock(clock.NewMock()))
	s := NewScheduler(r, a)

	child := inject.NewAction("child")
	test.That(t, a.SetAction(child), test.ShouldBeNil)
	program := action.Dispatch(a, inject.NewAction("other"), true)
	s.SetProgram(program)
	test.That(t, child.Cancels, test.ShouldEqual, 1)

	s.CancelAll()
	test.That(t, s.Program(), test.ShouldBeNil)
	test.That(t, a.Action(), test.ShouldBeNil)
	test.That(t, a.neutralCalls, test.ShouldBeGreaterThanOrEqualTo, 1)
}

func TestLoop(t *testing.T) {
	clk := clock.NewMock()
	var journal []string
	a := newRecordingSubsystem(t, "a", &journal)
	r := New(nil, logging.NewTestLogger(t), WithClock(clk))
	s := NewScheduler(r, a)

	steps := make(chan struct{}, 16)
	loop := NewLoop(s, func() {
		select {
		case steps <- struct{}{}:
		default:
		}
	})
	loop.Start(context.Background())

	for i := 0; i < 3; i++ {
		// The worker may not have created its ticker yet; keep nudging the clock until it ticks.
		deadline := time.Now().Add(5 * time.Second)
		ticked := false
		for !ticked && time.Now().Before(deadline) {
			clk.Add(r.Period())
			select {
			case <-steps:
				ticked = true
			case <-time.After(10 * time.Millisecond):
			}
		}
		test.That(t, ticked, test.ShouldBeTrue)
	}
	loop.Stop()

	stats := loop.Stats()
	test.That(t, stats.Ticks, test.ShouldBeGreaterThanOrEqualTo, 3)
	test.That(t, stats.Errors, test.ShouldEqual, int64(0))
	test.That(t, r.Ticks(), test.ShouldEqual, stats.Ticks)
}
