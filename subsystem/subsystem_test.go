package subsystem

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/testutils/inject"
)

type testSubsystem struct {
	Base
	neutrals int
	locked   bool
}

func newTestSubsystem(t *testing.T) *testSubsystem {
	s := &testSubsystem{}
	s.Base = NewBase("test", logging.NewTestLogger(t), func(a action.Action) string {
		if s.locked {
			return "locked"
		}
		return ""
	}, func() { s.neutrals++ })
	return s
}

func (s *testSubsystem) tick() {
	_ = s.ComputeState(context.Background())
	s.RunAction()
}

func TestSetActionStartsAndDefersRun(t *testing.T) {
	s := newTestSubsystem(t)
	a := inject.NewAction("a")

	test.That(t, s.SetAction(a), test.ShouldBeNil)
	test.That(t, a.Starts, test.ShouldEqual, 1)
	test.That(t, s.Action(), test.ShouldEqual, a)
	test.That(t, s.IsBusy(), test.ShouldBeTrue)

	// Assigned mid-tick: does not run until the next ComputeState.
	s.RunAction()
	test.That(t, a.Runs, test.ShouldEqual, 0)

	s.tick()
	test.That(t, a.Runs, test.ShouldEqual, 1)
	test.That(t, s.neutrals, test.ShouldEqual, 0)

	a.RunFunc = func() { a.Done = true }
	s.tick()
	test.That(t, a.Runs, test.ShouldEqual, 2)
	test.That(t, s.Action(), test.ShouldBeNil)

	s.tick()
	test.That(t, s.neutrals, test.ShouldEqual, 1)
}

func TestReplaceCancelsOnlyUnfinished(t *testing.T) {
	s := newTestSubsystem(t)
	first := inject.NewAction("first")
	second := inject.NewAction("second")
	third := inject.NewAction("third")

	test.That(t, s.SetAction(first), test.ShouldBeNil)
	test.That(t, s.SetAction(second), test.ShouldBeNil)
	test.That(t, first.Cancels, test.ShouldEqual, 1)
	test.That(t, s.Action(), test.ShouldEqual, second)

	second.Done = true
	test.That(t, s.SetAction(third), test.ShouldBeNil)
	test.That(t, second.Cancels, test.ShouldEqual, 0)
}

func TestRejectionLeavesCurrentActionRunning(t *testing.T) {
	s := newTestSubsystem(t)
	running := inject.NewAction("running")
	test.That(t, s.SetAction(running), test.ShouldBeNil)
	s.tick()

	s.locked = true
	refused := inject.NewAction("refused")
	err := s.SetAction(refused)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsRejectedAssignment(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "locked")
	test.That(t, refused.Starts, test.ShouldEqual, 0)

	test.That(t, s.Action(), test.ShouldEqual, running)
	test.That(t, running.IsDone(), test.ShouldBeFalse)
	test.That(t, running.Cancels, test.ShouldEqual, 0)
	s.tick()
	test.That(t, running.Runs, test.ShouldEqual, 2)

	test.That(t, s.SetAction(nil), test.ShouldNotBeNil)
}

func TestCancelAction(t *testing.T) {
	s := newTestSubsystem(t)
	a := inject.NewAction("a")
	test.That(t, s.SetAction(a), test.ShouldBeNil)

	s.CancelAction()
	test.That(t, a.Cancels, test.ShouldEqual, 1)
	test.That(t, s.Action(), test.ShouldBeNil)
	test.That(t, s.neutrals, test.ShouldEqual, 1)

	// Cancelling an idle subsystem still commands neutral output.
	s.CancelAction()
	test.That(t, s.neutrals, test.ShouldEqual, 2)
}

func TestActionDoneOnStartIsCleared(t *testing.T) {
	s := newTestSubsystem(t)
	test.That(t, s.SetAction(action.Nothing()), test.ShouldBeNil)
	s.tick()
	test.That(t, s.Action(), test.ShouldBeNil)
	test.That(t, s.neutrals, test.ShouldEqual, 1)
}
