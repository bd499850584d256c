package turntable

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/hardware/fake"
	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/robot"
	"github.com/phaser-robotics/xerocore/subsystem"
	"github.com/phaser-robotics/xerocore/testutils/inject"
)

const period = 20 * time.Millisecond

type liftHeight struct {
	height float64
}

func (l *liftHeight) Height() float64 {
	return l.height
}

func testSettings() map[string]interface{} {
	return map[string]interface{}{
		"turntable": map[string]interface{}{
			"degrees_per_tick":   0.1,
			"safe_rotate_height": 20.0,
			"min_angle":          -180.0,
			"max_angle":          180.0,
			"goto":               map[string]interface{}{"maxa": 360.0, "maxd": 360.0, "maxv": 120.0, "threshold": 1.0},
			"follower":           map[string]interface{}{"kv": 1.0 / 180, "ka": 0.0, "kp": 0.05, "kd": 0.0},
		},
		"angles": map[string]interface{}{"rear": 179.0},
	}
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clk   *clock.Mock
	sim   *fake.Sim
	axis  *fake.Axis
	lift  *liftHeight
	robot *robot.Robot
	sched *robot.Scheduler
	tt    *Turntable
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), clk: clock.NewMock(), sim: fake.NewSim(), lift: &liftHeight{height: 30}}
	h.axis = h.sim.AddAxis(fake.AxisConfig{Name: "turntable", MaxVelocity: 180, TicksPerUnit: 10})
	h.robot = robot.New(config.NewStore(testSettings()), logging.NewTestLogger(t),
		robot.WithClock(h.clk), robot.WithPeriod(period))
	tt, err := New(h.robot, Hardware{Motor: h.axis.Motor(), Encoder: h.axis.Encoder()}, h.lift)
	test.That(t, err, test.ShouldBeNil)
	h.tt = tt
	h.sched = robot.NewScheduler(h.robot, tt)
	h.tick()
	return h
}

func (h *harness) tick() {
	h.sim.Step(period)
	h.clk.Add(period)
	test.That(h.t, h.sched.Tick(h.ctx), test.ShouldBeNil)
}

func TestNewValidatesSettings(t *testing.T) {
	logger := logging.NewTestLogger(t)
	hw := Hardware{Motor: &inject.Motor{}, Encoder: &inject.Encoder{}}

	_, err := New(robot.New(config.NewStore(testSettings()), logger), hw, nil)
	test.That(t, err, test.ShouldNotBeNil)

	settings := testSettings()
	settings["turntable"].(map[string]interface{})["min_angle"] = 200.0
	_, err = New(robot.New(config.NewStore(settings), logger), hw, &liftHeight{})
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)

	settings = testSettings()
	delete(settings["turntable"].(map[string]interface{}), "safe_rotate_height")
	_, err = New(robot.New(config.NewStore(settings), logger), hw, &liftHeight{})
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)
}

func TestGoToAngle(t *testing.T) {
	h := newHarness(t)
	test.That(t, h.tt.IsSafeToRotate(), test.ShouldBeTrue)
	test.That(t, h.tt.SafeRotateHeight(), test.ShouldEqual, 20.0)

	act, err := h.tt.GoToAngle(90)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.tt.SetAction(act), test.ShouldBeNil)

	var peak float64
	for i := 0; i < 300 && h.tt.Action() != nil; i++ {
		h.tick()
		if v := h.tt.AngularVelocity(); v > peak {
			peak = v
		}
	}
	test.That(t, h.tt.Action(), test.ShouldBeNil)
	test.That(t, act.IsDone(), test.ShouldBeTrue)
	test.That(t, h.tt.Angle(), test.ShouldAlmostEqual, 90, 1)
	test.That(t, peak, test.ShouldBeBetween, 100.0, 140.0)

	back, err := NewGoToAngleActionFromSetting(h.tt, "angles:rear")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Target(), test.ShouldEqual, 179.0)

	here, err := NewGoToAngleActionFromSetting(h.tt, "@")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, here.Target(), test.ShouldEqual, h.tt.Angle())
}

func TestGoToAngleErrors(t *testing.T) {
	h := newHarness(t)
	_, err := h.tt.GoToAngle(190)
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)
	_, err = NewGoToAngleActionFromSetting(h.tt, "angles:missing")
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)
	h.robot.Settings.Set("turntable:follower:kv", -1)
	_, err = h.tt.GoToAngle(10)
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)
}

func TestRotationNeedsSafeHeight(t *testing.T) {
	h := newHarness(t)
	h.lift.height = 10
	test.That(t, h.tt.IsSafeToRotate(), test.ShouldBeFalse)

	act, err := h.tt.GoToAngle(90)
	test.That(t, err, test.ShouldBeNil)
	err = h.tt.SetAction(act)
	test.That(t, subsystem.IsRejectedAssignment(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "safe rotate height")

	err = h.tt.SetAction(inject.NewAction("foreign"))
	test.That(t, subsystem.IsRejectedAssignment(err), test.ShouldBeTrue)

	// Dropping below the safe height mid-rotation holds the turntable still.
	h.lift.height = 30
	test.That(t, h.tt.SetAction(act), test.ShouldBeNil)
	for i := 0; i < 10; i++ {
		h.tick()
	}
	test.That(t, h.axis.Power(), test.ShouldNotEqual, 0.0)
	h.lift.height = 10
	h.tick()
	test.That(t, h.axis.Power(), test.ShouldEqual, 0.0)
	h.tick()
	test.That(t, h.tt.AngularVelocity(), test.ShouldEqual, 0.0)
	test.That(t, act.IsDone(), test.ShouldBeFalse)

	h.tt.CancelAction()
	test.That(t, act.IsDone(), test.ShouldBeTrue)
}
