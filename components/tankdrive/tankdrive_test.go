package tankdrive

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/hardware/fake"
	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/paths"
	"github.com/phaser-robotics/xerocore/robot"
	"github.com/phaser-robotics/xerocore/subsystem"
	"github.com/phaser-robotics/xerocore/telemetry"
	"github.com/phaser-robotics/xerocore/testutils/inject"
)

const (
	period        = 20 * time.Millisecond
	inchesPerTick = 0.01
	maxSpeed      = 150.0
)

func testSettings() map[string]interface{} {
	gains := map[string]interface{}{"kv": 1 / maxSpeed, "ka": 0.0, "kp": 0.05, "kd": 0.0}
	return map[string]interface{}{
		"tankdrive": map[string]interface{}{
			"inches_per_tick": inchesPerTick,
			"distance_action": map[string]interface{}{
				"maxa":                         100.0,
				"maxd":                         100.0,
				"maxv":                         60.0,
				"distance_threshold":           1.0,
				"profile_outdated_error_long":  6.0,
				"profile_outdated_error_short": 3.0,
				"profile_outdated_error_dist":  12.0,
				"angle_pid":                    map[string]interface{}{"p": 0.01, "i": 0.0, "d": 0.0},
			},
			"follower": map[string]interface{}{
				"left":             gains,
				"right":            gains,
				"angle_correction": -0.005,
			},
		},
		"auto": map[string]interface{}{"first_leg": 40.0},
	}
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clk   *clock.Mock
	sim   *fake.Sim
	left  *fake.Axis
	right *fake.Axis
	gyro  *fake.DriveGyro
	rec   *telemetry.Recorder
	robot *robot.Robot
	sched *robot.Scheduler
	td    *TankDrive
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), clk: clock.NewMock(), sim: fake.NewSim(), rec: telemetry.NewRecorder()}
	h.left = h.sim.AddAxis(fake.AxisConfig{Name: "left", MaxVelocity: maxSpeed, TicksPerUnit: 1 / inchesPerTick})
	h.right = h.sim.AddAxis(fake.AxisConfig{Name: "right", MaxVelocity: maxSpeed, TicksPerUnit: 1 / inchesPerTick})
	h.gyro = h.sim.AddDriveGyro(h.left, h.right, 24)

	pm := paths.NewManager(t.TempDir())
	h.robot = robot.New(config.NewStore(testSettings()), logging.NewTestLogger(t),
		robot.WithClock(h.clk), robot.WithPeriod(period), robot.WithPaths(pm), robot.WithTelemetry(h.rec))

	td, err := New(h.robot, Hardware{
		Left:         h.left.Motor(),
		Right:        h.right.Motor(),
		LeftEncoder:  h.left.Encoder(),
		RightEncoder: h.right.Encoder(),
		Gyro:         h.gyro,
	})
	test.That(t, err, test.ShouldBeNil)
	h.td = td
	h.sched = robot.NewScheduler(h.robot, td)
	h.tick()
	return h
}

func (h *harness) tick() {
	h.sim.Step(period)
	h.clk.Add(period)
	test.That(h.t, h.sched.Tick(h.ctx), test.ShouldBeNil)
}

// runUntilDone ticks until the drivetrain's action finishes and returns the number of ticks.
func (h *harness) runUntilDone(max int, each func()) int {
	for i := 1; i <= max; i++ {
		h.tick()
		if each != nil {
			each()
		}
		if h.td.Action() == nil {
			return i
		}
	}
	h.t.Fatalf("action did not finish in %d ticks", max)
	return max
}

func TestNewValidatesSettings(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sim := fake.NewSim()
	axis := sim.AddAxis(fake.AxisConfig{Name: "a"})
	hw := Hardware{Left: axis.Motor(), Right: axis.Motor(), LeftEncoder: axis.Encoder(), RightEncoder: axis.Encoder()}

	r := robot.New(config.NewStore(testSettings()), logger)
	_, err := New(r, hw)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "gyro")

	hw.Gyro = &inject.Gyro{}
	r = robot.New(config.NewStore(nil), logger)
	_, err = New(r, hw)
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "tankdrive:inches_per_tick")

	r = robot.New(config.NewStore(map[string]interface{}{"tankdrive": map[string]interface{}{"inches_per_tick": 0}}), logger)
	_, err = New(r, hw)
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)
}

func TestComputeStateAndInversion(t *testing.T) {
	settings := testSettings()
	settings["tankdrive"].(map[string]interface{})["invert_left"] = true
	r := robot.New(config.NewStore(settings), logging.NewTestLogger(t), robot.WithClock(clock.NewMock()))

	left := &inject.Motor{}
	right := &inject.Motor{}
	lenc := &inject.Encoder{Ticks: -1000}
	renc := &inject.Encoder{Ticks: 2000}
	gyro := &inject.Gyro{Degrees: 12}
	td, err := New(r, Hardware{Left: left, Right: right, LeftEncoder: lenc, RightEncoder: renc, Gyro: gyro})
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	test.That(t, td.ComputeState(ctx), test.ShouldBeNil)
	test.That(t, td.LeftDistance(), test.ShouldAlmostEqual, 10)
	test.That(t, td.RightDistance(), test.ShouldAlmostEqual, 20)
	test.That(t, td.Distance(), test.ShouldAlmostEqual, 15)
	test.That(t, td.Heading(), test.ShouldEqual, 12.0)
	test.That(t, td.Velocity(), test.ShouldEqual, 0.0)

	td.setPower(0.5, 0.25)
	test.That(t, td.Run(ctx), test.ShouldBeNil)
	// The idle slot commands neutral output.
	test.That(t, left.Power, test.ShouldEqual, 0.0)
	test.That(t, right.Power, test.ShouldEqual, 0.0)

	act, err := NewPowerAction(td, time.Second, 0.5, 0.25, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, td.SetAction(act), test.ShouldBeNil)
	test.That(t, td.Run(ctx), test.ShouldBeNil)
	test.That(t, left.Power, test.ShouldEqual, -0.5)
	test.That(t, right.Power, test.ShouldEqual, 0.25)
}

func TestGateRejectsForeignActions(t *testing.T) {
	h := newHarness(t)
	other, err := New(h.robot, Hardware{
		Left:         &inject.Motor{},
		Right:        &inject.Motor{},
		LeftEncoder:  &inject.Encoder{},
		RightEncoder: &inject.Encoder{},
		Gyro:         &inject.Gyro{},
	})
	test.That(t, err, test.ShouldBeNil)

	current, err := NewDistanceAction(h.td, 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.td.SetAction(current), test.ShouldBeNil)

	err = h.td.SetAction(inject.NewAction("foreign"))
	test.That(t, subsystem.IsRejectedAssignment(err), test.ShouldBeTrue)

	foreign, err := NewDistanceAction(other, 10)
	test.That(t, err, test.ShouldBeNil)
	err = h.td.SetAction(foreign)
	test.That(t, subsystem.IsRejectedAssignment(err), test.ShouldBeTrue)

	test.That(t, h.td.Action(), test.ShouldEqual, current)
	test.That(t, current.IsDone(), test.ShouldBeFalse)
}

func TestDistanceActionSettingsErrors(t *testing.T) {
	h := newHarness(t)
	h.robot.Settings.Replace(map[string]interface{}{"tankdrive": map[string]interface{}{"inches_per_tick": 0.01}})
	_, err := NewDistanceAction(h.td, 10)
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)

	h.robot.Settings.Replace(testSettings())
	_, err = NewDistanceActionFromSetting(h.td, "auto:missing")
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)

	act, err := NewDistanceActionFromSetting(h.td, "auto:first_leg", WithMaxVelocity(30))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, act.Target(), test.ShouldEqual, 40.0)
	test.That(t, act.profile.Config().MaxVelocity, test.ShouldEqual, 30.0)
}

func TestDistanceActionCompletesInWindow(t *testing.T) {
	h := newHarness(t)
	start := h.td.Distance()
	act, err := NewDistanceAction(h.td, 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)

	h.tick()
	test.That(t, act.IsDone(), test.ShouldBeFalse)

	ticks := h.runUntilDone(500, func() {
		traveled := h.td.Distance() - start
		if act.IsDone() {
			test.That(t, traveled, test.ShouldBeBetweenOrEqual, 99.0, 101.0)
		} else {
			test.That(t, math.Abs(traveled-100), test.ShouldBeGreaterThan, 1.0)
		}
	})
	test.That(t, ticks, test.ShouldBeGreaterThan, 100)
	test.That(t, act.Replans(), test.ShouldEqual, 0)

	h.tick()
	l, r := h.td.Powers()
	test.That(t, l, test.ShouldEqual, 0.0)
	test.That(t, r, test.ShouldEqual, 0.0)

	plot, ok := h.rec.Latest(act.String())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, plot.Ended, test.ShouldBeTrue)
	test.That(t, plot.Columns, test.ShouldResemble, distanceColumns)
	test.That(t, len(plot.Rows), test.ShouldBeGreaterThan, 100)
}

func TestDistanceActionBackward(t *testing.T) {
	h := newHarness(t)
	act, err := NewDistanceAction(h.td, -50)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)
	h.runUntilDone(500, nil)
	test.That(t, h.td.Distance(), test.ShouldBeBetweenOrEqual, -51.0, -49.0)
}

func TestDistanceActionReplansAfterDisturbance(t *testing.T) {
	h := newHarness(t)
	act, err := NewDistanceAction(h.td, 150)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)

	for i := 0; i < 30; i++ {
		h.tick()
	}
	h.left.SetDrift(-60)
	h.right.SetDrift(-60)
	for i := 0; i < 30; i++ {
		h.tick()
	}
	h.left.SetDrift(0)
	h.right.SetDrift(0)
	test.That(t, act.Replans(), test.ShouldBeGreaterThanOrEqualTo, 1)

	h.runUntilDone(1000, nil)
	test.That(t, h.td.Distance(), test.ShouldBeBetweenOrEqual, 149.0, 151.0)
}

func TestDistanceActionHoldsHeading(t *testing.T) {
	h := newHarness(t)
	h.right.SetDrift(-5)
	act, err := NewDistanceAction(h.td, 100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)

	h.runUntilDone(1000, func() {
		test.That(t, math.Abs(h.td.Heading()), test.ShouldBeLessThan, 5.0)
	})
}

func TestDistanceActionTriggeredActions(t *testing.T) {
	h := newHarness(t)
	act, err := NewDistanceAction(h.td, 100)
	test.That(t, err, test.ShouldBeNil)

	trig := inject.NewAction("trig")
	var startedAt float64
	trig.StartFunc = func() { startedAt = h.td.Distance() }
	trig.IsDoneFunc = func() bool { return trig.Runs >= 3 }
	act.AddTriggeredAction(30, trig)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)

	doneTick, removedTick := -1, -1
	for i := 0; i < 500 && removedTick < 0; i++ {
		h.tick()
		if trig.Starts == 0 {
			test.That(t, h.td.Distance(), test.ShouldBeLessThanOrEqualTo, 30.0)
			continue
		}
		if doneTick < 0 && trig.IsDone() {
			doneTick = i
			test.That(t, len(act.Active()), test.ShouldEqual, 1)
			continue
		}
		if doneTick >= 0 && len(act.Active()) == 0 {
			removedTick = i
		}
	}
	test.That(t, trig.Starts, test.ShouldEqual, 1)
	test.That(t, startedAt, test.ShouldBeGreaterThan, 30.0)
	test.That(t, removedTick, test.ShouldEqual, doneTick+1)
	test.That(t, trig.Runs, test.ShouldEqual, 3)
}

func TestDistanceActionLeavesUnfinishedTriggers(t *testing.T) {
	h := newHarness(t)
	act, err := NewDistanceAction(h.td, 100)
	test.That(t, err, test.ShouldBeNil)
	slow := inject.NewAction("slow")
	act.AddTriggeredAction(50, slow)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)

	for i := 0; i < 500 && !act.IsDone(); i++ {
		h.tick()
	}
	test.That(t, act.IsDone(), test.ShouldBeTrue)
	test.That(t, slow.Starts, test.ShouldEqual, 1)
	runs := slow.Runs
	test.That(t, runs, test.ShouldBeGreaterThan, 0)

	for i := 0; i < 10; i++ {
		h.tick()
	}
	test.That(t, slow.Runs, test.ShouldEqual, runs)
	test.That(t, slow.Cancels, test.ShouldEqual, 0)
	test.That(t, slow.IsDone(), test.ShouldBeFalse)
}

func TestDistanceActionCancel(t *testing.T) {
	h := newHarness(t)
	act, err := NewDistanceAction(h.td, 100)
	test.That(t, err, test.ShouldBeNil)
	trig := inject.NewAction("trig")
	act.AddTriggeredAction(5, trig)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)
	for i := 0; i < 30; i++ {
		h.tick()
	}
	test.That(t, trig.Starts, test.ShouldEqual, 1)

	h.td.CancelAction()
	test.That(t, act.IsDone(), test.ShouldBeTrue)
	test.That(t, trig.Cancels, test.ShouldEqual, 1)
	l, r := h.td.Powers()
	test.That(t, l, test.ShouldEqual, 0.0)
	test.That(t, r, test.ShouldEqual, 0.0)
	plot, ok := h.rec.Latest(act.String())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, plot.Ended, test.ShouldBeTrue)
}

// straightPath ramps up to cruise and holds it, with both sides equal and a constant heading.
func straightPath(name string, steps int) *paths.Path {
	p := &paths.Path{Name: name}
	var pos, vel float64
	for i := 0; i < steps; i++ {
		accel := 0.0
		if vel < 30 {
			accel = 100
		}
		vel = math.Min(30, vel+accel*period.Seconds())
		pos += vel * period.Seconds()
		seg := paths.Segment{Position: pos, Velocity: vel, Acceleration: accel}
		p.Left = append(p.Left, seg)
		p.Right = append(p.Right, seg)
	}
	return p
}

func TestFollowPath(t *testing.T) {
	h := newHarness(t)
	path := straightPath("straight", 100)
	test.That(t, h.robot.Paths.Add(path), test.ShouldBeNil)
	final := path.Left[len(path.Left)-1].Position

	_, err := NewFollowPathAction(h.td, "nowhere", false)
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)

	act, err := NewFollowPathAction(h.td, "straight", false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)
	ticks := h.runUntilDone(200, nil)
	test.That(t, ticks, test.ShouldEqual, 100)
	test.That(t, h.td.LeftDistance(), test.ShouldAlmostEqual, final, 2)
	test.That(t, h.td.RightDistance(), test.ShouldAlmostEqual, final, 2)

	plot, ok := h.rec.Latest(act.String())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, plot.Ended, test.ShouldBeTrue)
	test.That(t, plot.Columns, test.ShouldResemble, followPathColumns)
	test.That(t, len(plot.Rows), test.ShouldEqual, 100)
	test.That(t, plot.Column("ltpos")[99], test.ShouldAlmostEqual, final)

	// The drive started at rest at zero, so raw counts scale to the measured distance.
	lticks, rticks := plot.Column("lticks"), plot.Column("rticks")
	test.That(t, lticks, test.ShouldHaveLength, 100)
	test.That(t, lticks[99], test.ShouldBeGreaterThan, 0)
	for _, i := range []int{50, 99} {
		test.That(t, lticks[i]*inchesPerTick, test.ShouldAlmostEqual, plot.Column("lapos")[i])
		test.That(t, rticks[i]*inchesPerTick, test.ShouldAlmostEqual, plot.Column("rapos")[i])
	}
}

func TestFollowPathReverse(t *testing.T) {
	h := newHarness(t)
	path := straightPath("straight", 100)
	path.Right[10].Position += 1
	test.That(t, h.robot.Paths.Add(path), test.ShouldBeNil)
	final := path.Left[len(path.Left)-1].Position

	act, err := NewFollowPathAction(h.td, "straight", true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)
	h.runUntilDone(200, nil)
	test.That(t, h.td.LeftDistance(), test.ShouldAlmostEqual, -final, 2)
	test.That(t, h.td.RightDistance(), test.ShouldAlmostEqual, -final, 2)

	plot, _ := h.rec.Latest(act.String())
	// Reversed, the left side tracks the negated right side of the trajectory.
	test.That(t, plot.Column("ltpos")[10], test.ShouldAlmostEqual, -path.Right[10].Position)
	test.That(t, plot.Column("rtpos")[10], test.ShouldAlmostEqual, -path.Left[10].Position)
}

func TestFollowPathCancel(t *testing.T) {
	h := newHarness(t)
	test.That(t, h.robot.Paths.Add(straightPath("straight", 100)), test.ShouldBeNil)
	act, err := NewFollowPathAction(h.td, "straight", false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)
	for i := 0; i < 10; i++ {
		h.tick()
	}
	test.That(t, act.Index(), test.ShouldEqual, 10)

	h.td.CancelAction()
	test.That(t, act.IsDone(), test.ShouldBeTrue)
	test.That(t, act.Index(), test.ShouldEqual, 100)
	plot, _ := h.rec.Latest(act.String())
	test.That(t, plot.Ended, test.ShouldBeTrue)
	test.That(t, len(plot.Rows), test.ShouldEqual, 10)
}

func TestPowerAction(t *testing.T) {
	h := newHarness(t)
	_, err := NewPowerAction(h.td, 0, 1, 1, true)
	test.That(t, config.IsConfigurationError(err), test.ShouldBeTrue)

	act, err := NewPowerAction(h.td, 200*time.Millisecond, 0.4, 0.2, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.td.SetAction(act), test.ShouldBeNil)
	test.That(t, h.td.IsHighGear(), test.ShouldBeTrue)

	ticks := h.runUntilDone(50, nil)
	test.That(t, ticks, test.ShouldEqual, 10)
	test.That(t, h.left.Power(), test.ShouldEqual, 0.0)
	yaw, err := h.gyro.Yaw(h.ctx)
	test.That(t, err, test.ShouldBeNil)
	// The right side was slower, so the robot turned clockwise.
	test.That(t, yaw, test.ShouldBeLessThan, 0.0)

	plot, ok := h.rec.Latest(act.String())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(plot.Rows), test.ShouldEqual, 9)
	test.That(t, plot.Column("lout")[0], test.ShouldEqual, 0.4)
}
