package fake

import (
	"context"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/phaser-robotics/xerocore/hardware"
)

func TestAxisFirstOrder(t *testing.T) {
	ctx := context.Background()
	sim := NewSim()
	axis := sim.AddAxis(AxisConfig{Name: "lift", MaxVelocity: 50, TicksPerUnit: 10, Min: 0, Max: 60})

	test.That(t, axis.Motor().SetPower(ctx, 0.5), test.ShouldBeNil)
	sim.Step(time.Second)
	test.That(t, axis.Velocity(), test.ShouldAlmostEqual, 25)
	test.That(t, axis.Position(), test.ShouldAlmostEqual, 25)

	ticks, err := axis.Encoder().Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ticks, test.ShouldAlmostEqual, 250)

	// Commands are clamped to full power and positions to the hard stops.
	test.That(t, axis.Motor().SetPower(ctx, 3), test.ShouldBeNil)
	test.That(t, axis.Power(), test.ShouldEqual, 1.0)
	sim.Step(time.Second)
	test.That(t, axis.Position(), test.ShouldEqual, 60.0)
	test.That(t, axis.Velocity(), test.ShouldEqual, 0.0)

	upper, err := axis.UpperLimit(60).Get(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, upper, test.ShouldBeTrue)
	lower, err := axis.LowerLimit(0).Get(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lower, test.ShouldBeFalse)
	test.That(t, sim.Elapsed(), test.ShouldEqual, 2*time.Second)
}

func TestAxisLagAndDrift(t *testing.T) {
	ctx := context.Background()
	sim := NewSim()
	axis := sim.AddAxis(AxisConfig{MaxVelocity: 100, Lag: 100 * time.Millisecond})
	test.That(t, axis.Motor().SetPower(ctx, 1), test.ShouldBeNil)
	sim.Step(50 * time.Millisecond)
	test.That(t, axis.Velocity(), test.ShouldAlmostEqual, 50)

	free := sim.AddAxis(AxisConfig{MaxVelocity: 100})
	free.SetDrift(-10)
	sim.Step(time.Second)
	test.That(t, free.Position(), test.ShouldAlmostEqual, -10)
}

func TestDriveGyro(t *testing.T) {
	ctx := context.Background()
	sim := NewSim()
	left := sim.AddAxis(AxisConfig{MaxVelocity: 10})
	right := sim.AddAxis(AxisConfig{MaxVelocity: 10})
	gyro := sim.AddDriveGyro(left, right, 2)

	var motors hardware.MotorGroup = []hardware.Motor{right.Motor()}
	test.That(t, motors.SetPower(ctx, 1), test.ShouldBeNil)
	test.That(t, hardware.Inverted(left.Motor()).SetPower(ctx, 1), test.ShouldBeNil)
	test.That(t, left.Power(), test.ShouldEqual, -1.0)

	sim.Step(100 * time.Millisecond)
	yaw, err := gyro.Yaw(ctx)
	test.That(t, err, test.ShouldBeNil)
	// (10 - -10) / 2 = 10 rad/s for 0.1s.
	test.That(t, yaw, test.ShouldAlmostEqual, 180/3.141592653589793)

	gyro.SetYaw(0)
	yaw, _ = gyro.Yaw(ctx)
	test.That(t, yaw, test.ShouldEqual, 0.0)
}

func TestIO(t *testing.T) {
	ctx := context.Background()
	var sw Switch
	sw.Set(true)
	v, err := sw.Get(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldBeTrue)

	var analog Analog
	analog.SetValue(2.5)
	reading, err := analog.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reading, test.ShouldEqual, 2.5)

	var sol Solenoid
	test.That(t, sol.Set(ctx, true), test.ShouldBeNil)
	test.That(t, sol.Set(ctx, true), test.ShouldBeNil)
	test.That(t, sol.Set(ctx, false), test.ShouldBeNil)
	test.That(t, sol.On(), test.ShouldBeFalse)
	test.That(t, sol.Switches(), test.ShouldEqual, 2)
}
