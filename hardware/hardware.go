// Package hardware declares the sensor and actuator interfaces that subsystems consume. Values
// read during ComputeState are valid until the next tick.
package hardware

import "context"

// Motor is a power controlled actuator channel.
type Motor interface {
	// SetPower commands a power in [-1, 1].
	SetPower(ctx context.Context, power float64) error
}

// Encoder reports a position in ticks.
type Encoder interface {
	Position(ctx context.Context) (float64, error)
}

// Gyro reports the robot's yaw in degrees.
type Gyro interface {
	Yaw(ctx context.Context) (float64, error)
}

// DigitalInput is a switch such as a limit switch.
type DigitalInput interface {
	Get(ctx context.Context) (bool, error)
}

// AnalogInput is a sensor with a continuous reading, such as a presence sensor.
type AnalogInput interface {
	Read(ctx context.Context) (float64, error)
}

// Solenoid is a pneumatic valve.
type Solenoid interface {
	Set(ctx context.Context, on bool) error
}

// MotorGroup commands several motors as one channel.
type MotorGroup []Motor

// SetPower sets every motor in the group, stopping at the first error.
func (g MotorGroup) SetPower(ctx context.Context, power float64) error {
	for _, m := range g {
		if err := m.SetPower(ctx, power); err != nil {
			return err
		}
	}
	return nil
}

// Inverted flips the sign of every command to m.
func Inverted(m Motor) Motor {
	return invertedMotor{m}
}

type invertedMotor struct {
	Motor
}

func (m invertedMotor) SetPower(ctx context.Context, power float64) error {
	return m.Motor.SetPower(ctx, -power)
}
