// Package tankdrive implements the differential drivetrain and the actions that drive it: a
// profiled straight line drive, a precomputed path follower and a fixed power action used for
// characterization.
package tankdrive

import (
	"context"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/hardware"
	"github.com/phaser-robotics/xerocore/robot"
	"github.com/phaser-robotics/xerocore/subsystem"
)

// Name is the subsystem name and the settings prefix.
const Name = "tankdrive"

// Config describes the drivetrain geometry.
type Config struct {
	InchesPerTick float64 `json:"inches_per_tick"`
	InvertLeft    bool    `json:"invert_left"`
	InvertRight   bool    `json:"invert_right"`
}

// Validate ensures the encoder scale is usable.
func (cfg *Config) Validate(path string) error {
	if cfg.InchesPerTick == 0 {
		return goutils.NewConfigValidationError(path, errors.New("inches_per_tick must be non-zero"))
	}
	return nil
}

// Hardware is the set of devices the drivetrain owns. Shifter is optional.
type Hardware struct {
	Left         hardware.Motor
	Right        hardware.Motor
	LeftEncoder  hardware.Encoder
	RightEncoder hardware.Encoder
	Gyro         hardware.Gyro
	Shifter      hardware.Solenoid
}

func (hw *Hardware) validate() error {
	switch {
	case hw.Left == nil || hw.Right == nil:
		return errors.New("tankdrive needs left and right motors")
	case hw.LeftEncoder == nil || hw.RightEncoder == nil:
		return errors.New("tankdrive needs left and right encoders")
	case hw.Gyro == nil:
		return errors.New("tankdrive needs a gyro")
	}
	return nil
}

// driveAction is implemented by every action that commands a TankDrive.
type driveAction interface {
	action.Action
	tankDrive() *TankDrive
}

// TankDrive is a two sided drivetrain with encoders on both sides and a gyro.
type TankDrive struct {
	subsystem.Base

	robot *robot.Robot
	hw    Hardware
	cfg   Config

	leftTicks, rightTicks float64
	left, right           float64
	leftVel, rightVel     float64
	heading               float64
	primed                bool

	leftPower, rightPower float64
	highGear              bool
}

// New returns a drivetrain configured from the tankdrive section of the robot settings.
func New(r *robot.Robot, hw Hardware) (*TankDrive, error) {
	if err := hw.validate(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := r.Settings.Decode(Name, &cfg, "inches_per_tick"); err != nil {
		return nil, err
	}
	if cfg.InvertLeft {
		hw.Left = hardware.Inverted(hw.Left)
	}
	if cfg.InvertRight {
		hw.Right = hardware.Inverted(hw.Right)
	}

	td := &TankDrive{robot: r, hw: hw, cfg: cfg}
	td.Base = subsystem.NewBase(Name, r.Logger().Sublogger(Name), td.accept, td.stop)
	return td, nil
}

func (td *TankDrive) accept(a action.Action) string {
	da, ok := a.(driveAction)
	if !ok {
		return "not a tankdrive action"
	}
	if da.tankDrive() != td {
		return "action belongs to another drivetrain"
	}
	return ""
}

// Robot returns the robot the drivetrain belongs to.
func (td *TankDrive) Robot() *robot.Robot {
	return td.robot
}

// Config returns the drivetrain configuration.
func (td *TankDrive) Config() Config {
	return td.cfg
}

// ComputeState reads the encoders and the gyro.
func (td *TankDrive) ComputeState(ctx context.Context) error {
	if err := td.Base.ComputeState(ctx); err != nil {
		return err
	}

	lticks, err := td.hw.LeftEncoder.Position(ctx)
	if err != nil {
		return errors.Wrap(err, "reading left encoder")
	}
	rticks, err := td.hw.RightEncoder.Position(ctx)
	if err != nil {
		return errors.Wrap(err, "reading right encoder")
	}
	heading, err := td.hw.Gyro.Yaw(ctx)
	if err != nil {
		return errors.Wrap(err, "reading gyro")
	}
	if td.cfg.InvertLeft {
		lticks = -lticks
	}
	if td.cfg.InvertRight {
		rticks = -rticks
	}

	left := lticks * td.cfg.InchesPerTick
	right := rticks * td.cfg.InchesPerTick
	if td.primed {
		dt := td.robot.DeltaTime().Seconds()
		td.leftVel = (left - td.left) / dt
		td.rightVel = (right - td.right) / dt
	}
	td.leftTicks, td.rightTicks = lticks, rticks
	td.left, td.right = left, right
	td.heading = heading
	td.primed = true
	return nil
}

// Run runs the current action and writes the motor powers it set.
func (td *TankDrive) Run(ctx context.Context) error {
	td.RunAction()

	if err := td.hw.Left.SetPower(ctx, td.leftPower); err != nil {
		return errors.Wrap(err, "setting left power")
	}
	if err := td.hw.Right.SetPower(ctx, td.rightPower); err != nil {
		return errors.Wrap(err, "setting right power")
	}
	if td.hw.Shifter != nil {
		if err := td.hw.Shifter.Set(ctx, td.highGear); err != nil {
			return errors.Wrap(err, "setting shifter")
		}
	}
	return nil
}

// setPower buffers the motor powers until Run writes them.
func (td *TankDrive) setPower(left, right float64) {
	td.leftPower, td.rightPower = left, right
}

func (td *TankDrive) stop() {
	td.setPower(0, 0)
}

// LeftDistance returns the left side distance in inches.
func (td *TankDrive) LeftDistance() float64 {
	return td.left
}

// RightDistance returns the right side distance in inches.
func (td *TankDrive) RightDistance() float64 {
	return td.right
}

// Distance returns the average of both sides.
func (td *TankDrive) Distance() float64 {
	return (td.left + td.right) / 2
}

// LeftVelocity returns the left side velocity in inches per second.
func (td *TankDrive) LeftVelocity() float64 {
	return td.leftVel
}

// RightVelocity returns the right side velocity in inches per second.
func (td *TankDrive) RightVelocity() float64 {
	return td.rightVel
}

// Velocity returns the average velocity of both sides.
func (td *TankDrive) Velocity() float64 {
	return (td.leftVel + td.rightVel) / 2
}

// LeftTicks returns the raw left encoder count.
func (td *TankDrive) LeftTicks() float64 {
	return td.leftTicks
}

// RightTicks returns the raw right encoder count.
func (td *TankDrive) RightTicks() float64 {
	return td.rightTicks
}

// Heading returns the gyro heading in degrees.
func (td *TankDrive) Heading() float64 {
	return td.heading
}

// Powers returns the last buffered left and right powers.
func (td *TankDrive) Powers() (left, right float64) {
	return td.leftPower, td.rightPower
}

// HasShifter reports whether the drivetrain has a gear shifter.
func (td *TankDrive) HasShifter() bool {
	return td.hw.Shifter != nil
}

// HighGear selects the high gear on the next Run. It does nothing without a shifter.
func (td *TankDrive) HighGear() {
	td.highGear = true
}

// LowGear selects the low gear on the next Run.
func (td *TankDrive) LowGear() {
	td.highGear = false
}

// IsHighGear reports the selected gear.
func (td *TankDrive) IsHighGear() bool {
	return td.highGear
}
