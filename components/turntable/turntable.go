// Package turntable implements the rotating turntable that carries the game piece manipulator. It
// may only rotate while the lift holds it above the safe rotate height.
package turntable

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/control"
	"github.com/phaser-robotics/xerocore/hardware"
	"github.com/phaser-robotics/xerocore/robot"
	"github.com/phaser-robotics/xerocore/subsystem"
)

// Name is the subsystem name and the settings prefix.
const Name = "turntable"

const (
	gotoPrefix      = "turntable:goto"
	followerPrefix  = "turntable:follower"
	currentPosition = "@"
)

// Config describes the turntable's encoder scale and travel.
type Config struct {
	DegreesPerTick   float64 `json:"degrees_per_tick"`
	SafeRotateHeight float64 `json:"safe_rotate_height"`
	MinAngle         float64 `json:"min_angle"`
	MaxAngle         float64 `json:"max_angle"`
}

// Validate ensures the travel range is usable.
func (cfg *Config) Validate(path string) error {
	if cfg.DegreesPerTick == 0 {
		return goutils.NewConfigValidationError(path, errors.New("degrees_per_tick must be non-zero"))
	}
	if cfg.MinAngle >= cfg.MaxAngle {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("min_angle %v must be less than max_angle %v", cfg.MinAngle, cfg.MaxAngle))
	}
	return nil
}

// Hardware is the set of devices the turntable owns.
type Hardware struct {
	Motor   hardware.Motor
	Encoder hardware.Encoder
}

// HeightSource reports the height of the lift carrying the turntable.
type HeightSource interface {
	Height() float64
}

// Turntable is a rotating stage with an encoder.
type Turntable struct {
	subsystem.Base

	robot *robot.Robot
	hw    Hardware
	cfg   Config
	lift  HeightSource

	angle    float64
	velocity float64
	primed   bool

	power float64
}

// New returns a turntable configured from the turntable section of the robot settings.
func New(r *robot.Robot, hw Hardware, lift HeightSource) (*Turntable, error) {
	if hw.Motor == nil || hw.Encoder == nil {
		return nil, errors.New("turntable needs a motor and an encoder")
	}
	if lift == nil {
		return nil, errors.New("turntable needs a lift height source")
	}
	var cfg Config
	if err := r.Settings.Decode(Name, &cfg, "degrees_per_tick", "safe_rotate_height", "min_angle", "max_angle"); err != nil {
		return nil, err
	}

	tt := &Turntable{robot: r, hw: hw, cfg: cfg, lift: lift}
	tt.Base = subsystem.NewBase(Name, r.Logger().Sublogger(Name), tt.accept, tt.stop)
	return tt, nil
}

func (tt *Turntable) accept(a action.Action) string {
	ga, ok := a.(*GoToAngleAction)
	if !ok || ga.tt != tt {
		return "not an action for this turntable"
	}
	if !tt.IsSafeToRotate() {
		return fmt.Sprintf("lift height %.2f is below the safe rotate height %.2f", tt.lift.Height(), tt.cfg.SafeRotateHeight)
	}
	return ""
}

// Config returns the turntable configuration.
func (tt *Turntable) Config() Config {
	return tt.cfg
}

// ComputeState reads the encoder.
func (tt *Turntable) ComputeState(ctx context.Context) error {
	if err := tt.Base.ComputeState(ctx); err != nil {
		return err
	}
	ticks, err := tt.hw.Encoder.Position(ctx)
	if err != nil {
		return errors.Wrap(err, "reading turntable encoder")
	}
	angle := ticks * tt.cfg.DegreesPerTick
	if tt.primed {
		tt.velocity = (angle - tt.angle) / tt.robot.DeltaTime().Seconds()
	}
	tt.angle = angle
	tt.primed = true
	return nil
}

// Run runs the current action and writes the motor power. The turntable holds still whenever
// the lift is below the safe rotate height.
func (tt *Turntable) Run(ctx context.Context) error {
	tt.RunAction()

	power := tt.power
	if !tt.IsSafeToRotate() {
		power = 0
	}
	if err := tt.hw.Motor.SetPower(ctx, power); err != nil {
		return errors.Wrap(err, "setting turntable power")
	}
	return nil
}

func (tt *Turntable) setPower(power float64) {
	tt.power = power
}

func (tt *Turntable) stop() {
	tt.setPower(0)
}

// Angle returns the turntable angle in degrees.
func (tt *Turntable) Angle() float64 {
	return tt.angle
}

// AngularVelocity returns the angular velocity in degrees per second.
func (tt *Turntable) AngularVelocity() float64 {
	return tt.velocity
}

// SafeRotateHeight returns the lowest lift height at which the turntable may rotate.
func (tt *Turntable) SafeRotateHeight() float64 {
	return tt.cfg.SafeRotateHeight
}

// IsSafeToRotate reports whether the lift is at or above the safe rotate height.
func (tt *Turntable) IsSafeToRotate() bool {
	return tt.lift.Height() >= tt.cfg.SafeRotateHeight
}

// GoToAngle returns an action rotating the turntable to angle.
func (tt *Turntable) GoToAngle(angle float64) (action.Action, error) {
	act, err := NewGoToAngleAction(tt, angle)
	if err != nil {
		return nil, err
	}
	return act, nil
}

// GoToAngleAction rotates the turntable to an angle along a trapezoidal profile.
type GoToAngleAction struct {
	tt   *Turntable
	move *control.Move
}

// NewGoToAngleAction returns an action rotating to angle. An angle outside the turntable's travel
// is a configuration error.
func NewGoToAngleAction(tt *Turntable, angle float64) (*GoToAngleAction, error) {
	if angle < tt.cfg.MinAngle || angle > tt.cfg.MaxAngle {
		return nil, config.NewOutOfRangeError(config.Join(gotoPrefix, "angle"), angle, tt.cfg.MinAngle, tt.cfg.MaxAngle)
	}
	move, err := control.NewMoveFromSettings(tt.robot.Settings, gotoPrefix, followerPrefix)
	if err != nil {
		return nil, err
	}
	move.SetTarget(angle)
	return &GoToAngleAction{tt: tt, move: move}, nil
}

// NewGoToAngleActionFromSetting reads the angle from the named setting. The key "@" means the
// turntable's angle when the action is built.
func NewGoToAngleActionFromSetting(tt *Turntable, key string) (*GoToAngleAction, error) {
	if key == currentPosition {
		return NewGoToAngleAction(tt, tt.Angle())
	}
	angle, err := tt.robot.Settings.Float64(key)
	if err != nil {
		return nil, err
	}
	return NewGoToAngleAction(tt, angle)
}

// Target returns the angle the action rotates to.
func (a *GoToAngleAction) Target() float64 {
	return a.move.Target()
}

// Start plans the rotation from the current angle.
func (a *GoToAngleAction) Start() {
	a.move.Start(a.tt.robot.Time(), a.tt.Angle())
	if a.move.IsDone() {
		a.tt.setPower(0)
	}
}

// Run tracks the plan for one tick.
func (a *GoToAngleAction) Run() {
	r := a.tt.robot
	a.tt.setPower(a.move.Update(r.Time(), a.tt.Angle(), r.DeltaTime()))
}

// IsDone reports whether the turntable reached the target.
func (a *GoToAngleAction) IsDone() bool {
	return a.move.IsDone()
}

// Cancel stops the turntable where it is.
func (a *GoToAngleAction) Cancel() {
	a.move.Stop()
	a.tt.setPower(0)
}

func (a *GoToAngleAction) String() string {
	return fmt.Sprintf("TurntableGoToAngleAction %v", a.move.Target())
}
