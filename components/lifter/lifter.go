// Package lifter implements the vertical lift: height tracking with encoder calibration, soft and
// hard travel limits, and the actions that move it.
package lifter

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
const Name = "lifter"

// Config describes the lift geometry and travel.
type Config struct {
	InchesPerTick            float64 `json:"inches_per_tick"`
	BaseHeight               float64 `json:"base_height"`
	MinHeight                float64 `json:"min_height"`
	MaxHeight                float64 `json:"max_height"`
	CalibrateFromLimitSwitch bool    `json:"calibrate_from_limit_switch"`
}

// Validate ensures the travel range is usable.
func (cfg *Config) Validate(path string) error {
	if cfg.InchesPerTick == 0 {
		return goutils.NewConfigValidationError(path, errors.New("inches_per_tick must be non-zero"))
	}
	if cfg.MinHeight >= cfg.MaxHeight {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("min_height %v must be less than max_height %v", cfg.MinHeight, cfg.MaxHeight))
	}
	return nil
}

// Hardware is the set of devices the lift owns. The limit switches are optional.
type Hardware struct {
	Motor   hardware.Motor
	Encoder hardware.Encoder
	Bottom  hardware.DigitalInput
	Top     hardware.DigitalInput
}

type liftAction interface {
	action.Action
	lifter() *Lifter
}

// Lifter is a vertical lift with an encoder and optional limit switches.
type Lifter struct {
	subsystem.Base

	robot *robot.Robot
	hw    Hardware
	cfg   Config

	ticks       float64
	encoderBase float64
	height      float64
	velocity    float64
	atBottom    bool
	atTop       bool
	calibrated  bool
	primed      bool

	power float64
}

// New returns a lift configured from the lifter section of the robot settings.
func New(r *robot.Robot, hw Hardware) (*Lifter, error) {
	if hw.Motor == nil || hw.Encoder == nil {
		return nil, errors.New("lifter needs a motor and an encoder")
	}
	var cfg Config
	if err := r.Settings.Decode(Name, &cfg, "inches_per_tick", "base_height", "min_height", "max_height"); err != nil {
		return nil, err
	}
	if cfg.CalibrateFromLimitSwitch && hw.Bottom == nil {
		return nil, errors.New("lifter cannot calibrate from a limit switch without a bottom switch")
	}

	l := &Lifter{robot: r, hw: hw, cfg: cfg}
	l.Base = subsystem.NewBase(Name, r.Logger().Sublogger(Name), l.accept, l.stop)
	return l, nil
}

func (l *Lifter) accept(a action.Action) string {
	la, ok := a.(liftAction)
	if !ok || la.lifter() != l {
		return "not an action for this lifter"
	}
	if _, seeks := a.(*GoToHeightAction); seeks && !l.calibrated {
		return "lifter is not calibrated"
	}
	return ""
}

// Robot returns the robot the lift belongs to.
func (l *Lifter) Robot() *robot.Robot {
	return l.robot
}

// Config returns the lift configuration.
func (l *Lifter) Config() Config {
	return l.cfg
}

// ComputeState reads the encoder and limit switches, calibrating when the lift is at the bottom
// and switch calibration is enabled. Without switch calibration the first reading is taken as the
// base height.
func (l *Lifter) ComputeState(ctx context.Context) error {
	if err := l.Base.ComputeState(ctx); err != nil {
		return err
	}

	ticks, err := l.hw.Encoder.Position(ctx)
	if err != nil {
		return errors.Wrap(err, "reading lifter encoder")
	}
	if l.hw.Bottom != nil {
		if l.atBottom, err = l.hw.Bottom.Get(ctx); err != nil {
			return errors.Wrap(err, "reading bottom limit switch")
		}
	}
	if l.hw.Top != nil {
		if l.atTop, err = l.hw.Top.Get(ctx); err != nil {
			return errors.Wrap(err, "reading top limit switch")
		}
	}

	l.ticks = ticks
	switch {
	case l.cfg.CalibrateFromLimitSwitch && l.atBottom:
		l.calibrate()
	case !l.cfg.CalibrateFromLimitSwitch && !l.primed:
		l.calibrate()
	}

	height := l.cfg.BaseHeight + (ticks-l.encoderBase)*l.cfg.InchesPerTick
	if l.primed {
		l.velocity = (height - l.height) / l.robot.DeltaTime().Seconds()
	}
	l.height = height
	l.primed = true
	return nil
}

// calibrate makes the current encoder reading the base height.
func (l *Lifter) calibrate() {
	if !l.calibrated {
		l.Logger().Debugw("lifter calibrated", "ticks", l.ticks)
	}
	l.encoderBase = l.ticks
	l.calibrated = true
	if l.primed {
		l.height = l.cfg.BaseHeight
	}
}

// Run runs the current action and writes the motor power, limited so the lift never drives past
// its switches or, once calibrated, its configured travel.
func (l *Lifter) Run(ctx context.Context) error {
	l.RunAction()

	power := l.power
	if power < 0 && (l.atBottom || (l.calibrated && l.height <= l.cfg.MinHeight)) {
		power = 0
	}
	if power > 0 && (l.atTop || (l.calibrated && l.height >= l.cfg.MaxHeight)) {
		power = 0
	}
	if err := l.hw.Motor.SetPower(ctx, power); err != nil {
		return errors.Wrap(err, "setting lifter power")
	}
	return nil
}

func (l *Lifter) setPower(power float64) {
	l.power = power
}

func (l *Lifter) stop() {
	l.setPower(0)
}

// Height returns the lift height in inches.
func (l *Lifter) Height() float64 {
	return l.height
}

// Velocity returns the lift velocity in inches per second.
func (l *Lifter) Velocity() float64 {
	return l.velocity
}

// EncoderValue returns the raw encoder count.
func (l *Lifter) EncoderValue() float64 {
	return l.ticks
}

// IsAtBottom reports whether the bottom limit switch is closed.
func (l *Lifter) IsAtBottom() bool {
	return l.atBottom
}

// IsAtTop reports whether the top limit switch is closed.
func (l *Lifter) IsAtTop() bool {
	return l.atTop
}

// IsCalibrated reports whether the height is known.
func (l *Lifter) IsCalibrated() bool {
	return l.calibrated
}

// Power returns the buffered power before limits are applied.
func (l *Lifter) Power() float64 {
	return l.power
}

// GoToHeight returns an action moving the lift to height.
func (l *Lifter) GoToHeight(height float64) (action.Action, error) {
	act, err := NewGoToHeightAction(l, height)
	if err != nil {
		return nil, err
	}
	return act, nil
}
