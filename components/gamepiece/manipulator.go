// Package gamepiece implements the game piece manipulator: the lift, turntable and hatch holder
// driven together by composite actions that keep the turntable from rotating below the safe
// height.
package gamepiece

import (
	"context"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/robot"
	"github.com/phaser-robotics/xerocore/subsystem"
)

// Name is the subsystem name.
const Name = "gamepiece"

// Lift moves the manipulator vertically.
type Lift interface {
	action.Assigner
	Height() float64
	GoToHeight(height float64) (action.Action, error)
}

// Rotator turns the manipulator. It may only rotate while the lift is above its safe height.
type Rotator interface {
	action.Assigner
	Angle() float64
	AngularVelocity() float64
	SafeRotateHeight() float64
	IsSafeToRotate() bool
	GoToAngle(angle float64) (action.Action, error)
}

// Holder carries a hatch on an arm that must be out while rotating with a hatch.
type Holder interface {
	action.Assigner
	HasHatch() bool
	IsDeployed() bool
	ExtendArm() (action.Action, error)
	RetractArm() (action.Action, error)
}

// ReadyConfig holds the tolerances used by ReadyAction.
type ReadyConfig struct {
	TurntableVelocityThreshold float64 `json:"turntable_velocity_threshold"`
	AngleTolerance             float64 `json:"angle_tolerance"`
	SafeHeightMargin           float64 `json:"safe_height_margin"`
}

// Validate ensures the tolerances are usable.
func (cfg *ReadyConfig) Validate(path string) error {
	if cfg.TurntableVelocityThreshold <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("turntable_velocity_threshold must be positive"))
	}
	if cfg.AngleTolerance <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("angle_tolerance must be positive"))
	}
	if cfg.SafeHeightMargin < 0 {
		return goutils.NewConfigValidationError(path, errors.New("safe_height_margin must not be negative"))
	}
	return nil
}

func defaultReadyConfig() ReadyConfig {
	return ReadyConfig{
		TurntableVelocityThreshold: 5,
		AngleTolerance:             10,
		SafeHeightMargin:           1,
	}
}

// Manipulator owns no hardware of its own. It runs the actions that coordinate its parts.
type Manipulator struct {
	subsystem.Base

	robot   *robot.Robot
	lift    Lift
	rotator Rotator
	holder  Holder
	ready   ReadyConfig
}

// New returns a manipulator coordinating lift, rotator and holder. The ready_action settings
// section is optional.
func New(r *robot.Robot, lift Lift, rotator Rotator, holder Holder) (*Manipulator, error) {
	if lift == nil || rotator == nil || holder == nil {
		return nil, errors.New("gamepiece needs a lift, a rotator and a holder")
	}
	ready := defaultReadyConfig()
	if err := r.Settings.Decode("ready_action", &ready); err != nil {
		return nil, err
	}

	m := &Manipulator{robot: r, lift: lift, rotator: rotator, holder: holder, ready: ready}
	m.Base = subsystem.NewBase(Name, r.Logger().Sublogger(Name), m.accept, nil)
	return m, nil
}

func (m *Manipulator) accept(a action.Action) string {
	ready, ok := a.(*ReadyAction)
	if !ok || ready.m != m {
		return "not an action for this manipulator"
	}
	return ""
}

// Lift returns the lift.
func (m *Manipulator) Lift() Lift {
	return m.lift
}

// Rotator returns the turntable.
func (m *Manipulator) Rotator() Rotator {
	return m.rotator
}

// Holder returns the hatch holder.
func (m *Manipulator) Holder() Holder {
	return m.holder
}

// ReadyConfig returns the tolerances used by ReadyAction.
func (m *Manipulator) ReadyConfig() ReadyConfig {
	return m.ready
}

// Run runs the current action. The parts write their own actuators.
func (m *Manipulator) Run(context.Context) error {
	m.RunAction()
	return nil
}
