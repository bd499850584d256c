package gamepiece

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/utils"
)

const currentPosition = "@"

// State is a step of ReadyAction.
type State int

// The ReadyAction states.
const (
	Idle State = iota
	WaitForStop
	ExtendHolder
	RetractHolder
	LifterSafeHeight
	TurntableAndSafeHeight
	LifterFinalHeight
	TurntableAndLift
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitForStop:
		return "WaitForStop"
	case ExtendHolder:
		return "ExtendHolder"
	case RetractHolder:
		return "RetractHolder"
	case LifterSafeHeight:
		return "LifterSafeHeight"
	case TurntableAndSafeHeight:
		return "TurntableAndSafeHeight"
	case LifterFinalHeight:
		return "LifterFinalHeight"
	case TurntableAndLift:
		return "TurntableAndLift"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ReadyAction brings the lift to a height and the turntable to an angle. Rotation only happens
// above the safe rotate height, so a low target is reached by climbing to the safe height,
// rotating, and descending. A held hatch is extended away from the lift before rotating and
// retracted afterwards unless leave is set.
type ReadyAction struct {
	m      *Manipulator
	height float64
	angle  float64
	leave  bool
	desc   string

	safeHeight  action.Action
	finalHeight action.Action
	rotate      action.Action
	extend      action.Action
	retract     action.Action

	state    State
	previous State
	extended bool
	err      error
}

// NewReadyAction returns an action moving the manipulator to height and angle. The goals are
// built immediately, so an unreachable height or angle is reported here.
func NewReadyAction(m *Manipulator, height, angle float64, leave bool) (*ReadyAction, error) {
	return newReadyAction(m, height, angle, leave, fmt.Sprintf("%v %v", height, angle))
}

// NewReadyActionFromSettings reads the height and angle from the named settings. The key "@"
// keeps the current height or angle.
func NewReadyActionFromSettings(m *Manipulator, heightKey, angleKey string, leave bool) (*ReadyAction, error) {
	height, err := m.settingOr(heightKey, m.lift.Height)
	if err != nil {
		return nil, err
	}
	angle, err := m.settingOr(angleKey, m.rotator.Angle)
	if err != nil {
		return nil, err
	}
	return newReadyAction(m, height, angle, leave, heightKey+" "+angleKey)
}

func (m *Manipulator) settingOr(key string, current func() float64) (float64, error) {
	if key == currentPosition {
		return current(), nil
	}
	return m.robot.Settings.Float64(key)
}

func newReadyAction(m *Manipulator, height, angle float64, leave bool, desc string) (*ReadyAction, error) {
	a := &ReadyAction{m: m, height: height, angle: angle, leave: leave, desc: desc}

	var err error
	if a.safeHeight, err = m.lift.GoToHeight(m.rotator.SafeRotateHeight() + m.ready.SafeHeightMargin); err != nil {
		return nil, errors.Wrap(err, "building safe height goal")
	}
	if a.finalHeight, err = m.lift.GoToHeight(height); err != nil {
		return nil, errors.Wrap(err, "building final height goal")
	}
	if a.rotate, err = m.rotator.GoToAngle(angle); err != nil {
		return nil, errors.Wrap(err, "building rotate goal")
	}
	if a.extend, err = m.holder.ExtendArm(); err != nil {
		return nil, errors.Wrap(err, "building extend goal")
	}
	if a.retract, err = m.holder.RetractArm(); err != nil {
		return nil, errors.Wrap(err, "building retract goal")
	}
	return a, nil
}

// State returns the current step.
func (a *ReadyAction) State() State {
	return a.state
}

// Err returns the rejected assignment that aborted the action, if any.
func (a *ReadyAction) Err() error {
	return a.err
}

// Height returns the final lift height.
func (a *ReadyAction) Height() float64 {
	return a.height
}

// Angle returns the final turntable angle.
func (a *ReadyAction) Angle() float64 {
	return a.angle
}

func (a *ReadyAction) aligned() bool {
	return math.Abs(utils.NormalizeAngleDeg(a.m.rotator.Angle()-a.angle)) < a.m.ready.AngleTolerance
}

func (a *ReadyAction) needsExtension() bool {
	h := a.m.holder
	return h.HasHatch() && !a.aligned() && !h.IsDeployed() && !a.leave
}

// Start picks the first step from the current state of the parts.
func (a *ReadyAction) Start() {
	a.err = nil
	a.extended = false
	a.previous = Idle
	if math.Abs(a.m.rotator.AngularVelocity()) > a.m.ready.TurntableVelocityThreshold {
		a.state = WaitForStop
		return
	}
	a.begin()
}

func (a *ReadyAction) begin() {
	if a.needsExtension() {
		if a.assign(a.m.holder, a.extend) {
			a.extended = true
			a.state = ExtendHolder
		}
		return
	}
	a.turnAndLift()
}

func (a *ReadyAction) turnAndLift() {
	switch {
	case a.aligned():
		if a.assign(a.m.lift, a.finalHeight) {
			a.state = LifterFinalHeight
		}
	case a.m.rotator.IsSafeToRotate():
		lift, next := a.safeHeight, TurntableAndSafeHeight
		if a.height > a.m.rotator.SafeRotateHeight() {
			lift, next = a.finalHeight, TurntableAndLift
		}
		if a.assign(a.m.lift, lift) && a.assign(a.m.rotator, a.rotate) {
			a.state = next
		}
	default:
		if a.assign(a.m.lift, a.safeHeight) {
			a.state = LifterSafeHeight
		}
	}
}

func (a *ReadyAction) finish() {
	if a.extended {
		if a.assign(a.m.holder, a.retract) {
			a.state = RetractHolder
		}
		return
	}
	a.state = Idle
}

// assign hands child to a part. A rejected assignment aborts the whole action, cancelling only
// the goals it already handed out.
func (a *ReadyAction) assign(to action.Assigner, child action.Action) bool {
	if err := to.SetAction(child); err != nil {
		a.m.Logger().Warnw("ready action aborted", "action", a.String(), "state", a.state.String(), "error", err)
		a.releaseGoals()
		a.err = err
		a.state = Idle
		return false
	}
	return true
}

// Run advances the state machine once the current step's goals are done.
func (a *ReadyAction) Run() {
	if a.state != a.previous {
		a.m.Logger().Debugw("ready action state", "from", a.previous.String(), "to", a.state.String())
		a.previous = a.state
	}

	switch a.state {
	case WaitForStop:
		if math.Abs(a.m.rotator.AngularVelocity()) < a.m.ready.TurntableVelocityThreshold {
			a.begin()
		}
	case ExtendHolder:
		if a.extend.IsDone() {
			a.turnAndLift()
		}
	case RetractHolder:
		if a.retract.IsDone() {
			a.state = Idle
		}
	case LifterSafeHeight:
		if a.safeHeight.IsDone() {
			a.turnAndLift()
		}
	case TurntableAndSafeHeight:
		if a.rotate.IsDone() && a.safeHeight.IsDone() {
			if a.assign(a.m.lift, a.finalHeight) {
				a.state = LifterFinalHeight
			}
		}
	case TurntableAndLift:
		if a.rotate.IsDone() && a.finalHeight.IsDone() {
			a.finish()
		}
	case LifterFinalHeight:
		if a.finalHeight.IsDone() {
			a.finish()
		}
	case Idle:
	}
}

// IsDone reports whether the action is idle.
func (a *ReadyAction) IsDone() bool {
	return a.state == Idle
}

// Cancel stops the lift and turntable. The holder keeps its position.
func (a *ReadyAction) Cancel() {
	if a.state == Idle {
		return
	}
	a.stopParts()
	a.state = Idle
}

func (a *ReadyAction) stopParts() {
	a.m.rotator.CancelAction()
	a.m.lift.CancelAction()
}

func (a *ReadyAction) releaseGoals() {
	owned := []struct {
		part  action.Assigner
		goals []action.Action
	}{
		{a.m.lift, []action.Action{a.safeHeight, a.finalHeight}},
		{a.m.rotator, []action.Action{a.rotate}},
		{a.m.holder, []action.Action{a.extend, a.retract}},
	}
	for _, o := range owned {
		current := o.part.Action()
		for _, goal := range o.goals {
			if current == goal {
				o.part.CancelAction()
			}
		}
	}
}

func (a *ReadyAction) String() string {
	return "ReadyAction " + a.desc
}
