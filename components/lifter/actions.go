package lifter

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/control"
)

const (
	gotoPrefix      = "lifter:goto"
	followerPrefix  = "lifter:follower"
	calibratePower  = "lifter:calibrate:power"
	currentPosition = "@"
)

// GoToHeightAction moves the lift to a height along a trapezoidal profile.
type GoToHeightAction struct {
	l    *Lifter
	move *control.Move
}

// NewGoToHeightAction returns an action moving the lift to height. A height outside the lift's
// travel is a configuration error.
func NewGoToHeightAction(l *Lifter, height float64) (*GoToHeightAction, error) {
	if height < l.cfg.MinHeight || height > l.cfg.MaxHeight {
		return nil, config.NewOutOfRangeError(config.Join(gotoPrefix, "height"), height, l.cfg.MinHeight, l.cfg.MaxHeight)
	}
	move, err := control.NewMoveFromSettings(l.robot.Settings, gotoPrefix, followerPrefix)
	if err != nil {
		return nil, err
	}
	move.SetTarget(height)
	return &GoToHeightAction{l: l, move: move}, nil
}

// NewGoToHeightActionFromSetting reads the height from the named setting. The key "@" means the
// lift's height when the action is built.
func NewGoToHeightActionFromSetting(l *Lifter, key string) (*GoToHeightAction, error) {
	if key == currentPosition {
		return NewGoToHeightAction(l, l.Height())
	}
	height, err := l.robot.Settings.Float64(key)
	if err != nil {
		return nil, err
	}
	return NewGoToHeightAction(l, height)
}

func (a *GoToHeightAction) lifter() *Lifter {
	return a.l
}

// Target returns the height the action moves to.
func (a *GoToHeightAction) Target() float64 {
	return a.move.Target()
}

// Start plans the move from the current height.
func (a *GoToHeightAction) Start() {
	a.move.Start(a.l.robot.Time(), a.l.Height())
	if a.move.IsDone() {
		a.l.setPower(0)
		return
	}
	a.l.Logger().Debugw("lifter moving", "from", a.l.Height(), "to", a.move.Target(), "profile", a.move.Profile().String())
}

// Run tracks the plan for one tick.
func (a *GoToHeightAction) Run() {
	r := a.l.robot
	a.l.setPower(a.move.Update(r.Time(), a.l.Height(), r.DeltaTime()))
}

// IsDone reports whether the lift reached the target.
func (a *GoToHeightAction) IsDone() bool {
	return a.move.IsDone()
}

// Cancel stops the lift where it is.
func (a *GoToHeightAction) Cancel() {
	a.move.Stop()
	a.l.setPower(0)
}

func (a *GoToHeightAction) String() string {
	return fmt.Sprintf("LifterGoToHeightAction %v", a.move.Target())
}

// CalibrateAction drives the lift down until the bottom limit switch closes, then takes that
// position as the base height.
type CalibrateAction struct {
	l     *Lifter
	power float64
	done  bool
}

// NewCalibrateAction returns a calibration action. The lift needs a bottom limit switch.
func NewCalibrateAction(l *Lifter) (*CalibrateAction, error) {
	if l.hw.Bottom == nil {
		return nil, errors.New("lifter cannot calibrate without a bottom limit switch")
	}
	power, err := l.robot.Settings.Float64(calibratePower)
	if err != nil {
		return nil, err
	}
	if power == 0 {
		return nil, config.NewInvalidValueError(calibratePower, errors.New("power must be non-zero"))
	}
	return &CalibrateAction{l: l, power: -math.Abs(power), done: true}, nil
}

func (a *CalibrateAction) lifter() *Lifter {
	return a.l
}

// Start forgets the current calibration.
func (a *CalibrateAction) Start() {
	a.done = false
	a.l.calibrated = false
	a.l.setPower(a.power)
}

// Run drives down until the switch closes.
func (a *CalibrateAction) Run() {
	if a.done {
		return
	}
	if a.l.IsAtBottom() {
		a.l.calibrate()
		a.l.setPower(0)
		a.done = true
		return
	}
	a.l.setPower(a.power)
}

// IsDone reports whether the lift is calibrated.
func (a *CalibrateAction) IsDone() bool {
	return a.done
}

// Cancel stops the lift. The lift stays uncalibrated.
func (a *CalibrateAction) Cancel() {
	a.done = true
	a.l.setPower(0)
}

func (a *CalibrateAction) String() string {
	return "LifterCalibrateAction"
}

// PowerAction applies a fixed power, for a duration or until cancelled when duration is zero.
type PowerAction struct {
	l        *Lifter
	power    float64
	duration time.Duration
	start    time.Time
	done     bool
}

// NewPowerAction returns an action applying power to the lift.
func NewPowerAction(l *Lifter, power float64, duration time.Duration) *PowerAction {
	return &PowerAction{l: l, power: power, duration: duration, done: true}
}

func (a *PowerAction) lifter() *Lifter {
	return a.l
}

// Start applies the power.
func (a *PowerAction) Start() {
	a.done = false
	a.start = a.l.robot.Now()
	a.l.setPower(a.power)
}

// Run holds the power until the duration has passed.
func (a *PowerAction) Run() {
	if a.done {
		return
	}
	if a.duration > 0 && a.l.robot.Now().Sub(a.start) >= a.duration {
		a.Cancel()
		return
	}
	a.l.setPower(a.power)
}

// IsDone reports whether the duration has passed.
func (a *PowerAction) IsDone() bool {
	return a.done
}

// Cancel stops the lift.
func (a *PowerAction) Cancel() {
	a.done = true
	a.l.setPower(0)
}

func (a *PowerAction) String() string {
	return fmt.Sprintf("LifterPowerAction %v %v", a.power, a.duration)
}
