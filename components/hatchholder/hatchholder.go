// Package hatchholder implements the pneumatic hatch holder: an arm extended and retracted by a
// pair of solenoids, hooks that grip the hatch, and an analog sensor that detects a held hatch.
package hatchholder

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/hardware"
	"github.com/phaser-robotics/xerocore/robot"
	"github.com/phaser-robotics/xerocore/subsystem"
)

// Name is the subsystem name and the settings prefix.
const Name = "hatchholder"

// Config holds the sensor threshold and timings, in seconds.
type Config struct {
	HatchPresentThreshold float64 `json:"hatch_present_threshold"`
	Debounce              float64 `json:"debounce"`
	Arm                   struct {
		Duration float64 `json:"duration"`
	} `json:"arm"`
}

// Validate ensures the timings are usable.
func (cfg *Config) Validate(path string) error {
	if cfg.Debounce < 0 {
		return goutils.NewConfigValidationError(path, errors.New("debounce must not be negative"))
	}
	if cfg.Arm.Duration <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("arm:duration must be positive"))
	}
	return nil
}

// Hardware is the set of devices the holder owns. Hooks and FullyExtended are optional.
type Hardware struct {
	Extend        hardware.Solenoid
	Retract       hardware.Solenoid
	Hooks         hardware.Solenoid
	Sensor        hardware.AnalogInput
	FullyExtended hardware.DigitalInput
}

// HatchHolder holds a hatch on a pneumatic arm.
type HatchHolder struct {
	subsystem.Base

	robot *robot.Robot
	hw    Hardware
	cfg   Config

	hasHatch      *debounced
	fullyExtended *debounced
	reading       float64
	deployed      bool

	extend, retract bool
	hooks           bool
}

// New returns a holder configured from the hatchholder section of the robot settings. The arm
// starts retracted.
func New(r *robot.Robot, hw Hardware) (*HatchHolder, error) {
	if hw.Extend == nil || hw.Retract == nil || hw.Sensor == nil {
		return nil, errors.New("hatchholder needs extend and retract solenoids and a sensor")
	}
	var cfg Config
	if err := r.Settings.Decode(Name, &cfg, "hatch_present_threshold", "arm"); err != nil {
		return nil, err
	}
	delay := time.Duration(cfg.Debounce * float64(time.Second))

	hh := &HatchHolder{
		robot:         r,
		hw:            hw,
		cfg:           cfg,
		hasHatch:      newDebounced(delay),
		fullyExtended: newDebounced(delay),
		retract:       true,
	}
	hh.Base = subsystem.NewBase(Name, r.Logger().Sublogger(Name), hh.accept, nil)
	return hh, nil
}

func (hh *HatchHolder) accept(a action.Action) string {
	switch act := a.(type) {
	case *ArmAction:
		if act.hh == hh {
			return ""
		}
	case *HookAction:
		if act.hh == hh {
			if hh.hw.Hooks == nil {
				return "no hook solenoid"
			}
			return ""
		}
	}
	return "not an action for this hatch holder"
}

// Config returns the holder configuration.
func (hh *HatchHolder) Config() Config {
	return hh.cfg
}

// ComputeState reads the hatch sensor and the extension switch.
func (hh *HatchHolder) ComputeState(ctx context.Context) error {
	if err := hh.Base.ComputeState(ctx); err != nil {
		return err
	}
	reading, err := hh.hw.Sensor.Read(ctx)
	if err != nil {
		return errors.Wrap(err, "reading hatch sensor")
	}
	hh.reading = reading
	now := hh.robot.Now()
	if hh.hasHatch.update(reading >= hh.cfg.HatchPresentThreshold, now) {
		hh.Logger().Debugw("hatch presence changed", "present", hh.hasHatch.value, "reading", reading)
	}

	if hh.hw.FullyExtended != nil {
		extended, err := hh.hw.FullyExtended.Get(ctx)
		if err != nil {
			return errors.Wrap(err, "reading arm extension switch")
		}
		hh.fullyExtended.update(extended, now)
	}
	return nil
}

// Run runs the current action and writes the solenoids. Pneumatics hold their position, so an
// idle holder keeps the last commanded state.
func (hh *HatchHolder) Run(ctx context.Context) error {
	hh.RunAction()
	if err := hh.hw.Extend.Set(ctx, hh.extend); err != nil {
		return errors.Wrap(err, "setting extend solenoid")
	}
	if err := hh.hw.Retract.Set(ctx, hh.retract); err != nil {
		return errors.Wrap(err, "setting retract solenoid")
	}
	if hh.hw.Hooks != nil {
		if err := hh.hw.Hooks.Set(ctx, hh.hooks); err != nil {
			return errors.Wrap(err, "setting hook solenoid")
		}
	}
	return nil
}

func (hh *HatchHolder) setArm(extend bool) {
	hh.extend = extend
	hh.retract = !extend
	hh.deployed = extend
}

// StopArm releases both arm solenoids. The arm stays where it is and IsDeployed keeps the last
// commanded direction.
func (hh *HatchHolder) StopArm() {
	hh.extend = false
	hh.retract = false
}

// EnableHooks engages the hooks on the next Run.
func (hh *HatchHolder) EnableHooks() {
	hh.hooks = true
}

// DisableHooks releases the hooks on the next Run.
func (hh *HatchHolder) DisableHooks() {
	hh.hooks = false
}

// AreHooksEnabled reports whether the hooks were last commanded on.
func (hh *HatchHolder) AreHooksEnabled() bool {
	return hh.hooks
}

// HasHooks reports whether the holder has a hook solenoid.
func (hh *HatchHolder) HasHooks() bool {
	return hh.hw.Hooks != nil
}

// HasHatch reports whether a hatch is held, after debouncing.
func (hh *HatchHolder) HasHatch() bool {
	return hh.hasHatch.value
}

// SensorReading returns the raw hatch sensor value.
func (hh *HatchHolder) SensorReading() float64 {
	return hh.reading
}

// IsDeployed reports whether the arm was last commanded out.
func (hh *HatchHolder) IsDeployed() bool {
	return hh.deployed
}

// IsFullyExtended reports whether the extension switch is closed. It is false without a switch.
func (hh *HatchHolder) IsFullyExtended() bool {
	return hh.fullyExtended.value
}

// ExtendArm returns an action extending the arm.
func (hh *HatchHolder) ExtendArm() (action.Action, error) {
	return NewArmAction(hh, Extend), nil
}

// RetractArm returns an action retracting the arm.
func (hh *HatchHolder) RetractArm() (action.Action, error) {
	return NewArmAction(hh, Retract), nil
}

// ArmOperation is the direction an ArmAction moves the arm.
type ArmOperation int

const (
	// Extend pushes the arm out.
	Extend ArmOperation = iota
	// Retract pulls the arm in.
	Retract
)

func (op ArmOperation) String() string {
	if op == Extend {
		return "extend"
	}
	return "retract"
}

// ArmAction moves the arm and waits for it to travel.
type ArmAction struct {
	hh    *HatchHolder
	op    ArmOperation
	start time.Time
	done  bool
}

// NewArmAction returns an action moving the arm.
func NewArmAction(hh *HatchHolder, op ArmOperation) *ArmAction {
	return &ArmAction{hh: hh, op: op, done: true}
}

// Operation returns the direction the action moves the arm.
func (a *ArmAction) Operation() ArmOperation {
	return a.op
}

// Start commands the solenoids.
func (a *ArmAction) Start() {
	a.done = false
	a.start = a.hh.robot.Now()
	a.hh.setArm(a.op == Extend)
}

// Run finishes once the arm has had time to travel, or when extending, once the extension switch
// closes.
func (a *ArmAction) Run() {
	if a.done {
		return
	}
	if a.op == Extend && a.hh.hw.FullyExtended != nil && a.hh.IsFullyExtended() {
		a.done = true
		return
	}
	duration := time.Duration(a.hh.cfg.Arm.Duration * float64(time.Second))
	if a.hh.robot.Now().Sub(a.start) >= duration {
		a.done = true
	}
}

// IsDone reports whether the arm finished moving.
func (a *ArmAction) IsDone() bool {
	return a.done
}

// Cancel stops waiting and releases the arm solenoids.
func (a *ArmAction) Cancel() {
	if !a.done {
		a.hh.StopArm()
	}
	a.done = true
}

func (a *ArmAction) String() string {
	return fmt.Sprintf("HatchHolderArmAction %s", a.op)
}

// HookAction engages or releases the hooks. It finishes as soon as it is started.
type HookAction struct {
	hh     *HatchHolder
	enable bool
	done   bool
}

// NewHookAction returns an action setting the hooks.
func NewHookAction(hh *HatchHolder, enable bool) *HookAction {
	return &HookAction{hh: hh, enable: enable, done: true}
}

// Enable reports whether the action engages the hooks.
func (a *HookAction) Enable() bool {
	return a.enable
}

// Start commands the hook solenoid.
func (a *HookAction) Start() {
	if a.enable {
		a.hh.EnableHooks()
	} else {
		a.hh.DisableHooks()
	}
	a.done = true
}

// Run does nothing; the solenoid is written by the holder.
func (a *HookAction) Run() {}

// IsDone reports whether the hooks were commanded.
func (a *HookAction) IsDone() bool {
	return a.done
}

// Cancel marks the action done.
func (a *HookAction) Cancel() {
	a.done = true
}

func (a *HookAction) String() string {
	if a.enable {
		return "HatchHolderHookAction enable"
	}
	return "HatchHolderHookAction disable"
}

// debounced is a boolean that only changes after its input has held the new value for delay.
type debounced struct {
	delay   time.Duration
	value   bool
	pending bool
	since   time.Time
	primed  bool
}

func newDebounced(delay time.Duration) *debounced {
	return &debounced{delay: delay}
}

// update feeds a raw sample taken at now and reports whether the debounced value changed.
func (d *debounced) update(raw bool, now time.Time) bool {
	if !d.primed {
		d.value, d.pending, d.since, d.primed = raw, raw, now, true
		return false
	}
	if raw != d.pending {
		d.pending = raw
		d.since = now
	}
	if d.pending != d.value && now.Sub(d.since) >= d.delay {
		d.value = d.pending
		return true
	}
	return false
}
