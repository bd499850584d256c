package tankdrive

import (
	"fmt"
	"math"
	"sort"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/control"
	"github.com/phaser-robotics/xerocore/telemetry"
	"github.com/phaser-robotics/xerocore/utils"
)

const (
	distanceActionPrefix = "tankdrive:distance_action"
	anglePIDPrefix       = "tankdrive:distance_action:angle_pid"
	leftFollowerPrefix   = "tankdrive:follower:left"
	rightFollowerPrefix  = "tankdrive:follower:right"
)

var distanceColumns = []string{"time", "tpos", "apos", "tvel", "avel", "taccel", "lout", "rout", "ahead"}

// distanceSettings holds the completion and re-planning thresholds of a DistanceAction.
type distanceSettings struct {
	DistanceThreshold  float64 `json:"distance_threshold"`
	OutdatedErrorLong  float64 `json:"profile_outdated_error_long"`
	OutdatedErrorShort float64 `json:"profile_outdated_error_short"`
	OutdatedErrorDist  float64 `json:"profile_outdated_error_dist"`
}

type trigger struct {
	distance float64
	act      action.Action
}

// DistanceAction drives straight for a distance along a trapezoidal profile. When the drivetrain
// falls too far behind or ahead of the plan, the rest of the move is re-planned from the current
// velocity. A heading controller keeps the robot on the heading it had at start.
type DistanceAction struct {
	td       *TankDrive
	target   float64
	dir      float64
	settings distanceSettings

	profile  *control.TrapezoidalProfile
	follower *control.Follower
	anglePID *control.PID

	// Progress is measured along the direction of travel. leg is the direction of the current
	// plan relative to it, -1 after an overshoot.
	startTime    float64
	startHeading float64
	profileStart float64
	origin       float64
	accumulated  float64
	leg          float64
	replans      int
	done         bool

	triggers []trigger
	running  []action.Action

	plot   telemetry.PlotID
	inPlot bool
}

// DistanceOption changes how a DistanceAction is built.
type DistanceOption func(*distanceOptions)

type distanceOptions struct {
	maxVelocity float64
}

// WithMaxVelocity overrides the profile's velocity limit.
func WithMaxVelocity(v float64) DistanceOption {
	return func(o *distanceOptions) {
		o.maxVelocity = v
	}
}

// NewDistanceAction returns an action that drives distance inches. Negative distances drive
// backward.
func NewDistanceAction(td *TankDrive, distance float64, opts ...DistanceOption) (*DistanceAction, error) {
	var o distanceOptions
	for _, opt := range opts {
		opt(&o)
	}

	store := td.robot.Settings
	var settings distanceSettings
	if err := store.Decode(distanceActionPrefix, &settings,
		"distance_threshold",
		"profile_outdated_error_long",
		"profile_outdated_error_short",
		"profile_outdated_error_dist",
	); err != nil {
		return nil, err
	}

	maxa, err := store.Float64(config.Join(distanceActionPrefix, "maxa"))
	if err != nil {
		return nil, err
	}
	maxd, err := store.Float64(config.Join(distanceActionPrefix, "maxd"))
	if err != nil {
		return nil, err
	}
	maxv := o.maxVelocity
	if maxv == 0 {
		if maxv, err = store.Float64(config.Join(distanceActionPrefix, "maxv")); err != nil {
			return nil, err
		}
	}
	profile, err := control.NewTrapezoidalProfile(maxa, maxd, maxv)
	if err != nil {
		return nil, err
	}

	follower, err := control.NewFollowerFromSettings(store, leftFollowerPrefix)
	if err != nil {
		return nil, err
	}
	anglePID, err := control.NewPIDFromSettings(store, anglePIDPrefix)
	if err != nil {
		return nil, err
	}

	dir := 1.0
	if distance < 0 {
		dir = -1
	}
	return &DistanceAction{
		td:       td,
		target:   distance,
		dir:      dir,
		settings: settings,
		profile:  profile,
		follower: follower,
		anglePID: anglePID,
		leg:      1,
		done:     true,
	}, nil
}

// NewDistanceActionFromSetting reads the distance from the named setting.
func NewDistanceActionFromSetting(td *TankDrive, key string, opts ...DistanceOption) (*DistanceAction, error) {
	distance, err := td.robot.Settings.Float64(key)
	if err != nil {
		return nil, err
	}
	return NewDistanceAction(td, distance, opts...)
}

func (a *DistanceAction) tankDrive() *TankDrive {
	return a.td
}

// Target returns the requested distance.
func (a *DistanceAction) Target() float64 {
	return a.target
}

// AddTriggeredAction starts act once the drive has travelled more than distance inches in the
// direction of travel. Triggered actions are run by this action until they finish. Once the drive
// reaches its target, unfinished triggered actions are no longer run or cancelled, so an action
// that must complete should be a Dispatch to the subsystem that owns it.
func (a *DistanceAction) AddTriggeredAction(distance float64, act action.Action) {
	a.triggers = append(a.triggers, trigger{distance: distance, act: act})
	sort.SliceStable(a.triggers, func(i, j int) bool {
		return a.triggers[i].distance < a.triggers[j].distance
	})
}

// AddTriggeredActionFromSetting reads the trigger distance from the named setting.
func (a *DistanceAction) AddTriggeredActionFromSetting(key string, act action.Action) error {
	distance, err := a.td.robot.Settings.Float64(key)
	if err != nil {
		return err
	}
	a.AddTriggeredAction(distance, act)
	return nil
}

// Active returns the triggered actions that have started and are being run.
func (a *DistanceAction) Active() []action.Action {
	return append([]action.Action(nil), a.running...)
}

// Replans returns how many times the move was re-planned since it started.
func (a *DistanceAction) Replans() int {
	return a.replans
}

// Start plans the move from the current position.
func (a *DistanceAction) Start() {
	r := a.td.robot
	a.done = false
	a.startTime = r.Time()
	a.profileStart = a.startTime
	a.origin = a.td.Distance()
	a.accumulated = 0
	a.leg = 1
	a.replans = 0
	a.startHeading = a.td.Heading()
	a.running = nil

	a.profile.Update(math.Abs(a.target), 0, 0)
	a.follower.Reset()
	a.anglePID.Reset()
	if a.td.HasShifter() {
		a.td.LowGear()
	}

	a.plot = r.Telemetry.StartPlot(a.String(), distanceColumns)
	a.inPlot = true
	a.td.Logger().Debugw("distance drive started", "target", a.target, "profile", a.profile.String())
}

// Run advances the drive by one tick.
func (a *DistanceAction) Run() {
	if a.done {
		a.td.setPower(0, 0)
		return
	}

	r := a.td.robot
	dt := r.DeltaTime()
	goal := math.Abs(a.target)
	progress := a.dir * (a.td.Distance() - a.origin)
	total := a.accumulated + progress

	if math.Abs(total-goal) <= a.settings.DistanceThreshold {
		a.finish()
		a.td.Logger().Debugw("distance drive complete", "time", r.Time()-a.startTime, "distance", total)
		a.checkTriggers(total)
		return
	}

	elapsed := r.Time() - a.profileStart
	remaining := goal - total
	profileError := math.Abs(a.leg*a.profile.DistanceAt(elapsed) - progress)
	if a.outdated(remaining, profileError) {
		a.accumulated = total
		a.profileStart = r.Time()
		a.origin = a.td.Distance()
		elapsed = 0
		progress = 0
		a.leg = 1
		if remaining < 0 {
			a.leg = -1
		}
		a.profile.Update(math.Abs(remaining), a.leg*a.dir*a.td.Velocity(), 0)
		a.follower.Reset()
		a.replans++
		a.td.Logger().Debugw("fell behind velocity profile, updating profile", "profile", a.profile.String())
	}

	taccel := a.leg * a.profile.AccelerationAt(elapsed)
	tvel := a.leg * a.profile.VelocityAt(elapsed)
	tpos := a.leg * a.profile.DistanceAt(elapsed)
	base := a.dir * a.follower.Output(taccel, tvel, tpos, progress, dt)

	heading := utils.NormalizeAngleDeg(a.td.Heading() - a.startHeading)
	correction := a.anglePID.Output(0, heading, dt)
	left := base - correction
	right := base + correction
	a.td.setPower(left, right)

	r.Telemetry.AddRow(a.plot,
		r.Time()-a.startTime,
		a.accumulated+tpos, total,
		tvel, a.dir*a.td.Velocity(),
		taccel,
		left, right,
		heading,
	)
	a.checkTriggers(total)
}

func (a *DistanceAction) outdated(remaining, profileError float64) bool {
	s := a.settings
	if math.Abs(remaining) < s.OutdatedErrorDist {
		return profileError > s.OutdatedErrorShort
	}
	return math.Abs(remaining) > s.OutdatedErrorDist && profileError > s.OutdatedErrorLong
}

// checkTriggers starts the triggered actions whose distance has been passed, drops the ones that
// finished, and runs the rest.
func (a *DistanceAction) checkTriggers(total float64) {
	for len(a.triggers) > 0 && total > a.triggers[0].distance {
		act := a.triggers[0].act
		a.triggers = a.triggers[1:]
		a.td.Logger().Debugw("starting triggered action", "action", act.String(), "distance", total)
		act.Start()
		if !act.IsDone() {
			a.running = append(a.running, act)
		}
	}

	running := a.running[:0]
	for _, act := range a.running {
		if !act.IsDone() {
			running = append(running, act)
		}
	}
	a.running = running

	for _, act := range a.running {
		act.Run()
	}
}

func (a *DistanceAction) finish() {
	a.done = true
	a.td.setPower(0, 0)
	if a.inPlot {
		a.td.robot.Telemetry.EndPlot(a.plot)
		a.inPlot = false
	}
}

// IsDone reports whether the drive has finished or was cancelled.
func (a *DistanceAction) IsDone() bool {
	return a.done
}

// Cancel stops the drive and every running triggered action.
func (a *DistanceAction) Cancel() {
	for _, act := range a.running {
		act.Cancel()
	}
	a.running = nil
	a.finish()
}

func (a *DistanceAction) String() string {
	return fmt.Sprintf("TankDriveDistanceAction %v", a.target)
}
