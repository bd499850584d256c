package tankdrive

import (
	"fmt"

	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/control"
	"github.com/phaser-robotics/xerocore/paths"
	"github.com/phaser-robotics/xerocore/telemetry"
	"github.com/phaser-robotics/xerocore/utils"
)

const angleCorrectionKey = "tankdrive:follower:angle_correction"

var followPathColumns = []string{
	"time",
	"ltpos", "lapos", "ltvel", "lavel", "ltaccel", "lout", "lticks",
	"rtpos", "rapos", "rtvel", "ravel", "rtaccel", "rout", "rticks",
	"thead", "ahead",
}

// FollowPathAction plays back a precomputed trajectory, one step per tick, with an independent
// tracker per side and a proportional heading correction.
type FollowPathAction struct {
	td      *TankDrive
	path    *paths.Path
	reverse bool

	left            *control.Follower
	right           *control.Follower
	angleCorrection float64

	index        int
	startTime    float64
	leftStart    float64
	rightStart   float64
	startHeading float64
	targetStart  float64

	plot   telemetry.PlotID
	inPlot bool
}

// NewFollowPathAction returns an action following the named trajectory. With reverse set the
// robot drives the trajectory backward. An unknown trajectory is a configuration error.
func NewFollowPathAction(td *TankDrive, name string, reverse bool) (*FollowPathAction, error) {
	path, err := td.robot.Paths.Path(name)
	if err != nil {
		return nil, err
	}

	store := td.robot.Settings
	left, err := control.NewFollowerFromSettings(store, leftFollowerPrefix)
	if err != nil {
		return nil, err
	}
	right, err := control.NewFollowerFromSettings(store, rightFollowerPrefix)
	if err != nil {
		return nil, err
	}
	correction, err := store.Float64(angleCorrectionKey)
	if err != nil {
		return nil, err
	}
	if path.Len() == 0 {
		return nil, config.NewInvalidValueError(name, fmt.Errorf("trajectory %q is empty", name))
	}

	return &FollowPathAction{
		td:              td,
		path:            path,
		reverse:         reverse,
		left:            left,
		right:           right,
		angleCorrection: correction,
		index:           path.Len(),
	}, nil
}

func (a *FollowPathAction) tankDrive() *TankDrive {
	return a.td
}

// Start records the drivetrain position and heading the trajectory is relative to.
func (a *FollowPathAction) Start() {
	r := a.td.robot
	a.index = 0
	a.startTime = r.Time()
	a.leftStart = a.td.LeftDistance()
	a.rightStart = a.td.RightDistance()
	a.startHeading = a.td.Heading()
	a.targetStart = a.path.Left[0].Heading
	a.left.Reset()
	a.right.Reset()
	if a.td.HasShifter() {
		a.td.HighGear()
	}

	a.plot = r.Telemetry.StartPlot(a.String(), followPathColumns)
	a.inPlot = true
}

// steps returns the targets of both sides at the current index. Reversed traversal swaps the
// sides and negates them.
func (a *FollowPathAction) steps() (left, right paths.Segment) {
	lseg, rseg := a.path.Left[a.index], a.path.Right[a.index]
	if !a.reverse {
		return lseg, rseg
	}
	negate := func(s paths.Segment) paths.Segment {
		return paths.Segment{
			Position:     -s.Position,
			Velocity:     -s.Velocity,
			Acceleration: -s.Acceleration,
			Heading:      s.Heading,
		}
	}
	return negate(rseg), negate(lseg)
}

// Run tracks one trajectory step.
func (a *FollowPathAction) Run() {
	if a.index < a.path.Len() {
		r := a.td.robot
		dt := r.DeltaTime()
		lseg, rseg := a.steps()

		ldist := a.td.LeftDistance() - a.leftStart
		rdist := a.td.RightDistance() - a.rightStart
		lout := a.left.Output(lseg.Acceleration, lseg.Velocity, lseg.Position, ldist, dt)
		rout := a.right.Output(rseg.Acceleration, rseg.Velocity, rseg.Position, rdist, dt)

		thead := utils.NormalizeAngleDeg(a.path.Left[a.index].Heading - a.targetStart)
		ahead := utils.NormalizeAngleDeg(a.td.Heading() - a.startHeading)
		turn := a.angleCorrection * utils.NormalizeAngleDeg(thead-ahead)
		lout += turn
		rout -= turn
		a.td.setPower(lout, rout)

		r.Telemetry.AddRow(a.plot,
			r.Time()-a.startTime,
			lseg.Position, ldist, lseg.Velocity, a.td.LeftVelocity(), lseg.Acceleration, lout, a.td.LeftTicks(),
			rseg.Position, rdist, rseg.Velocity, a.td.RightVelocity(), rseg.Acceleration, rout, a.td.RightTicks(),
			thead, ahead,
		)
	}

	a.index++
	if a.index >= a.path.Len() {
		a.endPlot()
	}
}

func (a *FollowPathAction) endPlot() {
	if a.inPlot {
		a.td.robot.Telemetry.EndPlot(a.plot)
		a.inPlot = false
	}
}

// Index returns the next trajectory step to run.
func (a *FollowPathAction) Index() int {
	return a.index
}

// IsDone reports whether every step has been run.
func (a *FollowPathAction) IsDone() bool {
	return a.index >= a.path.Len()
}

// Cancel skips to the end of the trajectory.
func (a *FollowPathAction) Cancel() {
	a.index = a.path.Len()
	a.td.setPower(0, 0)
	a.endPlot()
}

func (a *FollowPathAction) String() string {
	return "TankDriveFollowPathAction-" + a.path.Name
}
