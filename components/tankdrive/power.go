package tankdrive

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/telemetry"
)

var powerColumns = []string{"time", "lpos", "rpos", "lvel", "rvel", "lout", "rout", "ahead"}

// PowerAction applies fixed powers to both sides for a duration and records how the drivetrain
// responds. It is used to characterize the drivetrain when tuning the trackers.
type PowerAction struct {
	td          *TankDrive
	duration    time.Duration
	left, right float64
	highGear    bool

	startTime  time.Time
	leftStart  float64
	rightStart float64
	done       bool

	plot   telemetry.PlotID
	inPlot bool
}

// NewPowerAction returns an action applying left and right power for duration.
func NewPowerAction(td *TankDrive, duration time.Duration, left, right float64, highGear bool) (*PowerAction, error) {
	if duration <= 0 {
		return nil, config.NewInvalidValueError("duration", errors.Errorf("duration %v must be positive", duration))
	}
	return &PowerAction{
		td:       td,
		duration: duration,
		left:     left,
		right:    right,
		highGear: highGear,
		done:     true,
	}, nil
}

func (a *PowerAction) tankDrive() *TankDrive {
	return a.td
}

// Start shifts gears and begins recording.
func (a *PowerAction) Start() {
	r := a.td.robot
	a.done = false
	a.startTime = r.Now()
	a.leftStart = a.td.LeftDistance()
	a.rightStart = a.td.RightDistance()
	if a.highGear {
		a.td.HighGear()
	} else {
		a.td.LowGear()
	}
	a.td.setPower(a.left, a.right)
	a.plot = r.Telemetry.StartPlot(a.String(), powerColumns)
	a.inPlot = true
}

// Run holds the powers until the duration has passed.
func (a *PowerAction) Run() {
	if a.done {
		return
	}
	r := a.td.robot
	elapsed := r.Now().Sub(a.startTime)
	if elapsed >= a.duration {
		a.finish()
		return
	}

	a.td.setPower(a.left, a.right)
	r.Telemetry.AddRow(a.plot,
		elapsed.Seconds(),
		a.td.LeftDistance()-a.leftStart, a.td.RightDistance()-a.rightStart,
		a.td.LeftVelocity(), a.td.RightVelocity(),
		a.left, a.right,
		a.td.Heading(),
	)
}

func (a *PowerAction) finish() {
	a.done = true
	a.td.setPower(0, 0)
	if a.inPlot {
		a.td.robot.Telemetry.EndPlot(a.plot)
		a.inPlot = false
	}
}

// IsDone reports whether the duration has passed.
func (a *PowerAction) IsDone() bool {
	return a.done
}

// Cancel stops the motors.
func (a *PowerAction) Cancel() {
	a.finish()
}

func (a *PowerAction) String() string {
	return fmt.Sprintf("TankDrivePowerAction %v %v %v", a.left, a.right, a.duration)
}
