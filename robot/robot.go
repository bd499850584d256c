// Package robot ties subsystems together: it owns robot time and the fixed-order scheduler that
// ticks every subsystem.
package robot

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/paths"
	"github.com/phaser-robotics/xerocore/telemetry"
)

// DefaultPeriod is the nominal tick period.
const DefaultPeriod = 20 * time.Millisecond

// Robot holds the collaborators shared by every subsystem and action.
type Robot struct {
	Settings  *config.Store
	Paths     *paths.Manager
	Telemetry telemetry.Sink

	logger logging.Logger
	clock  clock.Clock
	period time.Duration

	start time.Time
	now   time.Time
	last  time.Time
	ticks int64
}

// Option configures a Robot.
type Option func(*Robot)

// WithClock sets the robot clock. Tests use a mock clock.
func WithClock(clk clock.Clock) Option {
	return func(r *Robot) {
		r.clock = clk
	}
}

// WithPeriod sets the nominal tick period.
func WithPeriod(period time.Duration) Option {
	return func(r *Robot) {
		if period > 0 {
			r.period = period
		}
	}
}

// WithPaths sets the trajectory store.
func WithPaths(m *paths.Manager) Option {
	return func(r *Robot) {
		r.Paths = m
	}
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(r *Robot) {
		r.Telemetry = sink
	}
}

// New returns a robot whose time starts now.
func New(settings *config.Store, logger logging.Logger, opts ...Option) *Robot {
	r := &Robot{
		Settings:  settings,
		Paths:     paths.NewManager("."),
		Telemetry: telemetry.Discard{},
		logger:    logger,
		clock:     clock.New(),
		period:    DefaultPeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Settings == nil {
		r.Settings = config.NewStore(nil)
	}
	r.start = r.clock.Now()
	r.now = r.start
	r.last = r.start
	return r
}

// Logger returns the robot's root logger.
func (r *Robot) Logger() logging.Logger {
	return r.logger
}

// Clock returns the robot clock.
func (r *Robot) Clock() clock.Clock {
	return r.clock
}

// Period returns the nominal tick period.
func (r *Robot) Period() time.Duration {
	return r.period
}

// Now returns the timestamp of the current tick.
func (r *Robot) Now() time.Time {
	return r.now
}

// Time returns seconds since the robot started, as of the current tick.
func (r *Robot) Time() float64 {
	return r.now.Sub(r.start).Seconds()
}

// DeltaTime returns the spacing between the current and previous tick. When the clock did not
// advance the nominal period is returned.
func (r *Robot) DeltaTime() time.Duration {
	if dt := r.now.Sub(r.last); dt > 0 {
		return dt
	}
	return r.period
}

// Ticks returns how many ticks have run.
func (r *Robot) Ticks() int64 {
	return r.ticks
}

func (r *Robot) advance() {
	r.last = r.now
	r.now = r.clock.Now()
	r.ticks++
}
