package main

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/components/gamepiece"
	"github.com/phaser-robotics/xerocore/components/hatchholder"
	"github.com/phaser-robotics/xerocore/components/lifter"
	"github.com/phaser-robotics/xerocore/components/tankdrive"
	"github.com/phaser-robotics/xerocore/components/turntable"
	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/hardware/fake"
	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/robot"
	"github.com/phaser-robotics/xerocore/utils"
)

// plantConfig describes the simulated mechanisms. It is read from the optional sim section of
// the settings and must agree with the encoder scales the subsystems are configured with.
type plantConfig struct {
	Drive struct {
		MaxVelocity  float64 `json:"max_velocity"`
		TicksPerUnit float64 `json:"ticks_per_unit"`
		TrackWidth   float64 `json:"track_width"`
		Lag          float64 `json:"lag"`
	} `json:"drive"`
	Lift struct {
		MaxVelocity  float64 `json:"max_velocity"`
		TicksPerUnit float64 `json:"ticks_per_unit"`
		Travel       float64 `json:"travel"`
	} `json:"lift"`
	Turntable struct {
		MaxVelocity  float64 `json:"max_velocity"`
		TicksPerUnit float64 `json:"ticks_per_unit"`
	} `json:"turntable"`
	HatchSensor float64 `json:"hatch_sensor"`
}

func defaultPlantConfig() plantConfig {
	var cfg plantConfig
	cfg.Drive.MaxVelocity = 150
	cfg.Drive.TicksPerUnit = 100
	cfg.Drive.TrackWidth = 24
	cfg.Lift.MaxVelocity = 40
	cfg.Lift.TicksPerUnit = 20
	cfg.Lift.Travel = 60
	cfg.Turntable.MaxVelocity = 180
	cfg.Turntable.TicksPerUnit = 10
	return cfg
}

// Validate ensures the plant can be built.
func (cfg *plantConfig) Validate(path string) error {
	if cfg.Drive.MaxVelocity <= 0 || cfg.Lift.MaxVelocity <= 0 || cfg.Turntable.MaxVelocity <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("max velocities must be positive"))
	}
	if cfg.Drive.TrackWidth <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("drive track_width must be positive"))
	}
	if cfg.Lift.Travel <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("lift travel must be positive"))
	}
	return nil
}

// simRobot is the full robot wired to simulated hardware.
type simRobot struct {
	plant *fake.Sim
	robot *robot.Robot
	sched *robot.Scheduler

	hatchSensor *fake.Analog

	drive     *tankdrive.TankDrive
	lift      *lifter.Lifter
	table     *turntable.Turntable
	holder    *hatchholder.HatchHolder
	gamepiece *gamepiece.Manipulator
}

// newSimRobot builds every subsystem against the simulation, with robot time read from clk.
func newSimRobot(settings *config.Store, logger logging.Logger, clk clock.Clock, opts ...robot.Option) (*simRobot, error) {
	pc := defaultPlantConfig()
	if err := settings.Decode("sim", &pc); err != nil {
		return nil, err
	}

	s := &simRobot{plant: fake.NewSim()}
	s.robot = robot.New(settings, logger, append([]robot.Option{robot.WithClock(clk)}, opts...)...)

	lag := time.Duration(pc.Drive.Lag * float64(time.Second))
	left := s.plant.AddAxis(fake.AxisConfig{Name: "left", MaxVelocity: pc.Drive.MaxVelocity, TicksPerUnit: pc.Drive.TicksPerUnit, Lag: lag})
	right := s.plant.AddAxis(fake.AxisConfig{Name: "right", MaxVelocity: pc.Drive.MaxVelocity, TicksPerUnit: pc.Drive.TicksPerUnit, Lag: lag})
	liftAxis := s.plant.AddAxis(fake.AxisConfig{
		Name:         "lift",
		MaxVelocity:  pc.Lift.MaxVelocity,
		TicksPerUnit: pc.Lift.TicksPerUnit,
		Max:          pc.Lift.Travel,
	})
	tableAxis := s.plant.AddAxis(fake.AxisConfig{Name: "turntable", MaxVelocity: pc.Turntable.MaxVelocity, TicksPerUnit: pc.Turntable.TicksPerUnit})
	s.hatchSensor = &fake.Analog{}
	s.hatchSensor.SetValue(pc.HatchSensor)

	var err error
	if s.drive, err = tankdrive.New(s.robot, tankdrive.Hardware{
		Left:         left.Motor(),
		Right:        right.Motor(),
		LeftEncoder:  left.Encoder(),
		RightEncoder: right.Encoder(),
		Gyro:         s.plant.AddDriveGyro(left, right, pc.Drive.TrackWidth),
		Shifter:      &fake.Solenoid{},
	}); err != nil {
		return nil, errors.Wrap(err, "building tankdrive")
	}
	if s.lift, err = lifter.New(s.robot, lifter.Hardware{
		Motor:   liftAxis.Motor(),
		Encoder: liftAxis.Encoder(),
		Bottom:  liftAxis.LowerLimit(0.01),
		Top:     liftAxis.UpperLimit(pc.Lift.Travel - 0.01),
	}); err != nil {
		return nil, errors.Wrap(err, "building lifter")
	}
	if s.table, err = turntable.New(s.robot, turntable.Hardware{Motor: tableAxis.Motor(), Encoder: tableAxis.Encoder()}, s.lift); err != nil {
		return nil, errors.Wrap(err, "building turntable")
	}
	if s.holder, err = hatchholder.New(s.robot, hatchholder.Hardware{
		Extend:  &fake.Solenoid{},
		Retract: &fake.Solenoid{},
		Sensor:  s.hatchSensor,
	}); err != nil {
		return nil, errors.Wrap(err, "building hatchholder")
	}
	if s.gamepiece, err = gamepiece.New(s.robot, s.lift, s.table, s.holder); err != nil {
		return nil, errors.Wrap(err, "building gamepiece")
	}

	s.sched = robot.NewScheduler(s.robot, s.drive, s.lift, s.table, s.holder, s.gamepiece)
	return s, nil
}

// runResult summarizes a finished program.
type runResult struct {
	Ticks    int
	Elapsed  time.Duration
	Finished bool
}

// prime runs one tick so that programs are built and started on sensed state.
func (s *simRobot) prime(ctx context.Context) {
	if err := s.sched.Tick(ctx); err != nil {
		s.robot.Logger().Warnw("tick failed", "tick", s.robot.Ticks(), "error", err)
	}
}

// runStepped runs program on a mock clock, stepping the simulation once per tick, until the
// program finishes or maxTicks ticks have run.
func (s *simRobot) runStepped(ctx context.Context, mock *clock.Mock, program action.Action, maxTicks int) (runResult, error) {
	period := s.robot.Period()
	logger := s.robot.Logger()
	s.sched.SetProgram(program)

	var res runResult
	for res.Ticks < maxTicks && s.sched.Program() != nil {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.plant.Step(period)
		mock.Add(period)
		if err := s.sched.Tick(ctx); err != nil {
			logger.Warnw("tick failed", "tick", s.robot.Ticks(), "error", err)
		}
		res.Ticks++
	}
	res.Elapsed = s.plant.Elapsed()
	res.Finished = s.sched.Program() == nil
	if !res.Finished {
		s.sched.CancelAll()
	}
	return res, nil
}

// runRealtime runs program on the robot's wall clock through a robot.Loop until it finishes, ctx
// is cancelled, or maxTicks ticks have run.
func (s *simRobot) runRealtime(ctx context.Context, program action.Action, maxTicks int) (runResult, error) {
	period := s.robot.Period()
	s.sched.SetProgram(program)

	done := make(chan struct{})
	var once sync.Once
	var finished bool
	ticks := 0
	loop := robot.NewLoop(s.sched, func() {
		s.plant.Step(period)
		ticks++
		if s.sched.Program() == nil {
			finished = true
		}
		if finished || ticks >= maxTicks {
			once.Do(func() { close(done) })
		}
	})
	loop.Start(ctx)

	select {
	case <-ctx.Done():
	case <-done:
	}
	// Stop waits for the loop goroutine, so finished is safe to read afterwards.
	loop.Stop()

	stats := loop.Stats()
	if stats.Overruns > 0 {
		s.robot.Logger().Warnw("loop overran its period", "overruns", stats.Overruns, "ticks", stats.Ticks)
	}
	res := runResult{Ticks: int(stats.Ticks), Elapsed: s.plant.Elapsed(), Finished: finished}
	if !finished && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

// logState reports where every mechanism ended up.
func (s *simRobot) logState() {
	s.robot.Logger().Infow("final state",
		"distance", s.drive.Distance(),
		"heading", utils.NormalizeAngleDeg(s.drive.Heading()),
		"height", s.lift.Height(),
		"angle", s.table.Angle(),
		"hatch", s.holder.HasHatch(),
		"holder_deployed", s.holder.IsDeployed(),
		"hooks", s.holder.AreHooksEnabled(),
	)
}
