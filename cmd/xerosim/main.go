// Package main runs the robot's actions against a simulated robot.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/components/gamepiece"
	"github.com/phaser-robotics/xerocore/components/tankdrive"
	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/paths"
	"github.com/phaser-robotics/xerocore/robot"
	"github.com/phaser-robotics/xerocore/telemetry"
)

const (
	// Global flags.
	flagSettings  = "settings"
	flagPaths     = "paths"
	flagTelemetry = "telemetry"
	flagLogFile   = "log-file"
	flagMaxTicks  = "max-ticks"
	flagPeriod    = "period"
	flagTimeout   = "timeout"
	flagRealtime  = "realtime"
	flagDebug     = "debug"

	// Command flags.
	flagDistance    = "distance"
	flagMaxVelocity = "max-velocity"
	flagName        = "name"
	flagReverse     = "reverse"
	flagHeight      = "height"
	flagAngle       = "angle"
	flagLeave       = "leave"
	flagHatch       = "hatch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	var logger logging.Logger
	var closeLog func() error

	return &cli.App{
		Name:  "xerosim",
		Usage: "run robot actions against a simulated robot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagSettings,
				Aliases:  []string{"s"},
				Usage:    "load robot settings from YAML `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:  flagPaths,
				Usage: "load trajectories from `DIR`",
			},
			&cli.StringFlag{
				Name:  flagTelemetry,
				Usage: "write telemetry plots as CSV and PNG into `DIR`",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also log to a size-rotated `FILE`",
			},
			&cli.IntFlag{
				Name:  flagMaxTicks,
				Usage: "stop the program after this many ticks",
				Value: 3000,
			},
			&cli.DurationFlag{
				Name:  flagPeriod,
				Usage: "tick period",
				Value: robot.DefaultPeriod,
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Usage: "cancel the program after this much robot time, 0 for none",
			},
			&cli.BoolFlag{
				Name:  flagRealtime,
				Usage: "tick on the wall clock and reload settings when the file changes",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			logger = logging.NewWriterLogger("xerosim", logging.INFO, c.App.ErrWriter)
			if c.Bool(flagDebug) {
				logger.SetLevel(logging.DEBUG)
			}
			if path := c.String(flagLogFile); path != "" {
				appender, closer := logging.NewFileAppender(path, 0)
				logger.AddAppender(appender)
				closeLog = closer.Close
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "drive",
				Usage:     "drive straight for a distance",
				UsageText: "xerosim --settings FILE drive --distance INCHES",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagDistance, Usage: "distance to drive, negative for backwards", Required: true},
					&cli.Float64Flag{Name: flagMaxVelocity, Usage: "override the profile's maximum velocity"},
				},
				Action: func(c *cli.Context) error {
					return simulate(c, logger, nil, func(s *simRobot) (*action.DispatchAction, error) {
						var opts []tankdrive.DistanceOption
						if c.IsSet(flagMaxVelocity) {
							opts = append(opts, tankdrive.WithMaxVelocity(c.Float64(flagMaxVelocity)))
						}
						act, err := tankdrive.NewDistanceAction(s.drive, c.Float64(flagDistance), opts...)
						if err != nil {
							return nil, err
						}
						return action.Dispatch(s.drive, act, true), nil
					})
				},
			},
			{
				Name:      "path",
				Usage:     "follow a loaded trajectory",
				UsageText: "xerosim --settings FILE --paths DIR path --name NAME [--reverse]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagName, Usage: "trajectory name", Required: true},
					&cli.BoolFlag{Name: flagReverse, Usage: "drive the trajectory backwards"},
				},
				Action: func(c *cli.Context) error {
					return simulate(c, logger, nil, func(s *simRobot) (*action.DispatchAction, error) {
						act, err := tankdrive.NewFollowPathAction(s.drive, c.String(flagName), c.Bool(flagReverse))
						if err != nil {
							return nil, err
						}
						return action.Dispatch(s.drive, act, true), nil
					})
				},
			},
			{
				Name:      "ready",
				Usage:     "bring the lift and turntable to a height and angle",
				UsageText: "xerosim --settings FILE ready --height H --angle A [--leave] [--hatch]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagHeight, Usage: "height, setting key, or @ for the current height", Value: "@"},
					&cli.StringFlag{Name: flagAngle, Usage: "angle, setting key, or @ for the current angle", Value: "@"},
					&cli.BoolFlag{Name: flagLeave, Usage: "do not extend the hatch holder"},
					&cli.BoolFlag{Name: flagHatch, Usage: "start holding a hatch"},
				},
				Action: func(c *cli.Context) error {
					prepare := func(settings *config.Store) error {
						if !c.Bool(flagHatch) {
							return nil
						}
						threshold, err := settings.Float64("hatchholder:hatch_present_threshold")
						if err != nil {
							return err
						}
						settings.Set("sim:hatch_sensor", threshold+1)
						return nil
					}
					return simulate(c, logger, prepare, func(s *simRobot) (*action.DispatchAction, error) {
						act, err := newReadyAction(s.gamepiece, s.robot.Settings, c.String(flagHeight), c.String(flagAngle), c.Bool(flagLeave))
						if err != nil {
							return nil, err
						}
						return action.Dispatch(s.gamepiece, act, true), nil
					})
				},
			},
		},
	}
}

// newReadyAction accepts numbers as well as setting keys for the height and angle.
func newReadyAction(m *gamepiece.Manipulator, settings *config.Store, height, angle string, leave bool) (*gamepiece.ReadyAction, error) {
	h, hErr := cast.ToFloat64E(height)
	a, aErr := cast.ToFloat64E(angle)
	if hErr == nil && aErr == nil {
		return gamepiece.NewReadyAction(m, h, a, leave)
	}
	if hErr == nil {
		height = config.Join("xerosim", "height")
		settings.Set(height, h)
	}
	if aErr == nil {
		angle = config.Join("xerosim", "angle")
		settings.Set(angle, a)
	}
	return gamepiece.NewReadyActionFromSettings(m, height, angle, leave)
}

type programBuilder func(s *simRobot) (*action.DispatchAction, error)

// simulate builds the simulated robot from the global flags, runs the program and reports the
// outcome. prepare may adjust the settings before anything is built.
func simulate(c *cli.Context, logger logging.Logger, prepare func(*config.Store) error, build programBuilder) (err error) {
	ctx := c.Context
	settingsPath := c.String(flagSettings)
	settings, err := config.Load(settingsPath)
	if err != nil {
		return err
	}
	if prepare != nil {
		if err := prepare(settings); err != nil {
			return err
		}
	}

	// Closing the file sinks waits for their queued plots to be written.
	sinks := []telemetry.Sink{}
	defer func() {
		err = multierr.Combine(err, telemetry.CloseAll(sinks...))
	}()
	if dir := c.String(flagTelemetry); dir != "" {
		csvSink, err := telemetry.NewCSVWriter(dir, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, csvSink)
		pngSink, err := telemetry.NewPNGWriter(dir, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, pngSink)
	}

	trajectories := paths.NewManager(".")
	if dir := c.String(flagPaths); dir != "" {
		trajectories = paths.NewManager(dir)
		names, err := trajectories.LoadAll()
		if err != nil {
			return err
		}
		logger.Infow("loaded trajectories", "dir", dir, "names", names)
	}

	realtime := c.Bool(flagRealtime)
	var clk clock.Clock
	var mock *clock.Mock
	if realtime {
		clk = clock.New()
	} else {
		mock = clock.NewMock()
		clk = mock
	}

	s, err := newSimRobot(settings, logger, clk,
		robot.WithPeriod(c.Duration(flagPeriod)),
		robot.WithPaths(trajectories),
		robot.WithTelemetry(telemetry.Tee(sinks...)),
	)
	if err != nil {
		return err
	}

	if realtime {
		watcher, err := config.Watch(settingsPath, settings, logger)
		if err != nil {
			return err
		}
		defer watcher.Stop()
	}

	s.prime(ctx)
	dispatch, err := build(s)
	if err != nil {
		return err
	}
	var program action.Action = dispatch
	var timeout *action.TimeoutAction
	if limit := c.Duration(flagTimeout); limit > 0 {
		timeout = action.Timeout(clk, limit, dispatch)
		program = timeout
	}

	started := time.Now()
	var res runResult
	if realtime {
		res, err = s.runRealtime(ctx, program, c.Int(flagMaxTicks))
	} else {
		res, err = s.runStepped(ctx, mock, program, c.Int(flagMaxTicks))
	}
	if err != nil {
		return err
	}
	s.logState()
	logger.Infow("program ended", "program", program.String(), "ticks", res.Ticks,
		"robot_time", res.Elapsed, "wall_time", time.Since(started))

	fmt.Fprintf(c.App.Writer, "%s: %d ticks, %v\n", program, res.Ticks, res.Elapsed)
	switch {
	case dispatch.Err() != nil:
		return dispatch.Err()
	case timeout != nil && timeout.TimedOut():
		return errors.Errorf("%s timed out after %v", dispatch, c.Duration(flagTimeout))
	case !res.Finished:
		return errors.Errorf("%s did not finish in %d ticks", program, res.Ticks)
	}
	return nil
}
