package robot

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/subsystem"
)

// Scheduler ticks an explicit ordered list of subsystems. Every subsystem refreshes its state
// before any of them runs.
type Scheduler struct {
	robot      *Robot
	subsystems []subsystem.Subsystem
	program    action.Action
	logger     logging.Logger
}

// NewScheduler returns a scheduler that ticks subsystems in the given order.
func NewScheduler(r *Robot, subsystems ...subsystem.Subsystem) *Scheduler {
	return &Scheduler{
		robot:      r,
		subsystems: subsystems,
		logger:     r.Logger().Sublogger("scheduler"),
	}
}

// Robot returns the robot whose time the scheduler advances.
func (s *Scheduler) Robot() *Robot {
	return s.robot
}

// Subsystems returns the subsystems in tick order.
func (s *Scheduler) Subsystems() []subsystem.Subsystem {
	return s.subsystems
}

// SetProgram starts a top-level action that is run after every subsystem on each tick. Any
// previous program that has not finished is cancelled.
func (s *Scheduler) SetProgram(a action.Action) {
	if s.program != nil && !s.program.IsDone() {
		s.program.Cancel()
	}
	s.program = a
	if a != nil {
		s.logger.Infow("starting program", "action", a.String())
		a.Start()
	}
}

// Program returns the running top-level action, or nil when it has finished.
func (s *Scheduler) Program() action.Action {
	return s.program
}

// Tick runs one cycle: advance robot time, ComputeState on every subsystem, Run on every
// subsystem, then the program. A failure or panic in one subsystem does not stop the others.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.robot.advance()

	var errs error
	for _, ss := range s.subsystems {
		errs = multierr.Append(errs, s.guard(ss, "compute state", func() error { return ss.ComputeState(ctx) }))
	}
	for _, ss := range s.subsystems {
		errs = multierr.Append(errs, s.guard(ss, "run", func() error { return ss.Run(ctx) }))
	}
	return multierr.Append(errs, s.runProgram())
}

func (s *Scheduler) runProgram() (err error) {
	if s.program == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("program panicked", "action", s.program.String(), "panic", r)
			err = errors.Errorf("program %s panicked: %v", s.program, r)
			s.program = nil
		}
	}()
	if !s.program.IsDone() {
		s.program.Run()
	}
	if s.program.IsDone() {
		s.logger.Infow("program done", "action", s.program.String())
		s.program = nil
	}
	return nil
}

// guard calls fn and turns a panic into an error. The panicking subsystem's action is cancelled.
func (s *Scheduler) guard(ss subsystem.Subsystem, stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("subsystem panicked", "subsystem", ss.Name(), "stage", stage, "panic", r)
			err = errors.Errorf("subsystem %s panicked during %s: %v", ss.Name(), stage, r)
			s.cancelAfterPanic(ss)
		}
	}()
	if err := fn(); err != nil {
		return errors.Wrapf(err, "subsystem %s %s", ss.Name(), stage)
	}
	return nil
}

func (s *Scheduler) cancelAfterPanic(ss subsystem.Subsystem) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("cancel after panic also panicked", "subsystem", ss.Name(), "panic", r)
		}
	}()
	ss.CancelAction()
}

// CancelAll cancels the program and every subsystem's action.
func (s *Scheduler) CancelAll() {
	if s.program != nil {
		if !s.program.IsDone() {
			s.program.Cancel()
		}
		s.program = nil
	}
	for _, ss := range s.subsystems {
		ss.CancelAction()
	}
}

func (s *Scheduler) String() string {
	names := make([]string, 0, len(s.subsystems))
	for _, ss := range s.subsystems {
		names = append(names, ss.Name())
	}
	return fmt.Sprintf("scheduler %v", names)
}
