// Package subsystem contains the single-action slot shared by every subsystem of the robot.
package subsystem

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/phaser-robotics/xerocore/action"
	"github.com/phaser-robotics/xerocore/logging"
)

// Subsystem owns a set of actuators and sensors and runs at most one action at a time.
type Subsystem interface {
	action.Assigner

	Name() string
	// ComputeState reads the hardware once per tick. It never actuates.
	ComputeState(ctx context.Context) error
	// Run advances the current action and writes the resulting actuator commands.
	Run(ctx context.Context) error
}

// RejectedAssignmentError is returned by SetAction when the subsystem's gate refuses an action.
type RejectedAssignmentError struct {
	Subsystem string
	Action    string
	Reason    string
}

func (e *RejectedAssignmentError) Error() string {
	return fmt.Sprintf("subsystem %q rejected action %q: %s", e.Subsystem, e.Action, e.Reason)
}

// IsRejectedAssignment returns whether err is, or wraps, a RejectedAssignmentError.
func IsRejectedAssignment(err error) bool {
	var rejected *RejectedAssignmentError
	return errors.As(err, &rejected)
}

// AcceptFunc is a subsystem's gate. It returns a non-empty reason to refuse the action.
type AcceptFunc func(a action.Action) (reason string)

// AcceptAll is a gate that accepts every action.
func AcceptAll(action.Action) string {
	return ""
}

// Base is the action slot embedded by every subsystem.
type Base struct {
	name    string
	logger  logging.Logger
	accept  AcceptFunc
	neutral func()

	current action.Action
	// fresh is set when the current action was assigned after this tick's ComputeState, so it
	// has not yet seen a full tick of sensed state.
	fresh bool
}

// NewBase returns a slot for the named subsystem. neutral is called whenever the slot is idle at
// run time or an action is cancelled and must command zero output.
func NewBase(name string, logger logging.Logger, accept AcceptFunc, neutral func()) Base {
	if accept == nil {
		accept = AcceptAll
	}
	if neutral == nil {
		neutral = func() {}
	}
	return Base{name: name, logger: logger, accept: accept, neutral: neutral}
}

// Name returns the subsystem's name.
func (b *Base) Name() string {
	return b.name
}

// Logger returns the subsystem's logger.
func (b *Base) Logger() logging.Logger {
	return b.logger
}

// Action returns the current action or nil.
func (b *Base) Action() action.Action {
	return b.current
}

// IsBusy reports whether a non-done action is assigned.
func (b *Base) IsBusy() bool {
	return b.current != nil && !b.current.IsDone()
}

// SetAction replaces the current action with a, if the gate accepts it. The previous action is
// cancelled when it has not finished. a is started immediately and first runs on the next tick.
func (b *Base) SetAction(a action.Action) error {
	if a == nil {
		return errors.New("cannot assign a nil action")
	}
	if reason := b.accept(a); reason != "" {
		b.logger.Debugw("rejected action", "action", a.String(), "reason", reason)
		return &RejectedAssignmentError{Subsystem: b.name, Action: a.String(), Reason: reason}
	}

	previous := b.current
	b.current = a
	b.fresh = true
	if previous != nil && !previous.IsDone() {
		b.logger.Debugw("replacing action", "previous", previous.String(), "next", a.String())
		previous.Cancel()
	}

	b.logger.Debugw("starting action", "action", a.String())
	a.Start()
	return nil
}

// CancelAction cancels and clears the current action and commands neutral output.
func (b *Base) CancelAction() {
	if b.current != nil {
		b.logger.Debugw("cancelling action", "action", b.current.String())
		b.current.Cancel()
		b.current = nil
	}
	b.fresh = false
	b.neutral()
}

// ComputeState marks the start of a tick. Subsystems call it before reading their sensors.
func (b *Base) ComputeState(context.Context) error {
	b.fresh = false
	return nil
}

// RunAction runs the current action for one tick. Finished actions are cleared and an idle slot
// commands neutral output.
func (b *Base) RunAction() {
	if b.current != nil && b.current.IsDone() {
		b.finished()
	}
	if b.current == nil {
		b.neutral()
		return
	}
	if b.fresh {
		return
	}

	b.current.Run()
	if b.current.IsDone() {
		b.finished()
	}
}

func (b *Base) finished() {
	b.logger.Debugw("action done", "action", b.current.String())
	b.current = nil
}
