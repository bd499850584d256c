// Package action defines the unit of work run by subsystems and the generic actions that compose
// other actions.
//
// An Action is started once when it is assigned, then run once per tick by its owner until it
// reports done or is cancelled. Run must never block: waiting is expressed by staying in the
// current state and checking again on the next tick.
package action

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Action is a resumable unit of work.
type Action interface {
	// Start initializes the action from the current sensed state. It runs when the action is
	// assigned.
	Start()
	// Run advances the action by one tick and issues at most one actuator command.
	Run()
	// IsDone reports whether the action has finished.
	IsDone() bool
	// Cancel forces the action into its terminal state, commands neutral output and cancels any
	// child actions it owns.
	Cancel()
	// String describes the action for logs.
	String() string
}

// Assigner accepts actions. Subsystems are assigners.
type Assigner interface {
	SetAction(a Action) error
	CancelAction()
	Action() Action
}

// Describe joins the descriptions of several actions.
func Describe(actions []Action) string {
	return strings.Join(lo.Map(actions, func(a Action, _ int) string { return a.String() }), ", ")
}

// Terminal is embedded by actions that keep a done flag.
type Terminal struct {
	done bool
}

// IsDone reports whether Finish has been called.
func (t *Terminal) IsDone() bool {
	return t.done
}

// Finish marks the action done.
func (t *Terminal) Finish() {
	t.done = true
}

// Restart clears the done flag.
func (t *Terminal) Restart() {
	t.done = false
}

// nothing is an action that is done as soon as it starts.
type nothing struct {
	Terminal
}

// Nothing returns an action that finishes immediately.
func Nothing() Action {
	return &nothing{}
}

func (n *nothing) Start()  { n.Finish() }
func (n *nothing) Run()    {}
func (n *nothing) Cancel() { n.Finish() }

func (n *nothing) String() string {
	return "Nothing"
}

// Func runs fn once when started and finishes immediately.
func Func(name string, fn func()) Action {
	return &funcAction{name: name, fn: fn}
}

type funcAction struct {
	Terminal
	name string
	fn   func()
}

func (f *funcAction) Start() {
	f.fn()
	f.Finish()
}

func (f *funcAction) Run()    {}
func (f *funcAction) Cancel() { f.Finish() }

func (f *funcAction) String() string {
	return fmt.Sprintf("Func %s", f.name)
}
