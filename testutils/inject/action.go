// Package inject provides fakes whose behavior tests replace one method at a time.
package inject

import (
	"github.com/phaser-robotics/xerocore/action"
)

// Action is an injected action. Without injected funcs it counts calls and reports Done.
type Action struct {
	Name       string
	StartFunc  func()
	RunFunc    func()
	IsDoneFunc func() bool
	CancelFunc func()

	Done    bool
	Starts  int
	Runs    int
	Cancels int
}

// NewAction returns a new injected action with the given name.
func NewAction(name string) *Action {
	return &Action{Name: name}
}

// Start calls the injected Start and counts the call.
func (a *Action) Start() {
	a.Starts++
	if a.StartFunc != nil {
		a.StartFunc()
	}
}

// Run calls the injected Run and counts the call.
func (a *Action) Run() {
	a.Runs++
	if a.RunFunc != nil {
		a.RunFunc()
	}
}

// IsDone calls the injected IsDone or returns Done.
func (a *Action) IsDone() bool {
	if a.IsDoneFunc != nil {
		return a.IsDoneFunc()
	}
	return a.Done
}

// Cancel calls the injected Cancel or marks the action done.
func (a *Action) Cancel() {
	a.Cancels++
	if a.CancelFunc != nil {
		a.CancelFunc()
		return
	}
	a.Done = true
}

func (a *Action) String() string {
	return a.Name
}

// Assigner is an injected action.Assigner. Without injected funcs it holds one action and starts
// it on assignment.
type Assigner struct {
	SetActionFunc    func(a action.Action) error
	CancelActionFunc func()
	ActionFunc       func() action.Action

	Current action.Action
}

// SetAction calls the injected SetAction or replaces the current action.
func (as *Assigner) SetAction(a action.Action) error {
	if as.SetActionFunc != nil {
		return as.SetActionFunc(a)
	}
	if as.Current != nil && !as.Current.IsDone() {
		as.Current.Cancel()
	}
	as.Current = a
	a.Start()
	return nil
}

// CancelAction calls the injected CancelAction or cancels the current action.
func (as *Assigner) CancelAction() {
	if as.CancelActionFunc != nil {
		as.CancelActionFunc()
		return
	}
	if as.Current != nil {
		as.Current.Cancel()
		as.Current = nil
	}
}

// Action calls the injected Action or returns the current action.
func (as *Assigner) Action() action.Action {
	if as.ActionFunc != nil {
		return as.ActionFunc()
	}
	return as.Current
}
