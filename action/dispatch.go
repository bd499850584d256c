package action

import "fmt"

// DispatchAction hands an action to an assigner, such as a subsystem, and optionally waits for it.
type DispatchAction struct {
	Terminal
	target Assigner
	act    Action
	block  bool
	err    error
}

// Dispatch returns an action that assigns act to target when started. With block set it finishes
// when act is done, otherwise as soon as the assignment is made. A rejected assignment finishes
// the dispatch and is reported by Err.
func Dispatch(target Assigner, act Action, block bool) *DispatchAction {
	return &DispatchAction{target: target, act: act, block: block}
}

// Err returns the assignment error, if any.
func (d *DispatchAction) Err() error {
	return d.err
}

// Start assigns the action.
func (d *DispatchAction) Start() {
	d.Restart()
	d.err = d.target.SetAction(d.act)
	if d.err != nil || !d.block {
		d.Finish()
		return
	}
	d.check()
}

func (d *DispatchAction) check() {
	if d.act.IsDone() {
		d.Finish()
	}
}

// Run polls the dispatched action. The target runs it.
func (d *DispatchAction) Run() {
	if !d.IsDone() {
		d.check()
	}
}

// Cancel cancels the dispatched action when this dispatch is still waiting on it.
func (d *DispatchAction) Cancel() {
	if !d.IsDone() && d.target.Action() == d.act {
		d.target.CancelAction()
	}
	d.Finish()
}

func (d *DispatchAction) String() string {
	mode := "non-blocking"
	if d.block {
		mode = "blocking"
	}
	return fmt.Sprintf("Dispatch %s (%s)", d.act, mode)
}
