package action

import (
	"fmt"

	"github.com/samber/lo"
)

// sequence runs its children one after another.
type sequence struct {
	Terminal
	children []Action
	index    int
}

// Sequence returns an action that runs the children in order. The next child is started on the
// tick its predecessor finishes and runs from the following tick.
func Sequence(children ...Action) Action {
	return &sequence{children: children}
}

func (s *sequence) Start() {
	s.Restart()
	s.index = 0
	s.startCurrent()
}

// startCurrent starts the child at index, skipping over children that finish on Start.
func (s *sequence) startCurrent() {
	for s.index < len(s.children) {
		child := s.children[s.index]
		child.Start()
		if !child.IsDone() {
			return
		}
		s.index++
	}
	s.Finish()
}

func (s *sequence) Run() {
	if s.IsDone() {
		return
	}
	child := s.children[s.index]
	child.Run()
	if child.IsDone() {
		s.index++
		s.startCurrent()
	}
}

func (s *sequence) Cancel() {
	if !s.IsDone() && s.index < len(s.children) {
		s.children[s.index].Cancel()
	}
	s.Finish()
}

func (s *sequence) String() string {
	return fmt.Sprintf("Sequence [%s]", Describe(s.children))
}

// parallel runs all its children at once.
type parallel struct {
	Terminal
	children []Action
}

// Parallel returns an action that starts every child together and finishes when all are done.
func Parallel(children ...Action) Action {
	return &parallel{children: children}
}

func (p *parallel) Start() {
	p.Restart()
	for _, child := range p.children {
		child.Start()
	}
	p.check()
}

func (p *parallel) check() {
	if lo.EveryBy(p.children, func(child Action) bool { return child.IsDone() }) {
		p.Finish()
	}
}

func (p *parallel) Run() {
	if p.IsDone() {
		return
	}
	for _, child := range p.children {
		if !child.IsDone() {
			child.Run()
		}
	}
	p.check()
}

func (p *parallel) Cancel() {
	for _, child := range p.children {
		if !child.IsDone() {
			child.Cancel()
		}
	}
	p.Finish()
}

func (p *parallel) String() string {
	return fmt.Sprintf("Parallel [%s]", Describe(p.children))
}
