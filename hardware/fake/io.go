package fake

import (
	"context"
	"sync"
)

// Switch is a settable digital input.
type Switch struct {
	mu    sync.Mutex
	value bool
}

// Set changes the switch state.
func (s *Switch) Set(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

// Get returns the switch state.
func (s *Switch) Get(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

// Analog is a settable analog input.
type Analog struct {
	mu    sync.Mutex
	value float64
}

// SetValue changes the reading.
func (a *Analog) SetValue(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = v
}

// Read returns the reading.
func (a *Analog) Read(context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, nil
}

// Solenoid records the commanded valve state.
type Solenoid struct {
	mu       sync.Mutex
	on       bool
	switches int
}

// Set commands the valve. Only changes of state are counted.
func (s *Solenoid) Set(_ context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.on != on {
		s.switches++
	}
	s.on = on
	return nil
}

// On returns the commanded state.
func (s *Solenoid) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Switches returns how many times the state changed.
func (s *Solenoid) Switches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches
}
