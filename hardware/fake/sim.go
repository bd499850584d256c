// Package fake simulates the robot's mechanisms so subsystems can be exercised without hardware.
// Each axis is a first-order plant whose velocity approaches power times its maximum velocity.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/phaser-robotics/xerocore/hardware"
)

// AxisConfig describes one simulated mechanism.
type AxisConfig struct {
	Name         string
	MaxVelocity  float64 // units per second at full power
	TicksPerUnit float64
	// Lag is the time constant of the velocity response. Zero responds instantly.
	Lag time.Duration
	// Min and Max are hard stops. Both zero means unbounded.
	Min, Max float64
	// Start is the initial position.
	Start float64
}

// Axis is a simulated mechanism with one motor and one encoder.
type Axis struct {
	mu       sync.Mutex
	cfg      AxisConfig
	power    float64
	velocity float64
	position float64
	// Drift is added to the velocity every step, modeling a disturbance.
	drift float64
}

func newAxis(cfg AxisConfig) *Axis {
	if cfg.TicksPerUnit == 0 {
		cfg.TicksPerUnit = 1
	}
	return &Axis{cfg: cfg, position: cfg.Start}
}

func (a *Axis) bounded() bool {
	return a.cfg.Min != 0 || a.cfg.Max != 0
}

func (a *Axis) step(dt float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	target := a.power*a.cfg.MaxVelocity + a.drift
	if lag := a.cfg.Lag.Seconds(); lag > 0 {
		a.velocity += (target - a.velocity) * math.Min(1, dt/lag)
	} else {
		a.velocity = target
	}
	a.position += a.velocity * dt
	if a.bounded() {
		if a.position < a.cfg.Min {
			a.position, a.velocity = a.cfg.Min, 0
		} else if a.position > a.cfg.Max {
			a.position, a.velocity = a.cfg.Max, 0
		}
	}
}

// Name returns the configured name.
func (a *Axis) Name() string {
	return a.cfg.Name
}

// Position returns the position in units.
func (a *Axis) Position() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// SetPosition moves the axis without simulating the motion.
func (a *Axis) SetPosition(pos float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = pos
}

// Velocity returns the velocity in units per second.
func (a *Axis) Velocity() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.velocity
}

// SetVelocity overrides the current velocity. With a lag the axis keeps coasting toward its
// commanded velocity from there.
func (a *Axis) SetVelocity(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.velocity = v
}

// SetDrift adds a constant velocity disturbance.
func (a *Axis) SetDrift(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drift = v
}

// Power returns the last commanded power.
func (a *Axis) Power() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power
}

// Motor returns the axis motor.
func (a *Axis) Motor() hardware.Motor {
	return axisMotor{a}
}

// Encoder returns the axis encoder, reporting position times TicksPerUnit.
func (a *Axis) Encoder() hardware.Encoder {
	return axisEncoder{a}
}

// LowerLimit returns a switch that is closed at or below pos.
func (a *Axis) LowerLimit(pos float64) hardware.DigitalInput {
	return limitSwitch{a, func(p float64) bool { return p <= pos }}
}

// UpperLimit returns a switch that is closed at or above pos.
func (a *Axis) UpperLimit(pos float64) hardware.DigitalInput {
	return limitSwitch{a, func(p float64) bool { return p >= pos }}
}

type axisMotor struct {
	axis *Axis
}

func (m axisMotor) SetPower(_ context.Context, power float64) error {
	m.axis.mu.Lock()
	defer m.axis.mu.Unlock()
	m.axis.power = math.Max(-1, math.Min(1, power))
	return nil
}

type axisEncoder struct {
	axis *Axis
}

func (e axisEncoder) Position(context.Context) (float64, error) {
	return e.axis.Position() * e.axis.cfg.TicksPerUnit, nil
}

type limitSwitch struct {
	axis   *Axis
	closed func(pos float64) bool
}

func (s limitSwitch) Get(context.Context) (bool, error) {
	return s.closed(s.axis.Position()), nil
}

// Sim steps every registered plant together.
type Sim struct {
	mu     sync.Mutex
	axes   []*Axis
	gyros  []*DriveGyro
	elapse time.Duration
}

// NewSim returns an empty simulation.
func NewSim() *Sim {
	return &Sim{}
}

// AddAxis registers a new mechanism.
func (s *Sim) AddAxis(cfg AxisConfig) *Axis {
	s.mu.Lock()
	defer s.mu.Unlock()
	axis := newAxis(cfg)
	s.axes = append(s.axes, axis)
	return axis
}

// AddDriveGyro registers a gyro that integrates the yaw rate of a differential drive.
func (s *Sim) AddDriveGyro(left, right *Axis, trackWidth float64) *DriveGyro {
	s.mu.Lock()
	defer s.mu.Unlock()
	gyro := &DriveGyro{left: left, right: right, trackWidth: trackWidth}
	s.gyros = append(s.gyros, gyro)
	return gyro
}

// Step advances every plant by dt.
func (s *Sim) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, axis := range s.axes {
		axis.step(dt.Seconds())
	}
	for _, gyro := range s.gyros {
		gyro.step(dt.Seconds())
	}
	s.elapse += dt
}

// Elapsed returns the total simulated time.
func (s *Sim) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapse
}

// DriveGyro reports the heading of a simulated differential drive in degrees,
// counter-clockwise positive.
type DriveGyro struct {
	mu         sync.Mutex
	left       *Axis
	right      *Axis
	trackWidth float64
	yaw        float64
}

func (g *DriveGyro) step(dt float64) {
	rate := (g.right.Velocity() - g.left.Velocity()) / g.trackWidth
	g.mu.Lock()
	defer g.mu.Unlock()
	g.yaw += rate * dt * 180 / math.Pi
}

// SetYaw overrides the heading.
func (g *DriveGyro) SetYaw(deg float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.yaw = deg
}

// Yaw returns the heading in degrees.
func (g *DriveGyro) Yaw(context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.yaw, nil
}
