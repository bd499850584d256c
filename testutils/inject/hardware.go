package inject

import (
	"context"
)

// Motor is an injected motor. Without SetPowerFunc it records the last power.
type Motor struct {
	SetPowerFunc func(ctx context.Context, power float64) error
	Power        float64
}

// SetPower calls the injected SetPower or records the power.
func (m *Motor) SetPower(ctx context.Context, power float64) error {
	if m.SetPowerFunc != nil {
		return m.SetPowerFunc(ctx, power)
	}
	m.Power = power
	return nil
}

// Encoder is an injected encoder. Without PositionFunc it returns Ticks.
type Encoder struct {
	PositionFunc func(ctx context.Context) (float64, error)
	Ticks        float64
}

// Position calls the injected Position or returns Ticks.
func (e *Encoder) Position(ctx context.Context) (float64, error) {
	if e.PositionFunc != nil {
		return e.PositionFunc(ctx)
	}
	return e.Ticks, nil
}

// Gyro is an injected gyro. Without YawFunc it returns Degrees.
type Gyro struct {
	YawFunc func(ctx context.Context) (float64, error)
	Degrees float64
}

// Yaw calls the injected Yaw or returns Degrees.
func (g *Gyro) Yaw(ctx context.Context) (float64, error) {
	if g.YawFunc != nil {
		return g.YawFunc(ctx)
	}
	return g.Degrees, nil
}

// DigitalInput is an injected digital input. Without GetFunc it returns Value.
type DigitalInput struct {
	GetFunc func(ctx context.Context) (bool, error)
	Value   bool
}

// Get calls the injected Get or returns Value.
func (d *DigitalInput) Get(ctx context.Context) (bool, error) {
	if d.GetFunc != nil {
		return d.GetFunc(ctx)
	}
	return d.Value, nil
}

// AnalogInput is an injected analog input. Without ReadFunc it returns Value.
type AnalogInput struct {
	ReadFunc func(ctx context.Context) (float64, error)
	Value    float64
}

// Read calls the injected Read or returns Value.
func (a *AnalogInput) Read(ctx context.Context) (float64, error) {
	if a.ReadFunc != nil {
		return a.ReadFunc(ctx)
	}
	return a.Value, nil
}

// Solenoid is an injected solenoid. Without SetFunc it records the state.
type Solenoid struct {
	SetFunc func(ctx context.Context, on bool) error
	On      bool
}

// Set calls the injected Set or records the state.
func (s *Solenoid) Set(ctx context.Context, on bool) error {
	if s.SetFunc != nil {
		return s.SetFunc(ctx, on)
	}
	s.On = on
	return nil
}
