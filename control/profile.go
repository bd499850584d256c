package control

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/phaser-robotics/xerocore/config"
)

// ProfileConfig holds the kinematic limits of a trapezoidal profile.
type ProfileConfig struct {
	MaxAccel    float64 `json:"maxa"`
	MaxDecel    float64 `json:"maxd"`
	MaxVelocity float64 `json:"maxv"`
}

// Validate ensures all limits are positive.
func (cfg *ProfileConfig) Validate(path string) error {
	if cfg.MaxAccel <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("maxa must be positive"))
	}
	if cfg.MaxDecel <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("maxd must be positive"))
	}
	if cfg.MaxVelocity <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("maxv must be positive"))
	}
	return nil
}

// TrapezoidalProfile is a three phase motion plan: change speed to a cruise velocity, hold it,
// then decelerate to rest exactly at the target distance. Phases collapse when the distance is
// too short for them.
type TrapezoidalProfile struct {
	cfg ProfileConfig

	distance float64
	v0       float64

	accel   float64 // signed acceleration of the first phase
	decel   float64 // magnitude of the final deceleration
	cruise  float64
	ta      float64
	tc      float64
	td      float64
	dAccel  float64
	dCruise float64
}

// NewTrapezoidalProfile returns an empty profile with the given limits. Call Update to plan it.
func NewTrapezoidalProfile(maxAccel, maxDecel, maxVelocity float64) (*TrapezoidalProfile, error) {
	cfg := ProfileConfig{MaxAccel: maxAccel, MaxDecel: maxDecel, MaxVelocity: maxVelocity}
	if err := cfg.Validate("profile"); err != nil {
		return nil, config.NewInvalidValueError("profile", err)
	}
	return &TrapezoidalProfile{cfg: cfg}, nil
}

// NewTrapezoidalProfileFromSettings reads maxa, maxd and maxv under prefix.
func NewTrapezoidalProfileFromSettings(store *config.Store, prefix string) (*TrapezoidalProfile, error) {
	var cfg ProfileConfig
	if err := store.Decode(prefix, &cfg, "maxa", "maxd", "maxv"); err != nil {
		return nil, err
	}
	return &TrapezoidalProfile{cfg: cfg}, nil
}

// Config returns the limits of the profile.
func (p *TrapezoidalProfile) Config() ProfileConfig {
	return p.cfg
}

// SetMaxVelocity overrides the velocity limit for later calls to Update.
func (p *TrapezoidalProfile) SetMaxVelocity(v float64) {
	if v > 0 {
		p.cfg.MaxVelocity = v
	}
}

// Update plans a move of distance starting at velocity v0. The initial acceleration is accepted
// for symmetry with callers that track it; the plan may change acceleration discontinuously.
func (p *TrapezoidalProfile) Update(distance, v0, _ float64) {
	*p = TrapezoidalProfile{cfg: p.cfg, v0: v0}
	if distance <= 0 {
		p.v0 = 0
		return
	}
	p.distance = distance

	maxa, maxd, maxv := p.cfg.MaxAccel, p.cfg.MaxDecel, p.cfg.MaxVelocity

	if v0 > 0 && v0*v0/(2*maxd) >= distance {
		// Too fast to stop in time at maxd: one deceleration phase that lands on the target.
		p.cruise = v0
		p.decel = v0 * v0 / (2 * distance)
		p.td = v0 / p.decel
		return
	}

	p.decel = maxd
	if v0 > maxv {
		p.cruise = maxv
	} else {
		p.cruise = maxv
		dUp := (maxv*maxv - v0*v0) / (2 * maxa)
		dDown := maxv * maxv / (2 * maxd)
		if dUp+dDown > distance {
			p.cruise = math.Sqrt((distance + v0*v0/(2*maxa)) / (1/(2*maxa) + 1/(2*maxd)))
		}
	}

	if p.cruise >= v0 {
		p.accel = maxa
	} else {
		p.accel = -maxd
	}
	p.ta = (p.cruise - v0) / p.accel
	p.dAccel = (p.cruise*p.cruise - v0*v0) / (2 * p.accel)
	dDown := p.cruise * p.cruise / (2 * maxd)
	p.dCruise = math.Max(0, distance-p.dAccel-dDown)
	p.tc = p.dCruise / p.cruise
	p.td = p.cruise / maxd
}

// TotalTime returns the duration of the profile in seconds.
func (p *TrapezoidalProfile) TotalTime() float64 {
	return p.ta + p.tc + p.td
}

// PhaseTimes returns the accelerate, cruise and decelerate durations in seconds.
func (p *TrapezoidalProfile) PhaseTimes() (accel, cruise, decel float64) {
	return p.ta, p.tc, p.td
}

// Distance returns the planned distance.
func (p *TrapezoidalProfile) Distance() float64 {
	return p.distance
}

// CruiseVelocity returns the peak velocity of the plan.
func (p *TrapezoidalProfile) CruiseVelocity() float64 {
	return p.cruise
}

// sample returns distance, velocity and acceleration at t seconds.
func (p *TrapezoidalProfile) sample(t float64) (float64, float64, float64) {
	if t >= p.TotalTime() {
		return p.distance, 0, 0
	}
	if t < 0 {
		t = 0
	}
	if t < p.ta {
		return p.v0*t + 0.5*p.accel*t*t, p.v0 + p.accel*t, p.accel
	}
	t -= p.ta
	if t < p.tc {
		return p.dAccel + p.cruise*t, p.cruise, 0
	}
	t -= p.tc
	return p.dAccel + p.dCruise + p.cruise*t - 0.5*p.decel*t*t, p.cruise - p.decel*t, -p.decel
}

// DistanceAt returns the planned distance t seconds after the plan started.
func (p *TrapezoidalProfile) DistanceAt(t float64) float64 {
	d, _, _ := p.sample(t)
	return d
}

// VelocityAt returns the planned velocity t seconds after the plan started.
func (p *TrapezoidalProfile) VelocityAt(t float64) float64 {
	_, v, _ := p.sample(t)
	return v
}

// AccelerationAt returns the planned acceleration t seconds after the plan started.
func (p *TrapezoidalProfile) AccelerationAt(t float64) float64 {
	_, _, a := p.sample(t)
	return a
}

func (p *TrapezoidalProfile) String() string {
	return fmt.Sprintf("trapezoid[dist %.3f v0 %.3f ta %.3f tc %.3f td %.3f cruise %.3f]",
		p.distance, p.v0, p.ta, p.tc, p.td, p.cruise)
}
