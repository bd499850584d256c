// Package control contains the motion profile and the closed loop trackers used by actions to turn
// a plan into actuator commands.
package control

import (
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/phaser-robotics/xerocore/config"
)

// FollowerConfig holds the gains of a feed-forward plus PD tracker.
type FollowerConfig struct {
	KV float64 `json:"kv"`
	KA float64 `json:"ka"`
	KP float64 `json:"kp"`
	KD float64 `json:"kd"`
}

// Validate ensures the feed-forward velocity gain is usable.
func (cfg *FollowerConfig) Validate(path string) error {
	if cfg.KV < 0 || cfg.KA < 0 {
		return goutils.NewConfigValidationError(path, errors.New("feed-forward gains must be non-negative"))
	}
	return nil
}

// Follower turns a target acceleration, velocity and position into a command:
//
//	kv*v + ka*a + kp*e + kd*de/dt
//
// where e is the position error.
type Follower struct {
	cfg       FollowerConfig
	lastError float64
	primed    bool
}

// NewFollower returns a tracker with the given gains.
func NewFollower(cfg FollowerConfig) *Follower {
	return &Follower{cfg: cfg}
}

// NewFollowerFromSettings reads kv, ka, kp and kd under prefix. All four are required.
func NewFollowerFromSettings(store *config.Store, prefix string) (*Follower, error) {
	var cfg FollowerConfig
	if err := store.Decode(prefix, &cfg, "kv", "ka", "kp", "kd"); err != nil {
		return nil, err
	}
	return NewFollower(cfg), nil
}

// Config returns the gains.
func (f *Follower) Config() FollowerConfig {
	return f.cfg
}

// Reset forgets the previous error so the next derivative term is zero.
func (f *Follower) Reset() {
	f.lastError = 0
	f.primed = false
}

// Output computes the command for one cycle. dt is the time since the previous call.
func (f *Follower) Output(accel, vel, targetPos, actualPos float64, dt time.Duration) float64 {
	e := targetPos - actualPos
	var deriv float64
	if f.primed && dt > 0 {
		deriv = (e - f.lastError) / dt.Seconds()
	}
	f.lastError = e
	f.primed = true

	return f.cfg.KV*vel + f.cfg.KA*accel + f.cfg.KP*e + f.cfg.KD*deriv
}
