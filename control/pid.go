package control

import (
	"time"

	"github.com/felixge/pidctrl"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/phaser-robotics/xerocore/config"
	"github.com/phaser-robotics/xerocore/utils"
)

// PIDConfig holds the gains and output limits of a PID controller. F is a feed-forward gain
// applied to the target. Min and Max only apply when Min < Max.
type PIDConfig struct {
	P   float64 `json:"p"`
	I   float64 `json:"i"`
	D   float64 `json:"d"`
	F   float64 `json:"f"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Validate ensures the output limits are ordered.
func (cfg *PIDConfig) Validate(path string) error {
	if cfg.Min > cfg.Max {
		return goutils.NewConfigValidationError(path, errors.Errorf("min %v is greater than max %v", cfg.Min, cfg.Max))
	}
	return nil
}

func (cfg *PIDConfig) limited() bool {
	return cfg.Min < cfg.Max
}

// PID is a heading or angle hold controller.
type PID struct {
	cfg  PIDConfig
	ctrl *pidctrl.PIDController
}

// NewPID returns a controller with the given gains.
func NewPID(cfg PIDConfig) *PID {
	pid := &PID{cfg: cfg}
	pid.Reset()
	return pid
}

// NewPIDFromSettings reads p, i and d (required) and f, min and max (optional) under prefix.
func NewPIDFromSettings(store *config.Store, prefix string) (*PID, error) {
	var cfg PIDConfig
	if err := store.Decode(prefix, &cfg, "p", "i", "d"); err != nil {
		return nil, err
	}
	return NewPID(cfg), nil
}

// Config returns the gains.
func (pid *PID) Config() PIDConfig {
	return pid.cfg
}

// Reset clears the integral and derivative history.
func (pid *PID) Reset() {
	pid.ctrl = pidctrl.NewPIDController(pid.cfg.P, pid.cfg.I, pid.cfg.D)
	if pid.cfg.limited() {
		pid.ctrl.SetOutputLimits(pid.cfg.Min, pid.cfg.Max)
	}
}

// Output returns the command that drives current toward target. dt is the time since the
// previous call.
func (pid *PID) Output(target, current float64, dt time.Duration) float64 {
	out := pid.ctrl.Set(target).UpdateDuration(current, dt) + pid.cfg.F*target
	if pid.cfg.limited() {
		out = utils.Clamp(out, pid.cfg.Min, pid.cfg.Max)
	}
	return out
}
