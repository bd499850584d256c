package control

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/phaser-robotics/xerocore/config"
)

// Move drives one axis from its current position to a target along a trapezoidal profile, with a
// Follower turning the plan into power. It is done once the profile has run out and the axis is
// within the threshold of the target.
type Move struct {
	profile   *TrapezoidalProfile
	follower  *Follower
	threshold float64

	target    float64
	origin    float64
	dir       float64
	startTime float64
	done      bool
}

// NewMove returns a move using the given profile and follower.
func NewMove(profile *TrapezoidalProfile, follower *Follower, threshold float64) *Move {
	return &Move{profile: profile, follower: follower, threshold: threshold, dir: 1, done: true}
}

// NewMoveFromSettings reads maxa, maxd, maxv and threshold under profilePrefix and the follower
// gains under followerPrefix.
func NewMoveFromSettings(store *config.Store, profilePrefix, followerPrefix string) (*Move, error) {
	profile, err := NewTrapezoidalProfileFromSettings(store, profilePrefix)
	if err != nil {
		return nil, err
	}
	key := config.Join(profilePrefix, "threshold")
	threshold, err := store.Float64(key)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return nil, config.NewInvalidValueError(key, errors.New("threshold must be positive"))
	}
	follower, err := NewFollowerFromSettings(store, followerPrefix)
	if err != nil {
		return nil, err
	}
	return NewMove(profile, follower, threshold), nil
}

// SetTarget sets the position the next Start moves to.
func (m *Move) SetTarget(target float64) {
	m.target = target
}

// Target returns the position the move ends at.
func (m *Move) Target() float64 {
	return m.target
}

// Threshold returns how close to the target counts as arrived.
func (m *Move) Threshold() float64 {
	return m.threshold
}

// Profile returns the plan of the current move.
func (m *Move) Profile() *TrapezoidalProfile {
	return m.profile
}

// Start plans the move from position at time now, in seconds. A move that starts within the
// threshold is done immediately.
func (m *Move) Start(now, position float64) {
	m.origin = position
	m.startTime = now
	m.follower.Reset()

	distance := m.target - position
	m.dir = 1
	if distance < 0 {
		m.dir = -1
	}
	m.done = math.Abs(distance) < m.threshold
	if m.done {
		m.profile.Update(0, 0, 0)
		return
	}
	m.profile.Update(math.Abs(distance), 0, 0)
}

// Update returns the power for the current tick.
func (m *Move) Update(now, position float64, dt time.Duration) float64 {
	if m.done {
		return 0
	}
	elapsed := now - m.startTime
	if elapsed >= m.profile.TotalTime() && math.Abs(m.target-position) < m.threshold {
		m.done = true
		return 0
	}

	accel := m.dir * m.profile.AccelerationAt(elapsed)
	vel := m.dir * m.profile.VelocityAt(elapsed)
	pos := m.origin + m.dir*m.profile.DistanceAt(elapsed)
	return m.follower.Output(accel, vel, pos, position, dt)
}

// IsDone reports whether the axis arrived or the move was stopped.
func (m *Move) IsDone() bool {
	return m.done
}

// Stop ends the move.
func (m *Move) Stop() {
	m.done = true
}

func (m *Move) String() string {
	return fmt.Sprintf("move to %v", m.target)
}
