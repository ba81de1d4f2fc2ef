package state

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/astrogator/core"
	"github.com/signalsfoundry/astrogator/model"
)

var (
	// ErrMalformedCommand rejects a burn whose delta-v is not three finite
	// components. The craft is left untouched.
	ErrMalformedCommand = errors.New("malformed command")
	// ErrEpochRegression rejects propagation to a time before the craft's
	// current epoch.
	ErrEpochRegression = errors.New("target time precedes spacecraft epoch")
)

// InitialFuel is the fuel budget of a newly created craft, in km/s of
// delta-v.
const InitialFuel = 1000.0

// Spacecraft is one simulated craft. Its methods are safe for concurrent
// use; each craft has its own lock so commands for different craft never
// wait on each other.
type Spacecraft struct {
	mu     sync.Mutex
	id     string
	state  model.StateVector
	epoch  model.TimePoint
	fuel   float64
	motion core.MotionModel
}

// NewSpacecraft returns a craft with a full tank. A nil motion model uses
// the default propagation policy.
func NewSpacecraft(id string, st model.StateVector, epoch model.TimePoint, motion core.MotionModel) *Spacecraft {
	if motion == nil {
		motion = core.NewMotionModel(core.DefaultPolicy)
	}
	return &Spacecraft{
		id:     id,
		state:  st,
		epoch:  epoch,
		fuel:   InitialFuel,
		motion: motion,
	}
}

// ID returns the craft identifier.
func (c *Spacecraft) ID() string { return c.id }

// Propagate moves the craft's epoch to t and advances its state with the
// craft's motion model. Propagating to the current epoch is a no-op; an
// earlier t is rejected with ErrEpochRegression.
func (c *Spacecraft) Propagate(t model.TimePoint) error {
	_, err := c.advance(t)
	return err
}

// advance is Propagate, also reporting whether the epoch moved.
func (c *Spacecraft) advance(t model.TimePoint) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dt := t.Sub(c.epoch)
	switch {
	case dt < 0:
		return false, fmt.Errorf("%w: %s at %.3f, target %.3f", ErrEpochRegression, c.id, float64(c.epoch), float64(t))
	case dt == 0:
		return false, nil
	}
	c.state = c.motion.Advance(c.state, dt)
	c.epoch = t
	return true, nil
}

// ApplyBurn adds dv (km/s) to the velocity and deducts its magnitude from
// fuel. Fuel may go negative. It returns the remaining fuel.
func (c *Spacecraft) ApplyBurn(dv []float64) (float64, error) {
	if len(dv) != 3 {
		return 0, fmt.Errorf("%w: delta-v has %d components, want 3", ErrMalformedCommand, len(dv))
	}
	for i, v := range dv {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: delta-v component %d is %v", ErrMalformedCommand, i, v)
		}
	}
	burn := model.Vec3{X: dv[0], Y: dv[1], Z: dv[2]}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Velocity = c.state.Velocity.Add(burn)
	c.fuel -= burn.Norm()
	return c.fuel, nil
}

// Snapshot returns a copy of the craft's current state.
func (c *Spacecraft) Snapshot() model.SpacecraftSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.SpacecraftSnapshot{
		ID:    c.id,
		State: c.state,
		Epoch: c.epoch,
		Fuel:  c.fuel,
	}
}

// Position returns the craft's current position.
func (c *Spacecraft) Position() model.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Position
}
