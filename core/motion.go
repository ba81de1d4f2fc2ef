// Package core holds the kinematic rules applied to simulated spacecraft.
package core

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/astrogator/model"
)

// PropagationPolicy names how a craft's state changes when its epoch moves.
type PropagationPolicy string

const (
	// PolicyEpochOnly advances the epoch and leaves position and velocity
	// untouched. It is the default.
	PolicyEpochOnly PropagationPolicy = "epoch-only"
	// PolicyLinearDrift moves the position along the current velocity.
	PolicyLinearDrift PropagationPolicy = "linear-drift"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyEpochOnly

// ParsePropagationPolicy accepts a policy name, case-insensitively. An empty
// string selects DefaultPolicy.
func ParsePropagationPolicy(s string) (PropagationPolicy, error) {
	switch p := PropagationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultPolicy, nil
	case PolicyEpochOnly, PolicyLinearDrift:
		return p, nil
	default:
		return "", fmt.Errorf("unknown propagation policy %q (want %q or %q)", s, PolicyEpochOnly, PolicyLinearDrift)
	}
}

// MotionModel advances a state vector by dt seconds.
type MotionModel interface {
	Advance(s model.StateVector, dt float64) model.StateVector
	Policy() PropagationPolicy
}

// EpochOnlyMotion leaves the state unchanged.
type EpochOnlyMotion struct{}

// Advance returns s.
func (EpochOnlyMotion) Advance(s model.StateVector, _ float64) model.StateVector { return s }

// Policy returns PolicyEpochOnly.
func (EpochOnlyMotion) Policy() PropagationPolicy { return PolicyEpochOnly }

// LinearDriftMotion applies position += velocity*dt with no acceleration.
type LinearDriftMotion struct{}

// Advance drifts s along its velocity.
func (LinearDriftMotion) Advance(s model.StateVector, dt float64) model.StateVector {
	s.Position = s.Position.Add(s.Velocity.Scale(dt))
	return s
}

// Policy returns PolicyLinearDrift.
func (LinearDriftMotion) Policy() PropagationPolicy { return PolicyLinearDrift }

// NewMotionModel returns the model implementing p. Unknown policies fall
// back to DefaultPolicy; validate with ParsePropagationPolicy first.
func NewMotionModel(p PropagationPolicy) MotionModel {
	if p == PolicyLinearDrift {
		return LinearDriftMotion{}
	}
	return EpochOnlyMotion{}
}
