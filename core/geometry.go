package core

import (
	"github.com/cespare/xxhash/v2"

	"github.com/signalsfoundry/astrogator/model"
)

// JitterAmplitudeKm bounds the per-axis offset produced by Jitter.
const JitterAmplitudeKm = 10000.0

// jitterBuckets is the number of 1 km steps across [-amp, amp).
const jitterBuckets = 20000

// Jitter returns a deterministic offset for id with each component in
// [-JitterAmplitudeKm, JitterAmplitudeKm). The axes come from consecutive
// base-20000 digits of the id's xxhash, so they vary independently.
func Jitter(id string) model.Vec3 {
	seed := xxhash.Sum64String(id)
	var axes [3]float64
	for i := range axes {
		axes[i] = float64(seed%jitterBuckets)*(2*JitterAmplitudeKm/jitterBuckets) - JitterAmplitudeKm
		seed /= jitterBuckets
	}
	return model.Vec3FromArray(axes)
}

// CoOrbit pulls a heliocentric state toward the origin by factor, scaling
// position and velocity together so a craft placed there stays in loose
// formation with the reference body.
func CoOrbit(base model.StateVector, factor float64) model.StateVector {
	return base.Scale(factor)
}
