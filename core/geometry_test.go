package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/astrogator/model"
)

func TestJitterDeterministicAndBounded(t *testing.T) {
	ids := []string{"student1", "student2", "noctis", "admin", ""}
	seen := make(map[model.Vec3]string)
	for _, id := range ids {
		a, b := Jitter(id), Jitter(id)
		if a != b {
			t.Fatalf("Jitter(%q) not deterministic: %+v vs %+v", id, a, b)
		}
		for _, c := range a.Array() {
			if c < -JitterAmplitudeKm || c >= JitterAmplitudeKm || c != math.Trunc(c) {
				t.Fatalf("Jitter(%q) component %v outside whole-km [-%v, %v)", id, c, JitterAmplitudeKm, JitterAmplitudeKm)
			}
		}
		if other, dup := seen[a]; dup {
			t.Fatalf("Jitter(%q) = Jitter(%q) = %+v", id, other, a)
		}
		seen[a] = id
	}
}

func TestCoOrbitScalesPositionAndVelocity(t *testing.T) {
	base := model.StateVector{
		Position: model.Vec3{X: 100, Y: -200, Z: 0},
		Velocity: model.Vec3{X: 1, Y: 2, Z: 3},
	}
	got := CoOrbit(base, 0.5)
	want := model.StateVector{
		Position: model.Vec3{X: 50, Y: -100, Z: 0},
		Velocity: model.Vec3{X: 0.5, Y: 1, Z: 1.5},
	}
	if got != want {
		t.Fatalf("CoOrbit = %+v, want %+v", got, want)
	}
}
