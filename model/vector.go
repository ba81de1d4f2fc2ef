package model

import "math"

// Vec3 is a position (km) or velocity (km/s) triple. The frame and origin it
// is expressed in are not carried on the value; callers track them.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Array returns the components as a fixed-size array.
func (v Vec3) Array() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Vec3FromArray builds a Vec3 from its components.
func Vec3FromArray(a [3]float64) Vec3 {
	return Vec3{X: a[0], Y: a[1], Z: a[2]}
}

// StateVector is position (km) and velocity (km/s) in one frame relative to
// one origin.
type StateVector struct {
	Position Vec3
	Velocity Vec3
}

// Array returns the six components in x, y, z, vx, vy, vz order.
func (s StateVector) Array() [6]float64 {
	return [6]float64{
		s.Position.X, s.Position.Y, s.Position.Z,
		s.Velocity.X, s.Velocity.Y, s.Velocity.Z,
	}
}

// StateFromArray builds a StateVector from x, y, z, vx, vy, vz.
func StateFromArray(a [6]float64) StateVector {
	return StateVector{
		Position: Vec3{X: a[0], Y: a[1], Z: a[2]},
		Velocity: Vec3{X: a[3], Y: a[4], Z: a[5]},
	}
}

// Scale returns the state with position and velocity both scaled by f.
func (s StateVector) Scale(f float64) StateVector {
	return StateVector{Position: s.Position.Scale(f), Velocity: s.Velocity.Scale(f)}
}
