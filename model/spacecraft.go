package model

// SpacecraftSnapshot is a point-in-time copy of a spacecraft's kinematic
// state. It is safe to retain and share.
type SpacecraftSnapshot struct {
	ID    string
	State StateVector
	Epoch TimePoint
	Fuel  float64
}
