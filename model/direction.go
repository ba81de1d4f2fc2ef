package model

// Direction is an apparent direction as seen by an observer. RA is in
// [0, 360) degrees, Dec in [-90, 90] degrees, Range in km.
type Direction struct {
	Range  float64
	RADeg  float64
	DecDeg float64
}
