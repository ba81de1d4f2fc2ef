package model

// TimePoint is ephemeris time: TDB seconds past the J2000 epoch
// (2000-01-01T12:00:00 TDB).
type TimePoint float64

// Seconds returns the raw scalar.
func (t TimePoint) Seconds() float64 { return float64(t) }

// Add returns t advanced by dt seconds.
func (t TimePoint) Add(dt float64) TimePoint { return t + TimePoint(dt) }

// Sub returns t - o in seconds.
func (t TimePoint) Sub(o TimePoint) float64 { return float64(t - o) }
