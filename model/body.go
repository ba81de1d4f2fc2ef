package model

// Body is a catalog entry for a solar-system body the navigation surface
// knows about.
type Body struct {
	// Name is the canonical upper-case name, e.g. "MARS".
	Name string

	// Ephemeris is the identifier handed to the ephemeris library when the
	// plain name does not resolve to the object with coverage, e.g. "4" for
	// MARS when only the barycenter is present. Empty means use Name.
	Ephemeris string

	// Orrery is the identifier used when sampling heliocentric positions for
	// the orrery views, e.g. "MARS BARYCENTER". Empty means use Name.
	Orrery string

	// PeriodDays is the approximate sidereal orbital period. Zero means
	// unknown.
	PeriodDays float64

	// Observable marks bodies reported by navigation-state queries.
	Observable bool

	// InOrrery marks bodies drawn by the orrery views.
	InOrrery bool
}
