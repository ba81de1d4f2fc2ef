// Package orbit samples approximate closed orbit paths for display.
//
// A path covers one catalog orbital period forward from a given time. The
// period is a fixed per-body constant, not derived from the ephemeris, so
// paths of eccentric or perturbed orbits do not close exactly.
package orbit

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/astrogator/internal/ephem"
	"github.com/signalsfoundry/astrogator/kb"
	"github.com/signalsfoundry/astrogator/model"
)

const (
	// DefaultPathPoints is used when a caller asks for a non-positive count.
	DefaultPathPoints = 120
	// DefaultPeriodDays is used for bodies without a cataloged period.
	DefaultPeriodDays = 365.0

	secondsPerDay = 86400.0
)

// PositionSource answers heliocentric position queries. *ephem.Gateway
// satisfies it.
type PositionSource interface {
	Position(ctx context.Context, target, observer string, t model.TimePoint, frame string) (model.Vec3, error)
}

// Sampler produces orbit paths relative to the Sun in ECLIPJ2000.
type Sampler struct {
	src     PositionSource
	catalog *kb.KnowledgeBase
}

// NewSampler returns a sampler reading positions from src and periods from
// catalog. A nil catalog uses the stock body catalog.
func NewSampler(src PositionSource, catalog *kb.KnowledgeBase) *Sampler {
	if catalog == nil {
		catalog = kb.NewDefaultKnowledgeBase()
	}
	return &Sampler{src: src, catalog: catalog}
}

// Period returns the period in days used for target.
func (s *Sampler) Period(target string) float64 {
	if days, ok := s.catalog.PeriodDays(target); ok {
		return days
	}
	return DefaultPeriodDays
}

// SamplePath returns n+1 positions of target at start + i*period/n, so the
// first and last samples are one period apart. n <= 0 uses DefaultPathPoints. If any sample cannot be
// computed the whole path fails with an error wrapping ephem.ErrUnavailable.
func (s *Sampler) SamplePath(ctx context.Context, target string, start model.TimePoint, n int) ([]model.Vec3, error) {
	if n <= 0 {
		n = DefaultPathPoints
	}
	period := s.Period(target) * secondsPerDay
	step := period / float64(n)

	path := make([]model.Vec3, 0, n+1)
	for i := 0; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := start.Add(float64(i) * step)
		pos, err := s.src.Position(ctx, target, ephem.ObserverSun, t, ephem.FrameEclipJ2000)
		if err != nil {
			return nil, fmt.Errorf("orbit path for %s, sample %d of %d: %w", target, i, n+1, err)
		}
		path = append(path, pos)
	}
	return path, nil
}
