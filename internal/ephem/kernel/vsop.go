package kernel

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	pp "github.com/soniakeys/meeus/v3/planetposition"
)

// AU is the astronomical unit in km.
const AU = 149597870.7

const (
	vsopDiffStep = 60.0
	// vsopSpan bounds the usable VSOP87 interval, in seconds either side of
	// J2000 (about two millennia).
	vsopSpan = 2000 * 365.25 * secondsPerDay
)

var vsopPlanets = map[string]struct {
	ibody int
	code  int
}{
	".mer": {pp.Mercury, 1},
	".ven": {pp.Venus, 2},
	".ear": {pp.Earth, 399},
	".mar": {pp.Mars, 4},
	".jup": {pp.Jupiter, 5},
	".sat": {pp.Saturn, 6},
	".ura": {pp.Uranus, 7},
	".nep": {pp.Neptune, 8},
}

// vsopSegment evaluates a VSOP87B series: heliocentric, ecliptic and
// equinox of J2000.
type vsopSegment struct {
	planet *pp.V87Planet
	meta   SegmentInfo
}

func (p *Pool) loadVSOP(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	body, ok := vsopPlanets[ext]
	if !ok {
		return withCode(CodeUnknownKind, fmt.Errorf("no VSOP87 planet for extension %q", ext))
	}
	planet, err := pp.LoadPlanetPath(body.ibody, filepath.Dir(path))
	if err != nil {
		return withCode(CodeFileRead, err)
	}
	p.segments = append(p.segments, &vsopSegment{
		planet: planet,
		meta: SegmentInfo{
			Source: path,
			Kind:   KindVSOP87,
			Target: body.code,
			Center: Sun,
			Frame:  FrameEclipJ2000,
			Start:  -vsopSpan,
			End:    vsopSpan,
		},
	})
	return nil
}

func (s *vsopSegment) info() SegmentInfo { return s.meta }

func (s *vsopSegment) covers(et float64) bool {
	return et >= s.meta.Start && et <= s.meta.End
}

func (s *vsopSegment) position(et float64) [3]float64 {
	jde := j2000JD + et/secondsPerDay
	l, b, r := s.planet.Position2000(jde)
	sb, cb := math.Sincos(b.Rad())
	sl, cl := math.Sincos(l.Rad())
	r *= AU
	return [3]float64{r * cb * cl, r * cb * sl, r * sb}
}

// state differentiates the series numerically for velocity.
func (s *vsopSegment) state(et float64) ([6]float64, error) {
	pos := s.position(et)
	ahead := s.position(et + vsopDiffStep)
	behind := s.position(et - vsopDiffStep)
	var out [6]float64
	for i := 0; i < 3; i++ {
		out[i] = pos[i]
		out[i+3] = (ahead[i] - behind[i]) / (2 * vsopDiffStep)
	}
	return out, nil
}
