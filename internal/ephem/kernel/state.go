package kernel

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// SpeedOfLight in km/s.
const SpeedOfLight = 299792.458

// DegreesPerRadian converts radians to degrees.
const DegreesPerRadian = 180 / math.Pi

const maxChainDepth = 32

// Aberration corrections accepted by StateAt.
const (
	AbcorrNone = "NONE"
	AbcorrLT   = "LT"
	AbcorrLTS  = "LT+S"
)

// chainLink is the state of the queried body relative to node, in J2000.
type chainLink struct {
	node  int
	state [6]float64
}

// chain walks segment centers from body towards the solar-system
// barycenter. The returned error explains why the walk stopped early.
func (p *Pool) chain(body int, et float64) ([]chainLink, error) {
	links := []chainLink{{node: body}}
	var acc [6]float64
	cur := body
	for depth := 0; cur != SolarSystemBarycenter; depth++ {
		if depth >= maxChainDepth {
			return links, fmt.Errorf("segment chain from body %d is too deep", body)
		}
		seg := p.findSegment(cur, et)
		if seg == nil {
			return links, fmt.Errorf("insufficient ephemeris data for body %d (%s) at ET %.3f",
				cur, p.BodyName(cur), et)
		}
		st, err := seg.state(et)
		if err != nil {
			return links, err
		}
		in := seg.info()
		if in.Frame != FrameJ2000 {
			f, ok := p.frames.byCode[in.Frame]
			if !ok {
				return links, fmt.Errorf("segment for body %d uses unknown frame %d", cur, in.Frame)
			}
			st = rotateState(f.toJ2000, st)
		}
		for i := range acc {
			acc[i] += st[i]
		}
		cur = in.Center
		links = append(links, chainLink{node: cur, state: acc})
	}
	return links, nil
}

// findSegment returns the most recently loaded segment covering et.
func (p *Pool) findSegment(body int, et float64) segment {
	for i := len(p.segments) - 1; i >= 0; i-- {
		s := p.segments[i]
		if s.info().Target == body && s.covers(et) {
			return s
		}
	}
	return nil
}

// geometric returns the J2000 state of target relative to observer.
func (p *Pool) geometric(target, observer int, et float64) ([6]float64, error) {
	var out [6]float64
	if target == observer {
		return out, nil
	}
	tl, terr := p.chain(target, et)
	ol, oerr := p.chain(observer, et)
	for _, t := range tl {
		for _, o := range ol {
			if t.node != o.node {
				continue
			}
			for i := range out {
				out[i] = t.state[i] - o.state[i]
			}
			return out, nil
		}
	}
	return out, errors.Join(terr, oerr)
}

// ssbState returns the J2000 state of body relative to the solar-system
// barycenter.
func (p *Pool) ssbState(body int, et float64) ([6]float64, error) {
	links, err := p.chain(body, et)
	if err != nil {
		return [6]float64{}, err
	}
	return links[len(links)-1].state, nil
}

// StateAt returns the state of target relative to observer at et, expressed
// in frame. abcorr is NONE, LT or LT+S. The light time (seconds) is returned
// alongside; it is zero for NONE.
func (p *Pool) StateAt(target, observer string, et float64, frame, abcorr string) ([6]float64, float64) {
	var zero [6]float64
	if p.fault != nil {
		return zero, 0
	}
	tc, ok := p.BodyCode(target)
	if !ok {
		p.signal(CodeUnknownBody, "the target %q could not be translated to an ID code", target)
		return zero, 0
	}
	oc, ok := p.BodyCode(observer)
	if !ok {
		p.signal(CodeUnknownBody, "the observer %q could not be translated to an ID code", observer)
		return zero, 0
	}
	f, ok := p.frames.lookup(frame)
	if !ok {
		p.signal(CodeUnknownFrame, "frame %q is not known", frame)
		return zero, 0
	}
	if math.IsNaN(et) || math.IsInf(et, 0) {
		p.signal(CodeBadTime, "ephemeris time %v is not finite", et)
		return zero, 0
	}

	var (
		st  [6]float64
		lt  float64
		err error
	)
	switch corr := strings.ToUpper(strings.ReplaceAll(abcorr, " ", "")); corr {
	case AbcorrNone, "":
		st, err = p.geometric(tc, oc, et)
	case AbcorrLT, AbcorrLTS:
		st, lt, err = p.corrected(tc, oc, et, corr == AbcorrLTS)
	default:
		p.signal(CodeBadAberration, "aberration correction %q is not supported", abcorr)
		return zero, 0
	}
	if err != nil {
		p.signal(CodeInsufficientData, "%v", err)
		return zero, 0
	}
	if f.code != FrameJ2000 {
		st = rotateState(f.toJ2000.T(), st)
	}
	return st, lt
}

// PositionAt is StateAt without velocity.
func (p *Pool) PositionAt(target, observer string, et float64, frame, abcorr string) ([3]float64, float64) {
	st, lt := p.StateAt(target, observer, et, frame, abcorr)
	return [3]float64{st[0], st[1], st[2]}, lt
}

// corrected applies converged light time and, when stellar is set, stellar
// aberration for the observer's barycentric velocity.
func (p *Pool) corrected(target, observer int, et float64, stellar bool) ([6]float64, float64, error) {
	var out [6]float64
	obs, err := p.ssbState(observer, et)
	if err != nil {
		return out, 0, err
	}
	lt := 0.0
	var tgt [6]float64
	for range 3 {
		tgt, err = p.ssbState(target, et-lt)
		if err != nil {
			return out, 0, err
		}
		lt = norm3(sub3(tgt, obs)) / SpeedOfLight
	}
	tgt, err = p.ssbState(target, et-lt)
	if err != nil {
		return out, 0, err
	}
	for i := range out {
		out[i] = tgt[i] - obs[i]
	}
	if stellar {
		pos := stellarAberration([3]float64{out[0], out[1], out[2]}, [3]float64{obs[3], obs[4], obs[5]})
		out[0], out[1], out[2] = pos[0], pos[1], pos[2]
	}
	return out, lt, nil
}

// stellarAberration rotates pos towards the observer velocity by the
// first-order aberration angle.
func stellarAberration(pos, vobs [3]float64) [3]float64 {
	r := math.Sqrt(pos[0]*pos[0] + pos[1]*pos[1] + pos[2]*pos[2])
	if r == 0 {
		return pos
	}
	u := [3]float64{pos[0] / r, pos[1] / r, pos[2] / r}
	v := [3]float64{vobs[0] / SpeedOfLight, vobs[1] / SpeedOfLight, vobs[2] / SpeedOfLight}
	h := cross(u, v)
	sinPhi := math.Sqrt(h[0]*h[0] + h[1]*h[1] + h[2]*h[2])
	if sinPhi == 0 {
		return pos
	}
	phi := math.Asin(math.Min(sinPhi, 1))
	axis := [3]float64{h[0] / sinPhi, h[1] / sinPhi, h[2] / sinPhi}
	// rotate pos about axis by phi (Rodrigues)
	s, c := math.Sincos(phi)
	kxp := cross(axis, pos)
	kdp := axis[0]*pos[0] + axis[1]*pos[1] + axis[2]*pos[2]
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = pos[i]*c + kxp[i]*s + axis[i]*kdp*(1-c)
	}
	return out
}

// RecRad converts rectangular coordinates to range, right ascension and
// declination. Angles are radians, ra in [0, 2π).
func RecRad(v [3]float64) (rng, ra, dec float64) {
	rng = math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if v[0] == 0 && v[1] == 0 {
		ra = 0
	} else {
		ra = math.Atan2(v[1], v[0])
		if ra < 0 {
			ra += 2 * math.Pi
		}
	}
	if rng == 0 {
		return 0, ra, 0
	}
	dec = math.Atan2(v[2], math.Hypot(v[0], v[1]))
	return rng, ra, dec
}

func sub3(a, b [6]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
