package kernel

import (
	"fmt"
	"math"
)

// segment is one source of trajectory data for a target relative to its
// center.
type segment interface {
	info() SegmentInfo
	covers(et float64) bool
	// state returns position (km) and velocity (km/s) of the target
	// relative to the center in the segment's frame.
	state(et float64) ([6]float64, error)
}

// chebSegment is an SPK type 2 (position only) or type 3 (position and
// velocity) Chebyshev segment.
type chebSegment struct {
	d     *dafFile
	meta  SegmentInfo
	begin int

	init   float64
	intlen float64
	rsize  int
	n      int

	lastIdx int
	lastRec []float64
}

func newChebSegment(d *dafFile, path string, s dafSummary) (segment, error) {
	typ := int(s.ic[3])
	if typ != 2 && typ != 3 {
		return nil, nil
	}
	seg := &chebSegment{
		d: d,
		meta: SegmentInfo{
			Source: path,
			Kind:   KindSPK,
			Target: int(s.ic[0]),
			Center: int(s.ic[1]),
			Frame:  int(s.ic[2]),
			Type:   typ,
			Start:  s.dc[0],
			End:    s.dc[1],
		},
		begin:   int(s.ic[4]),
		lastIdx: -1,
	}
	end := int(s.ic[5])
	if seg.begin < 1 || end-3 <= seg.begin {
		return nil, fmt.Errorf("segment %q: bad address range [%d, %d]", s.name, seg.begin, end)
	}
	trailer, err := d.doubles(end-3, end)
	if err != nil {
		return nil, fmt.Errorf("segment %q: %w", s.name, err)
	}

	coeffSets := 3
	if typ == 3 {
		coeffSets = 6
	}
	// the directory words are floats; range-check them before converting
	words := float64(end - 3 - seg.begin)
	init, intlen, rsize, n := trailer[0], trailer[1], trailer[2], trailer[3]
	if math.IsNaN(init) || math.IsInf(init, 0) || !(intlen > 0) || math.IsInf(intlen, 0) ||
		!(rsize >= float64(2+coeffSets) && rsize <= words) || !(n >= 1 && n <= words) {
		return nil, fmt.Errorf("segment %q: bad directory (intlen=%g rsize=%g n=%g)", s.name, intlen, rsize, n)
	}
	seg.init, seg.intlen = init, intlen
	seg.rsize, seg.n = int(rsize), int(n)
	if (seg.rsize-2)%coeffSets != 0 {
		return nil, fmt.Errorf("segment %q: bad directory (rsize=%d for type %d)", s.name, seg.rsize, typ)
	}
	if seg.rsize > (end-3-seg.begin)/seg.n {
		return nil, fmt.Errorf("segment %q: records overrun segment", s.name)
	}
	return seg, nil
}

func (s *chebSegment) info() SegmentInfo { return s.meta }

func (s *chebSegment) covers(et float64) bool {
	return et >= s.meta.Start && et <= s.meta.End
}

func (s *chebSegment) record(et float64) ([]float64, error) {
	idx := int(math.Floor((et - s.init) / s.intlen))
	idx = max(0, min(idx, s.n-1))
	if idx == s.lastIdx {
		return s.lastRec, nil
	}
	start := s.begin + idx*s.rsize
	rec, err := s.d.doubles(start, start+s.rsize-1)
	if err != nil {
		return nil, err
	}
	s.lastIdx, s.lastRec = idx, rec
	return rec, nil
}

func (s *chebSegment) state(et float64) ([6]float64, error) {
	var out [6]float64
	rec, err := s.record(et)
	if err != nil {
		return out, err
	}
	mid, radius := rec[0], rec[1]
	x := (et - mid) / radius
	if s.meta.Type == 2 {
		ncoef := (s.rsize - 2) / 3
		for i := 0; i < 3; i++ {
			c := rec[2+i*ncoef : 2+(i+1)*ncoef]
			p, dp := chebyshev(c, x)
			out[i] = p
			out[i+3] = dp / radius
		}
		return out, nil
	}
	ncoef := (s.rsize - 2) / 6
	for i := 0; i < 6; i++ {
		c := rec[2+i*ncoef : 2+(i+1)*ncoef]
		out[i], _ = chebyshev(c, x)
	}
	return out, nil
}

// chebyshev evaluates sum c[k]*T_k(x) and its derivative with respect to x.
func chebyshev(c []float64, x float64) (val, deriv float64) {
	t0, t1 := 1.0, x
	d0, d1 := 0.0, 1.0
	val = c[0] * t0
	if len(c) > 1 {
		val += c[1] * t1
		deriv = c[1] * d1
	}
	for k := 2; k < len(c); k++ {
		t2 := 2*x*t1 - t0
		d2 := 2*t1 + 2*x*d1 - d0
		val += c[k] * t2
		deriv += c[k] * d2
		t0, t1 = t1, t2
		d0, d1 = d1, d2
	}
	return val, deriv
}
