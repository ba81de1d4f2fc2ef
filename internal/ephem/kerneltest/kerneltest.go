// Package kerneltest writes small synthetic kernel sets for tests: a real
// leapseconds table and an SPK of circular orbits whose exact positions are
// known.
package kerneltest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/floats"
)

// Coverage of the synthetic SPK, ephemeris seconds past J2000
// (roughly 2023-10 to 2030-02).
const (
	CoverageStart = 7.5e8
	CoverageEnd   = 9.5e8
)

const (
	au           = 149597870.7
	day          = 86400.0
	interval     = 16 * day
	degree       = 12
	frameJ2000   = 1
	frameEclip   = 17
	recordWords  = 128
	dataStartAdr = 3*recordWords + 1
)

// LeapSeconds is the NAIF naif0012 leapseconds content.
const LeapSeconds = `KPL/LSK

Synthetic copy of the leapseconds kernel used in tests.

\begindata

DELTET/DELTA_T_A       =   32.184
DELTET/K               =    1.657D-3
DELTET/EB              =    1.671D-2
DELTET/M               = (  6.239996D0   1.99096871D-7 )

DELTET/DELTA_AT        = ( 10,   @1972-JAN-1
                           11,   @1972-JUL-1
                           12,   @1973-JAN-1
                           13,   @1974-JAN-1
                           14,   @1975-JAN-1
                           15,   @1976-JAN-1
                           16,   @1977-JAN-1
                           17,   @1978-JAN-1
                           18,   @1979-JAN-1
                           19,   @1980-JAN-1
                           20,   @1981-JUL-1
                           21,   @1982-JUL-1
                           22,   @1983-JUL-1
                           23,   @1985-JUL-1
                           24,   @1988-JAN-1
                           25,   @1990-JAN-1
                           26,   @1991-JAN-1
                           27,   @1992-JUL-1
                           28,   @1993-JUL-1
                           29,   @1994-JUL-1
                           30,   @1996-JAN-1
                           31,   @1997-JUL-1
                           32,   @1999-JAN-1
                           33,   @2006-JAN-1
                           34,   @2009-JAN-1
                           35,   @2012-JUL-1
                           36,   @2015-JUL-1
                           37,   @2017-JAN-1 )

\begintext
`

// Orbit is a circular orbit of Code about Center in the plane of Frame's
// x-y axes.
type Orbit struct {
	Code       int
	Center     int
	Frame      int
	Radius     float64 // km
	PeriodDays float64
	Phase      float64 // radians at J2000
}

// Position returns the orbit position relative to Center in Frame at et.
func (o Orbit) Position(et float64) [3]float64 {
	if o.Radius == 0 {
		return [3]float64{}
	}
	th := o.Phase + 2*math.Pi*et/(o.PeriodDays*day)
	s, c := math.Sincos(th)
	return [3]float64{o.Radius * c, o.Radius * s, 0}
}

// SolarSystem lists the synthetic bodies. Planet barycenters orbit the
// solar-system barycenter in the ecliptic; planet centers coincide with their
// barycenters except Earth.
var SolarSystem = []Orbit{
	{Code: 10, Center: 0, Frame: frameJ2000, Radius: 7.0e5, PeriodDays: 4332.6, Phase: 0.1},
	{Code: 1, Center: 0, Frame: frameEclip, Radius: 0.387 * au, PeriodDays: 88.0, Phase: 0.5},
	{Code: 2, Center: 0, Frame: frameEclip, Radius: 0.723 * au, PeriodDays: 224.7, Phase: 1.0},
	{Code: 3, Center: 0, Frame: frameEclip, Radius: au, PeriodDays: 365.25, Phase: 1.75},
	{Code: 4, Center: 0, Frame: frameEclip, Radius: 1.524 * au, PeriodDays: 687.0, Phase: 0.3},
	{Code: 5, Center: 0, Frame: frameEclip, Radius: 5.203 * au, PeriodDays: 4331.0, Phase: 2.2},
	{Code: 6, Center: 0, Frame: frameEclip, Radius: 9.537 * au, PeriodDays: 10747.0, Phase: 4.0},
	{Code: 7, Center: 0, Frame: frameEclip, Radius: 19.19 * au, PeriodDays: 30589.0, Phase: 5.1},
	{Code: 8, Center: 0, Frame: frameEclip, Radius: 30.07 * au, PeriodDays: 59800.0, Phase: 0.8},
	{Code: 9, Center: 0, Frame: frameEclip, Radius: 39.48 * au, PeriodDays: 90560.0, Phase: 3.3},
	{Code: 199, Center: 1, Frame: frameJ2000},
	{Code: 299, Center: 2, Frame: frameJ2000},
	{Code: 399, Center: 3, Frame: frameJ2000, Radius: 4671.0, PeriodDays: 27.32, Phase: 0},
	{Code: 499, Center: 4, Frame: frameJ2000},
	{Code: 599, Center: 5, Frame: frameJ2000},
	{Code: 699, Center: 6, Frame: frameJ2000},
	{Code: 799, Center: 7, Frame: frameJ2000},
	{Code: 899, Center: 8, Frame: frameJ2000},
	{Code: 999, Center: 9, Frame: frameJ2000},
}

// Files holds the paths written by WriteSolarSystem.
type Files struct {
	Dir         string
	LeapSeconds string
	SPK         string
}

// WriteSolarSystem writes the leapseconds kernel and the synthetic SPK into
// a fresh temporary directory.
func WriteSolarSystem(tb testing.TB) Files {
	tb.Helper()
	dir := tb.TempDir()
	files := Files{
		Dir:         dir,
		LeapSeconds: filepath.Join(dir, "naif0012.tls"),
		SPK:         filepath.Join(dir, "synthetic.bsp"),
	}
	if err := os.WriteFile(files.LeapSeconds, []byte(LeapSeconds), 0o644); err != nil {
		tb.Fatalf("write leapseconds: %v", err)
	}
	if err := WriteSPK(files.SPK, SolarSystem, CoverageStart, CoverageEnd); err != nil {
		tb.Fatalf("write spk: %v", err)
	}
	return files
}

// WriteSPK writes a little-endian SPK with one type 2 segment per orbit.
func WriteSPK(path string, orbits []Orbit, start, end float64) error {
	const nd, ni = 2, 6
	ss := nd + (ni+1)/2
	if len(orbits) > (recordWords-3)/ss {
		return fmt.Errorf("too many segments for one summary record: %d", len(orbits))
	}

	var (
		data      []float64
		summaries bytes.Buffer
		names     bytes.Buffer
	)
	addr := dataStartAdr
	for _, o := range orbits {
		words := segmentWords(o, start, end)
		begin := addr
		addr += len(words)
		data = append(data, words...)

		binary.Write(&summaries, binary.LittleEndian, [2]float64{start, end})
		binary.Write(&summaries, binary.LittleEndian, [6]int32{
			int32(o.Code), int32(o.Center), int32(o.Frame), 2, int32(begin), int32(addr - 1),
		})
		name := fmt.Sprintf("%-*s", ss*8, fmt.Sprintf("SYNTHETIC %d", o.Code))
		names.WriteString(name)
	}

	file := make([]byte, 3*recordWords*8)
	copy(file[0:8], "DAF/SPK ")
	binary.LittleEndian.PutUint32(file[8:], nd)
	binary.LittleEndian.PutUint32(file[12:], ni)
	copy(file[16:76], fmt.Sprintf("%-60s", "synthetic test ephemeris"))
	binary.LittleEndian.PutUint32(file[76:], 2)
	binary.LittleEndian.PutUint32(file[80:], 2)
	binary.LittleEndian.PutUint32(file[84:], uint32(addr))
	copy(file[88:96], "LTL-IEEE")

	srec := file[recordWords*8 : 2*recordWords*8]
	binary.LittleEndian.PutUint64(srec[0:], math.Float64bits(0))
	binary.LittleEndian.PutUint64(srec[8:], math.Float64bits(0))
	binary.LittleEndian.PutUint64(srec[16:], math.Float64bits(float64(len(orbits))))
	copy(srec[24:], summaries.Bytes())

	nrec := file[2*recordWords*8:]
	copy(nrec, names.Bytes())

	var out bytes.Buffer
	out.Write(file)
	if err := binary.Write(&out, binary.LittleEndian, data); err != nil {
		return err
	}
	if pad := out.Len() % (recordWords * 8); pad != 0 {
		out.Write(make([]byte, recordWords*8-pad))
	}
	return os.WriteFile(path, out.Bytes(), 0o644)
}

// PatchDirectory overwrites the record size and record count words at the
// end of segment i of an SPK written by WriteSPK.
func PatchDirectory(tb testing.TB, path string, i int, rsize, n float64) {
	tb.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("read %s: %v", path, err)
	}
	const ss = 5
	off := recordWords*8 + (3+i*ss)*8 + 2*8 + 5*4
	end := int(binary.LittleEndian.Uint32(data[off:]))
	binary.LittleEndian.PutUint64(data[(end-2)*8:], math.Float64bits(rsize))
	binary.LittleEndian.PutUint64(data[(end-1)*8:], math.Float64bits(n))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}

// segmentWords lays out the records and directory of one type 2 segment.
func segmentWords(o Orbit, start, end float64) []float64 {
	n := int(math.Ceil((end - start) / interval))
	ncoef := degree + 1
	rsize := 2 + 3*ncoef
	words := make([]float64, 0, n*rsize+4)

	nodes := make([]float64, ncoef)
	for j := range nodes {
		nodes[j] = math.Cos(math.Pi * (float64(j) + 0.5) / float64(ncoef))
	}
	basis := make([][]float64, ncoef)
	for k := range basis {
		basis[k] = make([]float64, ncoef)
		for j, x := range nodes {
			basis[k][j] = math.Cos(float64(k) * math.Acos(x))
		}
	}

	samples := make([][]float64, 3)
	for i := range samples {
		samples[i] = make([]float64, ncoef)
	}
	for r := 0; r < n; r++ {
		radius := interval / 2
		mid := start + float64(r)*interval + radius
		for j, x := range nodes {
			p := o.Position(mid + x*radius)
			for i := 0; i < 3; i++ {
				samples[i][j] = p[i]
			}
		}
		words = append(words, mid, radius)
		for i := 0; i < 3; i++ {
			for k := 0; k < ncoef; k++ {
				c := 2 / float64(ncoef) * floats.Dot(samples[i], basis[k])
				if k == 0 {
					c /= 2
				}
				words = append(words, c)
			}
		}
	}
	return append(words, start, interval, float64(rsize), float64(n))
}

// Frames is a frames kernel defining a TK frame rotated 90 degrees about Z
// from ECLIPJ2000.
const Frames = `KPL/FK

\begindata

FRAME_TEST_ROTATED        = 1400001
FRAME_1400001_NAME        = 'TEST_ROTATED'
FRAME_1400001_CLASS       = 4
FRAME_1400001_CLASS_ID    = 1400001
FRAME_1400001_CENTER      = 10
TKFRAME_1400001_RELATIVE  = 'ECLIPJ2000'
TKFRAME_1400001_SPEC      = 'ANGLES'
TKFRAME_1400001_UNITS     = 'DEGREES'
TKFRAME_1400001_AXES      = ( 3, 1, 3 )
TKFRAME_1400001_ANGLES    = ( 90.0, 0.0, 0.0 )

\begintext
`

// Constants is a small planetary constants kernel.
const Constants = `KPL/PCK

\begindata

BODY399_RADII     = ( 6378.1366   6378.1366   6356.7519 )
BODY10_GM         = 1.3271244004193938D+11
NAIF_BODY_NAME   += ( 'STUDENT STATION' )
NAIF_BODY_CODE   += ( -424242 )

\begintext
`

// ISS is a historical two-line element set (epoch 2008-09-20).
const ISS = `ISS (ZARYA)
1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927
2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537
`

// WriteFile writes content into dir under name and returns the path.
func WriteFile(tb testing.TB, dir, name, content string) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}
	return path
}
