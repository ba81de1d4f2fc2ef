package kernel

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

const (
	// tleBodyBase maps NORAD catalog numbers to body codes:
	// code = tleBodyBase - norad.
	tleBodyBase = -100000
	tleSpan     = 30 * secondsPerDay
	// ttMinusUTC approximates ET-UTC when no leapseconds kernel is loaded.
	ttMinusUTC = 69.184
)

// tleSegment propagates one two-line element set with SGP4. Output is TEME,
// which is treated as J2000.
type tleSegment struct {
	pool  *Pool
	sat   satellite.Satellite
	norad int
	meta  SegmentInfo
}

func (p *Pool) loadTLE(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return withCode(CodeFileRead, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), " \r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return withCode(CodeFileRead, err)
	}

	var segs []*tleSegment
	names := make(map[string]int)
	pendingName := ""
	for i := 0; i < len(lines); i++ {
		l1 := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(l1, "1 ") || i+1 >= len(lines) {
			pendingName = strings.TrimSpace(strings.TrimPrefix(l1, "0 "))
			continue
		}
		l2 := strings.TrimSpace(lines[i+1])
		i++
		seg, err := p.newTLESegment(path, l1, l2)
		if err != nil {
			return err
		}
		if pendingName != "" {
			names[normalizeName(pendingName)] = seg.meta.Target
		}
		names["NORAD "+strconv.Itoa(seg.norad)] = seg.meta.Target
		pendingName = ""
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		return fmt.Errorf("no element sets found")
	}
	for _, s := range segs {
		p.segments = append(p.segments, s)
	}
	for name, code := range names {
		p.names[name] = code
	}
	return nil
}

func (p *Pool) newTLESegment(path, l1, l2 string) (*tleSegment, error) {
	// go-satellite exits the process on fields it cannot parse
	if err := checkTLE(l1, l2); err != nil {
		return nil, err
	}
	norad, err := strconv.Atoi(strings.TrimSpace(l1[2:7]))
	if err != nil {
		return nil, fmt.Errorf("bad catalog number in %q", l1)
	}
	epoch, err := tleEpoch(l1[18:32])
	if err != nil {
		return nil, err
	}

	sat := satellite.TLEToSat(l1, l2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", norad, sat.Error, sat.ErrorStr)
	}

	et := p.etFromTime(epoch)
	return &tleSegment{
		pool:  p,
		sat:   sat,
		norad: norad,
		meta: SegmentInfo{
			Source: path,
			Kind:   KindTLE,
			Target: tleBodyBase - norad,
			Center: Earth,
			Frame:  FrameJ2000,
			Start:  et - tleSpan,
			End:    et + tleSpan,
		},
	}, nil
}

// checkTLE verifies the line layout, checksums, and every numeric column
// exactly as go-satellite will read them.
func checkTLE(l1, l2 string) error {
	if len(l1) != 69 || len(l2) != 69 || l1[0] != '1' || l2[0] != '2' {
		return fmt.Errorf("malformed element set %q", l1)
	}
	for n, line := range []string{l1, l2} {
		if got, want := tleChecksum(line), line[68]; got != want {
			return fmt.Errorf("element set line %d checksum %c, want %c", n+1, want, got)
		}
	}
	if l1[2:7] != l2[2:7] {
		return fmt.Errorf("element set lines disagree on catalog number: %q, %q", l1[2:7], l2[2:7])
	}

	ints := []struct{ name, text string }{
		{"catalog number", strings.TrimSpace(l1[2:7])},
		{"epoch year", l1[18:20]},
	}
	for _, f := range ints {
		if _, err := strconv.ParseInt(f.text, 10, 0); err != nil {
			return fmt.Errorf("element set %s %q: %w", f.name, f.text, err)
		}
	}
	floats := []struct{ name, text string }{
		{"epoch day", l1[20:32]},
		{"mean motion derivative", squeeze(l1[33:43])},
		{"mean motion second derivative", squeeze(l1[44:45] + "." + l1[45:50] + "e" + l1[50:52])},
		{"drag term", squeeze(l1[53:54] + "." + l1[54:59] + "e" + l1[59:61])},
		{"inclination", squeeze(l2[8:16])},
		{"right ascension", squeeze(l2[17:25])},
		{"eccentricity", "." + l2[26:33]},
		{"argument of perigee", squeeze(l2[34:42])},
		{"mean anomaly", squeeze(l2[43:51])},
		{"mean motion", squeeze(l2[52:63])},
	}
	for _, f := range floats {
		if _, err := strconv.ParseFloat(f.text, 64); err != nil {
			return fmt.Errorf("element set %s %q: %w", f.name, f.text, err)
		}
	}
	return nil
}

// squeeze drops at most two spaces, the way go-satellite cleans a column.
func squeeze(field string) string {
	return strings.Replace(field, " ", "", 2)
}

// tleChecksum is the mod-10 sum of the first 68 columns, counting each minus
// sign as one.
func tleChecksum(line string) byte {
	sum := 0
	for i := 0; i < 68; i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return byte('0' + sum%10)
}

// tleEpoch parses the YYDDD.DDDDDDDD epoch field.
func tleEpoch(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if len(field) < 5 {
		return time.Time{}, fmt.Errorf("bad element set epoch %q", field)
	}
	yy, err := strconv.Atoi(field[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad element set epoch %q", field)
	}
	doy, err := strconv.ParseFloat(field[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad element set epoch %q", field)
	}
	year := 1900 + yy
	if yy < 57 {
		year = 2000 + yy
	}
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((doy - 1) * secondsPerDay * float64(time.Second))), nil
}

func (p *Pool) etFromTime(t time.Time) float64 {
	utc := float64(t.Unix()-j2000Unix) + float64(t.Nanosecond())/1e9
	if p.leaps == nil {
		return utc + ttMinusUTC
	}
	return p.leaps.utcToET(utc)
}

func (p *Pool) timeFromET(et float64) time.Time {
	var utc float64
	if p.leaps == nil {
		utc = et - ttMinusUTC
	} else {
		utc = p.leaps.etToUTC(et)
	}
	sec := math.Floor(utc)
	return time.Unix(j2000Unix+int64(sec), int64((utc-sec)*1e9)).UTC()
}

func (s *tleSegment) info() SegmentInfo { return s.meta }

func (s *tleSegment) covers(et float64) bool {
	return et >= s.meta.Start && et <= s.meta.End
}

// state propagates to the whole second at or before et and extrapolates the
// fraction linearly.
func (s *tleSegment) state(et float64) ([6]float64, error) {
	var out [6]float64
	t := s.pool.timeFromET(et)
	frac := float64(t.Nanosecond()) / 1e9
	pos, vel := satellite.Propagate(s.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	vals := [6]float64{pos.X, pos.Y, pos.Z, vel.X, vel.Y, vel.Z}
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return out, fmt.Errorf("sgp4 propagation failed for NORAD %d", s.norad)
		}
		out[i] = v
	}
	for i := 0; i < 3; i++ {
		out[i] += out[i+3] * frac
	}
	return out, nil
}
