package kernel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	j2000JD       = 2451545.0
	secondsPerDay = 86400.0
	// j2000Unix is 2000-01-01T12:00:00Z as a Unix timestamp.
	j2000Unix = 946728000

	utcFormat = "2006-01-02T15:04:05"
)

// UTC seconds past J2000 that ETToUTC can format: years 1 through 9999.
var (
	minUTC = float64(time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix() - j2000Unix)
	maxUTC = float64(time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC).Unix() - j2000Unix)
)

type leapStep struct {
	utc float64 // formal UTC seconds past J2000 at which dat takes effect
	dat float64 // TAI-UTC
}

type leapSeconds struct {
	deltaTA float64
	k       float64
	eb      float64
	m       [2]float64
	steps   []leapStep
}

func leapSecondsFromPool(vars map[string]*variable) (*leapSeconds, error) {
	scalar := func(name string) (float64, error) {
		v, ok := vars[name]
		if !ok || len(v.nums) != 1 {
			return 0, withCode(CodeNoLeapSeconds, fmt.Errorf("%s missing or not a scalar", name))
		}
		return v.nums[0], nil
	}

	ls := &leapSeconds{}
	var err error
	if ls.deltaTA, err = scalar("DELTET/DELTA_T_A"); err != nil {
		return nil, err
	}
	if ls.k, err = scalar("DELTET/K"); err != nil {
		return nil, err
	}
	if ls.eb, err = scalar("DELTET/EB"); err != nil {
		return nil, err
	}
	m, ok := vars["DELTET/M"]
	if !ok || len(m.nums) != 2 {
		return nil, withCode(CodeNoLeapSeconds, errors.New("DELTET/M must hold two values"))
	}
	ls.m = [2]float64{m.nums[0], m.nums[1]}

	dat, ok := vars["DELTET/DELTA_AT"]
	if !ok || len(dat.nums) == 0 || len(dat.nums)%2 != 0 {
		return nil, withCode(CodeNoLeapSeconds, errors.New("DELTET/DELTA_AT must hold (value, date) pairs"))
	}
	for i := 0; i < len(dat.nums); i += 2 {
		ls.steps = append(ls.steps, leapStep{dat: dat.nums[i], utc: dat.nums[i+1]})
	}
	sort.Slice(ls.steps, func(i, j int) bool { return ls.steps[i].utc < ls.steps[j].utc })
	return ls, nil
}

// periodic is the TDB-TT term evaluated at TT seconds past J2000.
func (ls *leapSeconds) periodic(tt float64) float64 {
	m := ls.m[0] + ls.m[1]*tt
	e := m + ls.eb*math.Sin(m)
	return ls.k * math.Sin(e)
}

func (ls *leapSeconds) datAtUTC(utc float64) float64 {
	dat := ls.steps[0].dat
	for _, st := range ls.steps {
		if st.utc > utc {
			break
		}
		dat = st.dat
	}
	return dat
}

func (ls *leapSeconds) utcToET(utc float64) float64 {
	tt := utc + ls.datAtUTC(utc) + ls.deltaTA
	return tt + ls.periodic(tt)
}

// insertsAt reports whether a leap second is inserted just before the formal
// UTC second utc.
func (ls *leapSeconds) insertsAt(utc float64) bool {
	for i := 1; i < len(ls.steps); i++ {
		if math.Abs(ls.steps[i].utc-utc) < 1e-3 {
			return ls.steps[i].dat > ls.steps[i-1].dat
		}
	}
	return false
}

// etToUTC inverts utcToET. Inside an inserted leap second the result repeats
// the following whole second.
func (ls *leapSeconds) etToUTC(et float64) float64 {
	tt := et
	for range 3 {
		tt = et - ls.periodic(tt)
	}
	tai := tt - ls.deltaTA
	dat := ls.steps[0].dat
	for _, st := range ls.steps {
		if st.utc+st.dat > tai {
			break
		}
		dat = st.dat
	}
	return tai - dat
}

var utcLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// UTCToET converts an ISO-8601 UTC string to ephemeris seconds past J2000.
func (p *Pool) UTCToET(text string) float64 {
	if p.fault != nil {
		return 0
	}
	if p.leaps == nil {
		p.signal(CodeNoLeapSeconds, "no leapseconds kernel has been loaded")
		return 0
	}
	utc, leap, err := parseUTC(text)
	if err != nil {
		p.signal(CodeBadTime, "%v", err)
		return 0
	}
	if leap {
		// second 60 is the inserted second that follows 23:59:59
		if !p.leaps.insertsAt(math.Floor(utc) + 1) {
			p.signal(CodeBadTime, "%q is not a leap second", text)
			return 0
		}
		return p.leaps.utcToET(utc) + 1
	}
	return p.leaps.utcToET(utc)
}

// ETToUTC formats et as an ISO-8601 UTC string truncated to whole seconds.
// Times inside an inserted leap second format as second 60.
func (p *Pool) ETToUTC(et float64) string {
	if p.fault != nil {
		return ""
	}
	if p.leaps == nil {
		p.signal(CodeNoLeapSeconds, "no leapseconds kernel has been loaded")
		return ""
	}
	if math.IsNaN(et) || math.IsInf(et, 0) {
		p.signal(CodeBadTime, "ephemeris time %v is not finite", et)
		return ""
	}
	utc := p.leaps.etToUTC(et)
	if utc < minUTC || utc >= maxUTC {
		p.signal(CodeBadTime, "ephemeris time %v is outside years 1 to 9999", et)
		return ""
	}

	// the inverse is good to a few ulps; settle on the last whole second
	// whose ephemeris time is not after et
	whole := math.Floor(utc)
	if p.leaps.utcToET(whole+1) <= et {
		whole++
	} else if p.leaps.utcToET(whole) > et {
		whole--
	}
	text := time.Unix(j2000Unix+int64(whole), 0).UTC().Format(utcFormat)
	if p.leaps.insertsAt(whole+1) && et >= p.leaps.utcToET(whole)+1 {
		text = text[:17] + "60"
	}
	return text
}

// parseUTC returns formal UTC seconds past J2000. A seconds field of 60 is
// parsed as 59 and reported through leap.
func parseUTC(text string) (utc float64, leap bool, err error) {
	s := strings.TrimSpace(text)
	if len(s) >= 19 && s[16] == ':' && s[17:19] == "60" {
		s = s[:17] + "59" + s[19:]
		leap = true
	}
	for _, layout := range utcLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = t.UTC()
		return float64(t.Unix()-j2000Unix) + float64(t.Nanosecond())/1e9, leap, nil
	}
	return 0, false, fmt.Errorf("cannot parse %q as a UTC time", text)
}
