package kernel

import (
	"strconv"
	"strings"
)

// Well-known body codes.
const (
	SolarSystemBarycenter = 0
	Sun                   = 10
	Earth                 = 399
	Moon                  = 301
)

var builtinBodies = []struct {
	name string
	code int
}{
	{"SOLAR SYSTEM BARYCENTER", 0},
	{"SSB", 0},
	{"SOLAR_SYSTEM_BARYCENTER", 0},
	{"MERCURY BARYCENTER", 1},
	{"VENUS BARYCENTER", 2},
	{"EARTH BARYCENTER", 3},
	{"EMB", 3},
	{"EARTH MOON BARYCENTER", 3},
	{"EARTH-MOON BARYCENTER", 3},
	{"MARS BARYCENTER", 4},
	{"JUPITER BARYCENTER", 5},
	{"SATURN BARYCENTER", 6},
	{"URANUS BARYCENTER", 7},
	{"NEPTUNE BARYCENTER", 8},
	{"PLUTO BARYCENTER", 9},
	{"SUN", 10},
	{"MERCURY", 199},
	{"VENUS", 299},
	{"EARTH", 399},
	{"MOON", 301},
	{"MARS", 499},
	{"PHOBOS", 401},
	{"DEIMOS", 402},
	{"JUPITER", 599},
	{"IO", 501},
	{"EUROPA", 502},
	{"GANYMEDE", 503},
	{"CALLISTO", 504},
	{"SATURN", 699},
	{"TITAN", 606},
	{"URANUS", 799},
	{"NEPTUNE", 899},
	{"TRITON", 801},
	{"PLUTO", 999},
	{"CHARON", 901},
}

var (
	builtinByName = make(map[string]int, len(builtinBodies))
	builtinByCode = make(map[int]string, len(builtinBodies))
)

func init() {
	for _, b := range builtinBodies {
		builtinByName[b.name] = b.code
		if _, ok := builtinByCode[b.code]; !ok {
			builtinByCode[b.code] = b.name
		}
	}
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToUpper(name)), " ")
}

// BodyCode resolves a body name or integer string to its NAIF code. Names
// defined by loaded kernels take precedence over the built-in table.
func (p *Pool) BodyCode(name string) (int, bool) {
	key := normalizeName(name)
	if key == "" {
		return 0, false
	}
	if code, ok := p.names[key]; ok {
		return code, true
	}
	if code, ok := builtinByName[key]; ok {
		return code, true
	}
	if code, err := strconv.Atoi(key); err == nil {
		return code, true
	}
	return 0, false
}

// BodyName returns the preferred name for code, or its decimal form.
func (p *Pool) BodyName(code int) string {
	best := ""
	for name, c := range p.names {
		if c == code && (best == "" || name < best) {
			best = name
		}
	}
	if best != "" {
		return best
	}
	if name, ok := builtinByCode[code]; ok {
		return name
	}
	return strconv.Itoa(code)
}

// refreshNames applies NAIF_BODY_NAME/NAIF_BODY_CODE from the pool. Names
// registered by TLE kernels are kept.
func (p *Pool) refreshNames() {
	names, okN := p.vars["NAIF_BODY_NAME"]
	codes, okC := p.vars["NAIF_BODY_CODE"]
	if !okN || !okC {
		return
	}
	n := min(len(names.strs), len(codes.nums))
	for i := 0; i < n; i++ {
		p.names[normalizeName(names.strs[i])] = int(codes.nums[i])
	}
}
