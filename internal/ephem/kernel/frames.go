package kernel

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Built-in inertial frame codes.
const (
	FrameJ2000      = 1
	FrameEclipJ2000 = 17
)

// obliquityJ2000 is the mean obliquity of the ecliptic at J2000, radians.
const obliquityJ2000 = 84381.448 / 3600 * math.Pi / 180

const tkFrameClass = 4

type frameDef struct {
	name string
	code int
	// toJ2000 rotates vectors expressed in this frame into J2000.
	toJ2000 *mat.Dense
}

type frameTable struct {
	byName map[string]*frameDef
	byCode map[int]*frameDef
}

func newFrameTable() *frameTable {
	ft := &frameTable{
		byName: make(map[string]*frameDef),
		byCode: make(map[int]*frameDef),
	}
	ft.add(&frameDef{name: "J2000", code: FrameJ2000, toJ2000: identity()})
	ecl := mat.NewDense(3, 3, nil)
	ecl.CloneFrom(rotation(1, obliquityJ2000).T())
	ft.add(&frameDef{name: "ECLIPJ2000", code: FrameEclipJ2000, toJ2000: ecl})
	return ft
}

func (ft *frameTable) add(f *frameDef) {
	ft.byName[f.name] = f
	ft.byCode[f.code] = f
}

func (ft *frameTable) lookup(name string) (*frameDef, bool) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if f, ok := ft.byName[key]; ok {
		return f, true
	}
	if code, err := strconv.Atoi(key); err == nil {
		f, ok := ft.byCode[code]
		return f, ok
	}
	return nil, false
}

// rotation returns the matrix that rotates coordinate axes by angle radians
// about axis (1, 2 or 3).
func rotation(axis int, angle float64) *mat.Dense {
	s, c := math.Sincos(angle)
	switch axis {
	case 1:
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, c, s, 0, -s, c})
	case 2:
		return mat.NewDense(3, 3, []float64{c, 0, -s, 0, 1, 0, s, 0, c})
	default:
		return mat.NewDense(3, 3, []float64{c, s, 0, -s, c, 0, 0, 0, 1})
	}
}

func identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// refresh defines TK frames found in the pool. A TK frame whose RELATIVE
// frame is not yet known is picked up by a later refresh.
func (ft *frameTable) refresh(vars map[string]*variable) {
	type pending struct {
		name string
		code int
	}
	var todo []pending
	for key, v := range vars {
		if !strings.HasPrefix(key, "FRAME_") || len(v.nums) != 1 {
			continue
		}
		name := strings.TrimPrefix(key, "FRAME_")
		if _, err := strconv.Atoi(name); err == nil || strings.Contains(name, "_") && isFrameAttr(name) {
			continue
		}
		code := int(v.nums[0])
		if _, known := ft.byCode[code]; known {
			continue
		}
		todo = append(todo, pending{name: name, code: code})
	}

	// resolve in dependency order
	for progress := true; progress && len(todo) > 0; {
		progress = false
		rest := todo[:0]
		for _, pd := range todo {
			f, ok := ft.defineTK(vars, pd.name, pd.code)
			if !ok {
				rest = append(rest, pd)
				continue
			}
			ft.add(f)
			progress = true
		}
		todo = rest
	}
}

func isFrameAttr(name string) bool {
	i := strings.Index(name, "_")
	_, err := strconv.Atoi(name[:i])
	return err == nil
}

func (ft *frameTable) defineTK(vars map[string]*variable, name string, code int) (*frameDef, bool) {
	prefix := "TKFRAME_" + strconv.Itoa(code) + "_"
	if class, ok := vars["FRAME_"+strconv.Itoa(code)+"_CLASS"]; !ok || len(class.nums) != 1 || int(class.nums[0]) != tkFrameClass {
		return nil, false
	}
	relVar, ok := vars[prefix+"RELATIVE"]
	if !ok || len(relVar.strs) != 1 {
		return nil, false
	}
	rel, ok := ft.lookup(relVar.strs[0])
	if !ok {
		return nil, false
	}
	specVar, ok := vars[prefix+"SPEC"]
	if !ok || len(specVar.strs) != 1 {
		return nil, false
	}

	// m rotates vectors from the RELATIVE frame into this frame
	var m *mat.Dense
	switch strings.ToUpper(specVar.strs[0]) {
	case "MATRIX":
		mv, ok := vars[prefix+"MATRIX"]
		if !ok || len(mv.nums) != 9 {
			return nil, false
		}
		// kernel matrices are stored column-major
		m = mat.NewDense(3, 3, nil)
		for col := 0; col < 3; col++ {
			for row := 0; row < 3; row++ {
				m.Set(row, col, mv.nums[col*3+row])
			}
		}
	case "ANGLES":
		av, ok1 := vars[prefix+"ANGLES"]
		xv, ok2 := vars[prefix+"AXES"]
		if !ok1 || !ok2 || len(av.nums) != 3 || len(xv.nums) != 3 {
			return nil, false
		}
		scale := math.Pi / 180
		if uv, ok := vars[prefix+"UNITS"]; ok && len(uv.strs) == 1 {
			switch strings.ToUpper(uv.strs[0]) {
			case "RADIANS":
				scale = 1
			case "ARCSECONDS":
				scale = math.Pi / 180 / 3600
			case "DEGREES":
			default:
				return nil, false
			}
		}
		// M = [a3]ax3 [a2]ax2 [a1]ax1
		m = identity()
		for i := 0; i < 3; i++ {
			var next mat.Dense
			next.Mul(rotation(int(xv.nums[i]), av.nums[i]*scale), m)
			m = &next
		}
	default:
		return nil, false
	}

	var toJ2000 mat.Dense
	toJ2000.Mul(rel.toJ2000, m.T())
	return &frameDef{name: strings.ToUpper(name), code: code, toJ2000: &toJ2000}, true
}

// FrameCode resolves a frame name or integer string.
func (p *Pool) FrameCode(name string) (int, bool) {
	f, ok := p.frames.lookup(name)
	if !ok {
		return 0, false
	}
	return f.code, true
}

// FrameNames lists the names of every known frame.
func (p *Pool) FrameNames() []string {
	out := make([]string, 0, len(p.frames.byName))
	for name := range p.frames.byName {
		out = append(out, name)
	}
	return out
}

// Rotation returns the 3x3 matrix rotating vectors from one frame into
// another.
func (p *Pool) Rotation(from, to string) *mat.Dense {
	if p.fault != nil {
		return nil
	}
	f, ok := p.frames.lookup(from)
	if !ok {
		p.signal(CodeUnknownFrame, "frame %q is not known", from)
		return nil
	}
	t, ok := p.frames.lookup(to)
	if !ok {
		p.signal(CodeUnknownFrame, "frame %q is not known", to)
		return nil
	}
	return p.frames.between(f, t)
}

func (ft *frameTable) between(from, to *frameDef) *mat.Dense {
	var r mat.Dense
	r.Mul(to.toJ2000.T(), from.toJ2000)
	return &r
}

func rotateState(r mat.Matrix, st [6]float64) [6]float64 {
	pos := mat.NewVecDense(3, []float64{st[0], st[1], st[2]})
	vel := mat.NewVecDense(3, []float64{st[3], st[4], st[5]})
	var rp, rv mat.VecDense
	rp.MulVec(r, pos)
	rv.MulVec(r, vel)
	return [6]float64{rp.AtVec(0), rp.AtVec(1), rp.AtVec(2), rv.AtVec(0), rv.AtVec(1), rv.AtVec(2)}
}
