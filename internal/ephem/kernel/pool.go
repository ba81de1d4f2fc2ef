// Package kernel is a small ephemeris library in the style of the NAIF
// toolkit. Kernel files are furnished into a Pool which then answers state,
// time-conversion and frame queries.
//
// A Pool is not safe for concurrent use and is not reentrant: segment
// readers cache their last record and every routine reports failure through
// a sticky error state that stays set until Reset is called. Callers that
// share a Pool must serialize every call, including the error inspection.
package kernel

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// Kind classifies a kernel file.
type Kind int

const (
	KindUnknown Kind = iota
	KindLeapSeconds
	KindConstants
	KindSPK
	KindVSOP87
	KindTLE
	KindFrames
)

func (k Kind) String() string {
	switch k {
	case KindLeapSeconds:
		return "lsk"
	case KindConstants:
		return "pck"
	case KindSPK:
		return "spk"
	case KindVSOP87:
		return "vsop87"
	case KindTLE:
		return "tle"
	case KindFrames:
		return "fk"
	default:
		return "unknown"
	}
}

// KindOf classifies path by its name. Files of KindUnknown are not kernels.
func KindOf(path string) Kind {
	base := filepath.Base(path)
	if strings.HasPrefix(strings.ToUpper(base), "VSOP87B.") {
		if _, ok := vsopPlanets[strings.ToLower(filepath.Ext(base))]; ok {
			return KindVSOP87
		}
		return KindUnknown
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".tls":
		return KindLeapSeconds
	case ".tpc":
		return KindConstants
	case ".bsp":
		return KindSPK
	case ".tle":
		return KindTLE
	case ".tf":
		return KindFrames
	}
	return KindUnknown
}

// Fault is the error recorded in a Pool's error state.
type Fault struct {
	Code   string
	Detail string
}

func (f *Fault) Error() string {
	if f.Detail == "" {
		return f.Code
	}
	return f.Code + ": " + f.Detail
}

// Fault codes.
const (
	CodeFileRead         = "KERNEL(FILEREAD)"
	CodeBadKernel        = "KERNEL(BADKERNEL)"
	CodeUnknownKind      = "KERNEL(UNKNOWNKERNELTYPE)"
	CodeNoLeapSeconds    = "KERNEL(NOLEAPSECONDS)"
	CodeBadTime          = "KERNEL(INVALIDTIMESTRING)"
	CodeUnknownBody      = "KERNEL(IDCODENOTFOUND)"
	CodeUnknownFrame     = "KERNEL(UNKNOWNFRAME)"
	CodeBadAberration    = "KERNEL(INVALIDOPTION)"
	CodeInsufficientData = "KERNEL(SPKINSUFFDATA)"
	CodeMissingConstant  = "KERNEL(KERNELVARNOTFOUND)"
	CodeInternal         = "KERNEL(INTERNALFAULT)"
)

// Pool holds every furnished kernel and the library error state.
type Pool struct {
	fault *Fault

	loaded map[string]Kind
	order  []string

	vars     map[string]*variable
	leaps    *leapSeconds
	names    map[string]int
	frames   *frameTable
	segments []segment
	closers  []io.Closer
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		loaded: make(map[string]Kind),
		vars:   make(map[string]*variable),
		names:  make(map[string]int),
		frames: newFrameTable(),
	}
}

// Failed reports whether a routine has failed since the last Reset.
func (p *Pool) Failed() bool { return p.fault != nil }

// Err returns the recorded fault, or nil.
func (p *Pool) Err() error {
	if p.fault == nil {
		return nil
	}
	return p.fault
}

// Message returns the short code and long description of the recorded
// fault.
func (p *Pool) Message() (short, long string) {
	if p.fault == nil {
		return "", ""
	}
	return p.fault.Code, p.fault.Detail
}

// Reset clears the error state.
func (p *Pool) Reset() { p.fault = nil }

// signal records a fault. The first fault wins until Reset.
func (p *Pool) signal(code, format string, args ...any) {
	if p.fault != nil {
		return
	}
	p.fault = &Fault{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Furnish loads one kernel file. Loading a path that is already loaded is a
// no-op.
func (p *Pool) Furnish(path string) {
	if p.fault != nil {
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if _, ok := p.loaded[abs]; ok {
		return
	}

	kind := KindOf(abs)
	switch kind {
	case KindLeapSeconds, KindConstants, KindFrames:
		err = p.loadText(abs, kind)
	case KindSPK:
		err = p.loadSPK(abs)
	case KindVSOP87:
		err = p.loadVSOP(abs)
	case KindTLE:
		err = p.loadTLE(abs)
	default:
		p.signal(CodeUnknownKind, "%s is not a recognized kernel file", abs)
		return
	}
	if err != nil {
		p.signal(codeFor(err), "%s: %v", abs, err)
		return
	}
	p.loaded[abs] = kind
	p.order = append(p.order, abs)
}

// IsLoaded reports whether path has been furnished.
func (p *Pool) IsLoaded(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	_, ok := p.loaded[abs]
	return ok
}

// Loaded lists furnished kernels in load order.
func (p *Pool) Loaded() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Close releases open kernel files. The pool must not be used afterwards.
func (p *Pool) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}

// SegmentInfo summarizes one trajectory segment.
type SegmentInfo struct {
	Source string
	Kind   Kind
	Target int
	Center int
	Frame  int
	Type   int
	Start  float64
	End    float64
}

// Segments lists every trajectory segment in load order.
func (p *Pool) Segments() []SegmentInfo {
	out := make([]SegmentInfo, 0, len(p.segments))
	for _, s := range p.segments {
		out = append(out, s.info())
	}
	return out
}

// Coverage returns the union time span, per target body, of the loaded
// trajectory segments.
func (p *Pool) Coverage() map[int][2]float64 {
	out := make(map[int][2]float64)
	for _, s := range p.segments {
		in := s.info()
		span, ok := out[in.Target]
		if !ok {
			out[in.Target] = [2]float64{in.Start, in.End}
			continue
		}
		if in.Start < span[0] {
			span[0] = in.Start
		}
		if in.End > span[1] {
			span[1] = in.End
		}
		out[in.Target] = span
	}
	return out
}

// BodyConstant returns the numeric values of BODY<code>_<item> from the
// constants kernels.
func (p *Pool) BodyConstant(body, item string) []float64 {
	if p.fault != nil {
		return nil
	}
	code, ok := p.BodyCode(body)
	if !ok {
		p.signal(CodeUnknownBody, "body %q is not known", body)
		return nil
	}
	key := fmt.Sprintf("BODY%d_%s", code, strings.ToUpper(item))
	v, ok := p.vars[key]
	if !ok || len(v.nums) == 0 {
		p.signal(CodeMissingConstant, "%s is not present in the kernel pool", key)
		return nil
	}
	out := make([]float64, len(v.nums))
	copy(out, v.nums)
	return out
}

// Variables lists the names of the text-kernel variables in the pool.
func (p *Pool) Variables() []string {
	out := make([]string, 0, len(p.vars))
	for k := range p.vars {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

func codeFor(err error) string {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return CodeBadKernel
}
