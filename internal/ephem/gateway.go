// Package ephem serializes every use of the ephemeris library behind one
// process-wide lock and turns the library's sticky error state into explicit
// Go errors.
package ephem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/signalsfoundry/astrogator/internal/ephem/kernel"
	"github.com/signalsfoundry/astrogator/internal/logging"
	"github.com/signalsfoundry/astrogator/internal/observability"
	"github.com/signalsfoundry/astrogator/kb"
	"github.com/signalsfoundry/astrogator/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"
)

const tracerName = "github.com/signalsfoundry/astrogator/internal/ephem"

// Frames and observers used by the navigation surface.
const (
	FrameJ2000      = "J2000"
	FrameEclipJ2000 = "ECLIPJ2000"
	ObserverSun     = "SUN"
)

var (
	// ErrUnavailable marks a computation the ephemeris library could not
	// perform: missing coverage, unknown names, unparsable times or no
	// kernels at all. Errors carrying it are *LibraryError values.
	ErrUnavailable = errors.New("ephemeris unavailable")
	// ErrKernelDirUnavailable is returned by Load when the kernel directory
	// cannot be read.
	ErrKernelDirUnavailable = errors.New("kernel directory unavailable")
)

// LibraryError describes a failed library call. It matches ErrUnavailable
// under errors.Is.
type LibraryError struct {
	Op     string
	Code   string
	Detail string
}

func (e *LibraryError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("ephemeris %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("ephemeris %s: %s: %s", e.Op, e.Code, e.Detail)
}

// Is reports whether target is ErrUnavailable.
func (e *LibraryError) Is(target error) bool { return target == ErrUnavailable }

// Gateway is the only owner of the ephemeris library. All of its methods are
// safe for concurrent use; calls are served one at a time.
type Gateway struct {
	mu   sync.Mutex
	pool *kernel.Pool

	log     logging.Logger
	metrics *observability.EphemerisCollector
	catalog *kb.KnowledgeBase
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l logging.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithMetrics records call outcomes and lock timings.
func WithMetrics(c *observability.EphemerisCollector) Option {
	return func(g *Gateway) { g.metrics = c }
}

// WithCatalog sets the body catalog used to alias target names.
func WithCatalog(c *kb.KnowledgeBase) Option {
	return func(g *Gateway) {
		if c != nil {
			g.catalog = c
		}
	}
}

// New returns a gateway with an empty kernel set. Until Load succeeds every
// query fails with ErrUnavailable.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		pool:    kernel.NewPool(),
		log:     logging.Noop(),
		catalog: kb.NewDefaultKnowledgeBase(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Catalog returns the body catalog used for name aliasing.
func (g *Gateway) Catalog() *kb.KnowledgeBase { return g.catalog }

// exclusive runs fn while holding the library lock. A fault left in the
// library error state is converted to a *LibraryError and cleared before the
// lock is released.
func (g *Gateway) exclusive(ctx context.Context, op string, fn func(p *kernel.Pool) error, attrs ...attribute.KeyValue) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ephem."+op, trace.WithAttributes(attrs...))
	defer span.End()

	if err := ctx.Err(); err != nil {
		g.metrics.ObserveCall(op, "canceled", 0, 0)
		return err
	}

	wait, hold, err := g.locked(ctx, op, fn)

	outcome := "ok"
	if err != nil {
		outcome = "unavailable"
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		logging.FromContext(ctx, g.log).Debug(ctx, "ephemeris call failed",
			logging.String("op", op), logging.Err(err))
	}
	span.SetAttributes(attribute.Int64("ephem.lock_wait_us", wait.Microseconds()))
	g.metrics.ObserveCall(op, outcome, wait, hold)
	return err
}

// locked runs fn under the library lock and reports how long the call waited
// for and held it. A panic in fn is returned as a *LibraryError.
func (g *Gateway) locked(ctx context.Context, op string, fn func(p *kernel.Pool) error) (wait, hold time.Duration, err error) {
	waitStart := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	wait = time.Since(waitStart)

	holdStart := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx, g.log).Error(ctx, "ephemeris library panic",
				logging.String("op", op), logging.Any("panic", r), logging.String("stack", string(debug.Stack())))
			err = &LibraryError{Op: op, Code: kernel.CodeInternal, Detail: fmt.Sprint(r)}
		}
		if g.pool.Failed() {
			short, long := g.pool.Message()
			g.pool.Reset()
			if err == nil {
				err = &LibraryError{Op: op, Code: short, Detail: long}
			}
		}
		hold = time.Since(holdStart)
	}()
	return wait, hold, fn(g.pool)
}

// Position returns the geometric position of target relative to observer at
// t, in frame.
func (g *Gateway) Position(ctx context.Context, target, observer string, t model.TimePoint, frame string) (model.Vec3, error) {
	var out model.Vec3
	err := g.exclusive(ctx, "position", func(p *kernel.Pool) error {
		pos, _ := p.PositionAt(target, observer, float64(t), frame, kernel.AbcorrNone)
		if !p.Failed() {
			out = model.Vec3FromArray(pos)
		}
		return nil
	}, bodyAttrs(target, observer, frame)...)
	if err != nil {
		return model.Vec3{}, err
	}
	return out, nil
}

// State returns the geometric state of target relative to observer at t, in
// frame.
func (g *Gateway) State(ctx context.Context, target, observer string, t model.TimePoint, frame string) (model.StateVector, error) {
	var out model.StateVector
	err := g.exclusive(ctx, "state", func(p *kernel.Pool) error {
		st, _ := p.StateAt(target, observer, float64(t), frame, kernel.AbcorrNone)
		if !p.Failed() {
			out = model.StateFromArray(st)
		}
		return nil
	}, bodyAttrs(target, observer, frame)...)
	if err != nil {
		return model.StateVector{}, err
	}
	return out, nil
}

// UTCToTime parses an ISO-8601 UTC string into ephemeris time.
func (g *Gateway) UTCToTime(ctx context.Context, text string) (model.TimePoint, error) {
	var out model.TimePoint
	err := g.exclusive(ctx, "utc_to_time", func(p *kernel.Pool) error {
		out = model.TimePoint(p.UTCToET(text))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// TimeToUTC formats t as ISO-8601 UTC truncated to whole seconds.
func (g *Gateway) TimeToUTC(ctx context.Context, t model.TimePoint) (string, error) {
	var out string
	err := g.exclusive(ctx, "time_to_utc", func(p *kernel.Pool) error {
		out = p.ETToUTC(float64(t))
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Now converts wall-clock time to ephemeris time.
func (g *Gateway) Now(ctx context.Context, now time.Time) (model.TimePoint, error) {
	return g.UTCToTime(ctx, now.UTC().Format("2006-01-02T15:04:05.000000"))
}

// VectorToApparentDirection converts an observer-relative vector into range,
// right ascension and declination (degrees).
func (g *Gateway) VectorToApparentDirection(ctx context.Context, v model.Vec3) (model.Direction, error) {
	var out model.Direction
	err := g.exclusive(ctx, "vector_to_direction", func(p *kernel.Pool) error {
		for _, c := range v.Array() {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return &LibraryError{Op: "vector_to_direction", Code: "KERNEL(INVALIDVECTOR)", Detail: "vector has non-finite components"}
			}
		}
		out = toDirection(v.Array())
		return nil
	})
	if err != nil {
		return model.Direction{}, err
	}
	return out, nil
}

// ApparentDirection returns the direction to target as seen from an observer
// at observerPos (J2000, relative to the Sun). The target is corrected for
// light time and stellar aberration; the observer position is not.
func (g *Gateway) ApparentDirection(ctx context.Context, target string, observerPos model.Vec3, t model.TimePoint) (model.Direction, error) {
	name := g.catalog.EphemerisName(target)
	var out model.Direction
	err := g.exclusive(ctx, "apparent_direction", func(p *kernel.Pool) error {
		pos, _ := p.PositionAt(name, ObserverSun, float64(t), FrameJ2000, kernel.AbcorrLTS)
		if p.Failed() {
			return nil
		}
		rel := model.Vec3FromArray(pos).Sub(observerPos)
		out = toDirection(rel.Array())
		return nil
	}, bodyAttrs(name, ObserverSun, FrameJ2000)...)
	if err != nil {
		return model.Direction{}, err
	}
	return out, nil
}

// Rotate re-expresses v, given in frame from, in frame to.
func (g *Gateway) Rotate(ctx context.Context, v model.Vec3, from, to string) (model.Vec3, error) {
	var out model.Vec3
	err := g.exclusive(ctx, "rotate", func(p *kernel.Pool) error {
		r := p.Rotation(from, to)
		if r == nil {
			return nil
		}
		var rv mat.VecDense
		rv.MulVec(r, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
		out = model.Vec3{X: rv.AtVec(0), Y: rv.AtVec(1), Z: rv.AtVec(2)}
		return nil
	}, attribute.String("ephem.from", from), attribute.String("ephem.to", to))
	if err != nil {
		return model.Vec3{}, err
	}
	return out, nil
}

func toDirection(v [3]float64) model.Direction {
	rng, ra, dec := kernel.RecRad(v)
	return model.Direction{
		Range:  rng,
		RADeg:  ra * kernel.DegreesPerRadian,
		DecDeg: dec * kernel.DegreesPerRadian,
	}
}

func bodyAttrs(target, observer, frame string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("ephem.target", target),
		attribute.String("ephem.observer", observer),
		attribute.String("ephem.frame", frame),
	}
}

// Close releases kernel files. The gateway must not be used afterwards.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pool.Close()
}
