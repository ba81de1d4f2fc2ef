// Package nbi exposes the navigation simulation over gRPC.
package nbi

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/astrogator/internal/ephem"
	"github.com/signalsfoundry/astrogator/internal/logging"
	"github.com/signalsfoundry/astrogator/internal/orbit"
	"github.com/signalsfoundry/astrogator/internal/sim/state"
	"github.com/signalsfoundry/astrogator/kb"
	"github.com/signalsfoundry/astrogator/model"
	"github.com/signalsfoundry/astrogator/timectrl"
)

// Version is reported by Health.
const Version = "0.4.0"

// apparentMagnitude is reported for every observable until photometry is
// modelled.
const apparentMagnitude = -1.0

const maxPathPoints = 2000

// Ephemeris is the subset of *ephem.Gateway the service uses.
type Ephemeris interface {
	orbit.PositionSource
	TimeToUTC(ctx context.Context, t model.TimePoint) (string, error)
	Now(ctx context.Context, now time.Time) (model.TimePoint, error)
	ApparentDirection(ctx context.Context, target string, observerPos model.Vec3, t model.TimePoint) (model.Direction, error)
	VectorToApparentDirection(ctx context.Context, v model.Vec3) (model.Direction, error)
	Rotate(ctx context.Context, v model.Vec3, from, to string) (model.Vec3, error)
}

// Clock is the simulation clock. *timectrl.TimeController satisfies it.
type Clock interface {
	timectrl.SimClock
	SetTime(t time.Time)
	SetRate(rate float64)
	Rate() float64
}

// NavRecorder receives boundary metrics. *observability.NavCollector
// satisfies it.
type NavRecorder interface {
	ObserveBurn(applied bool, magnitude float64)
	ObserveAuthFailure(reason string)
}

// NavigationService implements NavigationServer.
//
// Request and response documents:
//
//	Health          {} -> {message, version}
//	GetStars        {} -> {stars: [...]}
//	GetLiveOrrery   {} -> {et, utc, bodies: {NAME: [x, y, z]}, unavailable: [...]}
//	GetStaticOrrery {points?} -> {et, utc, paths: {NAME: [[x, y, z], ...]}, unavailable: [...]}
//	GetNavState     {id} -> {time: {et, utc}, fuel, observables: {bodies: [{name, ra, dec, range, mag}]}, unavailable: [...]}
//	ExecuteBurn     {id, delta_v: {x, y, z}} -> {status, remaining_fuel}
//	GetFleet        {} -> {fleet: {ID: [x, y, z]}}                  (admin)
//	GetTruth        {id} -> {id, et, fuel, position, velocity}     (admin)
//	SetClock        {utc?, rate?} -> {clock, rate}                (admin)
//
// Positions are km and velocities km/s, heliocentric in ECLIPJ2000 for the
// orrery and in the fleet frame elsewhere. Right ascension and declination
// are J2000 degrees.
type NavigationService struct {
	eph      Ephemeris
	sampler  *orbit.Sampler
	registry *state.Registry
	clock    Clock
	catalog  *kb.KnowledgeBase

	stars      *structpb.ListValue
	pathPoints int
	fleetFrame string
	log        logging.Logger
	metrics    NavRecorder
}

// ServiceOption customises a NavigationService.
type ServiceOption func(*NavigationService)

// WithServiceLogger sets the service logger.
func WithServiceLogger(l logging.Logger) ServiceOption {
	return func(s *NavigationService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithNavMetrics records burns and authentication failures.
func WithNavMetrics(m NavRecorder) ServiceOption {
	return func(s *NavigationService) { s.metrics = m }
}

// WithStars sets the star catalog returned by GetStars. Entries must be
// values structpb can represent.
func WithStars(stars []any) ServiceOption {
	return func(s *NavigationService) {
		list, err := structpb.NewList(stars)
		if err != nil {
			s.log.Warn(context.Background(), "star catalog not representable; serving none", logging.Err(err))
			return
		}
		s.stars = list
	}
}

// WithPathPoints sets the default sample count for GetStaticOrrery.
func WithPathPoints(n int) ServiceOption {
	return func(s *NavigationService) {
		if n > 0 {
			s.pathPoints = n
		}
	}
}

// WithFleetFrame names the frame craft states are kept in. The default is
// ECLIPJ2000.
func WithFleetFrame(frame string) ServiceOption {
	return func(s *NavigationService) {
		if frame != "" {
			s.fleetFrame = frame
		}
	}
}

// WithCatalog sets the body catalog. The default is the stock catalog.
func WithCatalog(c *kb.KnowledgeBase) ServiceOption {
	return func(s *NavigationService) {
		if c != nil {
			s.catalog = c
		}
	}
}

// NewNavigationService wires the service to its collaborators. A nil clock
// follows the wall clock.
func NewNavigationService(eph Ephemeris, registry *state.Registry, clock Clock, opts ...ServiceOption) *NavigationService {
	if clock == nil {
		clock = timectrl.NewTimeController(time.Time{}, 1)
	}
	s := &NavigationService{
		eph:        eph,
		registry:   registry,
		clock:      clock,
		catalog:    kb.NewDefaultKnowledgeBase(),
		stars:      &structpb.ListValue{},
		pathPoints: orbit.DefaultPathPoints,
		fleetFrame: ephem.FrameEclipJ2000,
		log:        logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.sampler = orbit.NewSampler(eph, s.catalog)
	return s
}

var _ NavigationServer = (*NavigationService)(nil)

// Health reports that the service is up.
func (s *NavigationService) Health(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return object(map[string]*structpb.Value{
		"message": structpb.NewStringValue("Astrogator navigation service online"),
		"version": structpb.NewStringValue(Version),
	}), nil
}

// GetStars returns the configured star catalog.
func (s *NavigationService) GetStars(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return object(map[string]*structpb.Value{
		"stars": structpb.NewListValue(s.stars),
	}), nil
}

// GetLiveOrrery returns heliocentric ECLIPJ2000 positions of the orrery
// bodies at the fleet epoch.
func (s *NavigationService) GetLiveOrrery(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ctx, span := StartChildSpan(ctx, "NavigationService.GetLiveOrrery", "orrery", "live")
	defer span.End()

	et, err := s.orreryTime(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}

	bodies := map[string]*structpb.Value{}
	var unavailable []string
	for _, b := range s.catalog.OrreryBodies() {
		pos, err := s.eph.Position(ctx, s.catalog.OrreryName(b.Name), ephem.ObserverSun, et, ephem.FrameEclipJ2000)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ToStatusError(ctxErr)
			}
			unavailable = append(unavailable, b.Name)
			continue
		}
		bodies[b.Name] = vecValue(pos)
	}

	resp := s.timeFields(ctx, et)
	resp["bodies"] = structpb.NewStructValue(object(bodies))
	resp["unavailable"] = stringList(unavailable)
	return object(resp), nil
}

// GetStaticOrrery returns one sampled orbit per orrery body starting at the
// fleet epoch.
func (s *NavigationService) GetStaticOrrery(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, span := StartChildSpan(ctx, "NavigationService.GetStaticOrrery", "orrery", "static")
	defer span.End()

	points, err := optionalPoints(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if points == 0 {
		points = s.pathPoints
	}
	et, err := s.orreryTime(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}

	paths := map[string]*structpb.Value{}
	var unavailable []string
	for _, b := range s.catalog.OrreryBodies() {
		path, err := s.sampler.SamplePath(ctx, s.catalog.OrreryName(b.Name), et, points)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ToStatusError(ctxErr)
			}
			logging.FromContext(ctx, s.log).Debug(ctx, "orbit path unavailable",
				logging.String("body", b.Name), logging.Err(err))
			unavailable = append(unavailable, b.Name)
			continue
		}
		samples := make([]*structpb.Value, 0, len(path))
		for _, p := range path {
			samples = append(samples, vecValue(p))
		}
		paths[b.Name] = structpb.NewListValue(&structpb.ListValue{Values: samples})
	}

	resp := s.timeFields(ctx, et)
	resp["paths"] = structpb.NewStructValue(object(paths))
	resp["unavailable"] = stringList(unavailable)
	return object(resp), nil
}

// GetNavState propagates the caller's craft to the clock's now and returns
// its time, fuel and the apparent direction of every observable body and
// peer craft.
func (s *NavigationService) GetNavState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	craft, err := s.authorizedCraft(ctx, req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	ctx, span := StartChildSpan(ctx, "NavigationService.GetNavState", "spacecraft", craft.ID())
	defer span.End()
	log := logging.FromContext(ctx, s.log).With(logging.String("spacecraft", craft.ID()))

	now, err := s.eph.Now(ctx, s.clock.Now())
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := craft.Propagate(now); err != nil {
		// The craft stays at its later epoch; the clock may have been set back.
		log.Debug(ctx, "spacecraft ahead of clock", logging.Err(err))
	}
	snap := craft.Snapshot()
	observer, err := s.eph.Rotate(ctx, snap.State.Position, s.fleetFrame, ephem.FrameJ2000)
	if err != nil {
		return nil, ToStatusError(err)
	}

	var observables []*structpb.Value
	var unavailable []string
	for _, b := range s.catalog.ObservableBodies() {
		dir, err := s.eph.ApparentDirection(ctx, b.Name, observer, snap.Epoch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ToStatusError(ctxErr)
			}
			unavailable = append(unavailable, b.Name)
			continue
		}
		observables = append(observables, observable(b.Name, dir))
	}
	for _, peer := range s.registry.Fleet() {
		if peer.ID == snap.ID || peer.ID == state.AdminID {
			continue
		}
		rel, err := s.eph.Rotate(ctx, peer.State.Position.Sub(snap.State.Position), s.fleetFrame, ephem.FrameJ2000)
		if err != nil {
			return nil, ToStatusError(err)
		}
		dir, err := s.eph.VectorToApparentDirection(ctx, rel)
		if err != nil {
			unavailable = append(unavailable, peer.ID)
			continue
		}
		observables = append(observables, observable(peer.ID, dir))
	}
	span.SetAttributes(attribute.Int("nav.observables", len(observables)))

	resp := map[string]*structpb.Value{
		"time": structpb.NewStructValue(object(s.timeFields(ctx, snap.Epoch))),
		"fuel": structpb.NewNumberValue(snap.Fuel),
		"observables": structpb.NewStructValue(object(map[string]*structpb.Value{
			"bodies": structpb.NewListValue(&structpb.ListValue{Values: observables}),
		})),
		"unavailable": stringList(unavailable),
	}
	return object(resp), nil
}

// ExecuteBurn applies an impulsive burn to the caller's craft.
func (s *NavigationService) ExecuteBurn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	craft, err := s.authorizedCraft(ctx, req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	ctx, span := StartChildSpan(ctx, "NavigationService.ExecuteBurn", "spacecraft", craft.ID())
	defer span.End()
	log := logging.FromContext(ctx, s.log).With(logging.String("spacecraft", craft.ID()))

	dv, err := parseDeltaV(req)
	if err == nil {
		var fuel float64
		if fuel, err = craft.ApplyBurn(dv); err == nil {
			burn := model.Vec3{X: dv[0], Y: dv[1], Z: dv[2]}
			s.observeBurn(true, burn.Norm())
			log.Info(ctx, "burn executed",
				logging.Float("delta_v", burn.Norm()),
				logging.Float("remaining_fuel", fuel))
			return object(map[string]*structpb.Value{
				"status":         structpb.NewStringValue("Burn executed"),
				"remaining_fuel": structpb.NewNumberValue(fuel),
			}), nil
		}
	}
	s.observeBurn(false, 0)
	log.Warn(ctx, "burn rejected", logging.Err(err))
	return nil, ToStatusError(err)
}

// GetFleet returns the position of every craft except the administrator's.
func (s *NavigationService) GetFleet(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := authorizeAdmin(ctx, s.registry); err != nil {
		s.observeAuthFailure(err)
		return nil, ToStatusError(err)
	}
	fleet := map[string]*structpb.Value{}
	for _, snap := range s.registry.Fleet() {
		if snap.ID == state.AdminID {
			continue
		}
		fleet[snap.ID] = vecValue(snap.State.Position)
	}
	return object(map[string]*structpb.Value{
		"fleet": structpb.NewStructValue(object(fleet)),
	}), nil
}

// GetTruth returns the full kinematic state of any craft.
func (s *NavigationService) GetTruth(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := authorizeAdmin(ctx, s.registry); err != nil {
		s.observeAuthFailure(err)
		return nil, ToStatusError(err)
	}
	id, err := requireID(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	craft, err := s.registry.Lookup(id)
	if err != nil {
		return nil, ToStatusError(err)
	}
	snap := craft.Snapshot()
	return object(map[string]*structpb.Value{
		"id":       structpb.NewStringValue(snap.ID),
		"et":       structpb.NewNumberValue(float64(snap.Epoch)),
		"fuel":     structpb.NewNumberValue(snap.Fuel),
		"position": vecValue(snap.State.Position),
		"velocity": vecValue(snap.State.Velocity),
	}), nil
}

// SetClock jumps the simulation clock and/or changes its rate, then reports
// the clock. Craft already past a time the clock is set back to keep their
// epochs.
func (s *NavigationService) SetClock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := authorizeAdmin(ctx, s.registry); err != nil {
		s.observeAuthFailure(err)
		return nil, ToStatusError(err)
	}
	at, setTime, err := optionalClockTime(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	rate, setRate, err := optionalRate(req)
	if err != nil {
		return nil, ToStatusError(err)
	}

	if setTime {
		s.clock.SetTime(at)
	}
	if setRate {
		s.clock.SetRate(rate)
	}
	if setTime || setRate {
		logging.FromContext(ctx, s.log).Info(ctx, "simulation clock changed",
			logging.String("clock", s.clock.Now().Format(time.RFC3339)),
			logging.Float("rate", s.clock.Rate()))
	}
	return object(map[string]*structpb.Value{
		"clock": structpb.NewStringValue(s.clock.Now().Format(time.RFC3339)),
		"rate":  structpb.NewNumberValue(s.clock.Rate()),
	}), nil
}

// authorizedCraft resolves the requested craft and checks the caller's
// token for it. Unknown ids are reported before the token is checked.
func (s *NavigationService) authorizedCraft(ctx context.Context, req *structpb.Struct) (*state.Spacecraft, error) {
	id, err := requireID(req)
	if err != nil {
		return nil, err
	}
	craft, err := s.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.registry, id); err != nil {
		s.observeAuthFailure(err)
		return nil, err
	}
	return craft, nil
}

// orreryTime is the epoch of the first craft by id, or the clock's now when
// the fleet is empty.
func (s *NavigationService) orreryTime(ctx context.Context) (model.TimePoint, error) {
	if fleet := s.registry.Fleet(); len(fleet) > 0 {
		return fleet[0].Epoch, nil
	}
	return s.eph.Now(ctx, s.clock.Now())
}

// timeFields formats et; utc is empty when it cannot be formatted.
func (s *NavigationService) timeFields(ctx context.Context, et model.TimePoint) map[string]*structpb.Value {
	utc, err := s.eph.TimeToUTC(ctx, et)
	if err != nil {
		logging.FromContext(ctx, s.log).Debug(ctx, "utc unavailable", logging.Err(err))
	}
	return map[string]*structpb.Value{
		"et":  structpb.NewNumberValue(float64(et)),
		"utc": structpb.NewStringValue(utc),
	}
}

func observable(name string, dir model.Direction) *structpb.Value {
	return structpb.NewStructValue(object(map[string]*structpb.Value{
		"name":  structpb.NewStringValue(name),
		"ra":    structpb.NewNumberValue(dir.RADeg),
		"dec":   structpb.NewNumberValue(dir.DecDeg),
		"range": structpb.NewNumberValue(dir.Range),
		"mag":   structpb.NewNumberValue(apparentMagnitude),
	}))
}

func (s *NavigationService) observeBurn(applied bool, magnitude float64) {
	if s.metrics != nil {
		s.metrics.ObserveBurn(applied, magnitude)
	}
}

func (s *NavigationService) observeAuthFailure(err error) {
	if s.metrics == nil {
		return
	}
	reason := "unauthenticated"
	if errors.Is(err, ErrForbidden) {
		reason = "forbidden"
	}
	s.metrics.ObserveAuthFailure(reason)
}
