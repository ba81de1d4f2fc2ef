package nbi

import (
	"context"
	"math"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/astrogator/internal/ephem"
	"github.com/signalsfoundry/astrogator/internal/ephem/kerneltest"
	"github.com/signalsfoundry/astrogator/internal/logging"
	"github.com/signalsfoundry/astrogator/internal/observability"
	"github.com/signalsfoundry/astrogator/internal/sim/state"
	"github.com/signalsfoundry/astrogator/timectrl"
)

const testAccounts = `{"student1":"tok-1","student2":"tok-2","admin":"root-token"}`

type navTestEnv struct {
	ctx      context.Context
	client   *NavigationClient
	gateway  *ephem.Gateway
	registry *state.Registry
	metrics  *observability.NavCollector
	clockNow time.Time
}

func newNavTestEnv(t *testing.T) *navTestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	files := kerneltest.WriteSolarSystem(t)
	gateway := ephem.New()
	if _, err := gateway.Load(ctx, files.Dir); err != nil {
		cancel()
		t.Fatalf("Load: %v", err)
	}

	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, state.AccountsFile), []byte(testAccounts), 0o644); err != nil {
		cancel()
		t.Fatalf("write accounts: %v", err)
	}
	registry := state.NewRegistry()
	if err := registry.Init(ctx, dataDir, gateway); err != nil {
		cancel()
		t.Fatalf("Init: %v", err)
	}

	metrics, err := observability.NewNavCollector(prometheus.NewRegistry())
	if err != nil {
		cancel()
		t.Fatalf("NewNavCollector: %v", err)
	}

	clockNow := time.Date(2026, time.February, 3, 0, 0, 0, 0, time.UTC)
	clock := timectrl.NewTimeController(clockNow, 0)
	svc := NewNavigationService(gateway, registry, clock,
		WithNavMetrics(metrics),
		WithPathPoints(24),
		WithStars([]any{map[string]any{"name": "Sirius", "ra": 101.287, "dec": -16.716, "mag": -1.46}}),
	)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RequestIDUnaryServerInterceptor(logging.Noop()),
		TracingUnaryServerInterceptor(),
		AccessLogUnaryServerInterceptor(logging.Noop()),
		metrics.UnaryServerInterceptor(),
	))
	RegisterNavigationServer(server, svc)
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		cancel()
		t.Fatalf("grpc.NewClient: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		server.GracefulStop()
		_ = gateway.Close()
		cancel()
	})

	return &navTestEnv{
		ctx:      ctx,
		client:   NewNavigationClient(conn),
		gateway:  gateway,
		registry: registry,
		metrics:  metrics,
		clockNow: clockNow,
	}
}

func (e *navTestEnv) as(token string) context.Context {
	return WithBearerToken(e.ctx, token)
}

func wantCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Fatalf("status code = %v (err %v), want %v", got, err, want)
	}
}

func listNames(v *structpb.Value) []string {
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		out = append(out, item.GetStringValue())
	}
	sort.Strings(out)
	return out
}

func TestHealthAndStars(t *testing.T) {
	env := newNavTestEnv(t)

	health, err := env.client.Health(env.ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if got := health.GetFields()["version"].GetStringValue(); got != Version {
		t.Fatalf("version = %q, want %q", got, Version)
	}

	stars, err := env.client.GetStars(env.ctx)
	if err != nil {
		t.Fatalf("GetStars: %v", err)
	}
	list := stars.GetFields()["stars"].GetListValue().GetValues()
	if len(list) != 1 || list[0].GetStructValue().GetFields()["name"].GetStringValue() != "Sirius" {
		t.Fatalf("stars = %v", list)
	}
}

func TestGetNavStateAuthorization(t *testing.T) {
	env := newNavTestEnv(t)

	_, err := env.client.GetNavState(env.ctx, "student1")
	wantCode(t, err, codes.Unauthenticated)

	_, err = env.client.GetNavState(env.as("tok-2"), "student1")
	wantCode(t, err, codes.Unauthenticated)

	_, err = env.client.GetNavState(env.as("tok-1"), "ghost")
	wantCode(t, err, codes.NotFound)

	_, err = env.client.GetNavState(env.as("tok-1"), "")
	wantCode(t, err, codes.InvalidArgument)

	// A non-bearer scheme carries no token.
	basic := metadata.AppendToOutgoingContext(env.ctx, "authorization", "Basic tok-1")
	_, err = env.client.GetNavState(basic, "student1")
	wantCode(t, err, codes.Unauthenticated)

	if got := testutil.ToFloat64(env.metrics.AuthFailures.WithLabelValues("unauthenticated")); got != 3 {
		t.Fatalf("auth failures = %v, want 3", got)
	}
}

func TestGetNavStatePropagatesAndObserves(t *testing.T) {
	env := newNavTestEnv(t)

	resp, err := env.client.GetNavState(env.as("tok-1"), "student1")
	if err != nil {
		t.Fatalf("GetNavState: %v", err)
	}
	fields := resp.GetFields()
	tm := fields["time"].GetStructValue().GetFields()
	if got := tm["utc"].GetStringValue(); got != "2026-02-03T00:00:00" {
		t.Fatalf("utc = %q, want clock time", got)
	}
	if got := fields["fuel"].GetNumberValue(); got != state.InitialFuel {
		t.Fatalf("fuel = %v, want %v", got, state.InitialFuel)
	}

	craft, _ := env.registry.Get("student1")
	if got, want := float64(craft.Snapshot().Epoch), tm["et"].GetNumberValue(); got != want {
		t.Fatalf("craft epoch = %v, response et = %v", got, want)
	}

	bodies := fields["observables"].GetStructValue().GetFields()["bodies"].GetListValue().GetValues()
	seen := map[string]bool{}
	for _, b := range bodies {
		f := b.GetStructValue().GetFields()
		name := f["name"].GetStringValue()
		seen[name] = true
		ra, dec := f["ra"].GetNumberValue(), f["dec"].GetNumberValue()
		if ra < 0 || ra >= 360 || dec < -90 || dec > 90 {
			t.Fatalf("%s direction ra=%v dec=%v out of range", name, ra, dec)
		}
		if f["mag"].GetNumberValue() != apparentMagnitude {
			t.Fatalf("%s mag = %v", name, f["mag"].GetNumberValue())
		}
	}
	for _, name := range []string{"SUN", "MERCURY", "EARTH", "MARS", "PLUTO", "student2"} {
		if !seen[name] {
			t.Fatalf("observables missing %s; got %v", name, seen)
		}
	}
	if seen["student1"] || seen["admin"] {
		t.Fatalf("observables include self or admin craft: %v", seen)
	}
	if got := listNames(fields["unavailable"]); len(got) != 0 {
		t.Fatalf("unavailable = %v, want none", got)
	}
}

func TestGetNavStateEarthDirection(t *testing.T) {
	env := newNavTestEnv(t)

	resp, err := env.client.GetNavState(env.as("tok-1"), "student1")
	if err != nil {
		t.Fatalf("GetNavState: %v", err)
	}
	var earthRange float64
	for _, b := range resp.GetFields()["observables"].GetStructValue().GetFields()["bodies"].GetListValue().GetValues() {
		f := b.GetStructValue().GetFields()
		if f["name"].GetStringValue() == "EARTH" {
			earthRange = f["range"].GetNumberValue()
		}
	}
	// The fleet starts 0.01 AU sunward of Earth and holds position while
	// Earth moves on for half a day before the clock's now.
	if earthRange < 1.4e6 || earthRange > 2.3e6 {
		t.Fatalf("range to Earth = %.0f km, want between 1.4e6 and 2.3e6", earthRange)
	}
}

func TestExecuteBurn(t *testing.T) {
	env := newNavTestEnv(t)
	ctx := env.as("tok-2")

	resp, err := env.client.ExecuteBurn(ctx, "student2", [3]float64{0.3, 0.4, 0})
	if err != nil {
		t.Fatalf("ExecuteBurn: %v", err)
	}
	if got := resp.GetFields()["remaining_fuel"].GetNumberValue(); math.Abs(got-(state.InitialFuel-0.5)) > 1e-12 {
		t.Fatalf("remaining_fuel = %v, want %v", got, state.InitialFuel-0.5)
	}
	if got := resp.GetFields()["status"].GetStringValue(); got != "Burn executed" {
		t.Fatalf("status = %q", got)
	}

	malformed := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID: structpb.NewStringValue("student2"),
		fieldDeltaV: structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"x": structpb.NewNumberValue(1),
			"y": structpb.NewStringValue("fast"),
		}}),
	}}
	_, err = env.client.invoke(ctx, MethodExecuteBurn, malformed)
	wantCode(t, err, codes.InvalidArgument)

	short := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID: structpb.NewStringValue("student2"),
		fieldDeltaV: structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
			structpb.NewNumberValue(1), structpb.NewNumberValue(2),
		}}),
	}}
	_, err = env.client.invoke(ctx, MethodExecuteBurn, short)
	wantCode(t, err, codes.InvalidArgument)

	craft, _ := env.registry.Get("student2")
	if fuel := craft.Snapshot().Fuel; math.Abs(fuel-(state.InitialFuel-0.5)) > 1e-12 {
		t.Fatalf("fuel after rejected burns = %v, want %v", fuel, state.InitialFuel-0.5)
	}

	_, err = env.client.ExecuteBurn(env.as("tok-1"), "student2", [3]float64{1, 0, 0})
	wantCode(t, err, codes.Unauthenticated)

	if got := testutil.ToFloat64(env.metrics.BurnsTotal.WithLabelValues("applied")); got != 1 {
		t.Fatalf("applied burns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(env.metrics.BurnsTotal.WithLabelValues("rejected")); got != 2 {
		t.Fatalf("rejected burns = %v, want 2", got)
	}
}

func TestConcurrentBurnsOnDistinctCraft(t *testing.T) {
	env := newNavTestEnv(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		for id, token := range map[string]string{"student1": "tok-1", "student2": "tok-2"} {
			wg.Add(1)
			go func(id, token string) {
				defer wg.Done()
				if _, err := env.client.ExecuteBurn(env.as(token), id, [3]float64{0, 0, 0.01}); err != nil {
					errs <- err
				}
			}(id, token)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ExecuteBurn: %v", err)
	}
	for _, id := range []string{"student1", "student2"} {
		craft, _ := env.registry.Get(id)
		if fuel := craft.Snapshot().Fuel; math.Abs(fuel-(state.InitialFuel-0.2)) > 1e-9 {
			t.Fatalf("%s fuel = %v, want %v", id, fuel, state.InitialFuel-0.2)
		}
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newNavTestEnv(t)

	_, err := env.client.GetFleet(env.ctx)
	wantCode(t, err, codes.Unauthenticated)
	_, err = env.client.GetFleet(env.as("tok-1"))
	wantCode(t, err, codes.PermissionDenied)
	_, err = env.client.GetTruth(env.as("tok-1"), "student2")
	wantCode(t, err, codes.PermissionDenied)

	admin := env.as("root-token")
	fleet, err := env.client.GetFleet(admin)
	if err != nil {
		t.Fatalf("GetFleet: %v", err)
	}
	members := fleet.GetFields()["fleet"].GetStructValue().GetFields()
	if len(members) != 2 || members["student1"] == nil || members["student2"] == nil {
		t.Fatalf("fleet = %v, want student1 and student2 only", members)
	}

	truth, err := env.client.GetTruth(admin, "student2")
	if err != nil {
		t.Fatalf("GetTruth: %v", err)
	}
	craft, _ := env.registry.Get("student2")
	snap := craft.Snapshot()
	pos := truth.GetFields()["position"].GetListValue().GetValues()
	if len(pos) != 3 || pos[0].GetNumberValue() != snap.State.Position.X {
		t.Fatalf("truth position = %v, want %+v", pos, snap.State.Position)
	}
	if got := truth.GetFields()["fuel"].GetNumberValue(); got != snap.Fuel {
		t.Fatalf("truth fuel = %v, want %v", got, snap.Fuel)
	}

	_, err = env.client.GetTruth(admin, "ghost")
	wantCode(t, err, codes.NotFound)

	if got := testutil.ToFloat64(env.metrics.AuthFailures.WithLabelValues("forbidden")); got != 2 {
		t.Fatalf("forbidden failures = %v, want 2", got)
	}
}

func TestSetClock(t *testing.T) {
	env := newNavTestEnv(t)
	rate := 0.0

	_, err := env.client.SetClock(env.ctx, "2026-03-01T00:00:00", &rate)
	wantCode(t, err, codes.Unauthenticated)
	_, err = env.client.SetClock(env.as("tok-1"), "2026-03-01T00:00:00", &rate)
	wantCode(t, err, codes.PermissionDenied)

	admin := env.as("root-token")
	bad := -1.0
	_, err = env.client.SetClock(admin, "", &bad)
	wantCode(t, err, codes.InvalidArgument)
	_, err = env.client.SetClock(admin, "next tuesday", nil)
	wantCode(t, err, codes.InvalidArgument)

	resp, err := env.client.SetClock(admin, "", nil)
	if err != nil {
		t.Fatalf("SetClock(no change): %v", err)
	}
	if got := resp.GetFields()["clock"].GetStringValue(); got != "2026-02-03T00:00:00Z" {
		t.Fatalf("clock = %q, want unchanged 2026-02-03T00:00:00Z", got)
	}

	resp, err = env.client.SetClock(admin, "2026-03-01T00:00:00", &rate)
	if err != nil {
		t.Fatalf("SetClock: %v", err)
	}
	if got := resp.GetFields()["clock"].GetStringValue(); got != "2026-03-01T00:00:00Z" {
		t.Fatalf("clock = %q, want 2026-03-01T00:00:00Z", got)
	}
	if got := resp.GetFields()["rate"].GetNumberValue(); got != 0 {
		t.Fatalf("rate = %v, want 0", got)
	}

	nav, err := env.client.GetNavState(env.as("tok-1"), "student1")
	if err != nil {
		t.Fatalf("GetNavState: %v", err)
	}
	if got := nav.GetFields()["time"].GetStructValue().GetFields()["utc"].GetStringValue(); got != "2026-03-01T00:00:00" {
		t.Fatalf("utc after SetClock = %q, want 2026-03-01T00:00:00", got)
	}
}

func TestOrrery(t *testing.T) {
	env := newNavTestEnv(t)

	live, err := env.client.GetLiveOrrery(env.ctx)
	if err != nil {
		t.Fatalf("GetLiveOrrery: %v", err)
	}
	if got := live.GetFields()["utc"].GetStringValue(); got != "2026-02-02T12:00:00" {
		t.Fatalf("live orrery utc = %q, want fleet start", got)
	}
	bodies := live.GetFields()["bodies"].GetStructValue().GetFields()
	for _, name := range []string{"MERCURY", "VENUS", "EARTH", "MARS", "JUPITER", "SATURN"} {
		pos := bodies[name].GetListValue().GetValues()
		if len(pos) != 3 {
			t.Fatalf("live orrery %s = %v", name, pos)
		}
	}

	static, err := env.client.GetStaticOrrery(env.ctx, 0)
	if err != nil {
		t.Fatalf("GetStaticOrrery: %v", err)
	}
	paths := static.GetFields()["paths"].GetStructValue().GetFields()
	if got := len(paths["EARTH"].GetListValue().GetValues()); got != 25 {
		t.Fatalf("EARTH path has %d points, want 25", got)
	}
	// Outer-planet periods run past the synthetic coverage.
	if got := listNames(static.GetFields()["unavailable"]); len(got) != 2 || got[0] != "JUPITER" || got[1] != "SATURN" {
		t.Fatalf("unavailable = %v, want [JUPITER SATURN]", got)
	}

	four, err := env.client.GetStaticOrrery(env.ctx, 4)
	if err != nil {
		t.Fatalf("GetStaticOrrery(4): %v", err)
	}
	if got := len(four.GetFields()["paths"].GetStructValue().GetFields()["MARS"].GetListValue().GetValues()); got != 5 {
		t.Fatalf("MARS path has %d points, want 5", got)
	}

	bad := &structpb.Struct{Fields: map[string]*structpb.Value{fieldPoints: structpb.NewNumberValue(2.5)}}
	_, err = env.client.invoke(env.ctx, MethodGetStaticOrrery, bad)
	wantCode(t, err, codes.InvalidArgument)
}

func TestRequestMetrics(t *testing.T) {
	env := newNavTestEnv(t)
	if _, err := env.client.Health(env.ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
	_, _ = env.client.GetNavState(env.ctx, "student1")

	if got := testutil.ToFloat64(env.metrics.RPCRequests.WithLabelValues("NavigationService", "Health", "OK")); got != 1 {
		t.Fatalf("Health OK requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(env.metrics.RPCRequests.WithLabelValues("NavigationService", "GetNavState", "Unauthenticated")); got != 1 {
		t.Fatalf("GetNavState Unauthenticated requests = %v, want 1", got)
	}
}
