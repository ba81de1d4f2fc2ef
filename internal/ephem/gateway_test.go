package ephem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/astrogator/internal/ephem/kernel"
	"github.com/signalsfoundry/astrogator/internal/ephem/kerneltest"
	"github.com/signalsfoundry/astrogator/internal/observability"
	"github.com/signalsfoundry/astrogator/model"
)

const au = 149597870.7

func loadedGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	files := kerneltest.WriteSolarSystem(t)
	g := New(opts...)
	t.Cleanup(func() { _ = g.Close() })
	report, err := g.Load(context.Background(), files.Dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if report.Err() != nil {
		t.Fatalf("Load reported failures: %v", report.Err())
	}
	return g
}

func TestCallsBeforeLoadAreUnavailable(t *testing.T) {
	g := New()
	ctx := context.Background()

	if _, err := g.Position(ctx, "EARTH", "SUN", 8e8, FrameEclipJ2000); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Position before Load error = %v, want ErrUnavailable", err)
	}
	_, err := g.UTCToTime(ctx, "2026-02-02T12:00:00")
	var libErr *LibraryError
	if !errors.As(err, &libErr) || libErr.Code != kernel.CodeNoLeapSeconds {
		t.Fatalf("UTCToTime before Load error = %v, want leapseconds fault", err)
	}
	if _, err := g.TimeToUTC(ctx, 0); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("TimeToUTC before Load error = %v, want ErrUnavailable", err)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	g := New()
	_, err := g.Load(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrKernelDirUnavailable) {
		t.Fatalf("Load error = %v, want ErrKernelDirUnavailable", err)
	}
}

func TestLoadContinuesPastBadFiles(t *testing.T) {
	files := kerneltest.WriteSolarSystem(t)
	kerneltest.WriteFile(t, files.Dir, "users.json", `{"student1":"secret"}`)
	kerneltest.WriteFile(t, files.Dir, "aaa_broken.bsp", "not a daf file")
	g := New()
	defer g.Close()
	ctx := context.Background()

	report, err := g.Load(ctx, files.Dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Loaded) != 2 {
		t.Fatalf("Loaded = %v, want leapseconds and synthetic spk", report.Loaded)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "aaa_broken.bsp" {
		t.Fatalf("Failed = %v, want [aaa_broken.bsp]", report.Failed)
	}
	if len(report.Ignored) != 1 || report.Ignored[0] != "users.json" {
		t.Fatalf("Ignored = %v, want [users.json]", report.Ignored)
	}
	if !errors.Is(report.Err(), ErrUnavailable) {
		t.Fatalf("report.Err() = %v, want wrapped library failure", report.Err())
	}

	// the failed file does not poison later queries
	if _, err := g.Position(ctx, "EARTH", "SUN", 8.2e8, FrameEclipJ2000); err != nil {
		t.Fatalf("Position after partial load: %v", err)
	}

	again, err := g.Load(ctx, files.Dir)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if len(again.Loaded) != 0 || len(again.Skipped) != 2 {
		t.Fatalf("second Load loaded=%v skipped=%v, want everything skipped", again.Loaded, again.Skipped)
	}
}

func TestLoadSkipsMalformedElementSet(t *testing.T) {
	files := kerneltest.WriteSolarSystem(t)
	// inclination column is not a number; line lengths stay valid
	kerneltest.WriteFile(t, files.Dir, "iss.tle", strings.Replace(kerneltest.ISS, " 51.6416 ", " xx.xxxx ", 1))
	g := New()
	defer g.Close()
	ctx := context.Background()

	report, err := g.Load(ctx, files.Dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "iss.tle" {
		t.Fatalf("Failed = %v, want [iss.tle]", report.Failed)
	}
	if len(report.Loaded) != 2 {
		t.Fatalf("Loaded = %v, want leapseconds and synthetic spk", report.Loaded)
	}
	if _, err := g.Position(ctx, "EARTH", "SUN", 8.2e8, FrameEclipJ2000); err != nil {
		t.Fatalf("Position after skipped element set: %v", err)
	}
	if _, err := g.Position(ctx, "ISS (ZARYA)", "EARTH", 8.2e8, FrameJ2000); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Position(ISS) error = %v, want ErrUnavailable", err)
	}
}

func TestLoadSkipsCorruptSegmentDirectory(t *testing.T) {
	files := kerneltest.WriteSolarSystem(t)
	// 2^61 words per record times 8 records wraps to zero in int arithmetic
	kerneltest.PatchDirectory(t, files.SPK, 0, 1<<61, 8)
	g := New()
	defer g.Close()
	ctx := context.Background()

	report, err := g.Load(ctx, files.Dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "synthetic.bsp" {
		t.Fatalf("Failed = %v, want [synthetic.bsp]", report.Failed)
	}
	if _, err := g.Position(ctx, "EARTH", "SUN", kerneltest.CoverageStart, FrameJ2000); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Position error = %v, want ErrUnavailable", err)
	}
	if _, err := g.UTCToTime(ctx, "2026-02-02T12:00:00"); err != nil {
		t.Fatalf("UTCToTime after rejected kernel: %v", err)
	}
}

func TestPanicInLibraryReleasesLock(t *testing.T) {
	g := loadedGateway(t)
	ctx := context.Background()

	err := g.exclusive(ctx, "position", func(p *kernel.Pool) error {
		panic("makeslice: len out of range")
	})
	var libErr *LibraryError
	if !errors.As(err, &libErr) || libErr.Code != kernel.CodeInternal || libErr.Op != "position" {
		t.Fatalf("exclusive error = %v, want internal fault", err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("exclusive error = %v, want ErrUnavailable", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := g.UTCToTime(ctx, "2026-02-02T12:00:00")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("UTCToTime after panic: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("library lock still held after panic")
	}
}

func TestUTCRoundTripThroughGateway(t *testing.T) {
	g := loadedGateway(t)
	ctx := context.Background()
	for _, in := range []string{"2026-02-02T12:00:00", "2024-02-29T23:59:59", "2029-12-31T00:00:01"} {
		tp, err := g.UTCToTime(ctx, in)
		if err != nil {
			t.Fatalf("UTCToTime(%s): %v", in, err)
		}
		out, err := g.TimeToUTC(ctx, tp)
		if err != nil {
			t.Fatalf("TimeToUTC: %v", err)
		}
		if out != in {
			t.Fatalf("round trip %s -> %s", in, out)
		}
	}
}

func TestFailureDoesNotLeakIntoNextCall(t *testing.T) {
	g := loadedGateway(t)
	ctx := context.Background()

	_, err := g.Position(ctx, "VULCAN", "SUN", 8.2e8, FrameJ2000)
	var libErr *LibraryError
	if !errors.As(err, &libErr) || libErr.Code != kernel.CodeUnknownBody || libErr.Op != "position" {
		t.Fatalf("Position(VULCAN) error = %v", err)
	}
	pos, err := g.Position(ctx, "EARTH", "SUN", 8.2e8, FrameEclipJ2000)
	if err != nil {
		t.Fatalf("Position(EARTH) after failure: %v", err)
	}
	if r := pos.Norm(); math.Abs(r-au) > 0.01*au {
		t.Fatalf("EARTH heliocentric range = %v km", r)
	}
}

func TestStateMatchesPosition(t *testing.T) {
	g := loadedGateway(t)
	ctx := context.Background()
	st, err := g.State(ctx, "EARTH", "SUN", 8.2e8, FrameEclipJ2000)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	pos, err := g.Position(ctx, "EARTH", "SUN", 8.2e8, FrameEclipJ2000)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if st.Position != pos {
		t.Fatalf("State position %v != Position %v", st.Position, pos)
	}
	if v := st.Velocity.Norm(); v < 28 || v > 32 {
		t.Fatalf("EARTH heliocentric speed = %v km/s", v)
	}
}

func TestConcurrentQueriesAreIsolated(t *testing.T) {
	g := loadedGateway(t)
	ctx := context.Background()

	targets := []string{"EARTH", "MARS BARYCENTER", "VULCAN", "JUPITER BARYCENTER", "nowhere"}
	want := make(map[string]model.Vec3)
	for _, tgt := range targets {
		pos, err := g.Position(ctx, tgt, "SUN", 8.3e8, FrameEclipJ2000)
		if err == nil {
			want[tgt] = pos
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64*len(targets))
	for i := 0; i < 64; i++ {
		for _, tgt := range targets {
			wg.Add(1)
			go func(tgt string) {
				defer wg.Done()
				pos, err := g.Position(ctx, tgt, "SUN", 8.3e8, FrameEclipJ2000)
				expected, valid := want[tgt]
				switch {
				case valid && err != nil:
					errs <- fmt.Errorf("%s: unexpected error %v", tgt, err)
				case !valid && !errors.Is(err, ErrUnavailable):
					errs <- fmt.Errorf("%s: error = %v, want ErrUnavailable", tgt, err)
				case valid && pos != expected:
					errs <- fmt.Errorf("%s: position %v, want %v", tgt, pos, expected)
				}
			}(tgt)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestVectorToApparentDirection(t *testing.T) {
	g := New()
	ctx := context.Background()
	dir, err := g.VectorToApparentDirection(ctx, model.Vec3{X: 0, Y: 2, Z: 0})
	if err != nil {
		t.Fatalf("VectorToApparentDirection: %v", err)
	}
	if dir.Range != 2 || math.Abs(dir.RADeg-90) > 1e-9 || dir.DecDeg != 0 {
		t.Fatalf("direction = %+v, want range 2 ra 90 dec 0", dir)
	}
	dir, _ = g.VectorToApparentDirection(ctx, model.Vec3{X: 1, Y: -1, Z: math.Sqrt2})
	if math.Abs(dir.RADeg-315) > 1e-9 || math.Abs(dir.DecDeg-45) > 1e-9 {
		t.Fatalf("direction = %+v, want ra 315 dec 45", dir)
	}
	if _, err := g.VectorToApparentDirection(ctx, model.Vec3{X: math.NaN()}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("NaN vector error = %v, want ErrUnavailable", err)
	}
}

func TestApparentDirectionFromEarth(t *testing.T) {
	g := loadedGateway(t)
	ctx := context.Background()
	const et = model.TimePoint(8.3e8)

	earth, err := g.Position(ctx, "EARTH", ObserverSun, et, FrameJ2000)
	if err != nil {
		t.Fatalf("Position(EARTH): %v", err)
	}
	mars, err := g.Position(ctx, "MARS BARYCENTER", "EARTH", et, FrameJ2000)
	if err != nil {
		t.Fatalf("Position(MARS): %v", err)
	}

	dir, err := g.ApparentDirection(ctx, "MARS", earth, et)
	if err != nil {
		t.Fatalf("ApparentDirection(MARS): %v", err)
	}
	if math.Abs(dir.Range-mars.Norm()) > 1e-3*mars.Norm() {
		t.Fatalf("range = %v, want about %v", dir.Range, mars.Norm())
	}
	geo, _ := g.VectorToApparentDirection(ctx, mars)
	if math.Abs(dir.RADeg-geo.RADeg) > 0.5 || math.Abs(dir.DecDeg-geo.DecDeg) > 0.5 {
		t.Fatalf("apparent %+v too far from geometric %+v", dir, geo)
	}
	if dir.RADeg < 0 || dir.RADeg >= 360 || dir.DecDeg < -90 || dir.DecDeg > 90 {
		t.Fatalf("direction out of range: %+v", dir)
	}

	if _, err := g.ApparentDirection(ctx, "VULCAN", earth, et); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ApparentDirection(VULCAN) error = %v, want ErrUnavailable", err)
	}
}

func TestGatewayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewEphemerisCollector(reg)
	if err != nil {
		t.Fatalf("NewEphemerisCollector: %v", err)
	}
	g := loadedGateway(t, WithMetrics(collector))
	ctx := context.Background()

	_, _ = g.Position(ctx, "EARTH", "SUN", 8.2e8, FrameJ2000)
	_, _ = g.Position(ctx, "VULCAN", "SUN", 8.2e8, FrameJ2000)

	if got := testutil.ToFloat64(collector.Calls.WithLabelValues("position", "ok")); got != 1 {
		t.Fatalf("position ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Calls.WithLabelValues("position", "unavailable")); got != 1 {
		t.Fatalf("position unavailable = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.KernelsLoaded); got != 2 {
		t.Fatalf("kernels loaded = %v, want 2", got)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := g.Position(canceled, "EARTH", "SUN", 8.2e8, FrameJ2000); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled Position error = %v", err)
	}
	if got := testutil.ToFloat64(collector.Calls.WithLabelValues("position", "canceled")); got != 1 {
		t.Fatalf("position canceled = %v, want 1", got)
	}
}

func TestInventory(t *testing.T) {
	g := loadedGateway(t)
	inv, err := g.Inventory(context.Background())
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if len(inv.Kernels) != 2 || len(inv.Segments) != len(kerneltest.SolarSystem) {
		t.Fatalf("Inventory kernels=%d segments=%d", len(inv.Kernels), len(inv.Segments))
	}
	for _, s := range inv.Segments {
		if s.Target == 399 {
			if s.TargetName != "EARTH" || s.CenterName != "EARTH BARYCENTER" || s.StartUTC == "" {
				t.Fatalf("EARTH segment summary = %+v", s)
			}
			return
		}
	}
	t.Fatalf("no EARTH segment in inventory")
}

func TestRotateBetweenBuiltinFrames(t *testing.T) {
	g := New()
	ctx := context.Background()
	eps := 84381.448 / 3600 * math.Pi / 180

	pole, err := g.Rotate(ctx, model.Vec3{Z: 1}, FrameEclipJ2000, FrameJ2000)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	want := model.Vec3{X: 0, Y: -math.Sin(eps), Z: math.Cos(eps)}
	if pole.Sub(want).Norm() > 1e-12 {
		t.Fatalf("ecliptic pole in J2000 = %+v, want %+v", pole, want)
	}

	back, err := g.Rotate(ctx, pole, FrameJ2000, FrameEclipJ2000)
	if err != nil {
		t.Fatalf("Rotate back: %v", err)
	}
	if back.Sub(model.Vec3{Z: 1}).Norm() > 1e-12 {
		t.Fatalf("round trip = %+v, want (0, 0, 1)", back)
	}

	if _, err := g.Rotate(ctx, pole, "GALACTIC_NOPE", FrameJ2000); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Rotate from unknown frame error = %v, want ErrUnavailable", err)
	}
}
