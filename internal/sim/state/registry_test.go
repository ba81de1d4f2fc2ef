package state

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/astrogator/core"
	"github.com/signalsfoundry/astrogator/internal/ephem"
	"github.com/signalsfoundry/astrogator/internal/ephem/kerneltest"
	"github.com/signalsfoundry/astrogator/model"
)

const testAccounts = `{"student1":"s3cret-1","student2":"s3cret-2","admin":"root-token"}`

type stubSource struct {
	epoch    model.TimePoint
	state    model.StateVector
	timeErr  error
	stateErr error
	calls    []string
}

func (s *stubSource) UTCToTime(_ context.Context, text string) (model.TimePoint, error) {
	s.calls = append(s.calls, "utc:"+text)
	return s.epoch, s.timeErr
}

func (s *stubSource) State(_ context.Context, target, observer string, _ model.TimePoint, frame string) (model.StateVector, error) {
	s.calls = append(s.calls, "state:"+target+"/"+observer+"/"+frame)
	return s.state, s.stateErr
}

type fleetRecorder struct{ sizes []int }

func (f *fleetRecorder) SetFleetSize(n int) { f.sizes = append(f.sizes, n) }

func writeAccounts(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, AccountsFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write accounts: %v", err)
	}
	return dir
}

func earthLike() *stubSource {
	return &stubSource{
		epoch: 823348869.18,
		state: model.StateVector{
			Position: model.Vec3{X: -1e8, Y: 1e8, Z: 100},
			Velocity: model.Vec3{X: -20, Y: -20, Z: 0.01},
		},
	}
}

func TestInitPlacesFleetAroundScaledReference(t *testing.T) {
	src := earthLike()
	rec := &fleetRecorder{}
	r := NewRegistry(WithMetricsRecorder(rec))

	if err := r.Init(context.Background(), writeAccounts(t, testAccounts), src); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := r.IDs(); len(got) != 3 || got[0] != "admin" || got[1] != "student1" || got[2] != "student2" {
		t.Fatalf("IDs = %v, want [admin student1 student2]", got)
	}
	if len(rec.sizes) != 1 || rec.sizes[0] != 3 {
		t.Fatalf("fleet size records = %v, want [3]", rec.sizes)
	}
	if src.calls[0] != "utc:2026-02-02T12:00:00" || src.calls[1] != "state:EARTH/SUN/ECLIPJ2000" {
		t.Fatalf("source calls = %v", src.calls)
	}

	base := src.state.Scale(0.99)
	for _, snap := range r.Fleet() {
		if snap.Epoch != src.epoch {
			t.Fatalf("%s epoch = %v, want %v", snap.ID, snap.Epoch, src.epoch)
		}
		if snap.Fuel != InitialFuel {
			t.Fatalf("%s fuel = %v, want %v", snap.ID, snap.Fuel, InitialFuel)
		}
		if snap.State.Velocity != base.Velocity {
			t.Fatalf("%s velocity = %+v, want %+v", snap.ID, snap.State.Velocity, base.Velocity)
		}
		want := base.Position.Add(core.Jitter(snap.ID))
		if snap.State.Position != want {
			t.Fatalf("%s position = %+v, want %+v", snap.ID, snap.State.Position, want)
		}
		off := snap.State.Position.Sub(base.Position)
		for _, c := range off.Array() {
			if math.Abs(c) > core.JitterAmplitudeKm {
				t.Fatalf("%s jitter %+v exceeds %v km", snap.ID, off, core.JitterAmplitudeKm)
			}
		}
	}
}

func TestInitJitterIsDeterministic(t *testing.T) {
	dir := writeAccounts(t, testAccounts)
	first, second := NewRegistry(), NewRegistry()
	if err := first.Init(context.Background(), dir, earthLike()); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := second.Init(context.Background(), dir, earthLike()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	a, b := first.Fleet(), second.Fleet()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("craft %s differs between runs: %+v vs %+v", a[i].ID, a[i], b[i])
		}
	}
	if a[1].State.Position == a[2].State.Position {
		t.Fatalf("student1 and student2 share a position %+v", a[1].State.Position)
	}
}

func TestInitFallsBackWhenEphemerisUnavailable(t *testing.T) {
	unavailable := &ephem.LibraryError{Op: "state", Code: "KERNEL(SPKINSUFFDATA)"}
	cfg := DefaultInitConfig()

	cases := []struct {
		name      string
		src       StateSource
		wantEpoch model.TimePoint
	}{
		{"no source", nil, 0},
		{"no time", &stubSource{timeErr: unavailable}, 0},
		{"no state", &stubSource{epoch: 42, stateErr: unavailable}, 42},
	}
	for _, tc := range cases {
		r := NewRegistry()
		if err := r.Init(context.Background(), writeAccounts(t, `{"student1":"x"}`), tc.src); err != nil {
			t.Fatalf("%s: Init: %v", tc.name, err)
		}
		c, ok := r.Get("student1")
		if !ok {
			t.Fatalf("%s: student1 missing", tc.name)
		}
		snap := c.Snapshot()
		if snap.Epoch != tc.wantEpoch {
			t.Fatalf("%s: epoch = %v, want %v", tc.name, snap.Epoch, tc.wantEpoch)
		}
		want := cfg.Fallback.Position.Add(core.Jitter("student1"))
		if snap.State.Position != want || snap.State.Velocity != cfg.Fallback.Velocity {
			t.Fatalf("%s: state = %+v, want fallback %+v + jitter", tc.name, snap.State, cfg.Fallback)
		}
	}
}

func TestInitMissingAccounts(t *testing.T) {
	rec := &fleetRecorder{}
	r := NewRegistry(WithMetricsRecorder(rec))
	err := r.Init(context.Background(), t.TempDir(), earthLike())
	if !errors.Is(err, ErrAccountsUnavailable) {
		t.Fatalf("Init error = %v, want ErrAccountsUnavailable", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want empty fleet", r.Len())
	}
	if r.ValidateToken("student1", "") {
		t.Fatalf("ValidateToken succeeded with no accounts")
	}
	if len(rec.sizes) != 1 || rec.sizes[0] != 0 {
		t.Fatalf("fleet size records = %v, want [0]", rec.sizes)
	}

	if err := r.Init(context.Background(), writeAccounts(t, `["not", "a", "map"]`), earthLike()); !errors.Is(err, ErrAccountsUnavailable) {
		t.Fatalf("Init with malformed accounts error = %v, want ErrAccountsUnavailable", err)
	}
}

func TestValidateToken(t *testing.T) {
	r := NewRegistry()
	if err := r.Init(context.Background(), writeAccounts(t, testAccounts), earthLike()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cases := []struct {
		id, token string
		want      bool
	}{
		{"student1", "s3cret-1", true},
		{"student1", "s3cret-2", false}, // valid for a different id
		{"student1", "s3cret-1 ", false},
		{"student1", "", false},
		{"ghost", "s3cret-1", false},
		{"ghost", "", false},
		{"admin", "root-token", true},
	}
	for _, tc := range cases {
		if got := r.ValidateToken(tc.id, tc.token); got != tc.want {
			t.Fatalf("ValidateToken(%q, %q) = %v, want %v", tc.id, tc.token, got, tc.want)
		}
	}
}

func TestGetAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Init(context.Background(), writeAccounts(t, testAccounts), earthLike()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if c, ok := r.Get("student2"); !ok || c.ID() != "student2" {
		t.Fatalf("Get(student2) = %v, %v", c, ok)
	}
	if c, ok := r.Get("ghost"); ok || c != nil {
		t.Fatalf("Get(ghost) = %v, %v, want absent", c, ok)
	}
	if _, err := r.Lookup("ghost"); !errors.Is(err, ErrSpacecraftNotFound) {
		t.Fatalf("Lookup(ghost) error = %v, want ErrSpacecraftNotFound", err)
	}
	if !r.IsAdmin(AdminID) || r.IsAdmin("student1") {
		t.Fatalf("IsAdmin mismatch")
	}
}

func TestInitAppliesConfiguredPolicy(t *testing.T) {
	cfg := DefaultInitConfig()
	cfg.Policy = core.PolicyLinearDrift
	r := NewRegistry(WithInitConfig(cfg))
	src := earthLike()
	if err := r.Init(context.Background(), writeAccounts(t, `{"student1":"x"}`), src); err != nil {
		t.Fatalf("Init: %v", err)
	}
	c, _ := r.Get("student1")
	before := c.Snapshot()
	if err := c.Propagate(src.epoch + 10); err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	moved := c.Snapshot().State.Position.Sub(before.State.Position)
	want := before.State.Velocity.Scale(10)
	if moved.Sub(want).Norm() > 1e-6 {
		t.Fatalf("drift = %+v, want %+v", moved, want)
	}
}

func TestInitFromSyntheticEphemeris(t *testing.T) {
	files := kerneltest.WriteSolarSystem(t)
	g := ephem.New()
	t.Cleanup(func() { _ = g.Close() })
	ctx := context.Background()
	if _, err := g.Load(ctx, files.Dir); err != nil {
		t.Fatalf("Load: %v", err)
	}

	r := NewRegistry()
	if err := r.Init(ctx, writeAccounts(t, testAccounts), g); err != nil {
		t.Fatalf("Init: %v", err)
	}
	start, err := g.UTCToTime(ctx, DefaultInitConfig().StartUTC)
	if err != nil {
		t.Fatalf("UTCToTime: %v", err)
	}
	earth, err := g.State(ctx, "EARTH", "SUN", start, ephem.FrameEclipJ2000)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	c, _ := r.Get("student1")
	snap := c.Snapshot()
	if snap.Epoch != start {
		t.Fatalf("epoch = %v, want %v", snap.Epoch, start)
	}
	want := earth.Position.Scale(0.99).Add(core.Jitter("student1"))
	if d := snap.State.Position.Sub(want).Norm(); d > 1e-3 {
		t.Fatalf("position off by %v km from scaled Earth + jitter", d)
	}
}

func TestPropagateAllSkipsCraftAhead(t *testing.T) {
	src := earthLike()
	r := NewRegistry()
	if err := r.Init(context.Background(), writeAccounts(t, testAccounts), src); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ahead, _ := r.Get("student2")
	if err := ahead.Propagate(src.epoch + 500); err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	if n := r.PropagateAll(src.epoch + 100); n != 2 {
		t.Fatalf("PropagateAll advanced %d craft, want 2", n)
	}
	for _, snap := range r.Fleet() {
		want := src.epoch + 100
		if snap.ID == "student2" {
			want = src.epoch + 500
		}
		if snap.Epoch != want {
			t.Fatalf("%s epoch = %v, want %v", snap.ID, snap.Epoch, want)
		}
	}

	// a second sweep to the same time moves nothing
	if n := r.PropagateAll(src.epoch + 100); n != 0 {
		t.Fatalf("repeat PropagateAll advanced %d craft, want 0", n)
	}
}
