// Package state owns the simulated fleet: every spacecraft and the bearer
// token of the account that commands it.
package state

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/signalsfoundry/astrogator/core"
	"github.com/signalsfoundry/astrogator/internal/logging"
	"github.com/signalsfoundry/astrogator/model"
)

// AdminID is the account with fleet-wide read access.
const AdminID = "admin"

// AccountsFile is the id-to-token mapping read from the data directory.
const AccountsFile = "users.json"

var (
	// ErrAccountsUnavailable is returned by Init when the accounts file is
	// missing or unreadable. The fleet is left empty.
	ErrAccountsUnavailable = errors.New("accounts unavailable")
	// ErrSpacecraftNotFound reports an unknown spacecraft id.
	ErrSpacecraftNotFound = errors.New("spacecraft not found")
)

// StateSource supplies the reference body state the fleet is seeded from.
// *ephem.Gateway satisfies it.
type StateSource interface {
	UTCToTime(ctx context.Context, text string) (model.TimePoint, error)
	State(ctx context.Context, target, observer string, t model.TimePoint, frame string) (model.StateVector, error)
}

// InitConfig controls how Init places the fleet.
type InitConfig struct {
	// StartUTC is the common initial epoch of every craft.
	StartUTC string
	// ReferenceBody is the body the fleet co-orbits, seen from Observer in
	// Frame.
	ReferenceBody string
	Observer      string
	Frame         string
	// Scale pulls the reference state toward the observer.
	Scale float64
	// Fallback is used unscaled when the reference state is unavailable.
	Fallback model.StateVector
	// Policy selects each craft's motion model.
	Policy core.PropagationPolicy
}

// DefaultInitConfig places the fleet just sunward of Earth on
// 2026-02-02T12:00:00 UTC.
func DefaultInitConfig() InitConfig {
	return InitConfig{
		StartUTC:      "2026-02-02T12:00:00",
		ReferenceBody: "EARTH",
		Observer:      "SUN",
		Frame:         "ECLIPJ2000",
		Scale:         0.99,
		Fallback: model.StateVector{
			Position: model.Vec3{X: 1.48e8},
			Velocity: model.Vec3{Y: 29.78},
		},
		Policy: core.DefaultPolicy,
	}
}

// FleetMetricsRecorder receives the fleet size after Init.
type FleetMetricsRecorder interface {
	SetFleetSize(n int)
}

// Registry holds every spacecraft and account token. It is created once at
// process start and shared; tokens are fixed after Init.
type Registry struct {
	mu     sync.RWMutex
	craft  map[string]*Spacecraft
	tokens map[string]string

	cfg     InitConfig
	log     logging.Logger
	metrics FleetMetricsRecorder
}

// Option customises a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetricsRecorder reports the fleet size to m.
func WithMetricsRecorder(m FleetMetricsRecorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithInitConfig replaces DefaultInitConfig.
func WithInitConfig(cfg InitConfig) Option {
	return func(r *Registry) { r.cfg = cfg }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		craft:  make(map[string]*Spacecraft),
		tokens: make(map[string]string),
		cfg:    DefaultInitConfig(),
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Init loads accounts from dataDir and creates one craft per account at the
// reference state plus a per-id jitter. A missing or malformed accounts file
// leaves the fleet empty and returns ErrAccountsUnavailable. An unavailable
// ephemeris is not an error: the configured fallback state is used and the
// failure is logged.
func (r *Registry) Init(ctx context.Context, dataDir string, src StateSource) error {
	path := filepath.Join(dataDir, AccountsFile)
	tokens, err := readAccounts(path)
	if err != nil {
		r.log.Warn(ctx, "accounts unavailable; fleet is empty",
			logging.String("path", path), logging.Err(err))
		r.replace(map[string]*Spacecraft{}, map[string]string{})
		return fmt.Errorf("%w: %v", ErrAccountsUnavailable, err)
	}

	epoch, base := r.reference(ctx, src)
	motion := core.NewMotionModel(r.cfg.Policy)

	craft := make(map[string]*Spacecraft, len(tokens))
	for id := range tokens {
		st := base
		st.Position = st.Position.Add(core.Jitter(id))
		craft[id] = NewSpacecraft(id, st, epoch, motion)
	}
	r.replace(craft, tokens)

	r.log.Info(ctx, "fleet initialised",
		logging.Int("spacecraft", len(craft)),
		logging.String("policy", string(motion.Policy())),
		logging.Float("epoch", float64(epoch)))
	return nil
}

// reference returns the fleet epoch and the state craft are placed around.
func (r *Registry) reference(ctx context.Context, src StateSource) (model.TimePoint, model.StateVector) {
	cfg := r.cfg
	if src == nil {
		r.log.Warn(ctx, "no ephemeris for fleet placement; using fallback state")
		return 0, cfg.Fallback
	}
	epoch, err := src.UTCToTime(ctx, cfg.StartUTC)
	if err != nil {
		r.log.Warn(ctx, "fleet start time unavailable; using J2000 epoch and fallback state",
			logging.String("start", cfg.StartUTC), logging.Err(err))
		return 0, cfg.Fallback
	}
	st, err := src.State(ctx, cfg.ReferenceBody, cfg.Observer, epoch, cfg.Frame)
	if err != nil {
		r.log.Warn(ctx, "reference state unavailable; using fallback state",
			logging.String("body", cfg.ReferenceBody), logging.Err(err))
		return epoch, cfg.Fallback
	}
	return epoch, core.CoOrbit(st, cfg.Scale)
}

func (r *Registry) replace(craft map[string]*Spacecraft, tokens map[string]string) {
	r.mu.Lock()
	r.craft = craft
	r.tokens = tokens
	n := len(craft)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SetFleetSize(n)
	}
}

func readAccounts(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tokens map[string]string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tokens == nil {
		tokens = map[string]string{}
	}
	return tokens, nil
}

// Get returns the craft with id.
func (r *Registry) Get(id string) (*Spacecraft, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.craft[id]
	return c, ok
}

// Lookup is Get with an ErrSpacecraftNotFound error for unknown ids.
func (r *Registry) Lookup(id string) (*Spacecraft, error) {
	if c, ok := r.Get(id); ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrSpacecraftNotFound, id)
}

// ValidateToken reports whether token is the stored token for id. Unknown
// ids never validate.
func (r *Registry) ValidateToken(id, token string) bool {
	r.mu.RLock()
	stored, ok := r.tokens[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1
}

// IsAdmin reports whether id is the fleet administrator account.
func (r *Registry) IsAdmin(id string) bool {
	return id == AdminID
}

// IDs returns every craft id in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.craft))
	for id := range r.craft {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the fleet size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.craft)
}

// Fleet returns a snapshot of every craft, sorted by id.
func (r *Registry) Fleet() []model.SpacecraftSnapshot {
	ids := r.IDs()
	out := make([]model.SpacecraftSnapshot, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.Get(id); ok {
			out = append(out, c.Snapshot())
		}
	}
	return out
}

// PropagateAll moves every craft whose epoch is not after t to t. Craft
// already ahead of t are left alone. It returns how many craft epochs moved.
func (r *Registry) PropagateAll(t model.TimePoint) int {
	r.mu.RLock()
	craft := make([]*Spacecraft, 0, len(r.craft))
	for _, c := range r.craft {
		craft = append(craft, c)
	}
	r.mu.RUnlock()

	n := 0
	for _, c := range craft {
		if moved, err := c.advance(t); err == nil && moved {
			n++
		}
	}
	return n
}
