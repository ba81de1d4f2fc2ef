package kb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/signalsfoundry/astrogator/model"
)

var (
	// ErrBodyExists indicates a body with the same name is already cataloged.
	ErrBodyExists = errors.New("body already exists")
	// ErrBodyNotFound indicates a requested body is not cataloged.
	ErrBodyNotFound = errors.New("body not found")
)

const barycenterSuffix = " BARYCENTER"

// KnowledgeBase is an in-memory, thread-safe catalog of the bodies the
// navigation surface reports on. It replaces per-body special cases with
// lookup tables that can be extended from a data file.
type KnowledgeBase struct {
	mu sync.RWMutex

	bodies map[string]*model.Body
	order  []string
}

// NewKnowledgeBase constructs an empty catalog.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		bodies: make(map[string]*model.Body),
	}
}

// DefaultBodies returns the stock solar-system catalog.
func DefaultBodies() []model.Body {
	return []model.Body{
		{Name: "SUN", Observable: true},
		{Name: "MERCURY", Ephemeris: "1", PeriodDays: 88.0, Observable: true, InOrrery: true},
		{Name: "VENUS", Ephemeris: "2", PeriodDays: 224.7, Observable: true, InOrrery: true},
		{Name: "EARTH", PeriodDays: 365.2, Observable: true, InOrrery: true},
		{Name: "MARS", Ephemeris: "4", Orrery: "MARS BARYCENTER", PeriodDays: 687.0, Observable: true, InOrrery: true},
		{Name: "JUPITER", Ephemeris: "5", Orrery: "JUPITER BARYCENTER", PeriodDays: 4331.0, Observable: true, InOrrery: true},
		{Name: "SATURN", Ephemeris: "6", Orrery: "SATURN BARYCENTER", PeriodDays: 10747.0, Observable: true, InOrrery: true},
		{Name: "URANUS", Ephemeris: "7", PeriodDays: 30589.0, Observable: true},
		{Name: "NEPTUNE", Ephemeris: "8", PeriodDays: 59800.0, Observable: true},
		{Name: "PLUTO", Ephemeris: "9", PeriodDays: 90560.0, Observable: true},
	}
}

// NewDefaultKnowledgeBase constructs a catalog seeded with DefaultBodies.
func NewDefaultKnowledgeBase() *KnowledgeBase {
	kb := NewKnowledgeBase()
	for _, b := range DefaultBodies() {
		b := b
		_ = kb.AddBody(&b)
	}
	return kb
}

// AddBody adds a new body. It returns an error if the name already exists.
func (kb *KnowledgeBase) AddBody(b *model.Body) error {
	if b == nil || strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("body name is required")
	}
	name := normalize(b.Name)

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.bodies[name]; exists {
		return fmt.Errorf("%w: %q", ErrBodyExists, name)
	}
	cp := *b
	cp.Name = name
	kb.bodies[name] = &cp
	kb.order = append(kb.order, name)
	return nil
}

// UpsertBody adds b or replaces the existing entry with the same name,
// keeping its position in the listing order.
func (kb *KnowledgeBase) UpsertBody(b *model.Body) error {
	if b == nil || strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("body name is required")
	}
	name := normalize(b.Name)

	kb.mu.Lock()
	defer kb.mu.Unlock()

	cp := *b
	cp.Name = name
	if _, exists := kb.bodies[name]; !exists {
		kb.order = append(kb.order, name)
	}
	kb.bodies[name] = &cp
	return nil
}

// GetBody returns a copy of the named body.
func (kb *KnowledgeBase) GetBody(name string) (model.Body, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	b, ok := kb.bodies[normalize(name)]
	if !ok {
		return model.Body{}, fmt.Errorf("%w: %q", ErrBodyNotFound, name)
	}
	return *b, nil
}

// ListBodies returns a snapshot of all bodies in insertion order.
func (kb *KnowledgeBase) ListBodies() []model.Body {
	return kb.filter(func(*model.Body) bool { return true })
}

// ObservableBodies returns the bodies reported by navigation-state queries.
func (kb *KnowledgeBase) ObservableBodies() []model.Body {
	return kb.filter(func(b *model.Body) bool { return b.Observable })
}

// OrreryBodies returns the bodies drawn by the orrery views.
func (kb *KnowledgeBase) OrreryBodies() []model.Body {
	return kb.filter(func(b *model.Body) bool { return b.InOrrery })
}

// EphemerisName maps a body name to the identifier the ephemeris library
// should be asked for. Names without an entry map to themselves.
func (kb *KnowledgeBase) EphemerisName(name string) string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	if b, ok := kb.bodies[normalize(name)]; ok && b.Ephemeris != "" {
		return b.Ephemeris
	}
	return name
}

// OrreryName returns the identifier used for heliocentric orrery sampling.
func (kb *KnowledgeBase) OrreryName(name string) string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	if b, ok := kb.bodies[normalize(name)]; ok && b.Orrery != "" {
		return b.Orrery
	}
	return name
}

// PeriodDays returns the cataloged orbital period for name. A trailing
// " BARYCENTER" qualifier is ignored, so "MARS BARYCENTER" and "MARS" share
// an entry. ok is false when no positive period is known.
func (kb *KnowledgeBase) PeriodDays(name string) (days float64, ok bool) {
	key := normalize(name)
	if idx := strings.Index(key, barycenterSuffix); idx >= 0 {
		key = key[:idx]
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	b, found := kb.bodies[key]
	if !found || b.PeriodDays <= 0 {
		return 0, false
	}
	return b.PeriodDays, true
}

// LoadFile merges bodies from a JSON array file into the catalog. Entries
// with an existing name replace the stock definition.
func (kb *KnowledgeBase) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read body catalog: %w", err)
	}
	var entries []model.Body
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("parse body catalog %s: %w", path, err)
	}
	n := 0
	for i := range entries {
		if err := kb.UpsertBody(&entries[i]); err != nil {
			return n, fmt.Errorf("body catalog entry %d: %w", i, err)
		}
		n++
	}
	return n, nil
}

func (kb *KnowledgeBase) filter(keep func(*model.Body) bool) []model.Body {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Body, 0, len(kb.order))
	for _, name := range kb.order {
		if b := kb.bodies[name]; keep(b) {
			res = append(res, *b)
		}
	}
	return res
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
