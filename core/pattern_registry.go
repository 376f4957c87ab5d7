package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/coverage-simulator/model"
)

var (
	ErrPatternNotFound = errors.New("radiation pattern not found")
	ErrPatternExists   = errors.New("radiation pattern already registered")
)

// PatternRegistry maps pattern identifiers to shared, immutable patterns.
// The default dipole is always present under model.DefaultPatternID.
type PatternRegistry struct {
	mu       sync.RWMutex
	patterns map[string]*RadiationPattern
}

// NewPatternRegistry returns a registry holding only the default pattern.
func NewPatternRegistry() *PatternRegistry {
	return &PatternRegistry{
		patterns: map[string]*RadiationPattern{
			model.DefaultPatternID: DefaultPattern(),
		},
	}
}

// Register adds p under id. Existing entries are never replaced; a
// transmitter that wants a different pattern references a new id.
func (r *PatternRegistry) Register(id string, p *RadiationPattern) error {
	if id == "" || p == nil {
		return fmt.Errorf("register pattern: empty id or nil pattern")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.patterns[id]; exists {
		return fmt.Errorf("%w: %q", ErrPatternExists, id)
	}
	r.patterns[id] = p
	return nil
}

// Get resolves id, treating the empty string as the default pattern.
func (r *PatternRegistry) Get(id string) (*RadiationPattern, error) {
	if id == "" {
		id = model.DefaultPatternID
	}
	r.mu.RLock()
	p, ok := r.patterns[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPatternNotFound, id)
	}
	return p, nil
}

// IDs returns the registered identifiers in sorted order.
func (r *PatternRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.patterns))
	for id := range r.patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent registry sharing the same pattern values.
func (r *PatternRegistry) Clone() *PatternRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &PatternRegistry{patterns: make(map[string]*RadiationPattern, len(r.patterns))}
	for id, p := range r.patterns {
		c.patterns[id] = p
	}
	return c
}
