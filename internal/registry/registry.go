// Package registry keeps the in-memory index of coordination patterns.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/delegation"
	"github.com/conductor-labs/delegate/internal/metrics"
)

// Registry indexes patterns by name with a secondary index by type. It
// exclusively owns the patterns it holds. Mutations are serialized;
// concurrent readers see either the pre- or post-mutation state, never a
// partially updated index.
type Registry struct {
	mu       sync.RWMutex
	patterns map[string]delegation.Pattern
	byType   map[delegation.PatternType]map[string]struct{}
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		patterns: make(map[string]delegation.Pattern),
		byType:   make(map[delegation.PatternType]map[string]struct{}),
		logger:   logger,
	}
}

// Register inserts a pattern into both indexes. A duplicate name is rejected
// before any mutation.
func (r *Registry) Register(p delegation.Pattern) error {
	if p == nil {
		return fmt.Errorf("%w: nil pattern", delegation.ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.patterns[name]; exists {
		return fmt.Errorf("%w: %q", delegation.ErrDuplicateName, name)
	}

	r.patterns[name] = p
	names, ok := r.byType[p.Type()]
	if !ok {
		names = make(map[string]struct{})
		r.byType[p.Type()] = names
	}
	names[name] = struct{}{}

	metrics.RegistrySize.Set(float64(len(r.patterns)))
	r.logger.Info("pattern registered",
		zap.String("pattern", name),
		zap.String("type", string(p.Type())),
	)
	return nil
}

// Unregister removes a pattern from both indexes. An absent name is reported
// but not fatal to the caller.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.patterns[name]
	if !exists {
		return fmt.Errorf("%w: %q", delegation.ErrPatternNotFound, name)
	}

	delete(r.patterns, name)
	if names, ok := r.byType[p.Type()]; ok {
		delete(names, name)
		if len(names) == 0 {
			delete(r.byType, p.Type())
		}
	}

	metrics.RegistrySize.Set(float64(len(r.patterns)))
	r.logger.Info("pattern unregistered", zap.String("pattern", name))
	return nil
}

// Get returns the pattern with the given name.
func (r *Registry) Get(name string) (delegation.Pattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[name]
	return p, ok
}

// ListByType returns all patterns of one type, sorted by name.
func (r *Registry) ListByType(t delegation.PatternType) []delegation.Pattern {
	start := time.Now()
	defer func() { metrics.RecordRegistryLookup("list_by_type", time.Since(start).Seconds()) }()

	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byType[t]))
	for name := range r.byType[t] {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]delegation.Pattern, 0, len(names))
	for _, name := range names {
		out = append(out, r.patterns[name])
	}
	return out
}

// List returns every registered pattern, sorted by name.
func (r *Registry) List() []delegation.Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]delegation.Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// FindMatching returns the patterns whose Matches holds for the context,
// ranked best-first by confidence.
func (r *Registry) FindMatching(c *delegation.Context) []delegation.Pattern {
	start := time.Now()
	defer func() { metrics.RecordRegistryLookup("find_matching", time.Since(start).Seconds()) }()

	r.mu.RLock()
	var matched []delegation.Pattern
	for _, p := range r.patterns {
		if p.Matches(c) {
			matched = append(matched, p)
		}
	}
	r.mu.RUnlock()

	delegation.SortByConfidence(matched)
	return matched
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}

// Range calls f for every registered pattern until f returns false. The
// registry lock is held across the walk; f must not call back into the
// registry.
func (r *Registry) Range(f func(delegation.Pattern) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if !f(p) {
			return
		}
	}
}
