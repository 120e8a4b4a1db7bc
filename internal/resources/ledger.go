// Package resources provides the shared capacity ledger consumed by
// resource-bound patterns.
package resources

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/metrics"
)

// ErrResourceUnavailable reports an allocation request that exceeds capacity.
// Callers treat it as an expected outcome, not a fault.
var ErrResourceUnavailable = errors.New("insufficient resource capacity")

// Ledger tracks allocated units per resource type against fixed capacities.
// Allocation is all-or-nothing under a single mutex so concurrent Execute
// calls cannot over-commit a resource type.
type Ledger struct {
	mu        sync.Mutex
	capacity  map[string]int
	allocated map[string]int
	logger    *zap.Logger
}

// NewLedger creates a ledger with the given per-type capacities. Unknown
// resource types have zero capacity.
func NewLedger(capacity map[string]int, logger *zap.Logger) *Ledger {
	caps := make(map[string]int, len(capacity))
	for k, v := range capacity {
		if v > 0 {
			caps[k] = v
		}
	}
	return &Ledger{
		capacity:  caps,
		allocated: make(map[string]int),
		logger:    logger,
	}
}

// Allocate reserves one unit of every requested resource type, atomically.
// If any single type lacks spare capacity, nothing is allocated and
// ErrResourceUnavailable is returned. Duplicate entries count once.
func (l *Ledger) Allocate(types []string) error {
	want := dedupe(types)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rt := range want {
		if l.allocated[rt]+1 > l.capacity[rt] {
			metrics.ResourceDenials.Inc()
			l.logger.Debug("allocation denied",
				zap.String("resource", rt),
				zap.Int("allocated", l.allocated[rt]),
				zap.Int("capacity", l.capacity[rt]),
			)
			return fmt.Errorf("%w: %s", ErrResourceUnavailable, rt)
		}
	}
	for _, rt := range want {
		l.allocated[rt]++
		metrics.ResourcesAllocated.WithLabelValues(rt).Set(float64(l.allocated[rt]))
	}
	return nil
}

// Release returns one unit of every requested resource type. Releasing more
// than was allocated clamps at zero; the ledger never goes negative.
func (l *Ledger) Release(types []string) {
	want := dedupe(types)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rt := range want {
		if l.allocated[rt] > 0 {
			l.allocated[rt]--
		} else {
			l.logger.Warn("release without matching allocation", zap.String("resource", rt))
		}
		metrics.ResourcesAllocated.WithLabelValues(rt).Set(float64(l.allocated[rt]))
	}
}

// CanAllocate reports whether every requested type currently has spare
// capacity. This is a point-in-time check, not a reservation.
func (l *Ledger) CanAllocate(types []string) bool {
	want := dedupe(types)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rt := range want {
		if l.allocated[rt]+1 > l.capacity[rt] {
			return false
		}
	}
	return true
}

// Allocated returns the current allocation for one resource type.
func (l *Ledger) Allocated(resourceType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocated[resourceType]
}

// Capacity returns the configured capacity for one resource type.
func (l *Ledger) Capacity(resourceType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity[resourceType]
}

// SetCapacities replaces the capacity table, used on config reload.
// In-flight allocations are untouched; a type shrunk below its current
// allocation simply rejects new requests until releases catch up.
func (l *Ledger) SetCapacities(capacity map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	caps := make(map[string]int, len(capacity))
	for k, v := range capacity {
		if v > 0 {
			caps[k] = v
		}
	}
	l.capacity = caps
	l.logger.Info("ledger capacities updated", zap.Int("types", len(caps)))
}

func dedupe(types []string) []string {
	seen := make(map[string]struct{}, len(types))
	out := make([]string, 0, len(types))
	for _, rt := range types {
		if _, ok := seen[rt]; ok {
			continue
		}
		seen[rt] = struct{}{}
		out = append(out, rt)
	}
	sort.Strings(out)
	return out
}
