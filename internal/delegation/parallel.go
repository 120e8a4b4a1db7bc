package delegation

import (
	stdcontext "context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/confidence"
	"github.com/conductor-labs/delegate/internal/metrics"
	"github.com/conductor-labs/delegate/internal/resources"
)

// WorkerFunc performs the work bound to one allocated resource type.
type WorkerFunc func(ctx stdcontext.Context, resourceType string, c *Context) error

// ParallelConfig configures a parallel pattern.
type ParallelConfig struct {
	Name        string
	Description string
	// ResourceTypes is the set of resource types this pattern can serve.
	ResourceTypes []string
	// Ledger is the shared capacity ledger allocations go through.
	Ledger *resources.Ledger
	// Worker runs the per-resource work. Defaults to a no-op success.
	Worker WorkerFunc
	// Confidence tunes the pattern's tracker. Zero value means defaults.
	Confidence confidence.Config
	// History seeds the tracker, used when rehydrating from the store.
	History confidence.Snapshot
}

// ParallelPattern fans one worker out per requested resource, with an
// all-or-nothing allocation against the shared ledger.
type ParallelPattern struct {
	name        string
	description string
	types       map[string]struct{}
	ledger      *resources.Ledger
	worker      WorkerFunc
	tracker     *confidence.Tracker
	logger      *zap.Logger
}

// NewParallel creates a parallel pattern, validating its configuration.
func NewParallel(cfg ParallelConfig, logger *zap.Logger) (*ParallelPattern, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: parallel pattern requires a name", ErrInvalidConfig)
	}
	if len(cfg.ResourceTypes) == 0 {
		return nil, fmt.Errorf("%w: parallel pattern %q requires at least one resource type", ErrInvalidConfig, cfg.Name)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: parallel pattern %q requires a resource ledger", ErrInvalidConfig, cfg.Name)
	}
	if cfg.Confidence == (confidence.Config{}) {
		cfg.Confidence = confidence.DefaultConfig()
	}
	tracker, err := confidence.Restore(cfg.Confidence, cfg.History)
	if err != nil {
		return nil, err
	}
	worker := cfg.Worker
	if worker == nil {
		worker = func(stdcontext.Context, string, *Context) error { return nil }
	}

	return &ParallelPattern{
		name:        cfg.Name,
		description: cfg.Description,
		types:       toSet(cfg.ResourceTypes),
		ledger:      cfg.Ledger,
		worker:      worker,
		tracker:     tracker,
		logger:      logger,
	}, nil
}

func (p *ParallelPattern) Name() string                 { return p.name }
func (p *ParallelPattern) Description() string          { return p.description }
func (p *ParallelPattern) Type() PatternType            { return TypeParallel }
func (p *ParallelPattern) Tracker() *confidence.Tracker { return p.tracker }

// ResourceTypes returns the configured resource type set.
func (p *ParallelPattern) ResourceTypes() []string {
	out := make([]string, 0, len(p.types))
	for rt := range p.types {
		out = append(out, rt)
	}
	return out
}

// Matches holds when the required resources are a subset of the configured
// set and the ledger currently has spare capacity for all of them. Capacity
// is checked here, not reserved; Execute re-checks atomically.
func (p *ParallelPattern) Matches(c *Context) bool {
	required := c.RequiredResources()
	if len(required) == 0 {
		return false
	}
	if !subset(required, p.types) {
		return false
	}
	return p.ledger.CanAllocate(required)
}

// Execute acquires every requested resource atomically, runs one worker per
// resource concurrently, waits for all of them, then releases everything.
// Release is guaranteed on every exit path, worker panic included. If the
// allocation fails nothing is started and nothing needs unwinding.
func (p *ParallelPattern) Execute(ctx stdcontext.Context, c *Context) bool {
	start := time.Now()
	success := p.fanOut(ctx, c)
	p.tracker.Record(success, c.Domain())
	metrics.RecordExecution(string(TypeParallel), success, time.Since(start).Seconds())
	return success
}

func (p *ParallelPattern) fanOut(ctx stdcontext.Context, c *Context) bool {
	required := dedupeOrdered(c.RequiredResources())
	if len(required) == 0 || !subset(required, p.types) {
		return false
	}

	if err := p.ledger.Allocate(required); err != nil {
		p.logger.Debug("allocation failed, no workers started",
			zap.String("pattern", p.name),
			zap.Error(err),
		)
		return false
	}
	defer p.ledger.Release(required)

	var wg sync.WaitGroup
	failures := make(chan string, len(required))
	for _, rt := range required {
		wg.Add(1)
		go func(resourceType string) {
			defer wg.Done()
			// A panicking worker counts as a failure; the ledger release
			// above still runs.
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("worker panicked",
						zap.String("pattern", p.name),
						zap.String("resource", resourceType),
						zap.Any("panic", r),
					)
					failures <- resourceType
				}
			}()
			if err := p.worker(ctx, resourceType, c); err != nil {
				p.logger.Debug("worker failed",
					zap.String("pattern", p.name),
					zap.String("resource", resourceType),
					zap.Error(err),
				)
				failures <- resourceType
			}
		}(rt)
	}
	wg.Wait()
	close(failures)

	// Success requires every worker to succeed.
	return len(failures) == 0
}

func dedupeOrdered(elems []string) []string {
	seen := make(map[string]struct{}, len(elems))
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
