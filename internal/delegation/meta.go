package delegation

import (
	stdcontext "context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/confidence"
	"github.com/conductor-labs/delegate/internal/metrics"
)

// metaMinDomains is the policy floor on distinct domains, both for the
// configured set and for a matching request.
const metaMinDomains = 3

// DispatchFunc performs the work delegated to one domain.
type DispatchFunc func(ctx stdcontext.Context, domain string, coordinator string, c *Context) error

// MetaConfig configures a meta-orchestration pattern.
type MetaConfig struct {
	Name        string
	Description string
	// Domains is the set of domains this pattern can orchestrate across.
	// Policy requires at least three distinct entries.
	Domains []string
	// Dispatch runs the per-domain work. Defaults to a no-op success.
	Dispatch DispatchFunc
	// Confidence tunes the pattern's tracker. Zero value means defaults.
	Confidence confidence.Config
	// History seeds the tracker, used when rehydrating from the store.
	History confidence.Snapshot
}

// MetaPattern coordinates work across multiple domains, electing the domain
// with the best track record as coordinator.
type MetaPattern struct {
	name        string
	description string
	domains     map[string]struct{}
	dispatch    DispatchFunc
	tracker     *confidence.Tracker
	logger      *zap.Logger
}

// NewMeta creates a meta-orchestration pattern, validating its configuration.
func NewMeta(cfg MetaConfig, logger *zap.Logger) (*MetaPattern, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: meta pattern requires a name", ErrInvalidConfig)
	}
	domains := toSet(cfg.Domains)
	if len(domains) < metaMinDomains {
		return nil, fmt.Errorf("%w: meta pattern %q requires at least %d distinct domains, got %d",
			ErrInvalidConfig, cfg.Name, metaMinDomains, len(domains))
	}
	if cfg.Confidence == (confidence.Config{}) {
		cfg.Confidence = confidence.DefaultConfig()
	}
	tracker, err := confidence.Restore(cfg.Confidence, cfg.History)
	if err != nil {
		return nil, err
	}
	dispatch := cfg.Dispatch
	if dispatch == nil {
		dispatch = func(stdcontext.Context, string, string, *Context) error { return nil }
	}

	return &MetaPattern{
		name:        cfg.Name,
		description: cfg.Description,
		domains:     domains,
		dispatch:    dispatch,
		tracker:     tracker,
		logger:      logger,
	}, nil
}

func (p *MetaPattern) Name() string                 { return p.name }
func (p *MetaPattern) Description() string          { return p.description }
func (p *MetaPattern) Type() PatternType            { return TypeMeta }
func (p *MetaPattern) Tracker() *confidence.Tracker { return p.tracker }

// Domains returns the configured domain set.
func (p *MetaPattern) Domains() []string {
	out := make([]string, 0, len(p.domains))
	for d := range p.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Matches holds when the required domains are a subset of the configured set
// and span at least three distinct domains.
func (p *MetaPattern) Matches(c *Context) bool {
	required := dedupeOrdered(c.RequiredDomains())
	if len(required) < metaMinDomains {
		return false
	}
	return subset(required, p.domains)
}

// Execute elects the required domain with the highest domain confidence as
// coordinator (ties broken lexically), dispatches to every required domain
// sequentially starting with the coordinator, and aggregates the results.
// A single domain failure fails the whole orchestration, but each domain's
// own confidence counters still reflect its individual outcome. The overall
// outcome is recorded exactly once.
func (p *MetaPattern) Execute(ctx stdcontext.Context, c *Context) bool {
	start := time.Now()
	success := p.orchestrate(ctx, c)
	p.tracker.Record(success, c.Domain())
	metrics.RecordExecution(string(TypeMeta), success, time.Since(start).Seconds())
	return success
}

func (p *MetaPattern) orchestrate(ctx stdcontext.Context, c *Context) bool {
	required := dedupeOrdered(c.RequiredDomains())
	if len(required) < metaMinDomains || !subset(required, p.domains) {
		return false
	}

	coordinator := p.electCoordinator(required)
	p.logger.Debug("coordinator elected",
		zap.String("pattern", p.name),
		zap.String("coordinator", coordinator),
		zap.Strings("domains", required),
	)

	order := dispatchOrder(required, coordinator)
	success := true
	for _, domain := range order {
		err := p.dispatch(ctx, domain, coordinator, c)
		p.tracker.RecordDomain(err == nil, domain)
		if err != nil {
			p.logger.Debug("domain dispatch failed",
				zap.String("pattern", p.name),
				zap.String("domain", domain),
				zap.Error(err),
			)
			success = false
		}
	}
	return success
}

// electCoordinator picks the required domain with the highest domain
// confidence, breaking ties in lexical order.
func (p *MetaPattern) electCoordinator(required []string) string {
	sorted := make([]string, len(required))
	copy(sorted, required)
	sort.Strings(sorted)

	best := sorted[0]
	bestScore := p.tracker.DomainScore(best)
	for _, d := range sorted[1:] {
		if score := p.tracker.DomainScore(d); score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// dispatchOrder places the coordinator first, then the remaining domains in
// lexical order for determinism.
func dispatchOrder(required []string, coordinator string) []string {
	rest := make([]string, 0, len(required)-1)
	for _, d := range required {
		if d != coordinator {
			rest = append(rest, d)
		}
	}
	sort.Strings(rest)
	return append([]string{coordinator}, rest...)
}
