// Package executor selects and runs the best-matching pattern for a context.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/delegation"
	"github.com/conductor-labs/delegate/internal/journal"
	"github.com/conductor-labs/delegate/internal/metrics"
)

// Catalog is the lookup contract shared by the in-memory registry and the
// persistent store.
type Catalog interface {
	FindMatching(c *delegation.Context) []delegation.Pattern
}

// Persister writes a pattern's updated state back to durable storage.
// The store implements it; the in-memory registry does not need to.
type Persister interface {
	Persist(ctx context.Context, p delegation.Pattern) error
}

// Result reports the outcome of one delegation.
type Result struct {
	ExecutionID string        `json:"execution_id"`
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	Pattern     string        `json:"pattern,omitempty"`
	PatternType string        `json:"pattern_type,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Executor runs the best-matching pattern for a context. It performs no
// bookkeeping beyond what the chosen pattern already does, and no implicit
// retries; callers may retry it themselves.
type Executor struct {
	registry Catalog
	store    Catalog // optional fallback, may be nil
	journal  *journal.Journal
	logger   *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithStore sets the persistent store the executor falls back to when the
// registry has no match.
func WithStore(store Catalog) Option {
	return func(e *Executor) { e.store = store }
}

// WithJournal sets the outcome journal executions are appended to.
func WithJournal(j *journal.Journal) Option {
	return func(e *Executor) { e.journal = j }
}

// New creates an executor bound to a registry.
func New(registry Catalog, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteBest finds the candidates for a context, runs the top-ranked one,
// and propagates its outcome. Zero candidates is an expected outcome
// surfaced as a failed result, never a fault.
func (e *Executor) ExecuteBest(ctx context.Context, c *delegation.Context) Result {
	executionID := uuid.New().String()
	start := time.Now()

	candidates, fromStore := e.findCandidates(c)
	if len(candidates) == 0 {
		metrics.NoMatchingPattern.Inc()
		e.logger.Info("no matching pattern",
			zap.String("execution_id", executionID),
			zap.String("domain", c.Domain()),
			zap.String("agent_type", c.AgentType()),
		)
		res := Result{
			ExecutionID: executionID,
			Success:     false,
			Message:     fmt.Sprintf("no matching pattern for domain %q", c.Domain()),
			Duration:    time.Since(start),
		}
		e.record(ctx, c, res)
		return res
	}

	best := candidates[0]
	e.logger.Debug("pattern selected",
		zap.String("execution_id", executionID),
		zap.String("pattern", best.Name()),
		zap.String("type", string(best.Type())),
		zap.Float64("score", best.Tracker().Score()),
		zap.String("level", best.Tracker().Level().String()),
		zap.Int("candidates", len(candidates)),
	)

	success := best.Execute(ctx, c)
	duration := time.Since(start)

	message := fmt.Sprintf("pattern %q succeeded", best.Name())
	if !success {
		message = fmt.Sprintf("pattern %q failed", best.Name())
	}

	if fromStore {
		e.persist(ctx, best)
	}

	res := Result{
		ExecutionID: executionID,
		Success:     success,
		Message:     message,
		Pattern:     best.Name(),
		PatternType: string(best.Type()),
		Duration:    duration,
	}
	e.record(ctx, c, res)

	e.logger.Info("delegation completed",
		zap.String("execution_id", executionID),
		zap.String("pattern", best.Name()),
		zap.Bool("success", success),
		zap.Duration("duration", duration),
	)
	return res
}

// findCandidates queries the registry first and falls back to the store only
// when the registry yields no match.
func (e *Executor) findCandidates(c *delegation.Context) ([]delegation.Pattern, bool) {
	if candidates := e.registry.FindMatching(c); len(candidates) > 0 {
		return candidates, false
	}
	if e.store != nil {
		if candidates := e.store.FindMatching(c); len(candidates) > 0 {
			return candidates, true
		}
	}
	return nil, false
}

// persist writes updated confidence back when the winning pattern came from
// the durable store.
func (e *Executor) persist(ctx context.Context, p delegation.Pattern) {
	persister, ok := e.store.(Persister)
	if !ok {
		return
	}
	if err := persister.Persist(ctx, p); err != nil {
		e.logger.Warn("failed to persist pattern state",
			zap.String("pattern", p.Name()),
			zap.Error(err),
		)
	}
}

// record appends the outcome to the journal. Journal failure never fails an
// execution.
func (e *Executor) record(ctx context.Context, c *delegation.Context, res Result) {
	if e.journal == nil {
		return
	}
	e.journal.Append(ctx, journal.Entry{
		ExecutionID: res.ExecutionID,
		Pattern:     res.Pattern,
		PatternType: res.PatternType,
		Domain:      c.Domain(),
		AgentType:   c.AgentType(),
		Priority:    c.Priority(),
		Success:     res.Success,
		Message:     res.Message,
		DurationMs:  res.Duration.Milliseconds(),
	})
}
