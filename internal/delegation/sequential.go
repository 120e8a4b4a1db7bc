package delegation

import (
	stdcontext "context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/confidence"
	"github.com/conductor-labs/delegate/internal/metrics"
)

// StepFunc performs one named step of a sequential pattern. A nil error
// means the step completed.
type StepFunc func(ctx stdcontext.Context, step string, c *Context) error

// SequentialConfig configures a sequential pattern.
type SequentialConfig struct {
	Name        string
	Description string
	// Steps is the ordered list of step names this pattern can perform.
	Steps []string
	// Run executes a single step. Defaults to a no-op success.
	Run StepFunc
	// Confidence tunes the pattern's tracker. Zero value means defaults.
	Confidence confidence.Config
	// History seeds the tracker, used when rehydrating from the store.
	History confidence.Snapshot
}

// SequentialPattern walks a configured step sequence in order.
type SequentialPattern struct {
	name        string
	description string
	steps       []string
	run         StepFunc
	tracker     *confidence.Tracker
	logger      *zap.Logger
}

// NewSequential creates a sequential pattern, validating its configuration.
func NewSequential(cfg SequentialConfig, logger *zap.Logger) (*SequentialPattern, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: sequential pattern requires a name", ErrInvalidConfig)
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("%w: sequential pattern %q requires at least one step", ErrInvalidConfig, cfg.Name)
	}
	if cfg.Confidence == (confidence.Config{}) {
		cfg.Confidence = confidence.DefaultConfig()
	}
	tracker, err := confidence.Restore(cfg.Confidence, cfg.History)
	if err != nil {
		return nil, err
	}
	run := cfg.Run
	if run == nil {
		run = func(stdcontext.Context, string, *Context) error { return nil }
	}
	steps := make([]string, len(cfg.Steps))
	copy(steps, cfg.Steps)

	return &SequentialPattern{
		name:        cfg.Name,
		description: cfg.Description,
		steps:       steps,
		run:         run,
		tracker:     tracker,
		logger:      logger,
	}, nil
}

func (p *SequentialPattern) Name() string                 { return p.name }
func (p *SequentialPattern) Description() string          { return p.description }
func (p *SequentialPattern) Type() PatternType            { return TypeSequential }
func (p *SequentialPattern) Tracker() *confidence.Tracker { return p.tracker }

// Steps returns a copy of the configured step sequence.
func (p *SequentialPattern) Steps() []string {
	out := make([]string, len(p.steps))
	copy(out, p.steps)
	return out
}

// Matches holds when every required step appears in the configured sequence
// in the same relative order. This is a subsequence test, not equality:
// steps [validate, process, store] match a request for [validate, store].
func (p *SequentialPattern) Matches(c *Context) bool {
	required := c.RequiredSteps()
	if len(required) == 0 {
		return false
	}
	return subsequence(required, p.steps)
}

// Execute walks the configured sequence, performing each required step in
// order. A missing step or a step failure skips the remainder and fails the
// whole run. The outcome is recorded exactly once.
func (p *SequentialPattern) Execute(ctx stdcontext.Context, c *Context) bool {
	start := time.Now()
	success := p.runSteps(ctx, c)
	p.tracker.Record(success, c.Domain())
	metrics.RecordExecution(string(TypeSequential), success, time.Since(start).Seconds())
	return success
}

func (p *SequentialPattern) runSteps(ctx stdcontext.Context, c *Context) bool {
	required := c.RequiredSteps()
	if !subsequence(required, p.steps) {
		p.logger.Debug("required steps not a subsequence of configured steps",
			zap.String("pattern", p.name),
			zap.Strings("required", required),
		)
		return false
	}

	need := toSet(required)
	for _, step := range p.steps {
		if _, ok := need[step]; !ok {
			continue
		}
		if err := p.run(ctx, step, c); err != nil {
			p.logger.Debug("step failed, skipping remainder",
				zap.String("pattern", p.name),
				zap.String("step", step),
				zap.Error(err),
			)
			return false
		}
		delete(need, step)
	}
	// Success requires every required step to have completed.
	return len(need) == 0
}
