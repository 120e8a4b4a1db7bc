// Package confidence tracks per-pattern reliability from recorded outcomes.
//
// The estimator is a Laplace-smoothed success ratio (s+1)/(s+f+2): bounded in
// (0,1), monotonically increasing in successes and decreasing in failures,
// with a neutral 0.5 prior at zero observations.
package confidence

import (
	"errors"
	"fmt"
	"sync"
)

// Level is the discretized confidence band for a tracker.
type Level int

const (
	LevelUnestablished Level = iota
	LevelLow
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelUnestablished:
		return "unestablished"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

var ErrInvalidConfig = errors.New("invalid confidence configuration")

// Config holds the tracker tuning knobs.
type Config struct {
	// MinExecutions is the number of observations required before the
	// level leaves unestablished.
	MinExecutions int `mapstructure:"min_executions"`
	// LowThreshold and HighThreshold bound the medium band:
	// low < score below LowThreshold, medium in [LowThreshold, HighThreshold),
	// high at or above HighThreshold.
	LowThreshold  float64 `mapstructure:"low_threshold"`
	HighThreshold float64 `mapstructure:"high_threshold"`
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		MinExecutions: 5,
		LowThreshold:  0.5,
		HighThreshold: 0.7,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MinExecutions < 1 {
		return fmt.Errorf("%w: min_executions must be >= 1, got %d", ErrInvalidConfig, c.MinExecutions)
	}
	if c.LowThreshold <= 0 || c.LowThreshold >= 1 {
		return fmt.Errorf("%w: low_threshold must be in (0,1), got %v", ErrInvalidConfig, c.LowThreshold)
	}
	if c.HighThreshold <= 0 || c.HighThreshold >= 1 {
		return fmt.Errorf("%w: high_threshold must be in (0,1), got %v", ErrInvalidConfig, c.HighThreshold)
	}
	if c.LowThreshold >= c.HighThreshold {
		return fmt.Errorf("%w: low_threshold %v must be below high_threshold %v",
			ErrInvalidConfig, c.LowThreshold, c.HighThreshold)
	}
	return nil
}

type domainCounts struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// Tracker accumulates success/failure observations, overall and per domain.
// All methods are safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	cfg       Config
	successes int
	failures  int
	domains   map[string]*domainCounts
}

// New creates a tracker, validating the configuration.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:     cfg,
		domains: make(map[string]*domainCounts),
	}, nil
}

// Record adds one observation. An empty domain updates only the totals.
func (t *Tracker) Record(success bool, domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.successes++
	} else {
		t.failures++
	}
	if domain == "" {
		return
	}
	dc, ok := t.domains[domain]
	if !ok {
		dc = &domainCounts{}
		t.domains[domain] = dc
	}
	if success {
		dc.Successes++
	} else {
		dc.Failures++
	}
}

// RecordDomain adds one observation to a single domain's counters without
// touching the totals. Meta-orchestration uses this to credit or debit each
// dispatched domain individually while the orchestration as a whole is
// recorded once through Record.
func (t *Tracker) RecordDomain(success bool, domain string) {
	if domain == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	dc, ok := t.domains[domain]
	if !ok {
		dc = &domainCounts{}
		t.domains[domain] = dc
	}
	if success {
		dc.Successes++
	} else {
		dc.Failures++
	}
}

// Score returns the smoothed overall success ratio in [0,1].
func (t *Tracker) Score() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return laplace(t.successes, t.failures)
}

// Level returns the discretized band for the current score. It is
// unestablished until MinExecutions observations have accrued, regardless
// of the score.
func (t *Tracker) Level() Level {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.successes+t.failures < t.cfg.MinExecutions {
		return LevelUnestablished
	}
	score := laplace(t.successes, t.failures)
	switch {
	case score >= t.cfg.HighThreshold:
		return LevelHigh
	case score >= t.cfg.LowThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// DomainScore returns the smoothed success ratio for one domain. A domain
// with no observations scores the neutral 0.5.
func (t *Tracker) DomainScore(domain string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dc, ok := t.domains[domain]
	if !ok {
		return 0.5
	}
	return laplace(dc.Successes, dc.Failures)
}

// Observations returns the total number of recorded outcomes.
func (t *Tracker) Observations() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.successes + t.failures
}

// Reset zeroes all counters. Used for re-baselining, never by normal
// execution paths.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes = 0
	t.failures = 0
	t.domains = make(map[string]*domainCounts)
}

// UpdateConfig swaps the tuning knobs in place so threshold changes from a
// config reload apply to live trackers.
func (t *Tracker) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	return nil
}

// Snapshot is the serializable state of a tracker.
type Snapshot struct {
	Successes int                     `json:"successes"`
	Failures  int                     `json:"failures"`
	Domains   map[string]domainCounts `json:"domains,omitempty"`
}

// Snapshot captures the current counters for persistence.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Successes: t.successes,
		Failures:  t.failures,
	}
	if len(t.domains) > 0 {
		snap.Domains = make(map[string]domainCounts, len(t.domains))
		for d, dc := range t.domains {
			snap.Domains[d] = *dc
		}
	}
	return snap
}

// Restore builds a tracker from persisted counters.
func Restore(cfg Config, snap Snapshot) (*Tracker, error) {
	t, err := New(cfg)
	if err != nil {
		return nil, err
	}
	t.successes = snap.Successes
	t.failures = snap.Failures
	for d, dc := range snap.Domains {
		c := dc
		t.domains[d] = &c
	}
	return t, nil
}

func laplace(successes, failures int) float64 {
	return float64(successes+1) / float64(successes+failures+2)
}
