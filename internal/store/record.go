package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/confidence"
	"github.com/conductor-labs/delegate/internal/delegation"
	"github.com/conductor-labs/delegate/internal/resources"
)

// Record is the serialized form of a pattern: its definition plus the
// confidence counters, so reliability history survives a restart.
type Record struct {
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Type          delegation.PatternType `json:"type"`
	Steps         []string               `json:"steps,omitempty"`
	ResourceTypes []string               `json:"resource_types,omitempty"`
	Domains       []string               `json:"domains,omitempty"`
	Confidence    confidence.Snapshot    `json:"confidence"`
}

// Runtime supplies the live dependencies a serialized pattern needs to run
// again: behavior hooks cannot be persisted, only re-bound.
type Runtime struct {
	Ledger     *resources.Ledger
	Step       delegation.StepFunc
	Worker     delegation.WorkerFunc
	Dispatch   delegation.DispatchFunc
	Confidence confidence.Config
}

// Snapshot converts a live pattern into its serialized form.
func Snapshot(p delegation.Pattern) (Record, error) {
	rec := Record{
		Name:        p.Name(),
		Description: p.Description(),
		Type:        p.Type(),
		Confidence:  p.Tracker().Snapshot(),
	}
	switch pp := p.(type) {
	case *delegation.SequentialPattern:
		rec.Steps = pp.Steps()
	case *delegation.ParallelPattern:
		rec.ResourceTypes = pp.ResourceTypes()
	case *delegation.MetaPattern:
		rec.Domains = pp.Domains()
	default:
		return Record{}, fmt.Errorf("%w: unknown pattern type %T", delegation.ErrInvalidConfig, p)
	}
	return rec, nil
}

// Materialize rebuilds a live pattern from its serialized form, re-binding
// the runtime hooks and restoring the confidence history.
func (rt Runtime) Materialize(rec Record, logger *zap.Logger) (delegation.Pattern, error) {
	switch rec.Type {
	case delegation.TypeSequential:
		return delegation.NewSequential(delegation.SequentialConfig{
			Name:        rec.Name,
			Description: rec.Description,
			Steps:       rec.Steps,
			Run:         rt.Step,
			Confidence:  rt.Confidence,
			History:     rec.Confidence,
		}, logger)
	case delegation.TypeParallel:
		return delegation.NewParallel(delegation.ParallelConfig{
			Name:          rec.Name,
			Description:   rec.Description,
			ResourceTypes: rec.ResourceTypes,
			Ledger:        rt.Ledger,
			Worker:        rt.Worker,
			Confidence:    rt.Confidence,
			History:       rec.Confidence,
		}, logger)
	case delegation.TypeMeta:
		return delegation.NewMeta(delegation.MetaConfig{
			Name:        rec.Name,
			Description: rec.Description,
			Domains:     rec.Domains,
			Dispatch:    rt.Dispatch,
			Confidence:  rt.Confidence,
			History:     rec.Confidence,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown pattern type %q", delegation.ErrInvalidConfig, rec.Type)
	}
}
