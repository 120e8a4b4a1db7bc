package delegation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func reqSteps(steps ...string) *Context {
	return NewContext("data", "sequential", 1, map[string]interface{}{
		AttrRequiredSteps: steps,
	})
}

func TestNewSequentialValidation(t *testing.T) {
	_, err := NewSequential(SequentialConfig{Steps: []string{"a"}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSequential(SequentialConfig{Name: "etl"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSequentialMatchesSubsequence(t *testing.T) {
	p, err := NewSequential(SequentialConfig{
		Name:  "etl",
		Steps: []string{"validate", "process", "store"},
	}, zap.NewNop())
	require.NoError(t, err)

	// Order-preserving subsequence matches.
	assert.True(t, p.Matches(reqSteps("validate", "store")))
	assert.True(t, p.Matches(reqSteps("validate", "process", "store")))
	assert.True(t, p.Matches(reqSteps("process")))

	// Wrong relative order does not.
	assert.False(t, p.Matches(reqSteps("store", "validate")))
	// Unknown step does not.
	assert.False(t, p.Matches(reqSteps("validate", "publish")))
	// No required steps does not.
	assert.False(t, p.Matches(NewContext("data", "sequential", 1, nil)))
}

func TestSequentialExecuteSuccess(t *testing.T) {
	var performed []string
	p, err := NewSequential(SequentialConfig{
		Name:  "etl",
		Steps: []string{"validate", "process", "store"},
		Run: func(_ context.Context, step string, _ *Context) error {
			performed = append(performed, step)
			return nil
		},
	}, zap.NewNop())
	require.NoError(t, err)

	ok := p.Execute(context.Background(), reqSteps("validate", "store"))
	assert.True(t, ok)
	// Only required steps run, in configured order.
	assert.Equal(t, []string{"validate", "store"}, performed)
	assert.Equal(t, 1, p.Tracker().Observations())
	assert.Greater(t, p.Tracker().Score(), 0.5)
}

func TestSequentialExecuteStepFailureSkipsRemainder(t *testing.T) {
	var performed []string
	p, err := NewSequential(SequentialConfig{
		Name:  "etl",
		Steps: []string{"validate", "process", "store"},
		Run: func(_ context.Context, step string, _ *Context) error {
			performed = append(performed, step)
			if step == "process" {
				return errors.New("boom")
			}
			return nil
		},
	}, zap.NewNop())
	require.NoError(t, err)

	ok := p.Execute(context.Background(), reqSteps("validate", "process", "store"))
	assert.False(t, ok)
	assert.Equal(t, []string{"validate", "process"}, performed, "store must be skipped")

	// The failure is recorded exactly once.
	assert.Equal(t, 1, p.Tracker().Observations())
	assert.Less(t, p.Tracker().DomainScore("data"), 0.5)
}

func TestSequentialExecuteMissingStepFails(t *testing.T) {
	p, err := NewSequential(SequentialConfig{
		Name:  "etl",
		Steps: []string{"validate", "store"},
	}, zap.NewNop())
	require.NoError(t, err)

	ok := p.Execute(context.Background(), reqSteps("validate", "publish"))
	assert.False(t, ok)
	assert.Equal(t, 1, p.Tracker().Observations(), "failure path still records once")
}
