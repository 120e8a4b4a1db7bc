package delegation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/resources"
)

func reqResources(types ...string) *Context {
	return NewContext("compute", "parallel", 1, map[string]interface{}{
		AttrRequiredResources: types,
	})
}

func newTestLedger(t *testing.T, caps map[string]int) *resources.Ledger {
	t.Helper()
	return resources.NewLedger(caps, zap.NewNop())
}

func TestNewParallelValidation(t *testing.T) {
	ledger := newTestLedger(t, map[string]int{"cpu": 1})

	_, err := NewParallel(ParallelConfig{ResourceTypes: []string{"cpu"}, Ledger: ledger}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewParallel(ParallelConfig{Name: "fan", Ledger: ledger}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewParallel(ParallelConfig{Name: "fan", ResourceTypes: []string{"cpu"}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParallelMatchesSubsetAndCapacity(t *testing.T) {
	ledger := newTestLedger(t, map[string]int{"cpu": 1, "memory": 1})
	p, err := NewParallel(ParallelConfig{
		Name:          "fan",
		ResourceTypes: []string{"cpu", "memory"},
		Ledger:        ledger,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, p.Matches(reqResources("cpu", "memory")))

	// network is not in the configured set.
	assert.False(t, p.Matches(reqResources("cpu", "memory", "network")))

	// Exhausted capacity fails the match without reserving anything.
	require.NoError(t, ledger.Allocate([]string{"cpu"}))
	assert.False(t, p.Matches(reqResources("cpu")))
	ledger.Release([]string{"cpu"})
	assert.True(t, p.Matches(reqResources("cpu")))
}

func TestParallelExecuteRunsWorkerPerResource(t *testing.T) {
	ledger := newTestLedger(t, map[string]int{"cpu": 1, "memory": 1})
	var mu sync.Mutex
	var ran []string
	p, err := NewParallel(ParallelConfig{
		Name:          "fan",
		ResourceTypes: []string{"cpu", "memory"},
		Ledger:        ledger,
		Worker: func(_ context.Context, rt string, _ *Context) error {
			mu.Lock()
			ran = append(ran, rt)
			mu.Unlock()
			return nil
		},
	}, zap.NewNop())
	require.NoError(t, err)

	ok := p.Execute(context.Background(), reqResources("cpu", "memory"))
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"cpu", "memory"}, ran)

	// Everything released afterwards.
	assert.Equal(t, 0, ledger.Allocated("cpu"))
	assert.Equal(t, 0, ledger.Allocated("memory"))
	assert.Equal(t, 1, p.Tracker().Observations())
}

func TestParallelExecuteFailsFastWithoutCapacity(t *testing.T) {
	ledger := newTestLedger(t, map[string]int{"cpu": 1, "memory": 1})
	require.NoError(t, ledger.Allocate([]string{"memory"}))

	var workers int32
	p, err := NewParallel(ParallelConfig{
		Name:          "fan",
		ResourceTypes: []string{"cpu", "memory"},
		Ledger:        ledger,
		Worker: func(_ context.Context, _ string, _ *Context) error {
			atomic.AddInt32(&workers, 1)
			return nil
		},
	}, zap.NewNop())
	require.NoError(t, err)

	ok := p.Execute(context.Background(), reqResources("cpu", "memory"))
	assert.False(t, ok)
	assert.Zero(t, atomic.LoadInt32(&workers), "no worker may start on a failed allocation")
	assert.Equal(t, 0, ledger.Allocated("cpu"), "no partial commit")
	assert.Equal(t, 1, p.Tracker().Observations())
}

func TestParallelExecuteWorkerFailureStillReleases(t *testing.T) {
	ledger := newTestLedger(t, map[string]int{"cpu": 1, "memory": 1})
	p, err := NewParallel(ParallelConfig{
		Name:          "fan",
		ResourceTypes: []string{"cpu", "memory"},
		Ledger:        ledger,
		Worker: func(_ context.Context, rt string, _ *Context) error {
			if rt == "memory" {
				return errors.New("oom")
			}
			return nil
		},
	}, zap.NewNop())
	require.NoError(t, err)

	ok := p.Execute(context.Background(), reqResources("cpu", "memory"))
	assert.False(t, ok)
	assert.Equal(t, 0, ledger.Allocated("cpu"))
	assert.Equal(t, 0, ledger.Allocated("memory"))
}

func TestParallelExecuteWorkerPanicStillReleases(t *testing.T) {
	ledger := newTestLedger(t, map[string]int{"cpu": 1})
	p, err := NewParallel(ParallelConfig{
		Name:          "fan",
		ResourceTypes: []string{"cpu"},
		Ledger:        ledger,
		Worker: func(_ context.Context, _ string, _ *Context) error {
			panic("worker blew up")
		},
	}, zap.NewNop())
	require.NoError(t, err)

	ok := p.Execute(context.Background(), reqResources("cpu"))
	assert.False(t, ok)
	assert.Equal(t, 0, ledger.Allocated("cpu"), "release must survive a worker panic")
	assert.Equal(t, 1, p.Tracker().Observations())
}

func TestParallelLedgerBoundsUnderConcurrentExecutes(t *testing.T) {
	const capacity = 4
	ledger := newTestLedger(t, map[string]int{"cpu": capacity})
	p, err := NewParallel(ParallelConfig{
		Name:          "fan",
		ResourceTypes: []string{"cpu"},
		Ledger:        ledger,
		Worker: func(_ context.Context, _ string, c *Context) error {
			if c.Priority()%2 == 0 {
				return errors.New("even priorities fail")
			}
			return nil
		},
	}, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := NewContext("compute", "parallel", n, map[string]interface{}{
				AttrRequiredResources: []string{"cpu"},
			})
			for j := 0; j < 20; j++ {
				_ = p.Execute(context.Background(), c)
				got := ledger.Allocated("cpu")
				if got < 0 || got > capacity {
					t.Errorf("ledger out of bounds: %d", got)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, ledger.Allocated("cpu"))
}
