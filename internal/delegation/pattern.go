package delegation

import (
	stdcontext "context"
	"errors"

	"github.com/conductor-labs/delegate/internal/confidence"
)

// PatternType discriminates the closed set of coordination patterns.
type PatternType string

const (
	TypeSequential PatternType = "sequential"
	TypeParallel   PatternType = "parallel"
	TypeMeta       PatternType = "meta"
)

var (
	// ErrDuplicateName reports a register with a name that already exists.
	ErrDuplicateName = errors.New("pattern name already registered")
	// ErrPatternNotFound reports a lookup or unregister of an absent name.
	ErrPatternNotFound = errors.New("pattern not found")
	// ErrInvalidConfig reports malformed pattern configuration, raised at
	// construction time.
	ErrInvalidConfig = errors.New("invalid pattern configuration")
)

// Pattern is a named coordination strategy with match/execute behavior and
// its own reliability history.
//
// Execute reports success as a boolean: runtime failure of a strategy is an
// expected outcome absorbed into its confidence bookkeeping, not a fault.
// Every Execute records exactly one outcome on the pattern's tracker,
// including on every failure path.
type Pattern interface {
	Name() string
	Description() string
	Type() PatternType

	// Matches reports whether this pattern can serve the given context.
	Matches(c *Context) bool
	// Execute runs the strategy for the context and reports success.
	Execute(ctx stdcontext.Context, c *Context) bool

	// Tracker exposes the pattern's confidence history.
	Tracker() *confidence.Tracker
}

// subsequence reports whether want appears within have in the same relative
// order (not necessarily contiguous).
func subsequence(want, have []string) bool {
	i := 0
	for _, h := range have {
		if i == len(want) {
			break
		}
		if h == want[i] {
			i++
		}
	}
	return i == len(want)
}

// subset reports whether every element of want is present in have.
func subset(want []string, have map[string]struct{}) bool {
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

func toSet(elems []string) map[string]struct{} {
	set := make(map[string]struct{}, len(elems))
	for _, e := range elems {
		set[e] = struct{}{}
	}
	return set
}
