// Package endcondition implements the output end-condition evaluator:
// per output, per media kind, decides when to emit EOS based on which
// registered inputs remain connected.
package endcondition

import (
	"sync"

	"github.com/ethan/mediacompositor/pkg/types"
)

// Kind selects one of the five end-condition rules.
type Kind int

const (
	AnyOf Kind = iota
	AllOf
	AnyInput
	AllInputs
	Never
)

// Condition is one output/media-kind's end-condition rule. Inputs is only
// consulted by AnyOf/AllOf.
type Condition struct {
	Kind   Kind
	Inputs []types.InputID
}

// Evaluator tracks the connected-input set for one output/media-kind pair
// and decides, after each connect/disconnect event, whether to fire EOS.
// It fires at most once; subsequent evaluations for the same side are
// no-ops. Connect and Disconnect are called from different goroutines (the
// controller registering a late input vs. a decoder task hitting EOS), so
// the state is guarded by its own mutex.
type Evaluator struct {
	mu        sync.Mutex
	cond      Condition
	connected map[types.InputID]struct{}
	removed   bool // true once at least one connected input has been removed
	fired     bool
}

// New builds an Evaluator seeded with the inputs connected at output
// registration time.
func New(cond Condition, initiallyConnected []types.InputID) *Evaluator {
	connected := make(map[types.InputID]struct{}, len(initiallyConnected))
	for _, id := range initiallyConnected {
		connected[id] = struct{}{}
	}
	return &Evaluator{cond: cond, connected: connected}
}

// Connect adds id to the connected set (a late-joining input).
func (e *Evaluator) Connect(id types.InputID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected[id] = struct{}{}
}

// Disconnect removes id (EOS or unregister observed for this media kind)
// and re-evaluates the rule, returning true exactly once, the first time
// the rule becomes satisfied.
func (e *Evaluator) Disconnect(id types.InputID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.connected[id]; ok {
		delete(e.connected, id)
		e.removed = true
	}
	return e.evaluate()
}

// Fired reports whether EOS has already been emitted for this side.
func (e *Evaluator) Fired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

func (e *Evaluator) evaluate() bool {
	if e.fired {
		return false
	}
	if !e.shouldFire() {
		return false
	}
	e.fired = true
	return true
}

func (e *Evaluator) shouldFire() bool {
	switch e.cond.Kind {
	case AnyOf:
		for _, id := range e.cond.Inputs {
			if _, ok := e.connected[id]; !ok {
				return true
			}
		}
		return false
	case AllOf:
		for _, id := range e.cond.Inputs {
			if _, ok := e.connected[id]; ok {
				return false
			}
		}
		return true
	case AnyInput:
		return e.removed
	case AllInputs:
		return len(e.connected) == 0
	case Never:
		return false
	default:
		return false
	}
}
