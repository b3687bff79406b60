package models

import "fmt"

// LifecycleState classifies a position relative to broker-reported reality.
type LifecycleState string

const (
	// StateOpenFull means every leg still shows open quantity at the broker.
	StateOpenFull LifecycleState = "open_full"
	// StateOpenPartial means some but not all legs remain open at the broker.
	StateOpenPartial LifecycleState = "open_partial"
	// StateClosed means no leg appears in the broker snapshot any more.
	StateClosed LifecycleState = "closed"
)

// Valid returns true if the state is one of the defined constants.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateOpenFull, StateOpenPartial, StateClosed:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the state counts as still on the book.
func (s LifecycleState) IsOpen() bool {
	return s == StateOpenFull || s == StateOpenPartial
}

// lifecycleTransitions enumerates the allowed state changes. Reopening a
// closed position is reserved for operator-approved audit corrections.
var lifecycleTransitions = map[LifecycleState][]LifecycleState{
	StateOpenFull:    {StateOpenPartial, StateClosed},
	StateOpenPartial: {StateOpenFull, StateClosed},
	StateClosed:      {StateOpenFull, StateOpenPartial},
}

// ValidateTransition returns an error when from→to is not an allowed
// lifecycle transition. Self-transitions are rejected so callers can rely on
// "no transition" meaning "no write".
func ValidateTransition(from, to LifecycleState) error {
	if !from.Valid() {
		return fmt.Errorf("invalid lifecycle state %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("invalid lifecycle state %q", to)
	}
	if from == to {
		return fmt.Errorf("position already in state %s", from)
	}
	for _, allowed := range lifecycleTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid lifecycle transition %s -> %s", from, to)
}
