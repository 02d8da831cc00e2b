package record

import (
	"errors"
	"fmt"
)

// ProcessingState is the lifecycle stage of a message record with respect
// to caption analysis and media transfer completion.
type ProcessingState string

const (
	StateInitialized ProcessingState = "initialized"
	StatePending     ProcessingState = "pending"
	StateProcessing  ProcessingState = "processing"
	StateCompleted   ProcessingState = "completed"
	StateError       ProcessingState = "error"
	// StateNoCaption marks a completed record that carried no caption.
	StateNoCaption ProcessingState = "no_caption"
	// StateEdited marks a completed record that was subsequently modified.
	StateEdited ProcessingState = "edited"
)

// ErrInvalidTransition indicates a disallowed state change.
var ErrInvalidTransition = errors.New("invalid processing state transition")

// transitions lists the allowed next states. StateError is reachable from
// every state and is handled separately; it is not terminal, since a
// redrive returns the record to pending.
var transitions = map[ProcessingState]map[ProcessingState]struct{}{
	StateInitialized: {
		StatePending:   {},
		StateNoCaption: {},
	},
	StatePending: {
		StateProcessing: {},
		StateCompleted:  {},
	},
	StateProcessing: {
		StateCompleted: {},
	},
	StateCompleted: {
		StateEdited: {},
	},
	StateNoCaption: {
		StateEdited:  {},
		StatePending: {},
	},
	StateEdited: {
		StateEdited:  {},
		StatePending: {},
	},
	StateError: {
		StatePending: {},
	},
}

// Transition validates a state change and returns the target state.
func Transition(from, to ProcessingState) (ProcessingState, error) {
	if to == StateError {
		return StateError, nil
	}
	if allowed, ok := transitions[from]; ok {
		if _, ok := allowed[to]; ok {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// InitialState returns the state a freshly ingested record enters: pending
// when a caption awaits analysis, no_caption otherwise.
func InitialState(hasCaption bool) ProcessingState {
	if hasCaption {
		return StatePending
	}
	return StateNoCaption
}

// IsValidState reports whether s is a known processing state.
func IsValidState(s ProcessingState) bool {
	switch s {
	case StateInitialized, StatePending, StateProcessing, StateCompleted,
		StateError, StateNoCaption, StateEdited:
		return true
	}
	return false
}
