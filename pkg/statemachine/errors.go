package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrNoTransition = errors.New("no transition")
	ErrRejected     = errors.New("rejected by guards")
)

// TransitionError reports an event that could not move the machine. It
// unwraps to ErrNoTransition or ErrRejected.
type TransitionError struct {
	State  string
	Event  string
	reason error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("statemachine: %s -> %s: %v", e.State, e.Event, e.reason)
}

func (e *TransitionError) Unwrap() error { return e.reason }

func transitionError[S, E comparable](state S, event E, reason error) error {
	return &TransitionError{State: fmt.Sprint(state), Event: fmt.Sprint(event), reason: reason}
}
