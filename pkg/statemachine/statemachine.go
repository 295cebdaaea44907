// Package statemachine implements a small, thread-safe finite state machine
// with typed states and events, guard-based branching and transition actions.
//
//	m := statemachine.New(Idle,
//		statemachine.WithTransition(Idle, Running, Start),
//		statemachine.WithTransition(Running, Failed, Stop,
//			statemachine.WithGuard(func(ctx context.Context, from State, ev Event, data any) bool {
//				return data.(error) != nil
//			}),
//		),
//		statemachine.WithTransition(Running, Idle, Stop),
//	)
//	err := m.Fire(ctx, Stop, someErr)
//
// Transitions registered for the same (state, event) pair are evaluated in
// registration order and the first one whose guards all pass is taken.
package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// Guard decides whether a transition may be taken.
type Guard[S, E comparable] func(ctx context.Context, from S, event E, data any) bool

// Action runs before the state changes. An error aborts the transition.
type Action[S, E comparable] func(ctx context.Context, from, to S, event E, data any) error

type transition[S, E comparable] struct {
	to      S
	guards  []Guard[S, E]
	actions []Action[S, E]
}

// Machine holds the current state and its transition table.
type Machine[S, E comparable] struct {
	mu          sync.Mutex
	initial     S
	current     S
	transitions map[S]map[E][]transition[S, E]
}

// Option configures a Machine during construction.
type Option[S, E comparable] func(*Machine[S, E])

// TransitionOption attaches guards and actions to a transition.
type TransitionOption[S, E comparable] func(*transition[S, E])

// New creates a machine starting in initial.
func New[S, E comparable](initial S, opts ...Option[S, E]) *Machine[S, E] {
	m := &Machine[S, E]{
		initial:     initial,
		current:     initial,
		transitions: make(map[S]map[E][]transition[S, E]),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTransition registers from --event--> to.
func WithTransition[S, E comparable](from, to S, event E, opts ...TransitionOption[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) {
		t := transition[S, E]{to: to}
		for _, opt := range opts {
			opt(&t)
		}
		m.add(from, event, t)
	}
}

// WithGuard adds a guard. Nil guards are ignored.
func WithGuard[S, E comparable](g Guard[S, E]) TransitionOption[S, E] {
	return func(t *transition[S, E]) {
		if g != nil {
			t.guards = append(t.guards, g)
		}
	}
}

// WithAction adds an action. Nil actions are ignored.
func WithAction[S, E comparable](a Action[S, E]) TransitionOption[S, E] {
	return func(t *transition[S, E]) {
		if a != nil {
			t.actions = append(t.actions, a)
		}
	}
}

func (m *Machine[S, E]) add(from S, event E, t transition[S, E]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transitions[from]; !ok {
		m.transitions[from] = make(map[E][]transition[S, E])
	}
	m.transitions[from][event] = append(m.transitions[from][event], t)
}

func (m *Machine[S, E]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Fire applies event. It returns a *TransitionError wrapping ErrNoTransition
// when nothing is registered for the current state or ErrRejected when every
// candidate was blocked by a guard. A failed action aborts the transition.
func (m *Machine[S, E]) Fire(ctx context.Context, event E, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.match(ctx, event, data)
	if err != nil {
		return err
	}

	for _, action := range t.actions {
		if err := action(ctx, m.current, t.to, event, data); err != nil {
			return fmt.Errorf("action failed: %w", err)
		}
	}

	m.current = t.to
	return nil
}

// CanFire reports whether Fire would find a transition.
func (m *Machine[S, E]) CanFire(ctx context.Context, event E, data any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.match(ctx, event, data)
	return err == nil
}

// Reset returns the machine to its initial state.
func (m *Machine[S, E]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.initial
}

// Must be called with lock held.
func (m *Machine[S, E]) match(ctx context.Context, event E, data any) (transition[S, E], error) {
	candidates := m.transitions[m.current][event]
	if len(candidates) == 0 {
		return transition[S, E]{}, transitionError(m.current, event, ErrNoTransition)
	}

next:
	for _, t := range candidates {
		for _, guard := range t.guards {
			if !guard(ctx, m.current, event, data) {
				continue next
			}
		}
		return t, nil
	}

	return transition[S, E]{}, transitionError(m.current, event, ErrRejected)
}
