// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
)

// ErrInvalidTransition indicates an event that the current state cannot
// accept. Terminal states accept nothing.
var ErrInvalidTransition = errors.New("invalid state transition")

// =============================================================================
// STATES AND EVENTS
// =============================================================================

// State is a state of the phase state machine.
type State string

const (
	// StateDrafting waits for the model to produce a draft.
	StateDrafting State = "drafting"

	// StateValidating checks the draft.
	StateValidating State = "validating"

	// StateSucceeded is terminal. The draft was accepted.
	StateSucceeded State = "succeeded"

	// StateFailed is terminal. The attempt budget ran out.
	StateFailed State = "failed"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Event drives a transition.
type Event string

const (
	// EventDrafted means the model returned text.
	EventDrafted Event = "drafted"

	// EventGenerationFailed means the call errored or timed out. It consumes
	// an attempt.
	EventGenerationFailed Event = "generation_failed"

	// EventValid means the draft passed every check.
	EventValid Event = "valid"

	// EventInvalid means the draft failed and budget remains.
	EventInvalid Event = "invalid"

	// EventExhausted means the last allowed attempt failed.
	EventExhausted Event = "exhausted"
)

// Next is the transition function.
//
// Outputs:
//
//	State - The next state.
//	error - Wraps ErrInvalidTransition when s cannot accept ev.
func Next(s State, ev Event) (State, error) {
	switch s {
	case StateDrafting:
		switch ev {
		case EventDrafted:
			return StateValidating, nil
		case EventGenerationFailed:
			return StateDrafting, nil
		case EventExhausted:
			return StateFailed, nil
		}
	case StateValidating:
		switch ev {
		case EventValid:
			return StateSucceeded, nil
		case EventInvalid:
			return StateDrafting, nil
		case EventExhausted:
			return StateFailed, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, ev)
}

// =============================================================================
// MACHINE
// =============================================================================

// Machine tracks one phase: its state and the attempts consumed.
//
// Thread Safety: NOT safe for concurrent use. A phase loop is sequential.
type Machine struct {
	phase       rfplan.Phase
	state       State
	attempt     int
	maxAttempts int
}

// NewMachine starts a phase in StateDrafting. maxAttempts below 1 is
// raised to 1.
func NewMachine(phase rfplan.Phase, maxAttempts int) *Machine {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Machine{phase: phase, state: StateDrafting, maxAttempts: maxAttempts}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Attempt returns the number of attempts started.
func (m *Machine) Attempt() int { return m.attempt }

// MaxAttempts returns the budget.
func (m *Machine) MaxAttempts() int { return m.maxAttempts }

// Begin starts the next attempt and returns its 1-based number.
//
// Outputs:
//
//	int - The attempt number.
//	error - Wraps ErrInvalidTransition outside StateDrafting, or
//	rfplan.ErrAttemptsExhausted once the budget is spent.
func (m *Machine) Begin() (int, error) {
	if m.state != StateDrafting {
		return m.attempt, fmt.Errorf("%w: begin attempt in %s", ErrInvalidTransition, m.state)
	}
	if m.attempt >= m.maxAttempts {
		return m.attempt, rfplan.ErrAttemptsExhausted
	}
	m.attempt++
	return m.attempt, nil
}

// Exhausted reports whether the current attempt is the last one allowed.
func (m *Machine) Exhausted() bool {
	return m.attempt >= m.maxAttempts
}

// Fire applies ev. Failure events are promoted to EventExhausted when the
// budget is spent.
func (m *Machine) Fire(ctx context.Context, ev Event) error {
	if (ev == EventInvalid || ev == EventGenerationFailed) && m.Exhausted() {
		ev = EventExhausted
	}
	next, err := Next(m.state, ev)
	if err != nil {
		return err
	}
	telemetry.RecordTransition(ctx, string(m.phase), string(m.state), string(next))
	m.state = next
	return nil
}
