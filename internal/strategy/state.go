// Package strategy - state.go implements the per-symbol setup state machine.
//
// The transition table is data; TransitionTo is the single choke point that
// enforces it. Illegal requests do not change state — they are logged and
// returned as errors so the caller decides whether to retry or force-reset.
package strategy

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// State enumerates the setup lifecycle.
type State string

const (
	StateIdle             State = "IDLE"
	StateRangeDefined     State = "RANGE_DEFINED"
	StateBreakoutDetected State = "BREAKOUT_DETECTED"
	StateWaitPullback     State = "WAIT_PULLBACK"
	StateLimitOrderPlaced State = "LIMIT_ORDER_PLACED"
	StateInPosition       State = "IN_POSITION"
	StateExit             State = "EXIT"
	StateReset            State = "RESET"
)

// ErrIllegalTransition is returned when a requested edge is not in the table.
var ErrIllegalTransition = errors.New("illegal state transition")

// transitions is the complete edge set; every other edge is forbidden.
var transitions = map[State][]State{
	StateIdle:             {StateRangeDefined},
	StateRangeDefined:     {StateBreakoutDetected, StateReset},
	StateBreakoutDetected: {StateWaitPullback, StateReset},
	StateWaitPullback:     {StateLimitOrderPlaced, StateReset},
	StateLimitOrderPlaced: {StateInPosition, StateReset},
	StateInPosition:       {StateExit, StateReset},
	StateExit:             {StateReset},
	StateReset:            {StateIdle},
}

// StateMachine tracks the current state and the market time it was entered,
// so higher layers can enforce timeouts.
type StateMachine struct {
	state     State
	enteredAt int64 // epoch ms, market time
	logger    zerolog.Logger
}

// NewStateMachine creates a machine in IDLE.
func NewStateMachine(logger zerolog.Logger) *StateMachine {
	return &StateMachine{
		state:  StateIdle,
		logger: logger.With().Str("component", "state_machine").Logger(),
	}
}

// State returns the current state.
func (m *StateMachine) State() State { return m.state }

// EnteredAt returns the market timestamp at which the current state was
// entered.
func (m *StateMachine) EnteredAt() int64 { return m.enteredAt }

// CanTransition reports whether the edge state -> to exists.
func (m *StateMachine) CanTransition(to State) bool {
	for _, next := range transitions[m.state] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves to the requested state, recording the entry timestamp.
// An illegal request is a logged no-op returning ErrIllegalTransition.
func (m *StateMachine) TransitionTo(to State, ts int64) error {
	if !m.CanTransition(to) {
		m.logger.Warn().
			Str("from", string(m.state)).
			Str("to", string(to)).
			Int64("ts", ts).
			Msg("illegal transition rejected")
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, to)
	}
	m.state = to
	m.enteredAt = ts
	return nil
}

// ForceReset drives any non-IDLE state through RESET back to IDLE.
// In IDLE it is a no-op.
func (m *StateMachine) ForceReset(ts int64) {
	if m.state == StateIdle {
		return
	}
	if m.state != StateReset {
		// Every non-IDLE state has a RESET edge.
		m.state = StateReset
	}
	m.state = StateIdle
	m.enteredAt = ts
}
