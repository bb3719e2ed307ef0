package strategy

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestMachine() *StateMachine {
	return NewStateMachine(zerolog.Nop())
}

func TestStateMachine_HappyPath(t *testing.T) {
	m := newTestMachine()
	path := []State{
		StateRangeDefined,
		StateBreakoutDetected,
		StateWaitPullback,
		StateLimitOrderPlaced,
		StateInPosition,
		StateExit,
		StateReset,
		StateIdle,
	}

	ts := int64(1000)
	for _, next := range path {
		if err := m.TransitionTo(next, ts); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
		if m.State() != next {
			t.Fatalf("expected state %s, got %s", next, m.State())
		}
		if m.EnteredAt() != ts {
			t.Fatalf("expected entry ts %d, got %d", ts, m.EnteredAt())
		}
		ts += 1000
	}
}

func TestStateMachine_RejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		from State
		to   State
	}{
		{StateIdle, StateBreakoutDetected},
		{StateIdle, StateInPosition},
		{StateIdle, StateReset},
		{StateRangeDefined, StateWaitPullback},
		{StateBreakoutDetected, StateLimitOrderPlaced},
		{StateWaitPullback, StateInPosition},
		{StateLimitOrderPlaced, StateExit},
		{StateInPosition, StateIdle},
		{StateExit, StateIdle},
		{StateReset, StateRangeDefined},
	}

	for _, tc := range cases {
		m := newTestMachine()
		m.state = tc.from

		err := m.TransitionTo(tc.to, 1000)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s -> %s: expected ErrIllegalTransition, got %v", tc.from, tc.to, err)
		}
		if m.State() != tc.from {
			t.Errorf("%s -> %s: illegal transition changed state to %s", tc.from, tc.to, m.State())
		}
	}
}

func TestStateMachine_ForceReset(t *testing.T) {
	for _, from := range []State{
		StateRangeDefined, StateBreakoutDetected, StateWaitPullback,
		StateLimitOrderPlaced, StateInPosition, StateExit,
	} {
		m := newTestMachine()
		m.state = from
		m.ForceReset(5000)
		if m.State() != StateIdle {
			t.Errorf("force reset from %s: expected IDLE, got %s", from, m.State())
		}
		if m.EnteredAt() != 5000 {
			t.Errorf("force reset from %s: expected entry ts 5000, got %d", from, m.EnteredAt())
		}
	}
}

func TestStateMachine_ForceResetFromIdleIsNoop(t *testing.T) {
	m := newTestMachine()
	m.ForceReset(5000)
	if m.State() != StateIdle {
		t.Errorf("expected IDLE, got %s", m.State())
	}
	if m.EnteredAt() != 0 {
		t.Errorf("no-op reset must not touch the entry timestamp, got %d", m.EnteredAt())
	}
}
