package turn

import (
	"errors"
	"sync"
	"testing"
)

type captureListener struct {
	mu     sync.Mutex
	events []StateChange
}

func (c *captureListener) OnStateChange(event StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureListener) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	listener := &captureListener{}
	m.AddListener(listener)

	steps := []struct {
		to     State
		reason string
	}{
		{StateListening, "first media frame"},
		{StateThinking, "utterance boundary"},
		{StateSpeaking, "reply synthesized"},
		{StateListening, "playback complete"},
		{StateClosing, "stop event"},
		{StateClosed, "socket closed"},
	}
	for _, step := range steps {
		if err := m.Transition(step.to, step.reason); err != nil {
			t.Fatalf("transition to %s: %v", step.to, err)
		}
	}
	if listener.Count() != len(steps) {
		t.Fatalf("expected %d listener events, got %d", len(steps), listener.Count())
	}
	if !m.State().Terminal() {
		t.Fatalf("expected terminal state, got %s", m.State())
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	cases := []struct {
		from State
		to   State
	}{
		{StateConnecting, StateThinking},
		{StateConnecting, StateSpeaking},
		{StateListening, StateSpeaking},
		{StateListening, StateInterrupted},
		{StateThinking, StateInterrupted},
		{StateInterrupted, StateSpeaking},
		{StateClosing, StateListening},
		{StateClosed, StateListening},
		{StateClosed, StateClosing},
	}
	for _, tc := range cases {
		m := &Machine{current: tc.from}
		err := m.Transition(tc.to, "test")
		if err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
		var ite *InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("expected InvalidTransitionError, got %T", err)
		}
		if m.State() != tc.from {
			t.Fatalf("state must not change on rejected transition")
		}
	}
}

func TestMachineBargeInPath(t *testing.T) {
	m := &Machine{current: StateSpeaking}
	if err := m.Transition(StateInterrupted, "inbound speech while speaking"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if err := m.Transition(StateListening, "flush complete"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if m.State() != StateListening {
		t.Fatalf("expected LISTENING after barge-in, got %s", m.State())
	}
}

func TestMachineClosingFromEveryLiveState(t *testing.T) {
	for _, from := range []State{StateConnecting, StateListening, StateThinking, StateSpeaking, StateInterrupted} {
		m := &Machine{current: from}
		if err := m.Transition(StateClosing, "webhook terminal status"); err != nil {
			t.Fatalf("%s -> CLOSING rejected: %v", from, err)
		}
		if err := m.Transition(StateClosed, "socket closed"); err != nil {
			t.Fatalf("CLOSING -> CLOSED rejected: %v", err)
		}
	}
}

func TestTransitionIf(t *testing.T) {
	m := NewMachine()
	if m.TransitionIf(StateListening, StateThinking, "test") {
		t.Fatalf("TransitionIf must fail when current state differs")
	}
	if !m.TransitionIf(StateConnecting, StateListening, "test") {
		t.Fatalf("TransitionIf should succeed from matching state")
	}
	if m.State() != StateListening {
		t.Fatalf("expected LISTENING, got %s", m.State())
	}
}
