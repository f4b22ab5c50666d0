package turn

import (
	"sync"
	"time"
)

type State int

const (
	StateConnecting State = iota
	StateListening
	StateThinking
	StateSpeaking
	StateInterrupted
	StateClosing
	StateClosed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions can leave s.
func (s State) Terminal() bool { return s == StateClosed }

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to the StateListener interface.
type StateListenerFunc func(event StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

// validTransitions pins down the call lifecycle. Closing is reachable from
// every live state so either side can end the call; Closed is final.
var validTransitions = map[State][]State{
	StateConnecting:  {StateListening, StateClosing, StateClosed},
	StateListening:   {StateThinking, StateClosing, StateClosed},
	StateThinking:    {StateSpeaking, StateListening, StateClosing, StateClosed},
	StateSpeaking:    {StateListening, StateInterrupted, StateClosing, StateClosed},
	StateInterrupted: {StateListening, StateClosing, StateClosed},
	StateClosing:     {StateClosed},
	StateClosed:      {},
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// Machine is the per-call finite state machine. One Machine per stream
// session; all transitions are serialized by its mutex.
type Machine struct {
	mu      sync.RWMutex
	current State

	speakingStart  time.Time
	listeningStart time.Time

	listeners []StateListener
}

func NewMachine() *Machine {
	return &Machine{current: StateConnecting}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation. Listeners are notified
// outside the lock so they may call back into the machine.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	if !transitionValid(m.current, to) {
		err := &InvalidTransitionError{From: m.current, To: to}
		m.mu.Unlock()
		return err
	}

	from := m.current
	m.current = to
	switch to {
	case StateListening:
		m.listeningStart = time.Now()
	case StateSpeaking:
		m.speakingStart = time.Now()
	}
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	event := StateChange{FromState: from, ToState: to, Timestamp: time.Now(), Reason: reason}
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

// TransitionIf transitions only when the machine is currently in from.
// It reports whether the transition happened.
func (m *Machine) TransitionIf(from, to State, reason string) bool {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur != from {
		return false
	}
	return m.Transition(to, reason) == nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// SpeakingFor returns how long the machine has been in SPEAKING, or zero
// when it is not speaking.
func (m *Machine) SpeakingFor() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current != StateSpeaking {
		return 0
	}
	return time.Since(m.speakingStart)
}
