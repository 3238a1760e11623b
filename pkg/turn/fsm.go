package turn

import (
	"sync"
	"time"
)

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

// Machine tracks the persona's turn lifecycle and detects barge-in: user
// speech sustained past the threshold while the persona is speaking sets
// the interruption signal and drops back to listening.
type Machine struct {
	currentState State
	mu           sync.RWMutex

	bargeInThreshold time.Duration

	speakingStartTime  time.Time
	listeningStartTime time.Time

	stateChangeListeners []StateListener

	interrupt *Interrupt
}

// NewMachine creates a state machine bound to the shared interruption signal.
func NewMachine(bargeInThreshold time.Duration, interrupt *Interrupt) *Machine {
	if bargeInThreshold <= 0 {
		bargeInThreshold = 500 * time.Millisecond
	}
	return &Machine{
		currentState:     StateIdle,
		bargeInThreshold: bargeInThreshold,
		interrupt:        interrupt,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (m *Machine) transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:      {StateListening, StateThinking},
		StateListening: {StateThinking, StateIdle},
		StateThinking:  {StateSpeaking, StateListening, StateIdle},
		StateSpeaking:  {StateListening, StateIdle},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *Machine) Transition(state State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.transitionValid(m.currentState, state) {
		return &InvalidTransitionError{
			From: m.currentState,
			To:   state,
		}
	}

	oldState := m.currentState
	m.currentState = state

	switch state {
	case StateListening:
		m.listeningStartTime = time.Now()
	case StateSpeaking:
		m.speakingStartTime = time.Now()
	}

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	// Notify listeners (release lock during notification to avoid deadlocks)
	listeners := make([]StateListener, len(m.stateChangeListeners))
	copy(listeners, m.stateChangeListeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}

	m.mu.Lock()
	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateChangeListeners = append(m.stateChangeListeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// OnPlaybackComplete handles audio playback completion.
func (m *Machine) OnPlaybackComplete() {
	m.mu.RLock()
	currentState := m.currentState
	m.mu.RUnlock()

	if currentState == StateSpeaking {
		_ = m.Transition(StateListening, "playback complete")
	}
}

// OnUserSpeech handles detected user speech and triggers barge-in. When the
// persona is speaking and the speech duration exceeds the threshold, the
// interruption signal is set and the machine returns to listening.
func (m *Machine) OnUserSpeech(duration time.Duration) {
	m.mu.RLock()
	currentState := m.currentState
	threshold := m.bargeInThreshold
	interrupt := m.interrupt
	m.mu.RUnlock()

	if currentState == StateSpeaking && duration > threshold {
		if interrupt != nil {
			interrupt.Set()
		}
		_ = m.Transition(StateListening, "barge-in detected")
	}
}
