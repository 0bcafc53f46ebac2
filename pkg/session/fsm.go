package session

import (
	"fmt"
	"sync"
)

// State is a session lifecycle phase.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StatePaused       State = "paused"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

// validTransitions is the full lifecycle graph. Stopped is reachable from
// every live state so forced teardown always has a legal path.
var validTransitions = map[State][]State{
	StateIdle:         {StateConnecting, StateStopped},
	StateConnecting:   {StateStreaming, StateError, StateStopped},
	StateStreaming:    {StatePaused, StateReconnecting, StateStopped, StateError},
	StatePaused:       {StateStreaming, StateReconnecting, StateStopped, StateError},
	StateReconnecting: {StateStreaming, StateError, StateStopped},
	StateError:        {StateIdle},
	StateStopped:      {},
}

// Machine guards lifecycle transitions and notifies on every change.
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange func(State)
}

func NewMachine(onChange func(State)) *Machine {
	return &Machine{state: StateIdle, onChange: onChange}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To performs a transition, rejecting anything outside the lifecycle graph.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	cur := m.state
	if !allowed(cur, next) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", cur, next)
	}
	m.state = next
	cb := m.onChange
	m.mu.Unlock()
	if cb != nil {
		cb(next)
	}
	return nil
}

// Is reports whether the current state is one of the given states.
func (m *Machine) Is(states ...State) bool {
	cur := m.State()
	for _, s := range states {
		if cur == s {
			return true
		}
	}
	return false
}

func allowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
