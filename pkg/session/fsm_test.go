package session

import "testing"

func TestLifecyclePath(t *testing.T) {
	m := NewMachine(nil)
	for _, next := range []State{StateConnecting, StateStreaming, StatePaused, StateStreaming, StateReconnecting, StateStreaming, StateStopped} {
		if err := m.To(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if m.State() != StateStopped {
		t.Fatalf("got %s", m.State())
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateIdle, StateStreaming},
		{StateIdle, StatePaused},
		{StateStreaming, StateConnecting},
		{StatePaused, StateConnecting},
		{StateStopped, StateStreaming},
		{StateStopped, StateConnecting},
		{StateError, StateStreaming},
	}
	for _, tc := range cases {
		m := NewMachine(nil)
		m.state = tc.from
		if err := m.To(tc.to); err == nil {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestStoppedReachableFromEveryLiveState(t *testing.T) {
	for _, from := range []State{StateIdle, StateConnecting, StateStreaming, StatePaused, StateReconnecting} {
		m := NewMachine(nil)
		m.state = from
		if err := m.To(StateStopped); err != nil {
			t.Errorf("%s -> stopped: %v", from, err)
		}
	}
}

func TestErrorReturnsToIdle(t *testing.T) {
	m := NewMachine(nil)
	m.state = StateError
	if err := m.To(StateIdle); err != nil {
		t.Fatalf("error -> idle: %v", err)
	}
}

func TestOnChangeFires(t *testing.T) {
	var seen []State
	m := NewMachine(func(s State) { seen = append(seen, s) })
	m.To(StateConnecting)
	m.To(StateStreaming)
	if len(seen) != 2 || seen[0] != StateConnecting || seen[1] != StateStreaming {
		t.Fatalf("got %v", seen)
	}
}
