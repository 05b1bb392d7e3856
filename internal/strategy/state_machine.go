package strategy

import "sync"

// StateMachine tracks one side of the hedge through its lifecycle.
// ENTERING and CLOSING are transient: an order is in flight and no new
// action may be computed for the side until its outcome is known.
type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateFlat}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

// SetState overrides the state directly. Used only by restart
// reconciliation, where the exchange-reported position is authoritative.
func (s *StateMachine) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func nextState(current State, event Event) State {
	switch current {
	case StateFlat:
		if event == EventEnter {
			return StateEntering
		}
	case StateEntering:
		if event == EventFilled {
			return StateEntered
		}
		if event == EventClose {
			return StateClosing
		}
	case StateEntered:
		if event == EventScale {
			return StateScaling
		}
		if event == EventCap {
			return StateCapped
		}
		if event == EventClose {
			return StateClosing
		}
	case StateScaling:
		if event == EventScale {
			return StateScaling
		}
		if event == EventCap {
			return StateCapped
		}
		if event == EventClose {
			return StateClosing
		}
	case StateCapped:
		if event == EventClose {
			return StateClosing
		}
	case StateClosing:
		if event == EventFilled {
			return StateFlat
		}
	}
	return current
}

// Transient reports whether an order may be outstanding for the state.
func Transient(state State) bool {
	return state == StateEntering || state == StateClosing
}
