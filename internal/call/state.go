package call

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatty/internal/bus"
)

// State represents a call lifecycle state.
type State string

const (
	Idle            State = "IDLE"
	RequestingMedia State = "REQUESTING_MEDIA"
	Negotiating     State = "NEGOTIATING"
	Active          State = "ACTIVE"
	Ended           State = "ENDED"
)

// validTransitions defines allowed state transitions. Media failure drops
// back to Idle; Ended always resets to Idle before the next call.
var validTransitions = map[State][]State{
	Idle:            {RequestingMedia},
	RequestingMedia: {Negotiating, Idle, Ended},
	Negotiating:     {Active, Ended},
	Active:          {Ended},
	Ended:           {Idle},
}

// Machine tracks and enforces call state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "call.state_changed",
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for call state change events.
type StateChange struct {
	From State
	To   State
}
