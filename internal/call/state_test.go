package call

import (
	"testing"

	"github.com/matheus3301/chatty/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, RequestingMedia},
		{RequestingMedia, Negotiating},
		{RequestingMedia, Idle},
		{Negotiating, Active},
		{Negotiating, Ended},
		{Active, Ended},
		{Ended, Idle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Active); err == nil {
		t.Error("Transition(IDLE -> ACTIVE) should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("call.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(RequestingMedia); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "call.state_changed" {
		t.Errorf("event kind = %q, want call.state_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != Idle || change.To != RequestingMedia {
		t.Errorf("change = %v -> %v, want IDLE -> REQUESTING_MEDIA", change.From, change.To)
	}
}

// TestMediaFailureReturnsToIdle verifies the degraded path: a capture
// failure during REQUESTING_MEDIA drops straight back to IDLE so the next
// call attempt starts clean.
func TestMediaFailureReturnsToIdle(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(RequestingMedia)

	if err := m.Transition(Idle); err != nil {
		t.Fatalf("REQUESTING_MEDIA -> IDLE: %v", err)
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE", m.Current())
	}
}

// TestFullCallLifecycle simulates a complete call:
// IDLE → REQUESTING_MEDIA → NEGOTIATING → ACTIVE → ENDED → IDLE
func TestFullCallLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{RequestingMedia, Negotiating, Active, Ended, Idle}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Idle {
		t.Errorf("final state = %s, want IDLE", m.Current())
	}
}

// TestNegotiationAbortSkipsActive verifies a call torn down before media
// flowed: NEGOTIATING → ENDED → IDLE without passing through ACTIVE.
func TestNegotiationAbortSkipsActive(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Negotiating)

	if err := m.Transition(Ended); err != nil {
		t.Fatalf("NEGOTIATING -> ENDED: %v", err)
	}
	if err := m.Transition(Idle); err != nil {
		t.Fatalf("ENDED -> IDLE: %v", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:            {},
		RequestingMedia: {RequestingMedia},
		Negotiating:     {RequestingMedia, Negotiating},
		Active:          {RequestingMedia, Negotiating, Active},
		Ended:           {RequestingMedia, Negotiating, Active, Ended},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
