package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/feather-im/feather/internal/bus"
)

// State represents the sync engine's runtime state.
type State string

const (
	Booting State = "BOOTING"
	Idle    State = "IDLE"
	Pulling State = "PULLING"
	Pushing State = "PUSHING"
	Failed  State = "FAILED"
)

// validTransitions defines allowed state transitions. One sync invocation
// walks Idle -> Pulling -> Pushing -> Idle; any phase error lands in
// Failed, which the next invocation (or completion of error handling)
// leaves again.
var validTransitions = map[State][]State{
	Booting: {Idle, Failed},
	Idle:    {Pulling, Failed},
	Pulling: {Pushing, Failed},
	Pushing: {Idle, Failed},
	Failed:  {Idle, Pulling},
}

// Machine tracks and enforces sync state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
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
			Kind:      "sync.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
