package status

import (
	"testing"

	"github.com/feather-im/feather/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Idle},
		{Booting, Failed},
		{Idle, Pulling},
		{Pulling, Pushing},
		{Pushing, Idle},
		{Pulling, Failed},
		{Pushing, Failed},
		{Failed, Idle},
		{Failed, Pulling},
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
	if err := m.Transition(Pushing); err == nil {
		t.Error("Transition(BOOTING -> PUSHING) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, should not have changed", m.Current())
	}

	// Pull cannot go straight back to Idle; the cycle finishes via Pushing.
	walkTo(t, m, Pulling)
	if err := m.Transition(Idle); err == nil {
		t.Error("Transition(PULLING -> IDLE) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Idle); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "sync.status_changed" {
		t.Errorf("event kind = %q, want sync.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Idle {
		t.Errorf("change = %v -> %v, want BOOTING -> IDLE", change.From, change.To)
	}
}

// TestSyncCycleLifecycle walks one complete successful invocation:
// BOOTING -> IDLE -> PULLING -> PUSHING -> IDLE.
func TestSyncCycleLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Idle, Pulling, Pushing, Idle}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Idle {
		t.Errorf("final state = %s, want IDLE", m.Current())
	}
}

// TestFailureRecovery verifies a failed cycle settles in FAILED and the
// next invocation can pull again.
func TestFailureRecovery(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Pulling)

	if err := m.Transition(Failed); err != nil {
		t.Fatalf("PULLING -> FAILED: %v", err)
	}
	if err := m.Transition(Pulling); err != nil {
		t.Fatalf("FAILED -> PULLING: %v", err)
	}
	if m.Current() != Pulling {
		t.Errorf("state = %s, want PULLING", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting: {},
		Idle:    {Idle},
		Pulling: {Idle, Pulling},
		Pushing: {Idle, Pulling, Pushing},
		Failed:  {Failed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
