package lifecycle

import (
	"errors"
	"fmt"
)

// State is a lifecycle state. The string form is the wire value used by the
// sensor-state resource.
type State string

const (
	StateInitial  State = "initial"
	StateUnlocked State = "unlocked"
	StateLocked   State = "locked"
	StateWorking  State = "working"
	StateIdle     State = "idle"
	StateError    State = "error"
)

// States lists every lifecycle state in declaration order.
var States = []State{StateInitial, StateUnlocked, StateLocked, StateWorking, StateIdle, StateError}

// Event is a lifecycle trigger.
type Event string

const (
	EventStartup        Event = "startup"
	EventLockSettings   Event = "lock_settings"
	EventUnlockSettings Event = "unlock_settings"
	EventStartSensor    Event = "start_sensor"
	EventStopSensor     Event = "stop_sensor"
	EventError          Event = "error"
	EventReset          Event = "reset"
)

var (
	// ErrTransitionNotAllowed is returned when the current state is not a
	// source of the triggered event. The machine is left unchanged.
	ErrTransitionNotAllowed = errors.New("lifecycle: transition not allowed")

	// ErrUnknownEvent is returned for events missing from the table.
	ErrUnknownEvent = errors.New("lifecycle: unknown event")

	// ErrUnknownState is returned by ParseState for unrecognised values.
	ErrUnknownState = errors.New("lifecycle: unknown state")
)

// Transition is one row of the transition table. A wildcard transition
// ignores Sources and fires from any state.
type Transition struct {
	Event       Event
	Sources     []State
	Destination State
	Wildcard    bool
}

// transitions is the complete, immutable transition table.
var transitions = [...]Transition{
	{Event: EventStartup, Sources: []State{StateInitial}, Destination: StateUnlocked},
	{Event: EventLockSettings, Sources: []State{StateUnlocked}, Destination: StateLocked},
	{Event: EventUnlockSettings, Sources: []State{StateLocked}, Destination: StateUnlocked},
	{Event: EventStartSensor, Sources: []State{StateLocked, StateIdle}, Destination: StateWorking},
	{Event: EventStopSensor, Sources: []State{StateWorking}, Destination: StateIdle},
	{Event: EventError, Destination: StateError, Wildcard: true},
	{Event: EventReset, Destination: StateInitial, Wildcard: true},
}

// Transitions returns a copy of the transition table.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	for i, t := range transitions {
		t.Sources = append([]State(nil), t.Sources...)
		out[i] = t
	}
	return out
}

// Lookup returns the table row for an event.
func Lookup(event Event) (Transition, bool) {
	for _, t := range transitions {
		if t.Event == event {
			return t, true
		}
	}
	return Transition{}, false
}

// Allowed reports whether event may fire from state. It is a pure function of
// the table and performs no mutation.
func Allowed(event Event, from State) bool {
	t, ok := Lookup(event)
	if !ok {
		return false
	}
	if t.Wildcard {
		return true
	}
	for _, s := range t.Sources {
		if s == from {
			return true
		}
	}
	return false
}

// ParseState converts a wire value into a State.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// Machine holds the current lifecycle state.
type Machine struct {
	state State
}

// NewMachine returns a machine in the initial state.
func NewMachine() *Machine {
	return &Machine{state: StateInitial}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Trigger fires event. On success the new state is returned. When the guard
// fails the current state is returned together with ErrTransitionNotAllowed.
func (m *Machine) Trigger(event Event) (State, error) {
	t, ok := Lookup(event)
	if !ok {
		return m.state, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	if !Allowed(event, m.state) {
		return m.state, fmt.Errorf("%w: %s from %s", ErrTransitionNotAllowed, event, m.state)
	}
	m.state = t.Destination
	return m.state, nil
}
