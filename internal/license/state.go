package license

import (
	"fmt"
	"sync"
	"time"

	licenseErrors "isxlicense/internal/errors"
)

// State is the lifecycle state of the license on this machine
type State string

const (
	StateNone              State = "NONE"
	StatePendingActivation State = "PENDING_ACTIVATION"
	StateActive            State = "ACTIVE"
	StateExpired           State = "EXPIRED"
	StateRevoked           State = "REVOKED"
	StateHardwareMismatch  State = "HARDWARE_MISMATCH"
	StateDeactivated       State = "DEACTIVATED"
)

// settled states reachable from each other after a license was loaded
var settled = []State{StateActive, StateExpired, StateRevoked, StateHardwareMismatch}

// transitions lists the legal next states. Staying in the same state is
// always legal and not listed.
var transitions = map[State][]State{
	StateNone:              {StatePendingActivation},
	StatePendingActivation: append([]State{StateNone}, settled...),
	StateActive:            append([]State{StateDeactivated, StatePendingActivation}, settled...),
	StateExpired:           append([]State{StateDeactivated, StatePendingActivation}, settled...),
	StateRevoked:           append([]State{StateDeactivated, StatePendingActivation}, settled...),
	StateHardwareMismatch:  append([]State{StateDeactivated, StatePendingActivation}, settled...),
	StateDeactivated:       {StateNone},
}

// CanTransition reports whether from -> to is legal
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateForOutcome maps a validation verdict to the state it settles in.
// Tokens that never decoded leave nothing behind.
func StateForOutcome(kind OutcomeKind) State {
	switch kind {
	case OutcomeActive:
		return StateActive
	case OutcomeExpired:
		return StateExpired
	case OutcomeRevoked:
		return StateRevoked
	case OutcomeHardwareMismatch:
		return StateHardwareMismatch
	default:
		return StateNone
	}
}

// Lifecycle tracks the current state and rejects illegal transitions
type Lifecycle struct {
	mu        sync.Mutex
	current   State
	changedAt time.Time
}

// NewLifecycle starts in NONE
func NewLifecycle() *Lifecycle {
	return &Lifecycle{current: StateNone}
}

// Current returns the state and when it was entered
func (l *Lifecycle) Current() (State, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.changedAt
}

// Transition moves to the next state
func (l *Lifecycle) Transition(to State, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !CanTransition(l.current, to) {
		return fmt.Errorf("%w: %s -> %s", licenseErrors.ErrIllegalTransition, l.current, to)
	}
	if l.current != to {
		l.current = to
		l.changedAt = now
	}
	return nil
}

// PathTo returns the legal steps from the current state to target,
// going through DEACTIVATED or PENDING_ACTIVATION when a direct move is
// not allowed. It returns nil when no such path exists.
func (l *Lifecycle) PathTo(target State) []State {
	l.mu.Lock()
	from := l.current
	l.mu.Unlock()

	if CanTransition(from, target) {
		return []State{target}
	}
	for _, via := range []State{StateDeactivated, StatePendingActivation} {
		if CanTransition(from, via) && CanTransition(via, target) {
			return []State{via, target}
		}
	}
	return nil
}
