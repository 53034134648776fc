package chat

import (
	"fmt"

	x402 "github.com/x402chat/client"
)

// PaymentState is the state of one payment attempt
type PaymentState string

const (
	StateIdle                PaymentState = "idle"
	StateAwaitingRequirement PaymentState = "awaiting_requirement"
	StateAwaitingWallet      PaymentState = "awaiting_wallet"
	StateSigning             PaymentState = "signing"
	StateSubmitting          PaymentState = "submitting"
	StateSuccess             PaymentState = "success"
	StateFailed              PaymentState = "failed"
)

// Terminal reports whether no further transition is possible
func (s PaymentState) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Failed is reachable from every non-terminal state and is not listed here.
var transitions = map[PaymentState][]PaymentState{
	StateIdle:                {StateAwaitingRequirement},
	StateAwaitingRequirement: {StateAwaitingWallet},
	StateAwaitingWallet:      {StateAwaitingWallet, StateSigning},
	StateSigning:             {StateSubmitting},
	StateSubmitting:          {StateSuccess},
}

// Attempt walks one payment attempt through the state machine
type Attempt struct {
	Number int
	State  PaymentState
	Err    error

	onTransition func(from, to PaymentState)
}

func newAttempt(number int, onTransition func(from, to PaymentState)) *Attempt {
	return &Attempt{Number: number, State: StateIdle, onTransition: onTransition}
}

// Transition moves the attempt to next, rejecting moves the machine does not allow
func (a *Attempt) Transition(next PaymentState) error {
	if !a.canTransition(next) {
		return fmt.Errorf("invalid payment state transition from %s to %s", a.State, next)
	}
	a.set(next)
	return nil
}

// Fail moves the attempt to Failed and records the reason.
// Failing an already terminal attempt is a no-op.
func (a *Attempt) Fail(err error) {
	if a.State.Terminal() {
		return
	}
	a.Err = err
	a.set(StateFailed)
}

// Reason is the error code the attempt failed with, or "" if it has not failed
func (a *Attempt) Reason() string {
	if a.State != StateFailed {
		return ""
	}
	if code := x402.ErrorCode(a.Err); code != "" {
		return code
	}
	return "transport_error"
}

func (a *Attempt) canTransition(next PaymentState) bool {
	if next == StateFailed {
		return !a.State.Terminal()
	}
	for _, allowed := range transitions[a.State] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (a *Attempt) set(next PaymentState) {
	prev := a.State
	a.State = next
	if a.onTransition != nil {
		a.onTransition(prev, next)
	}
}
