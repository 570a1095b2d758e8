package generation

import "fmt"

// AttemptState tracks one generation request from decision to outcome.
type AttemptState string

const (
	StateIdle       AttemptState = "idle"
	StateDeciding   AttemptState = "deciding"
	StateDenied     AttemptState = "denied"
	StateAllowed    AttemptState = "allowed"
	StateSubmitting AttemptState = "submitting"
	StateCommitted  AttemptState = "committed"
	StateFailed     AttemptState = "failed"
)

var transitions = map[AttemptState][]AttemptState{
	StateIdle:       {StateDeciding},
	StateDeciding:   {StateDenied, StateAllowed, StateFailed},
	StateAllowed:    {StateSubmitting, StateFailed},
	StateSubmitting: {StateCommitted, StateFailed},
}

func (s AttemptState) Terminal() bool {
	return s == StateDenied || s == StateCommitted || s == StateFailed
}

func (s AttemptState) CanMove(to AttemptState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type attempt struct {
	state AttemptState
}

func (a *attempt) move(to AttemptState) error {
	if !a.state.CanMove(to) {
		return fmt.Errorf("invalid attempt transition %s -> %s", a.state, to)
	}
	a.state = to
	return nil
}
