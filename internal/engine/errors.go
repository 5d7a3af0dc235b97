package engine

import (
	"errors"
	"fmt"
)

// CycleError is a failed sync cycle.
//
// It records the peer, the run and the state in which the cycle stopped.
// Err is an *ir.Error, usually TRANSIENT; the cycle is retried on the
// next schedule.
type CycleError struct {
	// Peer is the peer whose cycle failed.
	Peer string

	// RunID identifies the cycle in logs.
	RunID string

	// State is the phase that failed.
	State State

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("sync %s failed in %s: %v (run=%s)", e.Peer, e.State, e.Err, e.RunID)
}

// Unwrap returns the underlying cause.
func (e *CycleError) Unwrap() error {
	return e.Err
}

// FailedState returns the state in which a cycle failed.
// Uses errors.As to handle wrapped errors.
func FailedState(err error) (State, bool) {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.State, true
	}
	return StateIdle, false
}

// RoundsExceededError stops a cycle whose feed keeps hitting the cap.
// The watermark of the applied rounds is kept; the next cycle continues.
type RoundsExceededError struct {
	Peer   string
	Rounds int
	Limit  int
}

// Error implements the error interface.
func (e *RoundsExceededError) Error() string {
	return fmt.Sprintf("sync %s exceeded max feed rounds: %d > %d limit", e.Peer, e.Rounds, e.Limit)
}

// IsRoundsExceeded reports whether err is a RoundsExceededError.
func IsRoundsExceeded(err error) bool {
	var re *RoundsExceededError
	return errors.As(err, &re)
}
