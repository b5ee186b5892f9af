package checkout

import "errors"

var (
	// ErrInventoryUnavailable means the requested tickets are sold or held
	// by someone else. Terminal for the attempt; a retry is a new attempt.
	ErrInventoryUnavailable = errors.New("tickets unavailable")

	// ErrInvalidTransition is returned when an operation is not legal in
	// the session's current phase, e.g. retry while a payment is in flight.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTimerActive is returned when a deadline timer is started while a
	// previous one is still running.
	ErrTimerActive = errors.New("deadline timer already active")

	// ErrClosed is returned by operations on a torn-down coordinator.
	ErrClosed = errors.New("coordinator closed")
)
