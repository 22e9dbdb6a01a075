package engine

import "errors"

var (
	// ErrInvalidState is returned when an operation is attempted against a
	// run that is not in the expected state, e.g. a human decision submitted
	// on a run that is not paused. The run state is left untouched.
	ErrInvalidState = errors.New("run is not in the expected state")

	// ErrUnavailable is returned when the checkpoint store stayed
	// unavailable through the bounded retry window.
	ErrUnavailable = errors.New("checkpoint store unavailable")
)
