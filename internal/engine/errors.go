package engine

import "errors"

var (
	// ErrNotInitialized is returned when events are added before
	// InitializeWithEvents.
	ErrNotInitialized = errors.New("engine: not initialized")

	// ErrAlreadyInitialized is returned on a second InitializeWithEvents.
	ErrAlreadyInitialized = errors.New("engine: already initialized")

	// ErrDuplicateSlice is returned when two slices share a name.
	ErrDuplicateSlice = errors.New("engine: duplicate slice name")

	// ErrUnknownSliceDep is returned when a slice depends on an
	// unregistered slice.
	ErrUnknownSliceDep = errors.New("engine: unknown slice dependency")

	// ErrCircularSliceDep is returned when slice dependencies form a cycle.
	ErrCircularSliceDep = errors.New("engine: circular slice dependency")

	// ErrCorruptLog is returned when a replayed log violates the index
	// invariant.
	ErrCorruptLog = errors.New("engine: corrupt event log")

	// errSuperseded aborts a background run silently when a newer request
	// has taken over.
	errSuperseded = errors.New("engine: request superseded")
)

// ValidationError marks ingress schema failures. The batch rolls back and
// the error surfaces to the caller.
type ValidationError struct {
	msg string
	err error
}

func (e *ValidationError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *ValidationError) Unwrap() error { return e.err }

func validationErrorf(err error, msg string) *ValidationError {
	return &ValidationError{msg: msg, err: err}
}
