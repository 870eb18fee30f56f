package router

import (
	"errors"
	"fmt"
)

// Setup-phase errors. All of them abort startup before the event loop runs.
var (
	ErrDuplicateBackend  = errors.New("backend already registered")
	ErrUnknownBackend    = errors.New("unknown backend")
	ErrDuplicateInstance = errors.New("instance name already in use")
	ErrUnknownInstance   = errors.New("unknown instance")
	ErrInvalidName       = errors.New("invalid instance name")
	ErrAllocation        = errors.New("backend returned no object")
	ErrInvalidSpec       = errors.New("invalid channel specification")
	ErrInvertedRange     = errors.New("inverted channel range")
	ErrEmptyRange        = errors.New("channel range produces no values")
	ErrGlobTooLarge      = errors.New("channel range expansion too large")
	ErrMappingCount      = errors.New("channel count mismatch")
	ErrNotInSetup        = errors.New("core is not in setup phase")
)

// Run-phase errors.
var (
	ErrNotRunning     = errors.New("core is not running")
	ErrFeedbackLoop   = errors.New("event feedback loop detected")
	ErrUnknownChannel = errors.New("event on nil channel")
)

// CallbackError reports a failed backend callback. Unwrap yields the
// error the backend returned.
type CallbackError struct {
	Backend  string
	Callback string
	Err      error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("backend '%s' %s failed: %v", e.Backend, e.Callback, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// IsConfigError returns true if err stems from an invalid configuration
// rather than from a backend callback.
func IsConfigError(err error) bool {
	for _, target := range []error{
		ErrDuplicateBackend, ErrUnknownBackend, ErrDuplicateInstance, ErrUnknownInstance,
		ErrInvalidName, ErrInvalidSpec, ErrInvertedRange, ErrEmptyRange, ErrGlobTooLarge,
		ErrMappingCount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func callbackError(b Backend, callback string, err error) error {
	return &CallbackError{Backend: b.Name(), Callback: callback, Err: err}
}
