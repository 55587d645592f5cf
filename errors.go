package changemaster

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

type (
	// ValidationError reports a raw change that cannot be ingested
	ValidationError struct {
		Field  string
		Reason string
	}

	// StorageError wraps a failure reported by the Store
	StorageError struct {
		Err error
		Op  string
	}

	// ConversionError reports an ingress payload that could not be decoded
	// into a change
	ConversionError struct {
		Err error
	}

	// SubscriberError reports a subscriber that failed to handle a change
	SubscriberError struct {
		Err      error
		Name     string
		ChangeID ChangeID
	}

	// PruneError reports a change that could not be removed by the pruner
	PruneError struct {
		Err      error
		ChangeID ChangeID
	}

	// RegistrationError reports a Source that could not be registered
	RegistrationError struct {
		Reason string
	}

	// NotRegisteredError reports an operation on an unknown Source
	NotRegisteredError struct {
		Source Source
	}

	// LifecycleError collects the failures of a cascading start or stop
	LifecycleError struct {
		Err error
		Op  string
	}
)

var (
	// ErrChangeNotFound is returned by a Store when an id is not present
	ErrChangeNotFound = errors.New("change not found")

	// ErrClosed indicates the Manager or one of its parts has been closed
	ErrClosed = errors.New("change manager closed")

	errInvalidAssignment = errors.New("store returned no numbered change")
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid change: %s %s", e.Field, e.Reason)
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("change store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("could not convert payload: %v", e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf(
		"subscriber %s failed on change %d: %v", e.Name, e.ChangeID, e.Err,
	)
}

func (e *SubscriberError) Unwrap() error {
	return e.Err
}

func (e *PruneError) Error() string {
	return fmt.Sprintf("could not prune change %d: %v", e.ChangeID, e.Err)
}

func (e *PruneError) Unwrap() error {
	return e.Err
}

func (e *RegistrationError) Error() string {
	return "could not register source: " + e.Reason
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("source %T is not registered", e.Source)
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("could not %s sources: %v", e.Op, e.Err)
}

// Unwrap exposes every collected failure to errors.Is and errors.As
func (e *LifecycleError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

// Errors returns the individual failures collected by the cascade
func (e *LifecycleError) Errors() []error {
	return multierr.Errors(e.Err)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
