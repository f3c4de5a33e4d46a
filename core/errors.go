package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreUnavailable means the persistence backend could not serve the
	// call. Nothing was written.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrCapabilityUnavailable means a required external capability is not
	// wired. It is a configuration error and is never retried.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrExternalCallFailed means an external capability call failed or
	// timed out.
	ErrExternalCallFailed = errors.New("external call failed")

	// ErrActionRejected means a business precondition failed.
	ErrActionRejected = errors.New("action rejected")

	// ErrInvalidNamespace means a namespace component was empty.
	ErrInvalidNamespace = errors.New("invalid namespace")
)

// CapabilityError names the capability that is not wired.
type CapabilityError struct {
	Name string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCapabilityUnavailable, e.Name)
}

func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityUnavailable
}

// ExternalCallError wraps the failure of one external call. Unwrap yields the
// cause, so errors.Is(err, context.DeadlineExceeded) detects timeouts.
type ExternalCallError struct {
	Op    string
	Cause error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrExternalCallFailed, e.Op, e.Cause)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Cause
}

func (e *ExternalCallError) Is(target error) bool {
	return target == ErrExternalCallFailed
}

// RejectedError is returned when an action's precondition fails. It always
// carries at least one reason.
type RejectedError struct {
	Reasons []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrActionRejected, strings.Join(e.Reasons, "; "))
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrActionRejected
}
