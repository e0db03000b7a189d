package workflow

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. Callers match with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid state")
	ErrOutOfOrder    = errors.New("out of order")
	ErrStorage       = errors.New("storage error")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrInvalidTransition is returned when a lifecycle forbids a trigger
	ErrInvalidTransition = fmt.Errorf("%w: transition not permitted", ErrInvalidState)

	// ErrGuardFailed is returned when every guarded edge for a trigger refuses
	ErrGuardFailed = fmt.Errorf("%w: guard condition failed", ErrInvalidState)
)

// Storage wraps a persistence failure so it classifies as ErrStorage
// while keeping the driver error in the chain.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// KindOf returns a stable label for an error, used in logs and metric labels
func KindOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrStorage),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return "storage"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether a caller may retry the same request unchanged
func IsRetryable(err error) bool {
	return KindOf(err) == "storage"
}

// Describe returns a user-facing message distinct per error kind
func Describe(err error) string {
	switch KindOf(err) {
	case "ok":
		return ""
	case "invalid_input":
		return "the request is missing or has malformed fields"
	case "configuration":
		return "the company's approval policy has no usable approver for this claim"
	case "not_found":
		return "the claim or approval step does not exist for this approver"
	case "out_of_order":
		return "another approver must decide first"
	case "invalid_state":
		return "this claim or step has already been decided"
	case "storage":
		return "the request could not be saved, please try again"
	default:
		return "unexpected error"
	}
}
