package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrResetFailed matches every *ResetError.
	ErrResetFailed = errors.New("adapter reset failed")
	// ErrRetryBudgetExceeded matches every *RetryBudgetError.
	ErrRetryBudgetExceeded = errors.New("retry budget exceeded")
	// ErrSubscriptionSetupFailed is logged when a device watch cannot be established.
	ErrSubscriptionSetupFailed = errors.New("subscription setup failed")
	// ErrConsumerCallbackFailed is logged when a consumer callback errors or panics.
	ErrConsumerCallbackFailed = errors.New("consumer callback failed")
	// ErrAlreadyRunning is returned by Run while a scan session is active.
	ErrAlreadyRunning = errors.New("scan session already running")
)

// ResetError reports a failed adapter reset.
type ResetError struct {
	Adapter string
	Cause   error
}

func (e *ResetError) Error() string {
	if e.Adapter == "" {
		return fmt.Sprintf("%v: %v", ErrResetFailed, e.Cause)
	}
	return fmt.Sprintf("%v (%s): %v", ErrResetFailed, e.Adapter, e.Cause)
}

func (e *ResetError) Unwrap() error { return e.Cause }

func (e *ResetError) Is(target error) bool { return target == ErrResetFailed }

// RetryBudgetError is the fatal result of a session whose failures
// outlasted the retry budget.
type RetryBudgetError struct {
	Retries int
	Cause   error
}

func (e *RetryBudgetError) Error() string {
	return fmt.Sprintf("%v after %d retries: %v", ErrRetryBudgetExceeded, e.Retries, e.Cause)
}

func (e *RetryBudgetError) Unwrap() error { return e.Cause }

func (e *RetryBudgetError) Is(target error) bool { return target == ErrRetryBudgetExceeded }
