package paymentpoll

import (
	"errors"
	"fmt"

	"billing/internal/v2/types"
)

var (
	// ErrInvalidArgument is returned when a session or scheduler is started with bad input
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAlreadyStarted is returned by Scheduler.Start on a second call
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrSchedulerStopped is returned by Scheduler.Start after Stop
	ErrSchedulerStopped = errors.New("scheduler stopped")

	ErrTerminalFailureStatus = errors.New("payment reported a failure status")
	ErrDeadlineExceeded      = errors.New("payment status deadline exceeded")
	ErrCancelledByCaller     = errors.New("payment status tracking cancelled")
)

// TransientError wraps a failed status query. It never ends a session on its own.
type TransientError struct {
	PaymentID string
	Attempt   int
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("query status of payment %s (attempt %d): %v", e.PaymentID, e.Attempt, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Err maps a terminal outcome onto the error taxonomy; a success yields nil
func (o Outcome) Err() error {
	switch o.State {
	case types.SessionSucceeded:
		return nil
	case types.SessionFailed:
		if o.Payload != nil {
			return fmt.Errorf("%w: %s", ErrTerminalFailureStatus, o.Payload.Status)
		}
		return ErrTerminalFailureStatus
	case types.SessionTimedOut:
		return ErrDeadlineExceeded
	case types.SessionCancelled:
		return ErrCancelledByCaller
	}
	return fmt.Errorf("session not finished: %s", o.State)
}
