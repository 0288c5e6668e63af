package paystatus

import "errors"

var (
	// ErrServiceUnavailable covers transport failures, 5xx answers and undecodable bodies
	ErrServiceUnavailable = errors.New("payment status service unavailable")
	// ErrNotFound is returned when the service does not know the payment id
	ErrNotFound = errors.New("payment not found")
)
