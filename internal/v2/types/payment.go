package types

import (
	"math"
	"strings"
	"time"
)

const (
	DefaultPollIntervalMs   int64 = 5000
	DefaultTotalTimeoutMs   int64 = 300000
	DefaultRedirectSeconds        = 5
	DefaultRedirectPath           = "/invoices"

	// MaxPollingMs is the largest millisecond value a time.Duration can hold
	MaxPollingMs int64 = math.MaxInt64 / int64(time.Millisecond)
)

// StatusPayload is the raw answer of the payment status service.
// Only Status is mandatory; the rest is meaningful once the payment succeeded.
type StatusPayload struct {
	Status        string   `json:"status"`
	PaynowStatus  string   `json:"paynow_status,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	PaymentMethod string   `json:"payment_method,omitempty"`
	Reference     string   `json:"reference,omitempty"`
}

// Classification is the three-way verdict derived from a StatusPayload
type Classification string

const (
	ClassificationPending Classification = "pending"
	ClassificationSuccess Classification = "success"
	ClassificationFailure Classification = "failure"
)

// SessionState is the state of a payment polling session
type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionPolling   SessionState = "polling"
	SessionSucceeded SessionState = "succeeded"
	SessionFailed    SessionState = "failed"
	SessionTimedOut  SessionState = "timed_out"
	SessionCancelled SessionState = "cancelled"
)

// IsTerminal reports whether no further transition can leave the state
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionSucceeded, SessionFailed, SessionTimedOut, SessionCancelled:
		return true
	}
	return false
}

// PollingConfig controls poll cadence and the absolute deadline of a session.
// Zero values fall back to the defaults.
type PollingConfig struct {
	IntervalMs     int64 `json:"intervalMs" yaml:"intervalMs"`
	TotalTimeoutMs int64 `json:"totalTimeoutMs" yaml:"totalTimeoutMs"`
}

// WithDefaults fills zero fields with the default cadence and deadline
func (c PollingConfig) WithDefaults() PollingConfig {
	if c.IntervalMs == 0 {
		c.IntervalMs = DefaultPollIntervalMs
	}
	if c.TotalTimeoutMs == 0 {
		c.TotalTimeoutMs = DefaultTotalTimeoutMs
	}
	return c
}

func (c PollingConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c PollingConfig) TotalTimeout() time.Duration {
	return time.Duration(c.TotalTimeoutMs) * time.Millisecond
}

// SessionSnapshot is a point-in-time view of a polling session for display
type SessionSnapshot struct {
	PaymentID       string         `json:"paymentId"`
	State           SessionState   `json:"state"`
	RemainingMs     int64          `json:"remainingMs"`
	LastKnownStatus *StatusPayload `json:"lastKnownStatus,omitempty"`
	Classification  Classification `json:"classification,omitempty"`
	LastError       string         `json:"lastError,omitempty"`
	Attempts        int            `json:"attempts"`
	StartedAt       int64          `json:"startedAt"`
	Deadline        int64          `json:"deadline"`
}

// TrackingSnapshot describes the tracking attempt owned by one hosting view
type TrackingSnapshot struct {
	ViewID       string          `json:"viewId"`
	Account      string          `json:"account,omitempty"`
	Session      SessionSnapshot `json:"session"`
	RedirectIn   int             `json:"redirectIn,omitempty"`
	RedirectPath string          `json:"redirectPath,omitempty"`
	Redirecting  bool            `json:"redirecting"`
	Redirected   bool            `json:"redirected"`
	Returned     bool            `json:"returned"`
}

// PaymentStatusUpdate is pushed to the frontend whenever a tracking attempt changes
type PaymentStatusUpdate struct {
	User       string            `json:"user"`
	ViewID     string            `json:"view_id"`
	PaymentID  string            `json:"payment_id"`
	Timestamp  int64             `json:"timestamp"`
	NotifyType string            `json:"notify_type"`
	Status     *StatusPayload    `json:"status,omitempty"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

// NormalizeStatus lowercases a gateway status and folds separators to single spaces,
// so "Awaiting_Delivery" and "awaiting delivery" compare equal.
func NormalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
