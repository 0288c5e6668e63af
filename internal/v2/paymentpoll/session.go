package paymentpoll

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"billing/internal/v2/types"

	"github.com/golang/glog"
	"k8s.io/utils/clock"
)

// StatusService is the payment status lookup a session polls.
// Every error it returns is treated as transient.
type StatusService interface {
	GetPaymentStatus(ctx context.Context, paymentID string) (*types.StatusPayload, error)
}

// Callbacks receive the terminal outcome of a session. At most one of them is
// invoked per session, never concurrently, and none after Cancel.
type Callbacks struct {
	OnSuccess func(payload types.StatusPayload)
	OnFailure func(payload types.StatusPayload)
	OnTimeout func()
}

// Outcome is the terminal result of a session
type Outcome struct {
	State   types.SessionState   `json:"state"`
	Payload *types.StatusPayload `json:"payload,omitempty"`
	At      time.Time            `json:"at"`
}

type Option func(*options)

type options struct {
	clock clock.WithTicker
}

// WithClock replaces the wall clock used for ticks and the deadline
func WithClock(clk clock.WithTicker) Option {
	return func(o *options) {
		if clk != nil {
			o.clock = clk
		}
	}
}

type tickResult struct {
	payload *types.StatusPayload
	err     error
}

// Session tracks one payment id until it succeeds, fails, times out or is cancelled.
type Session struct {
	paymentID string
	config    types.PollingConfig
	svc       StatusService
	callbacks Callbacks

	clock     clock.WithTicker
	token     *CancellationToken
	scheduler *Scheduler
	results   chan tickResult

	startedAt time.Time
	deadline  time.Time

	mu         sync.Mutex
	state      types.SessionState
	lastStatus *types.StatusPayload
	lastErr    error
	attempts   int
	outcome    *Outcome

	done     chan struct{}
	doneOnce sync.Once
}

// Start validates the request and begins polling paymentID. The deadline is fixed at
// start + cfg.TotalTimeout and never extended.
func Start(svc StatusService, paymentID string, cfg types.PollingConfig, cb Callbacks, opts ...Option) (*Session, error) {
	if svc == nil {
		return nil, invalidArgument("status service is nil")
	}
	if strings.TrimSpace(paymentID) == "" {
		return nil, invalidArgument("payment id is empty")
	}
	if cfg.IntervalMs < 0 || cfg.TotalTimeoutMs < 0 {
		return nil, invalidArgument("negative polling config %+v", cfg)
	}
	if cfg.IntervalMs > types.MaxPollingMs || cfg.TotalTimeoutMs > types.MaxPollingMs {
		return nil, invalidArgument("polling config %+v exceeds %dms", cfg, types.MaxPollingMs)
	}

	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := newSession(svc, paymentID, cfg.WithDefaults(), cb, o.clock)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = s.clock.Now()
	s.deadline = s.startedAt.Add(s.config.TotalTimeout())
	deadline := s.clock.NewTimer(s.config.TotalTimeout())
	if err := s.scheduler.Start(s.config.Interval(), s.tick); err != nil {
		deadline.Stop()
		return nil, err
	}
	s.state = types.SessionPolling

	glog.Infof("Start polling payment %s every %s, deadline %s", paymentID, s.config.Interval(), s.deadline.Format(time.RFC3339))
	go s.loop(deadline)
	return s, nil
}

func newSession(svc StatusService, paymentID string, cfg types.PollingConfig, cb Callbacks, clk clock.WithTicker) *Session {
	return &Session{
		paymentID: paymentID,
		config:    cfg,
		svc:       svc,
		callbacks: cb,
		clock:     clk,
		token:     NewCancellationToken(),
		scheduler: NewScheduler(clk),
		results:   make(chan tickResult, 1),
		state:     types.SessionIdle,
		done:      make(chan struct{}),
	}
}

// tick runs on the scheduler goroutine; the query is never aborted, only its result discarded
func (s *Session) tick(ctx context.Context) {
	if s.token.Cancelled() {
		return
	}

	payload, err := s.svc.GetPaymentStatus(ctx, s.paymentID)
	if err == nil && payload == nil {
		err = errors.New("empty status payload")
	}

	if s.token.Cancelled() {
		glog.V(4).Infof("discard status of payment %s, session already finished", s.paymentID)
		return
	}

	select {
	case s.results <- tickResult{payload: payload, err: err}:
	case <-s.token.Done():
	}
}

func (s *Session) loop(deadline clock.Timer) {
	defer deadline.Stop()

	for {
		select {
		case r := <-s.results:
			if s.apply(r) {
				return
			}
		case <-deadline.C():
			s.expire()
			return
		case <-s.token.Done():
			return
		}
	}
}

// expire handles the deadline. A result that already arrived is applied first:
// a received classification beats the timeout.
func (s *Session) expire() {
	select {
	case r := <-s.results:
		if s.apply(r) {
			return
		}
	default:
	}

	s.mu.Lock()
	fire := s.finishLocked(types.SessionTimedOut, nil)
	s.mu.Unlock()
	s.deliver(fire)
}

// apply consumes one query result and reports whether the session is finished
func (s *Session) apply(r tickResult) bool {
	s.mu.Lock()
	if s.state != types.SessionPolling {
		s.mu.Unlock()
		return true
	}

	s.attempts++
	var fire func()
	if r.err != nil {
		s.lastErr = &TransientError{PaymentID: s.paymentID, Attempt: s.attempts, Err: r.err}
		glog.Warningf("Poll payment %s attempt %d failed: %v", s.paymentID, s.attempts, r.err)
	} else {
		payload := *r.payload
		s.lastStatus = &payload
		switch Classify(payload) {
		case types.ClassificationSuccess:
			fire = s.finishLocked(types.SessionSucceeded, &payload)
		case types.ClassificationFailure:
			fire = s.finishLocked(types.SessionFailed, &payload)
		default:
			glog.V(4).Infof("Payment %s still pending, status %q paynow_status %q", s.paymentID, payload.Status, payload.PaynowStatus)
		}
	}

	if fire == nil && !s.clock.Now().Before(s.deadline) {
		fire = s.finishLocked(types.SessionTimedOut, nil)
	}
	finished := s.state.IsTerminal()
	s.mu.Unlock()

	s.deliver(fire)
	return finished
}

// finishLocked moves a polling session into a terminal state and returns the
// callback to run once the lock is released. Callers must hold s.mu.
func (s *Session) finishLocked(state types.SessionState, payload *types.StatusPayload) func() {
	if s.state != types.SessionPolling {
		return nil
	}
	s.state = state
	s.outcome = &Outcome{State: state, Payload: payload, At: s.clock.Now()}
	s.token.Cancel()
	s.scheduler.Stop()

	switch state {
	case types.SessionSucceeded:
		glog.Infof("Payment %s succeeded after %d attempts", s.paymentID, s.attempts)
		return func() {
			if s.callbacks.OnSuccess != nil {
				s.callbacks.OnSuccess(*payload)
			}
		}
	case types.SessionFailed:
		glog.Infof("Payment %s failed with status %q", s.paymentID, payload.Status)
		return func() {
			if s.callbacks.OnFailure != nil {
				s.callbacks.OnFailure(*payload)
			}
		}
	case types.SessionTimedOut:
		glog.Infof("Payment %s timed out after %d attempts", s.paymentID, s.attempts)
		return func() {
			if s.callbacks.OnTimeout != nil {
				s.callbacks.OnTimeout()
			}
		}
	}
	return nil
}

func (s *Session) deliver(fire func()) {
	if fire == nil {
		return
	}
	fire()
	s.doneOnce.Do(func() { close(s.done) })
}

// Cancel stops polling without invoking any callback. It is a no-op on a finished
// session and reports whether this call cancelled it.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	s.state = types.SessionCancelled
	s.outcome = &Outcome{State: types.SessionCancelled, At: s.clock.Now()}
	s.token.Cancel()
	s.scheduler.Stop()
	s.mu.Unlock()

	glog.Infof("Polling of payment %s cancelled", s.paymentID)
	s.doneOnce.Do(func() { close(s.done) })
	return true
}

// RemainingTime is max(0, deadline-now); it reaches zero exactly when a timeout may fire
func (s *Session) RemainingTime() time.Duration {
	remaining := s.deadline.Sub(s.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *Session) PaymentID() string {
	return s.paymentID
}

func (s *Session) Config() types.PollingConfig {
	return s.config
}

func (s *Session) Deadline() time.Time {
	return s.deadline
}

// LastKnownStatus returns a copy of the most recent payload, or nil before the first answer
func (s *Session) LastKnownStatus() *types.StatusPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastStatus == nil {
		return nil
	}
	payload := *s.lastStatus
	return &payload
}

// LastError returns the most recent transient error, if any
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the terminal outcome, or false while still polling
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// Done is closed after the terminal callback returned, or on Cancel
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Snapshot() types.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := types.SessionSnapshot{
		PaymentID:   s.paymentID,
		State:       s.state,
		RemainingMs: s.RemainingTime().Milliseconds(),
		Attempts:    s.attempts,
		StartedAt:   s.startedAt.UnixMilli(),
		Deadline:    s.deadline.UnixMilli(),
	}
	if s.lastStatus != nil {
		payload := *s.lastStatus
		snapshot.LastKnownStatus = &payload
		snapshot.Classification = Classify(payload)
	}
	if s.lastErr != nil {
		snapshot.LastError = s.lastErr.Error()
	}
	return snapshot
}
