package paymentpoll

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"billing/internal/v2/types"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

var testEpoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newFakeClock() *clocktesting.FakeClock {
	return clocktesting.NewFakeClock(testEpoch)
}

type scriptedResult struct {
	status string
	err    error
}

func pending() scriptedResult { return scriptedResult{status: "pending"} }
func paid() scriptedResult { return scriptedResult{status: "paid"} }
func declined() scriptedResult { return scriptedResult{status: "declined"} }
func failing(err error) scriptedResult { return scriptedResult{err: err} }
func withStatus(s string) scriptedResult { return scriptedResult{status: s} }

// fakeStatusService replays a script of results; the last entry repeats forever
type fakeStatusService struct {
	mu     sync.Mutex
	script []scriptedResult
	calls  int

	// gate, when set, blocks every query until a value is received from it
	gate    chan struct{}
	entered chan struct{}
	delay   time.Duration

	inflight    int32
	maxInflight int32
}

func (f *fakeStatusService) GetPaymentStatus(ctx context.Context, paymentID string) (*types.StatusPayload, error) {
	current := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxInflight)
		if current <= seen || atomic.CompareAndSwapInt32(&f.maxInflight, seen, current) {
			break
		}
	}

	f.mu.Lock()
	idx := f.calls
	f.calls++
	var r scriptedResult
	if len(f.script) > 0 {
		if idx >= len(f.script) {
			idx = len(f.script) - 1
		}
		r = f.script[idx]
	}
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if r.err != nil {
		return nil, r.err
	}
	return &types.StatusPayload{Status: r.status, Reference: paymentID}, nil
}

func (f *fakeStatusService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder counts callback invocations
type recorder struct {
	mu        sync.Mutex
	successes []types.StatusPayload
	failures  []types.StatusPayload
	timeouts  int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSuccess: func(payload types.StatusPayload) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.successes = append(r.successes, payload)
		},
		OnFailure: func(payload types.StatusPayload) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failures = append(r.failures, payload)
		},
		OnTimeout: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.timeouts++
		},
	}
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes), len(r.failures), r.timeouts
}

func waitAttempts(t *testing.T, s *Session, n int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return s.Snapshot().Attempts >= n
	}, 2*time.Second, time.Millisecond, "waiting for attempt %d", n)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not finish, state %s", s.PaymentID(), s.State())
	}
}
