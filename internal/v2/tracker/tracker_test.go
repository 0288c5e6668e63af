package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"billing/internal/constants"
	"billing/internal/v2/history"
	"billing/internal/v2/paymentpoll"
	"billing/internal/v2/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var testEpoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

var fastPolling = types.PollingConfig{IntervalMs: 1000, TotalTimeoutMs: 10000}

// statusService answers every query with a fixed status
type statusService struct {
	mu     sync.Mutex
	status map[string]string
	calls  int
}

func newStatusService() *statusService {
	return &statusService{status: make(map[string]string)}
}

func (s *statusService) set(paymentID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[paymentID] = status
}

func (s *statusService) GetPaymentStatus(ctx context.Context, paymentID string) (*types.StatusPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	status, ok := s.status[paymentID]
	if !ok {
		return nil, errors.New("status service unavailable")
	}
	return &types.StatusPayload{Status: status, Reference: paymentID}, nil
}

type notifier struct {
	mu      sync.Mutex
	updates []types.PaymentStatusUpdate
}

func (n *notifier) SendPaymentStatusUpdate(update types.PaymentStatusUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, update)
	return nil
}

func (n *notifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []string
	for _, update := range n.updates {
		result = append(result, update.NotifyType)
	}
	return result
}

func (n *notifier) last() types.PaymentStatusUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.updates[len(n.updates)-1]
}

func (n *notifier) count(notifyType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, update := range n.updates {
		if update.NotifyType == notifyType {
			count++
		}
	}
	return count
}

type recorder struct {
	mu      sync.Mutex
	records []*history.HistoryRecord
}

func (r *recorder) StoreRecord(record *history.HistoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *recorder) all() []*history.HistoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*history.HistoryRecord(nil), r.records...)
}

type fixture struct {
	clock    *clocktesting.FakeClock
	svc      *statusService
	notifier *notifier
	recorder *recorder
	tracker  *Tracker
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		clock:    clocktesting.NewFakeClock(testEpoch),
		svc:      newStatusService(),
		notifier: &notifier{},
		recorder: &recorder{},
	}
	f.tracker = New(f.svc, Config{Polling: fastPolling},
		WithClock(f.clock), WithNotifier(f.notifier), WithRecorder(f.recorder))
	t.Cleanup(f.tracker.Close)
	return f
}

func (f *fixture) waitFor(t *testing.T, notifyType string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.notifier.count(notifyType) >= n
	}, 2*time.Second, time.Millisecond, "waiting for %d %s notifications, got %v", n, notifyType, f.notifier.types())
}

func (f *fixture) waitRedirecting(t *testing.T, viewID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		snapshot, err := f.tracker.Snapshot(viewID)
		return err == nil && snapshot.Redirecting
	}, 2*time.Second, time.Millisecond)
}

func TestTrackRejectsInvalidArguments(t *testing.T) {
	f := newFixture(t)

	_, err := f.tracker.Track("alice", "", "pay-1", fastPolling)
	assert.ErrorIs(t, err, paymentpoll.ErrInvalidArgument)

	_, err = f.tracker.Track("alice", "view-1", "", fastPolling)
	assert.ErrorIs(t, err, paymentpoll.ErrInvalidArgument)

	assert.Equal(t, 0, f.tracker.Len())
}

func TestTrackUsesTrackerDefaults(t *testing.T) {
	f := newFixture(t)
	f.svc.set("pay-1", "pending")

	snapshot, err := f.tracker.Track("alice", "view-1", "pay-1", types.PollingConfig{})
	require.NoError(t, err)

	assert.Equal(t, "view-1", snapshot.ViewID)
	assert.Equal(t, "alice", snapshot.Account)
	assert.Equal(t, "pay-1", snapshot.Session.PaymentID)
	assert.Equal(t, types.SessionPolling, snapshot.Session.State)
	assert.Equal(t, fastPolling.TotalTimeoutMs, snapshot.Session.RemainingMs)
	assert.False(t, snapshot.Redirecting)

	remaining, err := f.tracker.Remaining("view-1")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, remaining)
}

func TestSuccessCountsDownAndRedirects(t *testing.T) {
	f := newFixture(t)
	f.svc.set("pay-1", "paid")

	_, err := f.tracker.Track("alice", "view-1", "pay-1", fastPolling)
	require.NoError(t, err)

	f.clock.Step(time.Second)
	f.waitFor(t, constants.NotifyPaymentSucceeded, 1)
	f.waitRedirecting(t, "view-1")

	snapshot, err := f.tracker.Snapshot("view-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionSucceeded, snapshot.Session.State)
	assert.Equal(t, 5, snapshot.RedirectIn)
	assert.Equal(t, types.DefaultRedirectPath, snapshot.RedirectPath)

	for i := 1; i <= 5; i++ {
		f.clock.Step(time.Second)
		f.waitFor(t, constants.NotifyRedirectCountdown, i)
	}
	f.waitFor(t, constants.NotifyRedirect, 1)

	assert.Equal(t, []string{
		constants.NotifyPaymentSucceeded,
		constants.NotifyRedirectCountdown,
		constants.NotifyRedirectCountdown,
		constants.NotifyRedirectCountdown,
		constants.NotifyRedirectCountdown,
		constants.NotifyRedirectCountdown,
		constants.NotifyRedirect,
	}, f.notifier.types())
	redirect := f.notifier.last()
	assert.Equal(t, "/invoices", redirect.Extensions["path"])
	assert.Equal(t, "alice", redirect.User)
	assert.Equal(t, "view-1", redirect.ViewID)

	snapshot, err = f.tracker.Snapshot("view-1")
	require.NoError(t, err)
	assert.True(t, snapshot.Redirected)
	assert.False(t, snapshot.Redirecting)

	records := f.recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, history.TypePaymentSucceeded, records[0].Type)
	assert.Equal(t, "pay-1", records[0].PaymentID)
	assert.Equal(t, "alice", records[0].Account)

	var stored types.StatusPayload
	require.NoError(t, json.Unmarshal([]byte(records[0].Extended), &stored))
	assert.Equal(t, "paid", stored.Status)

	// a manual return after the automatic redirect navigates nothing
	_, err = f.tracker.ReturnToInvoices("view-1")
	require.NoError(t, err)
	assert.Equal(t, 0, f.notifier.count(constants.NotifyNavigate))
}

func TestReturnToInvoicesCancelsRedirect(t *testing.T) {
	f := newFixture(t)
	f.svc.set("pay-1", "completed")

	_, err := f.tracker.Track("alice", "view-1", "pay-1", fastPolling)
	require.NoError(t, err)

	f.clock.Step(time.Second)
	f.waitRedirecting(t, "view-1")
	f.clock.Step(time.Second)
	f.waitFor(t, constants.NotifyRedirectCountdown, 1)

	snapshot, err := f.tracker.ReturnToInvoices("view-1")
	require.NoError(t, err)
	assert.True(t, snapshot.Returned)
	assert.False(t, snapshot.Redirecting)
	assert.Equal(t, 1, f.notifier.count(constants.NotifyNavigate))

	for i := 0; i < 6; i++ {
		f.clock.Step(time.Second)
	}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, f.notifier.count(constants.NotifyRedirect))
	assert.Equal(t, 1, f.notifier.count(constants.NotifyRedirectCountdown))
	assert.Equal(t, 0, f.tracker.Len())

	_, err = f.tracker.Snapshot("view-1")
	assert.ErrorIs(t, err, ErrViewNotFound)
}

// A manual return racing the last countdown ticks navigates once, and no
// countdown update follows the navigation.
func TestReturnRacingRedirectNavigatesOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		f.svc.set("pay-1", "completed")

		_, err := f.tracker.Track("alice", "view-1", "pay-1", fastPolling)
		require.NoError(t, err)
		f.clock.Step(time.Second)
		f.waitRedirecting(t, "view-1")

		v, err := f.tracker.lookup("view-1")
		require.NoError(t, err)
		v.mu.Lock()
		countdown := v.countdown
		v.mu.Unlock()

		stepped := make(chan struct{})
		go func() {
			defer close(stepped)
			for j := 0; j < types.DefaultRedirectSeconds; j++ {
				f.clock.Step(time.Second)
			}
		}()
		time.Sleep(time.Duration(i%5) * 50 * time.Microsecond)
		_, err = f.tracker.ReturnToInvoices("view-1")
		require.NoError(t, err)

		<-stepped
		select {
		case <-countdown.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("countdown did not finish")
		}

		sent := f.notifier.types()
		navigations := f.notifier.count(constants.NotifyNavigate) + f.notifier.count(constants.NotifyRedirect)
		require.Equal(t, 1, navigations, "iteration %d: %v", i, sent)
		for j, notifyType := range sent {
			if notifyType == constants.NotifyNavigate || notifyType == constants.NotifyRedirect {
				assert.NotContains(t, sent[j+1:], constants.NotifyRedirectCountdown, "iteration %d", i)
			}
		}
	}
}

func TestReturnToInvoicesWhilePolling(t *testing.T) {
	f := newFixture(t)
	f.svc.set("pay-1", "pending")

	_, err := f.tracker.Track("alice", "view-1", "pay-1", fastPolling)
	require.NoError(t, err)

	snapshot, err := f.tracker.ReturnToInvoices("view-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionCancelled, snapshot.Session.State)
	assert.Equal(t, []string{constants.NotifyNavigate}, f.notifier.types())

	f.svc.set("pay-1", "paid")
	for i := 0; i < 12; i++ {
		f.clock.Step(time.Second)
	}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []string{constants.NotifyNavigate}, f.notifier.types())
	assert.Empty(t, f.recorder.all())
}

func TestFailureIsRecordedWithoutRedirect(t *testing.T) {
	f := newFixture(t)
	f.svc.set("pay-1", "declined")

	_, err := f.tracker.Track("bob", "view-2", "pay-1", fastPolling)
	require.NoError(t, err)

	f.clock.Step(time.Second)
	f.waitFor(t, constants.NotifyPaymentFailed, 1)

	snapshot, err := f.tracker.Snapshot("view-2")
	require.NoError(t, err)
	assert.Equal(t, types.SessionFailed, snapshot.Session.State)
	assert.Equal(t, types.ClassificationFailure, snapshot.Session.Classification)
	assert.False(t, snapshot.Redirecting)
	assert.Empty(t, snapshot.RedirectPath)

	update := f.notifier.last()
	require.NotNil(t, update.Status)
	assert.Equal(t, "declined", update.Status.Status)

	records := f.recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, history.TypePaymentFailed, records[0].Type)
	assert.Equal(t, "bob", records[0].Account)
}

func TestTimeoutIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.svc.set("pay-1", "pending")

	_, err := f.tracker.Track("alice", "view-1", "pay-1", types.PollingConfig{IntervalMs: 1000, TotalTimeoutMs: 2000})
	require.NoError(t, err)

	f.clock.Step(time.Second)
	require.Eventually(t, func() bool {
		snapshot, err := f.tracker.Snapshot("view-1")
		return err == nil && snapshot.Session.Attempts >= 1
	}, 2*time.Second, time.Millisecond)

	f.clock.Step(time.Second)
	f.waitFor(t, constants.NotifyPaymentTimeout, 1)

	snapshot, err := f.tracker.Snapshot("view-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionTimedOut, snapshot.Session.State)
	assert.Equal(t, int64(0), snapshot.Session.RemainingMs)

	records := f.recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, history.TypePaymentTimedOut, records[0].Type)
	assert.Contains(t, records[0].Extended, "pending")
}

func TestTrackReplacesPreviousSession(t *testing.T) {
	f := newFixture(t)
	f.svc.set("pay-1", "pending")
	f.svc.set("pay-2", "pending")

	_, err := f.tracker.Track("alice", "view-1", "pay-1", fastPolling)
	require.NoError(t, err)
	previous := f.tracker.views["view-1"].session

	snapshot, err := f.tracker.Track("alice", "view-1", "pay-2", fastPolling)
	require.NoError(t, err)
	assert.Equal(t, "pay-2", snapshot.Session.PaymentID)
	assert.Equal(t, types.SessionCancelled, previous.State())
	assert.Equal(t, 1, f.tracker.Len())

	// the replaced session stays silent when its payment resolves
	f.svc.set("pay-1", "paid")
	f.clock.Step(time.Second)
	require.Eventually(t, func() bool {
		snapshot, err := f.tracker.Snapshot("view-1")
		return err == nil && snapshot.Session.Attempts >= 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, f.notifier.count(constants.NotifyPaymentSucceeded))
}

func TestReleaseAndClose(t *testing.T) {
	f := newFixture(t)
	f.svc.set("pay-1", "pending")
	f.svc.set("pay-2", "pending")

	_, err := f.tracker.Track("alice", "view-1", "pay-1", fastPolling)
	require.NoError(t, err)
	_, err = f.tracker.Track("bob", "view-2", "pay-2", fastPolling)
	require.NoError(t, err)
	second := f.tracker.views["view-2"].session

	snapshot, err := f.tracker.Release("view-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionCancelled, snapshot.Session.State)
	assert.Equal(t, 1, f.tracker.Len())

	_, err = f.tracker.Release("view-1")
	assert.ErrorIs(t, err, ErrViewNotFound)
	_, err = f.tracker.ReturnToInvoices("view-1")
	assert.ErrorIs(t, err, ErrViewNotFound)
	_, err = f.tracker.Remaining("view-1")
	assert.ErrorIs(t, err, ErrViewNotFound)

	f.tracker.Close()
	assert.Equal(t, 0, f.tracker.Len())
	assert.Equal(t, types.SessionCancelled, second.State())
	assert.Empty(t, f.notifier.types())
}

func TestTrackerWithoutSinks(t *testing.T) {
	fc := clocktesting.NewFakeClock(testEpoch)
	svc := newStatusService()
	svc.set("pay-1", "paid")

	tr := New(svc, Config{Polling: fastPolling, RedirectSeconds: 1, RedirectPath: "/billing"}, WithClock(fc))
	defer tr.Close()

	_, err := tr.Track("", "view-1", "pay-1", types.PollingConfig{})
	require.NoError(t, err)

	fc.Step(time.Second)
	require.Eventually(t, func() bool {
		snapshot, err := tr.Snapshot("view-1")
		return err == nil && snapshot.Redirecting
	}, 2*time.Second, time.Millisecond)

	fc.Step(time.Second)
	require.Eventually(t, func() bool {
		snapshot, err := tr.Snapshot("view-1")
		return err == nil && snapshot.Redirected
	}, 2*time.Second, time.Millisecond)

	snapshot, err := tr.Snapshot("view-1")
	require.NoError(t, err)
	assert.Equal(t, "/billing", snapshot.RedirectPath)
}
