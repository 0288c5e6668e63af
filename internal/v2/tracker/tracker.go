package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"billing/internal/constants"
	"billing/internal/v2/history"
	"billing/internal/v2/paymentpoll"
	"billing/internal/v2/types"

	"github.com/golang/glog"
	"k8s.io/utils/clock"
)

var ErrViewNotFound = errors.New("no payment tracking for view")

// Notifier pushes tracking updates to the frontend
type Notifier interface {
	SendPaymentStatusUpdate(update types.PaymentStatusUpdate) error
}

// OutcomeRecorder persists terminal outcomes
type OutcomeRecorder interface {
	StoreRecord(record *history.HistoryRecord) error
}

type Config struct {
	Polling         types.PollingConfig
	RedirectSeconds int
	RedirectPath    string
}

type Option func(*Tracker)

func WithNotifier(n Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

func WithRecorder(r OutcomeRecorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

func WithClock(clk clock.WithTicker) Option {
	return func(t *Tracker) { t.clock = clk }
}

// Tracker owns at most one tracking attempt per hosting view. Starting a new
// attempt in a view tears down the previous one.
type Tracker struct {
	svc      paymentpoll.StatusService
	notifier Notifier
	recorder OutcomeRecorder
	clock    clock.WithTicker
	config   Config

	mu    sync.Mutex
	views map[string]*viewTracking
}

func New(svc paymentpoll.StatusService, cfg Config, opts ...Option) *Tracker {
	if cfg.RedirectSeconds <= 0 {
		cfg.RedirectSeconds = types.DefaultRedirectSeconds
	}
	if cfg.RedirectPath == "" {
		cfg.RedirectPath = types.DefaultRedirectPath
	}

	t := &Tracker{
		svc:    svc,
		clock:  clock.RealClock{},
		config: cfg,
		views:  make(map[string]*viewTracking),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track starts polling paymentID on behalf of viewID. Zero fields of cfg fall back
// to the tracker defaults.
func (t *Tracker) Track(account, viewID, paymentID string, cfg types.PollingConfig) (*types.TrackingSnapshot, error) {
	if viewID == "" {
		return nil, fmt.Errorf("%w: view id is empty", paymentpoll.ErrInvalidArgument)
	}
	if cfg.IntervalMs == 0 {
		cfg.IntervalMs = t.config.Polling.IntervalMs
	}
	if cfg.TotalTimeoutMs == 0 {
		cfg.TotalTimeoutMs = t.config.Polling.TotalTimeoutMs
	}

	v := &viewTracking{
		tracker:   t,
		viewID:    viewID,
		account:   account,
		paymentID: paymentID,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	session, err := paymentpoll.Start(t.svc, paymentID, cfg, v.callbacks(), paymentpoll.WithClock(t.clock))
	if err != nil {
		return nil, err
	}

	if prev, ok := t.views[viewID]; ok {
		glog.Infof("View %s switches from payment %s to %s", viewID, prev.paymentID, paymentID)
		prev.release()
	}

	v.mu.Lock()
	v.session = session
	v.mu.Unlock()
	t.views[viewID] = v

	snapshot := v.snapshot()
	return &snapshot, nil
}

func (t *Tracker) lookup(viewID string) (*viewTracking, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.views[viewID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrViewNotFound, viewID)
	}
	return v, nil
}

func (t *Tracker) Snapshot(viewID string) (*types.TrackingSnapshot, error) {
	v, err := t.lookup(viewID)
	if err != nil {
		return nil, err
	}
	snapshot := v.snapshot()
	return &snapshot, nil
}

// Release tears the view down: polling is cancelled and a pending redirect stopped.
func (t *Tracker) Release(viewID string) (*types.TrackingSnapshot, error) {
	t.mu.Lock()
	v, ok := t.views[viewID]
	delete(t.views, viewID)
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrViewNotFound, viewID)
	}

	v.release()
	snapshot := v.snapshot()
	return &snapshot, nil
}

// ReturnToInvoices is the manual navigation away from the view. It cancels polling
// and any automatic redirect still counting down, so the user navigates exactly once.
func (t *Tracker) ReturnToInvoices(viewID string) (*types.TrackingSnapshot, error) {
	t.mu.Lock()
	v, ok := t.views[viewID]
	delete(t.views, viewID)
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrViewNotFound, viewID)
	}

	if v.returnToInvoices() {
		t.notify(v, constants.NotifyNavigate, nil, map[string]string{"path": t.config.RedirectPath})
	}
	snapshot := v.snapshot()
	return &snapshot, nil
}

// Close releases every view
func (t *Tracker) Close() {
	t.mu.Lock()
	views := t.views
	t.views = make(map[string]*viewTracking)
	t.mu.Unlock()

	for _, v := range views {
		v.release()
	}
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.views)
}

func (t *Tracker) notify(v *viewTracking, notifyType string, status *types.StatusPayload, extensions map[string]string) {
	if t.notifier == nil {
		return
	}
	update := types.PaymentStatusUpdate{
		User:       v.account,
		ViewID:     v.viewID,
		PaymentID:  v.paymentID,
		Timestamp:  t.clock.Now().Unix(),
		NotifyType: notifyType,
		Status:     status,
		Extensions: extensions,
	}
	if err := t.notifier.SendPaymentStatusUpdate(update); err != nil {
		glog.Warningf("Error sending %s notification for payment %s: %v", notifyType, v.paymentID, err)
	}
}

func (t *Tracker) record(v *viewTracking, historyType history.HistoryType, message string, status *types.StatusPayload) {
	if t.recorder == nil {
		return
	}

	extended := ""
	if status != nil {
		if data, err := json.Marshal(status); err == nil {
			extended = string(data)
		}
	}
	record := &history.HistoryRecord{
		Type:      historyType,
		Message:   message,
		Time:      t.clock.Now().Unix(),
		PaymentID: v.paymentID,
		Account:   v.account,
		Extended:  extended,
	}
	if err := t.recorder.StoreRecord(record); err != nil {
		glog.Errorf("Failed to record outcome of payment %s: %v", v.paymentID, err)
	}
}

func (t *Tracker) onSuccess(v *viewTracking, payload types.StatusPayload) {
	t.record(v, history.TypePaymentSucceeded, fmt.Sprintf("payment %s succeeded with status %s", v.paymentID, payload.Status), &payload)
	t.notify(v, constants.NotifyPaymentSucceeded, &payload, nil)

	// the session is finished before the redirect countdown exists
	seconds := t.config.RedirectSeconds
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released || v.returned {
		return
	}
	v.redirectIn = seconds
	v.countdown = paymentpoll.StartCountdown(t.clock, seconds,
		// both callbacks notify under v.mu so nothing is sent after a release or return
		func(remaining int) {
			v.mu.Lock()
			defer v.mu.Unlock()
			if v.released || v.returned {
				return
			}
			v.redirectIn = remaining
			t.notify(v, constants.NotifyRedirectCountdown, nil, map[string]string{"remaining": strconv.Itoa(remaining)})
		},
		func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if v.released || v.returned {
				return
			}
			v.redirected = true
			glog.Infof("View %s redirects to %s after payment %s", v.viewID, t.config.RedirectPath, v.paymentID)
			t.notify(v, constants.NotifyRedirect, nil, map[string]string{"path": t.config.RedirectPath})
		})
}

func (t *Tracker) onFailure(v *viewTracking, payload types.StatusPayload) {
	t.record(v, history.TypePaymentFailed, fmt.Sprintf("payment %s failed with status %s", v.paymentID, payload.Status), &payload)
	t.notify(v, constants.NotifyPaymentFailed, &payload, nil)
}

func (t *Tracker) onTimeout(v *viewTracking) {
	status := v.lastKnownStatus()
	t.record(v, history.TypePaymentTimedOut, fmt.Sprintf("payment %s still unconfirmed at the deadline", v.paymentID), status)
	t.notify(v, constants.NotifyPaymentTimeout, status, nil)
}

// viewTracking is the tracking attempt of one hosting view
type viewTracking struct {
	tracker   *Tracker
	viewID    string
	account   string
	paymentID string

	mu         sync.Mutex
	session    *paymentpoll.Session
	countdown  *paymentpoll.Countdown
	redirectIn int
	redirected bool
	returned   bool
	released   bool
}

func (v *viewTracking) callbacks() paymentpoll.Callbacks {
	return paymentpoll.Callbacks{
		OnSuccess: func(payload types.StatusPayload) { v.tracker.onSuccess(v, payload) },
		OnFailure: func(payload types.StatusPayload) { v.tracker.onFailure(v, payload) },
		OnTimeout: func() { v.tracker.onTimeout(v) },
	}
}

func (v *viewTracking) lastKnownStatus() *types.StatusPayload {
	v.mu.Lock()
	session := v.session
	v.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.LastKnownStatus()
}

func (v *viewTracking) stopLocked() {
	if v.session != nil {
		v.session.Cancel()
	}
	if v.countdown != nil {
		v.countdown.Stop()
	}
}

func (v *viewTracking) release() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.released = true
	v.stopLocked()
}

// returnToInvoices reports whether this call performed the navigation; an automatic
// redirect that already happened wins.
func (v *viewTracking) returnToInvoices() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()
	if v.redirected || v.returned {
		return false
	}
	v.returned = true
	return true
}

func (v *viewTracking) snapshot() types.TrackingSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snapshot := types.TrackingSnapshot{
		ViewID:     v.viewID,
		Account:    v.account,
		Redirected: v.redirected,
		Returned:   v.returned,
	}
	if v.session != nil {
		snapshot.Session = v.session.Snapshot()
	}
	if v.countdown != nil {
		snapshot.RedirectPath = v.tracker.config.RedirectPath
		snapshot.Redirecting = v.countdown.Active()
		if snapshot.Redirecting {
			snapshot.RedirectIn = v.redirectIn
		}
	}
	return snapshot
}

// Remaining reports the time left before viewID's session times out
func (t *Tracker) Remaining(viewID string) (time.Duration, error) {
	v, err := t.lookup(viewID)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session.RemainingTime(), nil
}
