package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billing/internal/constants"
	"billing/internal/v2/history"
	"billing/internal/v2/paystatus"
	"billing/internal/v2/tracker"
	"billing/internal/v2/types"

	"github.com/emicklei/go-restful/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type statusService map[string]string

func (s statusService) GetPaymentStatus(ctx context.Context, paymentID string) (*types.StatusPayload, error) {
	status, ok := s[paymentID]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %s", paystatus.ErrNotFound, paymentID)
	case status == "down":
		return nil, fmt.Errorf("%w: connection refused", paystatus.ErrServiceUnavailable)
	}
	return &types.StatusPayload{Status: status, Reference: paymentID}, nil
}

type outcomeStore struct {
	records   []*history.HistoryRecord
	condition *history.QueryCondition
}

func (o *outcomeStore) QueryRecords(condition *history.QueryCondition) ([]*history.HistoryRecord, error) {
	o.condition = condition
	return o.records, nil
}

func (o *outcomeStore) GetRecordCount(condition *history.QueryCondition) (int64, error) {
	return int64(len(o.records)), nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"message"`
	Data json.RawMessage `json:"data"`
}

type server struct {
	container *restful.Container
	tracker   *tracker.Tracker
}

func newServer(t *testing.T, deps Deps) *server {
	t.Helper()
	if deps.Status == nil {
		deps.Status = statusService{"pay-1": "pending", "pay-2": "paid", "pay-3": "down"}
	}
	if deps.Tracker == nil {
		fc := clocktesting.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
		deps.Tracker = tracker.New(deps.Status, tracker.Config{}, tracker.WithClock(fc))
		t.Cleanup(deps.Tracker.Close)
	}

	c := restful.NewContainer()
	c.Router(restful.CurlyRouter{})
	require.NoError(t, AddToContainer(c, deps))
	return &server{container: c, tracker: deps.Tracker}
}

func (s *server) do(t *testing.T, method, path string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}

	req := httptest.NewRequest(method, "/billing/v1"+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", restful.MIME_JSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.container.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeSnapshot(t *testing.T, env envelope) types.TrackingSnapshot {
	t.Helper()
	var snapshot types.TrackingSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snapshot))
	return snapshot
}

var alice = map[string]string{constants.BflUserKey: "alice"}

func TestAddToContainerNeedsBackends(t *testing.T) {
	err := AddToContainer(restful.NewContainer(), Deps{})
	assert.Error(t, err)
}

func TestTrackingLifecycle(t *testing.T) {
	s := newServer(t, Deps{})

	code, env := s.do(t, http.MethodPost, "/views/checkout/payment-tracking",
		map[string]any{"paymentId": "pay-1", "intervalMs": 3000, "totalTimeoutMs": 60000}, alice)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 200, env.Code)
	snapshot := decodeSnapshot(t, env)
	assert.Equal(t, "checkout", snapshot.ViewID)
	assert.Equal(t, "alice", snapshot.Account)
	assert.Equal(t, "pay-1", snapshot.Session.PaymentID)
	assert.Equal(t, types.SessionPolling, snapshot.Session.State)
	assert.Equal(t, int64(60000), snapshot.Session.RemainingMs)

	code, env = s.do(t, http.MethodGet, "/views/checkout/payment-tracking", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, types.SessionPolling, decodeSnapshot(t, env).Session.State)

	code, env = s.do(t, http.MethodDelete, "/views/checkout/payment-tracking", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, types.SessionCancelled, decodeSnapshot(t, env).Session.State)

	code, env = s.do(t, http.MethodGet, "/views/checkout/payment-tracking", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, http.StatusNotFound, env.Code)
}

func TestTrackUsesServerDefaults(t *testing.T) {
	s := newServer(t, Deps{})

	code, env := s.do(t, http.MethodPost, "/views/checkout/payment-tracking", map[string]any{"paymentId": "pay-1"}, alice)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, types.DefaultTotalTimeoutMs, decodeSnapshot(t, env).Session.RemainingMs)
}

func TestTrackRejectsBadRequests(t *testing.T) {
	s := newServer(t, Deps{})

	code, env := s.do(t, http.MethodPost, "/views/checkout/payment-tracking", map[string]any{}, alice)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Msg, "paymentId")

	code, _ = s.do(t, http.MethodPost, "/views/checkout/payment-tracking", `{"paymentId":`, alice)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/views/checkout/payment-tracking",
		map[string]any{"paymentId": "pay-1", "intervalMs": -5}, alice)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Msg, "intervalMs")

	code, _ = s.do(t, http.MethodPost, "/views/checkout/payment-tracking", map[string]any{"paymentId": "   "}, alice)
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Equal(t, 0, s.tracker.Len())
}

func TestReturnToInvoices(t *testing.T) {
	s := newServer(t, Deps{})

	code, _ := s.do(t, http.MethodPost, "/views/checkout/payment-tracking", map[string]any{"paymentId": "pay-1"}, alice)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodPost, "/views/checkout/payment-tracking/return", nil, alice)
	require.Equal(t, http.StatusOK, code)
	snapshot := decodeSnapshot(t, env)
	assert.True(t, snapshot.Returned)
	assert.Equal(t, types.SessionCancelled, snapshot.Session.State)

	code, _ = s.do(t, http.MethodPost, "/views/checkout/payment-tracking/return", nil, alice)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPaymentStatus(t *testing.T) {
	s := newServer(t, Deps{})

	code, env := s.do(t, http.MethodGet, "/payments/pay-2/status", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var status struct {
		PaymentID      string               `json:"paymentId"`
		Status         types.StatusPayload  `json:"status"`
		Classification types.Classification `json:"classification"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "pay-2", status.PaymentID)
	assert.Equal(t, "paid", status.Status.Status)
	assert.Equal(t, types.ClassificationSuccess, status.Classification)

	code, _ = s.do(t, http.MethodGet, "/payments/pay-1/status", nil, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/payments/unknown/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, env.Msg, "payment not found")

	code, _ = s.do(t, http.MethodGet, "/payments/pay-3/status", nil, nil)
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestOutcomes(t *testing.T) {
	s := newServer(t, Deps{})
	code, _ := s.do(t, http.MethodGet, "/outcomes", nil, alice)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	store := &outcomeStore{records: []*history.HistoryRecord{
		{ID: 2, Type: history.TypePaymentFailed, PaymentID: "pay-9", Account: "alice"},
		{ID: 1, Type: history.TypePaymentSucceeded, PaymentID: "pay-8", Account: "alice"},
	}}
	s = newServer(t, Deps{Outcomes: store})

	code, _ = s.do(t, http.MethodGet, "/outcomes", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := s.do(t, http.MethodGet, "/outcomes?page=2&size=500&type=PAYMENT_FAILED", nil, alice)
	require.Equal(t, http.StatusOK, code)

	var list struct {
		Items      []*history.HistoryRecord `json:"items"`
		TotalItems int                      `json:"totalItems"`
		TotalCount int64                    `json:"totalCount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.TotalItems)
	assert.Equal(t, int64(2), list.TotalCount)
	assert.Equal(t, "pay-9", list.Items[0].PaymentID)

	require.NotNil(t, store.condition)
	assert.Equal(t, "alice", store.condition.Account)
	assert.Equal(t, history.TypePaymentFailed, store.condition.Type)
	assert.Equal(t, maxPageSize, store.condition.Limit)
	assert.Equal(t, maxPageSize, store.condition.Offset)
}

func TestHealthz(t *testing.T) {
	healthy := newServer(t, Deps{Checks: map[string]func() error{
		"history": func() error { return nil },
	}})

	req := httptest.NewRequest(http.MethodGet, "/billing/v1/healthz", nil)
	rec := httptest.NewRecorder()
	healthy.container.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","components":{"history":"ok"}}`, rec.Body.String())

	degraded := newServer(t, Deps{Checks: map[string]func() error{
		"history": func() error { return nil },
		"nats":    func() error { return errors.New("not connected") },
	}})

	rec = httptest.NewRecorder()
	degraded.container.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/billing/v1/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","components":{"history":"ok","nats":"not connected"}}`, rec.Body.String())
}
