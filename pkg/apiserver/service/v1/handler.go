// Copyright 2022 bytetrade
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package v1

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"billing/internal/constants"
	"billing/internal/models"
	"billing/internal/v2/history"
	"billing/internal/v2/paymentpoll"
	"billing/internal/v2/paystatus"
	"billing/internal/v2/tracker"
	"billing/pkg/api"

	"github.com/emicklei/go-restful/v3"
	"github.com/golang/glog"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

// OutcomeStore is the read side of the outcome history
type OutcomeStore interface {
	QueryRecords(condition *history.QueryCondition) ([]*history.HistoryRecord, error)
	GetRecordCount(condition *history.QueryCondition) (int64, error)
}

// Deps are the backends the billing API is served from. Outcomes and Checks are optional.
type Deps struct {
	Tracker  *tracker.Tracker
	Status   paystatus.Service
	Outcomes OutcomeStore
	Checks   map[string]func() error
}

type Handler struct {
	tracker  *tracker.Tracker
	status   paystatus.Service
	outcomes OutcomeStore
	checks   map[string]func() error
}

func newHandler(deps Deps) *Handler {
	return &Handler{
		tracker:  deps.Tracker,
		status:   deps.Status,
		outcomes: deps.Outcomes,
		checks:   deps.Checks,
	}
}

func getAccount(req *restful.Request) string {
	return req.Request.Header.Get(constants.BflUserKey)
}

// handleTrackingError maps domain errors to HTTP answers
func handleTrackingError(resp *restful.Response, err error) {
	switch {
	case errors.Is(err, paymentpoll.ErrInvalidArgument):
		api.HandleBadRequest(resp, err)
	case errors.Is(err, tracker.ErrViewNotFound), errors.Is(err, paystatus.ErrNotFound):
		api.HandleNotFound(resp, err)
	case errors.Is(err, paystatus.ErrServiceUnavailable):
		api.HandleServiceUnavailable(resp, err)
	default:
		api.HandleInternalError(resp, err)
	}
}

func (h *Handler) track(req *restful.Request, resp *restful.Response) {
	viewID := req.PathParameter(ParamView)
	account := getAccount(req)

	var body models.TrackPaymentReq
	if err := req.ReadEntity(&body); err != nil {
		api.HandleBadRequest(resp, fmt.Errorf("decode tracking request: %w", err))
		return
	}
	if err := body.Validate(); err != nil {
		api.HandleBadRequest(resp, err)
		return
	}

	snapshot, err := h.tracker.Track(account, viewID, body.PaymentID, body.PollingConfig())
	if err != nil {
		glog.Warningf("track payment %s in view %s for %s failed: %v", body.PaymentID, viewID, account, err)
		handleTrackingError(resp, err)
		return
	}

	resp.WriteEntity(models.NewResponse(api.OK, api.Success, snapshot))
}

func (h *Handler) snapshot(req *restful.Request, resp *restful.Response) {
	snapshot, err := h.tracker.Snapshot(req.PathParameter(ParamView))
	if err != nil {
		handleTrackingError(resp, err)
		return
	}

	resp.WriteEntity(models.NewResponse(api.OK, api.Success, snapshot))
}

func (h *Handler) release(req *restful.Request, resp *restful.Response) {
	snapshot, err := h.tracker.Release(req.PathParameter(ParamView))
	if err != nil {
		handleTrackingError(resp, err)
		return
	}

	resp.WriteEntity(models.NewResponse(api.OK, api.Success, snapshot))
}

func (h *Handler) returnToInvoices(req *restful.Request, resp *restful.Response) {
	snapshot, err := h.tracker.ReturnToInvoices(req.PathParameter(ParamView))
	if err != nil {
		handleTrackingError(resp, err)
		return
	}

	resp.WriteEntity(models.NewResponse(api.OK, api.Success, snapshot))
}

func (h *Handler) paymentStatus(req *restful.Request, resp *restful.Response) {
	paymentID := req.PathParameter(ParamPaymentID)

	payload, err := h.status.GetPaymentStatus(req.Request.Context(), paymentID)
	if err != nil {
		glog.Warningf("query status of payment %s failed: %v", paymentID, err)
		handleTrackingError(resp, err)
		return
	}

	resp.WriteEntity(models.NewResponse(api.OK, api.Success, models.PaymentStatus{
		PaymentID:      paymentID,
		Status:         *payload,
		Classification: paymentpoll.Classify(*payload),
	}))
}

func parsePage(req *restful.Request) (int, int) {
	page, err := strconv.Atoi(req.QueryParameter("page"))
	if err != nil || page < 1 {
		page = defaultPage
	}
	size, err := strconv.Atoi(req.QueryParameter("size"))
	if err != nil || size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func (h *Handler) listOutcomes(req *restful.Request, resp *restful.Response) {
	if h.outcomes == nil {
		api.Handle(http.StatusServiceUnavailable, resp, errors.New("outcome history is disabled"))
		return
	}

	account := getAccount(req)
	if account == "" {
		api.HandleUnauthorized(resp, fmt.Errorf("%s header not found", constants.BflUserKey))
		return
	}

	page, size := parsePage(req)
	condition := &history.QueryCondition{
		Type:      history.HistoryType(req.QueryParameter("type")),
		PaymentID: req.QueryParameter(ParamPaymentID),
		Account:   account,
		Limit:     size,
		Offset:    (page - 1) * size,
	}

	records, err := h.outcomes.QueryRecords(condition)
	if err != nil {
		api.HandleInternalError(resp, err)
		return
	}
	count, err := h.outcomes.GetRecordCount(condition)
	if err != nil {
		api.HandleInternalError(resp, err)
		return
	}

	resp.WriteEntity(models.NewResponse(api.OK, api.Success, models.NewListResultWithCount(records, count)))
}

func (h *Handler) healthz(req *restful.Request, resp *restful.Response) {
	status := models.HealthStatus{Status: "ok", Components: map[string]string{}}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](); err != nil {
			glog.Warningf("health check %s failed: %v", name, err)
			status.Status = "degraded"
			status.Components[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status.Components[name] = "ok"
	}

	resp.WriteHeaderAndEntity(code, status)
}
