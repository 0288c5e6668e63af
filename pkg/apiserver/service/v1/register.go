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
	"fmt"
	"net/http"

	"billing/internal/constants"
	"billing/internal/models"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
)

const (
	APIRootPath    = "/billing"
	Version        = "v1"
	ParamView      = "view"
	ParamPaymentID = "paymentId"
)

var (
	ModuleTags   = []string{"billing"}
	TrackingTags = []string{"payment-tracking"}
)

func newWebService() *restful.WebService {
	webservice := restful.WebService{}

	webservice.Path(fmt.Sprintf("%s/%s", APIRootPath, Version)).
		Produces(restful.MIME_JSON)

	return &webservice
}

func AddToContainer(c *restful.Container, deps Deps) error {
	if deps.Tracker == nil || deps.Status == nil {
		return fmt.Errorf("billing api needs a tracker and a status service")
	}

	ws := newWebService()
	handler := newHandler(deps)

	ws.Route(ws.POST("/views/{"+ParamView+"}/payment-tracking").
		To(handler.track).
		Doc("start tracking a payment in a view, replacing any tracking already running there").
		Metadata(restfulspec.KeyOpenAPITags, TrackingTags).
		Param(ws.PathParameter(ParamView, "the id of the hosting view")).
		Param(ws.HeaderParameter(constants.BflUserKey, "the account owning the view")).
		Reads(models.TrackPaymentReq{}).
		Returns(http.StatusOK, "success to start tracking", &models.TrackingResponse{}).
		Returns(http.StatusBadRequest, "invalid payment id or polling config", nil))

	ws.Route(ws.GET("/views/{"+ParamView+"}/payment-tracking").
		To(handler.snapshot).
		Doc("get the tracking state of a view").
		Metadata(restfulspec.KeyOpenAPITags, TrackingTags).
		Param(ws.PathParameter(ParamView, "the id of the hosting view")).
		Returns(http.StatusOK, "success to get the tracking state", &models.TrackingResponse{}).
		Returns(http.StatusNotFound, "no tracking in the view", nil))

	ws.Route(ws.DELETE("/views/{"+ParamView+"}/payment-tracking").
		To(handler.release).
		Doc("tear the view down, cancelling polling and any pending redirect").
		Metadata(restfulspec.KeyOpenAPITags, TrackingTags).
		Param(ws.PathParameter(ParamView, "the id of the hosting view")).
		Returns(http.StatusOK, "success to release the view", &models.TrackingResponse{}).
		Returns(http.StatusNotFound, "no tracking in the view", nil))

	ws.Route(ws.POST("/views/{"+ParamView+"}/payment-tracking/return").
		To(handler.returnToInvoices).
		Doc("return to the invoices page, cancelling polling and the automatic redirect").
		Metadata(restfulspec.KeyOpenAPITags, TrackingTags).
		Param(ws.PathParameter(ParamView, "the id of the hosting view")).
		Returns(http.StatusOK, "success to return to invoices", &models.TrackingResponse{}).
		Returns(http.StatusNotFound, "no tracking in the view", nil))

	ws.Route(ws.GET("/payments/{"+ParamPaymentID+"}/status").
		To(handler.paymentStatus).
		Doc("query the payment status service once and classify the answer").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Param(ws.PathParameter(ParamPaymentID, "the payment id")).
		Returns(http.StatusOK, "success to get the payment status", &models.PaymentStatusResponse{}).
		Returns(http.StatusNotFound, "unknown payment", nil).
		Returns(http.StatusBadGateway, "payment status service unavailable", nil))

	ws.Route(ws.GET("/outcomes").
		To(handler.listOutcomes).
		Doc("list recorded terminal payment outcomes of the account").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Param(ws.HeaderParameter(constants.BflUserKey, "the account")).
		Param(ws.QueryParameter(ParamPaymentID, "filter by payment id")).
		Param(ws.QueryParameter("type", "PAYMENT_SUCCEEDED, PAYMENT_FAILED or PAYMENT_TIMED_OUT")).
		Param(ws.QueryParameter("page", "page")).
		Param(ws.QueryParameter("size", "size")).
		Returns(http.StatusOK, "success to list outcomes", &models.OutcomeListResponse{}))

	ws.Route(ws.GET("/healthz").
		To(handler.healthz).
		Doc("health of the billing service and its backends").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Returns(http.StatusOK, "healthy", &models.HealthStatus{}).
		Returns(http.StatusServiceUnavailable, "a backend is unhealthy", &models.HealthStatus{}))

	c.Add(ws)
	return nil
}
