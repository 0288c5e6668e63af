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

package models

import (
	"billing/internal/v2/history"
	"billing/internal/v2/types"

	vd "github.com/bytedance/go-tagexpr/v2/validator"
)

type ListResult struct {
	Items      any   `json:"items"`
	TotalItems int   `json:"totalItems"`
	TotalCount int64 `json:"totalCount,omitempty"`
}

func NewListResultWithCount[T any](items []T, count int64) *ListResult {
	return &ListResult{
		Items:      items,
		TotalItems: len(items),
		TotalCount: count,
	}
}

type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"message"`
	Data any    `json:"data,omitempty"`
}

func NewResponse(code int, msg string, data any) *Response {
	return &Response{
		Code: code,
		Msg:  msg,
		Data: data,
	}
}

type ResponseBase struct {
	Code int    `json:"code"`
	Msg  string `json:"message,omitempty"`
}

// TrackPaymentReq starts tracking a payment in a view. Zero durations use the server defaults.
type TrackPaymentReq struct {
	PaymentID      string `json:"paymentId" vd:"len($)>0 && len($)<=255; msg:'paymentId must be 1-255 characters'"`
	IntervalMs     int64  `json:"intervalMs,omitempty" vd:"$>=0 && $<=3600000; msg:'intervalMs must be between 0 and 3600000'"`
	TotalTimeoutMs int64  `json:"totalTimeoutMs,omitempty" vd:"$>=0 && $<=86400000; msg:'totalTimeoutMs must be between 0 and 86400000'"`
}

func (r *TrackPaymentReq) Validate() error {
	return vd.Validate(r)
}

func (r *TrackPaymentReq) PollingConfig() types.PollingConfig {
	return types.PollingConfig{IntervalMs: r.IntervalMs, TotalTimeoutMs: r.TotalTimeoutMs}
}

type TrackingResponse struct {
	ResponseBase
	Data types.TrackingSnapshot `json:"data"`
}

type PaymentStatus struct {
	PaymentID      string               `json:"paymentId"`
	Status         types.StatusPayload  `json:"status"`
	Classification types.Classification `json:"classification"`
}

type PaymentStatusResponse struct {
	ResponseBase
	Data PaymentStatus `json:"data"`
}

type OutcomeListResponse struct {
	ResponseBase
	Data struct {
		Items      []*history.HistoryRecord `json:"items"`
		TotalItems int                      `json:"totalItems"`
		TotalCount int64                    `json:"totalCount,omitempty"`
	} `json:"data"`
}

type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}
