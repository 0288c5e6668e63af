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

package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"billing/pkg/utils"

	"github.com/emicklei/go-restful/v3"
	"github.com/golang/glog"
)

type ErrorType = string

const (
	ErrorInternalServerError ErrorType = "internal_server_error"
	ErrorInvalidGrant        ErrorType = "invalid_grant"
	ErrorBadRequest          ErrorType = "bad_request"
	ErrorNotFound            ErrorType = "not_found"
	ErrorServiceUnavailable  ErrorType = "service_unavailable"
	ErrorUnknown             ErrorType = "unknown_error"
)

const (
	OK                  = 200
	InternalServerError = 500

	Success = "success"
)

func HandleInternalError(response *restful.Response, err error) {
	Handle(http.StatusInternalServerError, response, err)
}

func HandleUnauthorized(response *restful.Response, err error) {
	Handle(http.StatusUnauthorized, response, err)
}

func HandleBadRequest(response *restful.Response, err error) {
	Handle(http.StatusBadRequest, response, err)
}

func HandleNotFound(response *restful.Response, err error) {
	Handle(http.StatusNotFound, response, err)
}

// HandleServiceUnavailable reports a failing upstream status service
func HandleServiceUnavailable(response *restful.Response, err error) {
	Handle(http.StatusBadGateway, response, err)
}

func HandleError(response *restful.Response, err error) {
	glog.Info("err:", err.Error())

	var statusCode int
	var serviceErr restful.ServiceError
	if errors.As(err, &serviceErr) {
		statusCode = serviceErr.Code
	} else {
		statusCode = http.StatusBadRequest
	}
	Handle(statusCode, response, err)
}

func Handle(statusCode int, resp *restful.Response, err error) {
	_, fn, line, _ := runtime.Caller(2)
	glog.Errorf("%s:%d %v", fn, line, err)

	var t Error
	if errors.As(err, &t) {
		if t.Code == 0 {
			t.Code = statusCode
		}
		_ = resp.WriteHeaderAndEntity(statusCode, t)
		return
	}

	var errType ErrorType
	switch statusCode {
	case http.StatusBadRequest:
		errType = ErrorBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = ErrorInvalidGrant
	case http.StatusNotFound:
		errType = ErrorNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		errType = ErrorServiceUnavailable
	case http.StatusInternalServerError:
		errType = ErrorInternalServerError
	default:
		errType = ErrorUnknown
	}
	errDesc := err.Error()
	_ = resp.WriteHeaderAndEntity(statusCode, Error{
		Code:             statusCode,
		Msg:              errDesc,
		ErrorType:        errType,
		ErrorDescription: errDesc,
	})
}

type Error struct {
	Code             int    `json:"code"`
	Msg              string `json:"message"`
	ErrorType        string `json:"error_type,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (e Error) Error() string {
	return utils.PrettyJSON(e)
}

func NewError(t string, errs ...string) Error {
	var desc string
	if len(errs) > 0 {
		desc = errs[0]
	}
	return Error{ErrorType: t, ErrorDescription: desc}
}

func ErrorWithMessage(err error, message string) error {
	return fmt.Errorf("%v: %v", message, err.Error())
}
