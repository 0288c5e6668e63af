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

package apiserver

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"billing/internal/constants"
	"billing/pkg/api"
	servicev1 "billing/pkg/apiserver/service/v1"
	"billing/pkg/utils"

	"github.com/emicklei/go-restful/v3"
	"github.com/golang/glog"
)

// maxPanicFrames bounds the stack logged for a recovered handler panic
const maxPanicFrames = 32

func logStackOnRecover(panicReason interface{}, w http.ResponseWriter) {
	pcs := make([]uintptr, maxPanicFrames)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	fmt.Fprintf(&b, "billing api recovered from panic: %v\n", panicReason)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "    %s\n        %s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	glog.Errorln(b.String())

	w.Header().Set(restful.HEADER_ContentType, restful.MIME_JSON)
	w.WriteHeader(http.StatusInternalServerError)
	err := api.NewError(api.ErrorInternalServerError, http.StatusText(http.StatusInternalServerError))
	err.Code = http.StatusInternalServerError
	_, _ = w.Write([]byte(err.Error()))
}

// billingContext names the account, view and payment a request concerns,
// leaving out whatever the route does not carry.
func billingContext(req *restful.Request) string {
	var fields []string
	if account := req.HeaderParameter(constants.BflUserKey); account != "" {
		fields = append(fields, "account="+account)
	}
	if view := req.PathParameter(servicev1.ParamView); view != "" {
		fields = append(fields, "view="+view)
	}
	if paymentID := req.PathParameter(servicev1.ParamPaymentID); paymentID != "" {
		fields = append(fields, "payment="+paymentID)
	}
	if len(fields) == 0 {
		return "-"
	}
	return strings.Join(fields, " ")
}

func logRequestAndResponse(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)

	// failed tracking and status calls are always logged
	logWithVerbose := glog.V(4)
	if resp.StatusCode() >= http.StatusBadRequest {
		logWithVerbose = glog.V(0)
	}

	logWithVerbose.Infof("%s [%s] \"%s %s\" %d %d %dms",
		utils.RemoteIp(req.Request),
		billingContext(req),
		req.Request.Method,
		req.Request.URL.Path,
		resp.StatusCode(),
		resp.ContentLength(),
		time.Since(start).Milliseconds(),
	)
}
