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
	"context"
	"errors"
	"net/http"

	"billing/internal/conf"
	"billing/internal/v2/history"
	"billing/internal/v2/notify"
	"billing/internal/v2/paystatus"
	"billing/internal/v2/tracker"
	servicev1 "billing/pkg/apiserver/service/v1"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/golang/glog"
)

type APIServer struct {
	Server *http.Server

	config *conf.Config

	// RESTful Server
	container *restful.Container

	tracker *tracker.Tracker
	closers []func() error
}

func New(cfg *conf.Config) (*APIServer, error) {
	if cfg == nil {
		return nil, errors.New("billing api server needs a config")
	}

	as := &APIServer{config: cfg}

	server := &http.Server{
		Addr: cfg.Server.ListenAddress,
	}

	as.Server = server
	return as, nil
}

// PrepareRun connects the backends and installs the routes
func (s *APIServer) PrepareRun() error {
	status, closeStatus, err := paystatus.New(s.config)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, closeStatus)

	checks := map[string]func() error{}
	if source, ok := status.(*paystatus.RedisSource); ok {
		checks["redis"] = source.HealthCheck
	}

	var trackerOpts []tracker.Option
	deps := servicev1.Deps{Checks: checks}

	if s.config.Postgres.Enabled {
		hm, err := history.NewHistoryModule(s.config.Postgres)
		if err != nil {
			s.close()
			return err
		}
		s.closers = append(s.closers, hm.Close)
		trackerOpts = append(trackerOpts, tracker.WithRecorder(hm))
		deps.Outcomes = hm
		checks["history"] = hm.HealthCheck
	} else {
		glog.Info("Outcome history disabled, terminal payment outcomes will not be recorded")
	}

	sender, err := notify.NewDataSender(s.config.NATS)
	if err != nil {
		glog.Warningf("Payment status updates will not be pushed: %v", err)
	} else {
		s.closers = append(s.closers, func() error {
			sender.Close()
			return nil
		})
		trackerOpts = append(trackerOpts, tracker.WithNotifier(sender))
		if s.config.NATS.Enabled {
			checks["nats"] = func() error {
				if !sender.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			}
		}
	}

	s.tracker = tracker.New(status, tracker.Config{
		Polling:         s.config.Polling.Session(),
		RedirectSeconds: s.config.Polling.RedirectSeconds,
		RedirectPath:    s.config.Polling.RedirectPath,
	}, trackerOpts...)
	deps.Tracker = s.tracker
	deps.Status = status

	s.container = restful.NewContainer()
	s.container.Filter(logRequestAndResponse)
	s.container.Router(restful.CurlyRouter{})
	s.container.DoNotRecover(false)
	s.container.RecoverHandler(func(panicReason interface{}, httpWriter http.ResponseWriter) {
		logStackOnRecover(panicReason, httpWriter)
	})

	if err := servicev1.AddToContainer(s.container, deps); err != nil {
		s.close()
		return err
	}
	s.installAPIDocs()

	for _, ws := range s.container.RegisteredWebServices() {
		glog.Infof("registered module: %s", ws.RootPath())
	}

	s.Server.Handler = s.container
	return nil
}

func (s *APIServer) Run() error {
	err := s.Server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, cancels every tracked payment and releases the backends
func (s *APIServer) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.close()
	return err
}

func (s *APIServer) close() {
	if s.tracker != nil {
		s.tracker.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			glog.Warningf("close backend: %v", err)
		}
	}
	s.closers = nil
}

func (s *APIServer) installAPIDocs() {
	config := restfulspec.Config{
		WebServices:                   s.container.RegisteredWebServices(), // you control what services are visible
		APIPath:                       "/billing/v1/apidocs.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject}
	s.container.Add(restfulspec.NewOpenAPIService(config))

	cors := restful.CrossOriginResourceSharing{
		AllowedHeaders: []string{"Content-Type", "Accept", "X-Bfl-User"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		CookiesAllowed: false,
		Container:      s.container}
	s.container.Filter(cors.Filter)
}

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "Billing",
			Description: "Payment status tracking for the billing views",
			Contact: &spec.ContactInfo{
				ContactInfoProps: spec.ContactInfoProps{
					Name:  "bytetrade",
					Email: "dev@bytetrade.io",
					URL:   "http://bytetrade.io",
				},
			},
			License: &spec.License{
				LicenseProps: spec.LicenseProps{
					Name: "Apache License 2.0",
					URL:  "http://www.apache.org/licenses/LICENSE-2.0",
				},
			},
			Version: "1.0.0",
		},
	}
	swo.Tags = []spec.Tag{
		{TagProps: spec.TagProps{Name: "billing", Description: "Payment status and outcomes"}},
		{TagProps: spec.TagProps{Name: "payment-tracking", Description: "Per-view payment tracking"}},
	}
	swo.Schemes = []string{"http", "https"}
}
