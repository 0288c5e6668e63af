package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billing/pkg/apiserver"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "REST API for the billing views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts)
		},
	}
}

func serve(opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	s, err := apiserver.New(cfg)
	if err != nil {
		return err
	}
	if err = s.PrepareRun(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("Start listening on %s", s.Server.Addr)
		errCh <- s.Run()
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case err = <-errCh:
		_ = s.Shutdown(context.Background())
		return err
	case sig := <-c:
		glog.Infof("Received %s, shutting down gracefully", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		glog.Errorf("Shutdown timeout (%v) exceeded: %v", shutdownTimeout, err)
		return err
	}
	glog.Info("All modules stopped")
	return nil
}
