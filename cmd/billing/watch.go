package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billing/internal/conf"
	"billing/internal/v2/paymentpoll"
	"billing/internal/v2/paystatus"
	"billing/internal/v2/types"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"
)

type watchOptions struct {
	interval time.Duration
	timeout  time.Duration
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <paymentId>",
		Short: "Track one payment in the terminal until it succeeds, fails or times out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if opts.interval > 0 {
				cfg.Polling.IntervalMs = opts.interval.Milliseconds()
			}
			if opts.timeout > 0 {
				cfg.Polling.TotalTimeoutMs = opts.timeout.Milliseconds()
			}

			svc, closeService, err := paystatus.New(cfg)
			if err != nil {
				return err
			}
			defer closeService()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			outcome, err := watchPayment(ctx, cmd.OutOrStdout(), svc, args[0], cfg.Polling, clock.RealClock{})
			if err != nil {
				return err
			}
			return outcome.Err()
		},
	}

	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "poll interval, overrides polling.intervalMs")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "total tracking time, overrides polling.totalTimeoutMs")
	return cmd
}

// reportingService prints every status answer while the session is polling
type reportingService struct {
	svc      paymentpoll.StatusService
	out      io.Writer
	attempts int
	session  func() *paymentpoll.Session
}

func (r *reportingService) GetPaymentStatus(ctx context.Context, paymentID string) (*types.StatusPayload, error) {
	r.attempts++
	payload, err := r.svc.GetPaymentStatus(ctx, paymentID)

	remaining := ""
	if s := r.session(); s != nil {
		remaining = fmt.Sprintf(", %s left", s.RemainingTime().Round(time.Second))
	}
	switch {
	case err != nil:
		fmt.Fprintf(r.out, "attempt %d: status service error: %v%s\n", r.attempts, err, remaining)
	case payload != nil && paymentpoll.Classify(*payload) == types.ClassificationPending:
		fmt.Fprintf(r.out, "attempt %d: payment is %q%s\n", r.attempts, payload.Status, remaining)
	}
	return payload, err
}

// watchPayment runs one tracking session in the terminal. After a success it counts
// down to the redirect; cancelling ctx stops polling or the countdown.
func watchPayment(ctx context.Context, out io.Writer, svc paymentpoll.StatusService, paymentID string, cfg conf.PollingConfig, clk clock.WithTicker) (paymentpoll.Outcome, error) {
	var session *paymentpoll.Session
	sessionReady := make(chan struct{})
	reporter := &reportingService{
		svc: svc,
		out: out,
		session: func() *paymentpoll.Session {
			select {
			case <-sessionReady:
				return session
			default:
				return nil
			}
		},
	}

	callbacks := paymentpoll.Callbacks{
		OnSuccess: func(payload types.StatusPayload) {
			fmt.Fprintf(out, "payment %s succeeded: %s\n", paymentID, describe(payload))
		},
		OnFailure: func(payload types.StatusPayload) {
			fmt.Fprintf(out, "payment %s failed: %s\n", paymentID, describe(payload))
		},
		OnTimeout: func() {
			fmt.Fprintf(out, "payment %s is still unconfirmed, stopped checking\n", paymentID)
		},
	}

	session, err := paymentpoll.Start(reporter, paymentID, cfg.Session(), callbacks, paymentpoll.WithClock(clk))
	if err != nil {
		return paymentpoll.Outcome{}, err
	}
	close(sessionReady)
	fmt.Fprintf(out, "checking payment %s every %s for up to %s\n", paymentID, session.Config().Interval(), session.Config().TotalTimeout())

	select {
	case <-session.Done():
	case <-ctx.Done():
		session.Cancel()
		fmt.Fprintln(out, "cancelled")
	}

	outcome, _ := session.Outcome()
	if outcome.State != types.SessionSucceeded {
		return outcome, nil
	}

	redirectPath := cfg.RedirectPath
	if redirectPath == "" {
		redirectPath = types.DefaultRedirectPath
	}
	countdown := paymentpoll.StartCountdown(clk, cfg.RedirectSeconds,
		func(remaining int) {
			if remaining > 0 {
				fmt.Fprintf(out, "redirecting to %s in %d...\n", redirectPath, remaining)
			}
		},
		func() {
			fmt.Fprintf(out, "redirected to %s\n", redirectPath)
		})
	fmt.Fprintf(out, "redirecting to %s in %d...\n", redirectPath, countdown.Remaining())

	select {
	case <-countdown.Done():
	case <-ctx.Done():
		if countdown.Stop() {
			fmt.Fprintf(out, "returned to %s\n", redirectPath)
		}
		<-countdown.Done()
	}
	return outcome, nil
}

func describe(payload types.StatusPayload) string {
	desc := fmt.Sprintf("status %q", payload.Status)
	if payload.PaynowStatus != "" {
		desc += fmt.Sprintf(", paynow status %q", payload.PaynowStatus)
	}
	if payload.Amount != nil {
		desc += fmt.Sprintf(", amount %.2f", *payload.Amount)
	}
	if payload.PaymentMethod != "" {
		desc += fmt.Sprintf(", via %s", payload.PaymentMethod)
	}
	if payload.Reference != "" {
		desc += fmt.Sprintf(", reference %s", payload.Reference)
	}
	return desc
}
