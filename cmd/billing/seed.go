package main

import (
	"context"
	"fmt"
	"time"

	"billing/internal/v2/paymentpoll"
	"billing/internal/v2/paystatus"
	"billing/internal/v2/types"

	"github.com/spf13/cobra"
)

type seedOptions struct {
	paynowStatus  string
	amount        float64
	paymentMethod string
	reference     string
	ttl           time.Duration
}

func newSeedStatusCommand(root *rootOptions) *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed-status <paymentId> <status>",
		Short: "Write a payment status into the Redis status source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			source, err := paystatus.NewRedisSource(cfg.Redis)
			if err != nil {
				return err
			}
			defer source.Close()

			payload := opts.payload(args[1], cmd.Flags().Changed("amount"))
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := source.Publish(ctx, args[0], payload, opts.ttl); err != nil {
				return fmt.Errorf("seed status of payment %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "payment %s is now %q (%s)\n", args[0], payload.Status, paymentpoll.Classify(payload))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.paynowStatus, "paynow-status", "", "secondary gateway status")
	cmd.Flags().Float64Var(&opts.amount, "amount", 0, "paid amount")
	cmd.Flags().StringVar(&opts.paymentMethod, "payment-method", "", "payment method")
	cmd.Flags().StringVar(&opts.reference, "reference", "", "gateway reference")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "expiry of the status, 0 keeps it forever")
	return cmd
}

func (o *seedOptions) payload(status string, withAmount bool) types.StatusPayload {
	payload := types.StatusPayload{
		Status:        status,
		PaynowStatus:  o.paynowStatus,
		PaymentMethod: o.paymentMethod,
		Reference:     o.reference,
	}
	if withAmount {
		amount := o.amount
		payload.Amount = &amount
	}
	return payload
}
