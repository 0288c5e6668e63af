package paystatus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"billing/internal/conf"
	"billing/internal/constants"
	"billing/internal/v2/types"

	"github.com/go-redis/redis/v8"
	"github.com/golang/glog"
)

// RedisSource reads payment statuses that the gateway webhook handler writes into Redis
// as hashes keyed by billing:payment:status:<id>.
type RedisSource struct {
	client *redis.Client
}

func NewRedisSource(cfg conf.RedisConfig) (*RedisSource, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	glog.Infof("Connected to Redis at %s", cfg.Addr())
	return &RedisSource{client: rdb}, nil
}

func statusKey(paymentID string) string {
	return fmt.Sprintf(constants.RedisPaymentStatusKeyTempl, paymentID)
}

func (r *RedisSource) GetPaymentStatus(ctx context.Context, paymentID string) (*types.StatusPayload, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: empty payment id", ErrNotFound)
	}

	fields, err := r.client.HGetAll(ctx, statusKey(paymentID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, paymentID)
	}
	return payloadFromHash(fields)
}

// Publish stores payload for paymentID; ttl of zero keeps it forever
func (r *RedisSource) Publish(ctx context.Context, paymentID string, payload types.StatusPayload, ttl time.Duration) error {
	key := statusKey(paymentID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, hashFromPayload(payload))
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (r *RedisSource) Delete(ctx context.Context, paymentID string) error {
	return r.client.Del(ctx, statusKey(paymentID)).Err()
}

func (r *RedisSource) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisSource) Close() error {
	return r.client.Close()
}

func hashFromPayload(payload types.StatusPayload) map[string]interface{} {
	fields := map[string]interface{}{"status": payload.Status}
	if payload.PaynowStatus != "" {
		fields["paynow_status"] = payload.PaynowStatus
	}
	if payload.Amount != nil {
		fields["amount"] = strconv.FormatFloat(*payload.Amount, 'f', -1, 64)
	}
	if payload.PaymentMethod != "" {
		fields["payment_method"] = payload.PaymentMethod
	}
	if payload.Reference != "" {
		fields["reference"] = payload.Reference
	}
	return fields
}

func payloadFromHash(fields map[string]string) (*types.StatusPayload, error) {
	payload := &types.StatusPayload{
		Status:        fields["status"],
		PaynowStatus:  fields["paynow_status"],
		PaymentMethod: fields["payment_method"],
		Reference:     fields["reference"],
	}
	if raw, ok := fields["amount"]; ok && raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid amount %q", ErrServiceUnavailable, raw)
		}
		payload.Amount = &amount
	}
	return payload, nil
}
