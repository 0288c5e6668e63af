package paystatus

import (
	"context"
	"fmt"

	"billing/internal/conf"
	"billing/internal/constants"
	"billing/internal/v2/types"
)

// Service is what the polling session and the API need from a status backend
type Service interface {
	GetPaymentStatus(ctx context.Context, paymentID string) (*types.StatusPayload, error)
}

// New builds the status backend selected by cfg.Backend. The returned close
// function releases backend connections and is never nil.
func New(cfg *conf.Config) (Service, func() error, error) {
	switch cfg.StatusService.Backend {
	case constants.StatusBackendHTTP, "":
		return NewClient(cfg.StatusService), func() error { return nil }, nil
	case constants.StatusBackendRedis:
		source, err := NewRedisSource(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return source, source.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown status backend %q", cfg.StatusService.Backend)
}
