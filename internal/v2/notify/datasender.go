package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"billing/internal/conf"
	"billing/internal/v2/types"

	"github.com/golang/glog"
	"github.com/nats-io/nats.go"
)

// DataSender pushes payment status updates to the frontend over NATS
type DataSender struct {
	conn    *nats.Conn
	subject string
	enabled bool
}

// NewDataSender connects to NATS. A disabled config yields a sender that drops every update.
func NewDataSender(cfg conf.NATSConfig) (*DataSender, error) {
	if !cfg.Enabled {
		glog.Info("NATS data sender disabled, payment status updates will not be pushed")
		return &DataSender{subject: cfg.Subject, enabled: false}, nil
	}

	natsURL := fmt.Sprintf("nats://%s:%s", cfg.Host, cfg.Port)
	opts := []nats.Option{
		nats.Name("billing-payment-status"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			glog.Warningf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			glog.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	glog.Infof("Connected to NATS server at %s:%s, subject %s", cfg.Host, cfg.Port, cfg.Subject)
	return &DataSender{
		conn:    conn,
		subject: cfg.Subject,
		enabled: true,
	}, nil
}

// SendPaymentStatusUpdate publishes update on the configured subject
func (ds *DataSender) SendPaymentStatusUpdate(update types.PaymentStatusUpdate) error {
	if !ds.enabled {
		glog.V(4).Infof("NATS data sender is disabled, skip %s for payment %s", update.NotifyType, update.PaymentID)
		return nil
	}
	if ds.conn == nil {
		return fmt.Errorf("NATS connection is not initialized")
	}

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal payment status update: %w", err)
	}

	glog.V(2).Infof("Sending payment status update to NATS subject '%s': %s", ds.subject, string(data))
	if err := ds.conn.Publish(ds.subject, data); err != nil {
		return fmt.Errorf("failed to publish message to NATS: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the NATS connection
func (ds *DataSender) Close() {
	if ds.conn != nil && ds.enabled {
		if err := ds.conn.Drain(); err != nil {
			ds.conn.Close()
		}
		glog.Info("NATS connection closed")
	}
}

// IsConnected checks if NATS connection is active
func (ds *DataSender) IsConnected() bool {
	if !ds.enabled || ds.conn == nil {
		return false
	}
	return ds.conn.IsConnected()
}
