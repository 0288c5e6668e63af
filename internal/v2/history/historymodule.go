package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"billing/internal/conf"

	"github.com/golang/glog"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// HistoryType represents the type of history record
type HistoryType string

const (
	TypePaymentSucceeded HistoryType = "PAYMENT_SUCCEEDED"
	TypePaymentFailed    HistoryType = "PAYMENT_FAILED"
	TypePaymentTimedOut  HistoryType = "PAYMENT_TIMED_OUT"
)

// HistoryRecord is one terminal payment outcome. Poll attempts are never stored.
type HistoryRecord struct {
	ID        int64       `json:"id" db:"id"`
	Type      HistoryType `json:"type" db:"type"`
	Message   string      `json:"message" db:"message"`
	Time      int64       `json:"time" db:"time"`
	PaymentID string      `json:"payment_id" db:"payment_id"`
	Account   string      `json:"account" db:"account"`
	Extended  string      `json:"extended" db:"extended"`
}

// QueryCondition represents conditions for querying history records
type QueryCondition struct {
	Type      HistoryType `json:"type,omitempty"`
	PaymentID string      `json:"payment_id,omitempty"`
	Account   string      `json:"account,omitempty"`
	StartTime int64       `json:"start_time,omitempty"`
	EndTime   int64       `json:"end_time,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	Offset    int         `json:"offset,omitempty"`
}

// HistoryModule keeps the audit trail of payment outcomes in PostgreSQL
type HistoryModule struct {
	db            *sqlx.DB
	cleanupTicker *time.Ticker
	cleanupEvery  time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewHistoryModule connects to PostgreSQL, prepares the schema and starts the cleanup routine
func NewHistoryModule(cfg conf.PostgresConfig) (*HistoryModule, error) {
	db, err := sqlx.Connect("postgres", cfg.ConnString())
	if err != nil {
		glog.Errorf("Failed to connect to PostgreSQL: %v", err)
		return nil, err
	}

	glog.Infof("Connected to PostgreSQL at %s:%s/%s", cfg.Host, cfg.Port, cfg.DB)

	ctx, cancel := context.WithCancel(context.Background())
	interval := cfg.CleanupIntervalHours
	if interval <= 0 {
		interval = 24
	}

	module := &HistoryModule{
		db:           db,
		cleanupEvery: time.Duration(interval) * time.Hour,
		ctx:          ctx,
		cancel:       cancel,
	}

	if err := module.initSchema(); err != nil {
		glog.Errorf("Failed to initialize database schema: %v", err)
		module.Close()
		return nil, err
	}

	module.startCleanupRoutine()
	return module, nil
}

func (hm *HistoryModule) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS payment_outcome_records (
		id BIGSERIAL PRIMARY KEY,
		type VARCHAR(100) NOT NULL,
		message TEXT NOT NULL,
		time BIGINT NOT NULL,
		payment_id VARCHAR(255) NOT NULL,
		account VARCHAR(255) NOT NULL DEFAULT '',
		extended TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_payment_outcome_type ON payment_outcome_records(type);
	CREATE INDEX IF NOT EXISTS idx_payment_outcome_payment ON payment_outcome_records(payment_id);
	CREATE INDEX IF NOT EXISTS idx_payment_outcome_account ON payment_outcome_records(account);
	CREATE INDEX IF NOT EXISTS idx_payment_outcome_time ON payment_outcome_records(time);
	`

	if _, err := hm.db.Exec(schema); err != nil {
		return fmt.Errorf("create payment_outcome_records: %w", err)
	}

	glog.Infof("Database schema initialized successfully")
	return nil
}

// StoreRecord stores a new outcome record
func (hm *HistoryModule) StoreRecord(record *HistoryRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.PaymentID == "" {
		return fmt.Errorf("payment_id field cannot be empty")
	}

	if record.Time == 0 {
		record.Time = time.Now().Unix()
	}

	if record.Extended != "" && !json.Valid([]byte(record.Extended)) {
		glog.Warningf("Invalid JSON in extended field of payment %s, storing as plain text", record.PaymentID)
	}

	query := `
		INSERT INTO payment_outcome_records (type, message, time, payment_id, account, extended)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := hm.db.QueryRowx(query, record.Type, record.Message, record.Time, record.PaymentID, record.Account, record.Extended).Scan(&record.ID)
	if err != nil {
		glog.Errorf("Failed to store outcome of payment %s: %v", record.PaymentID, err)
		return err
	}

	glog.Infof("Stored outcome record %d, type: %s, payment: %s, account: %s", record.ID, record.Type, record.PaymentID, record.Account)
	return nil
}

// where renders the filter part shared by QueryRecords and GetRecordCount
func (c *QueryCondition) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if c.Type != "" {
		add("type = $%d", c.Type)
	}
	if c.PaymentID != "" {
		add("payment_id = $%d", c.PaymentID)
	}
	if c.Account != "" {
		add("account = $%d", c.Account)
	}
	if c.StartTime > 0 {
		add("time >= $%d", c.StartTime)
	}
	if c.EndTime > 0 {
		add("time <= $%d", c.EndTime)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// QueryRecords returns outcome records matching condition, newest first
func (hm *HistoryModule) QueryRecords(condition *QueryCondition) ([]*HistoryRecord, error) {
	if condition == nil {
		condition = &QueryCondition{}
	}
	if condition.Limit <= 0 {
		condition.Limit = 100
	}

	where, args := condition.where()
	query := "SELECT id, type, message, time, payment_id, account, extended FROM payment_outcome_records" + where +
		" ORDER BY time DESC, id DESC"

	args = append(args, condition.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if condition.Offset > 0 {
		args = append(args, condition.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	glog.V(4).Infof("Executing query: %s with args: %v", query, args)

	records := []*HistoryRecord{}
	if err := hm.db.Select(&records, query, args...); err != nil {
		glog.Errorf("Failed to query outcome records: %v", err)
		return nil, err
	}
	return records, nil
}

// GetRecordCount returns the total count of records matching the condition
func (hm *HistoryModule) GetRecordCount(condition *QueryCondition) (int64, error) {
	if condition == nil {
		condition = &QueryCondition{}
	}

	where, args := condition.where()
	var count int64
	if err := hm.db.Get(&count, "SELECT COUNT(*) FROM payment_outcome_records"+where, args...); err != nil {
		glog.Errorf("Failed to get record count: %v", err)
		return 0, err
	}
	return count, nil
}

func (hm *HistoryModule) startCleanupRoutine() {
	hm.cleanupTicker = time.NewTicker(hm.cleanupEvery)

	go func() {
		glog.Infof("Starting outcome history cleanup routine with interval: %s", hm.cleanupEvery)
		hm.cleanupOldRecords()

		for {
			select {
			case <-hm.cleanupTicker.C:
				hm.cleanupOldRecords()
			case <-hm.ctx.Done():
				glog.Infof("Outcome history cleanup routine stopped")
				return
			}
		}
	}()
}

// cleanupOldRecords removes records older than 1 month
func (hm *HistoryModule) cleanupOldRecords() {
	oneMonthAgo := time.Now().AddDate(0, -1, 0).Unix()

	result, err := hm.db.Exec("DELETE FROM payment_outcome_records WHERE time < $1", oneMonthAgo)
	if err != nil {
		glog.Errorf("Failed to cleanup old outcome records: %v", err)
		return
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		glog.Infof("Cleaned up %d outcome records older than 1 month", rowsAffected)
	}
}

// Close stops the cleanup routine and closes the database connection
func (hm *HistoryModule) Close() error {
	glog.Infof("Closing history module")

	if hm.cleanupTicker != nil {
		hm.cleanupTicker.Stop()
	}
	if hm.cancel != nil {
		hm.cancel()
	}
	if hm.db != nil {
		return hm.db.Close()
	}
	return nil
}

// HealthCheck checks if the module is healthy
func (hm *HistoryModule) HealthCheck() error {
	if hm.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if err := hm.db.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %v", err)
	}
	return nil
}
