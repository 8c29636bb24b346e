// Package tasks runs ledger maintenance off the request path on asynq.
package tasks

import (
	"context"       // Context propagation
	"encoding/json" // JSON encoding/decoding
	"fmt"           // Error wrapping
	"time"          // Timestamps

	"mlm_ledger/internal/config"  // Configuration
	"mlm_ledger/internal/ledger"  // Ledger writer
	"mlm_ledger/internal/metrics" // Prometheus metrics

	"github.com/hibiken/asynq"   // Task queue
	"github.com/sirupsen/logrus" // Logging library
)

// Task types
const (
	TypeReconcile  = "ledger:reconcile"
	TypeDriftCheck = "ledger:drift_check"
)

// QueueLedger is the only queue the worker consumes
const QueueLedger = "ledger"

// ReconcilePayload identifies who asked for the rebuild
type ReconcilePayload struct {
	RequestedBy uint `json:"requested_by"`
}

// RedisOpt builds the asynq connection from the service config
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	}
}

// NewReconcileTask builds a reconcile task. Duplicates within a minute are dropped by asynq.
func NewReconcileTask(adminID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(ReconcilePayload{RequestedBy: adminID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconcile, payload,
		asynq.Queue(QueueLedger),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(time.Minute),
	), nil
}

// Handlers holds what the task handlers need
type Handlers struct {
	Writer *ledger.Writer
}

// HandleReconcile rewrites every drifted user's cached fields from the ledger
func (h *Handlers) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	fixed, err := h.Writer.Reconcile(ctx)
	if err != nil {
		return err
	}
	metrics.BalanceDrift.Set(0)
	logrus.WithFields(logrus.Fields{
		"requested_by": p.RequestedBy,
		"fixed":        fixed,
	}).Info("Ledger reconcile finished")
	return nil
}

// HandleDriftCheck only measures drift, for the periodic schedule
func (h *Handlers) HandleDriftCheck(ctx context.Context, _ *asynq.Task) error {
	drift, err := h.Writer.FindDrift(ctx)
	if err != nil {
		return err
	}
	metrics.BalanceDrift.Set(float64(len(drift)))
	for _, d := range drift {
		logrus.WithFields(logrus.Fields{
			"username":       d.Username,
			"cached_balance": d.Cached.Balance.StringFixed(2),
			"ledger_balance": d.Ledger.Balance.StringFixed(2),
		}).Warn("Cached balance drifted from ledger")
	}
	return nil
}

// NewMux routes task types to handlers
func NewMux(h *Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReconcile, h.HandleReconcile)
	mux.HandleFunc(TypeDriftCheck, h.HandleDriftCheck)
	return mux
}
