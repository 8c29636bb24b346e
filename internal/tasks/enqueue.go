package tasks

import (
	"context" // Context propagation

	"mlm_ledger/internal/ledger"  // Ledger writer
	"mlm_ledger/internal/metrics" // Prometheus metrics

	"github.com/hibiken/asynq"   // Task queue
	"github.com/sirupsen/logrus" // Logging library
)

// Enqueuer schedules a reconcile and returns a handle for the caller
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, adminID uint) (Ticket, error)
}

// Ticket reports where a reconcile went
type Ticket struct {
	TaskID string `json:"task_id,omitempty"`
	Queue  string `json:"queue,omitempty"`
	Inline bool   `json:"inline"`
	Fixed  int    `json:"fixed,omitempty"`
}

// QueueEnqueuer hands the work to the worker
type QueueEnqueuer struct {
	Client *asynq.Client
}

// EnqueueReconcile pushes a reconcile task
func (q *QueueEnqueuer) EnqueueReconcile(ctx context.Context, adminID uint) (Ticket, error) {
	task, err := NewReconcileTask(adminID)
	if err != nil {
		return Ticket{}, err
	}
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return Ticket{}, err
	}
	logrus.WithFields(logrus.Fields{"task_id": info.ID, "queue": info.Queue}).Info("Reconcile enqueued")
	return Ticket{TaskID: info.ID, Queue: info.Queue}, nil
}

// InlineEnqueuer reconciles in the calling goroutine, for deployments without a worker
type InlineEnqueuer struct {
	Writer *ledger.Writer
}

// EnqueueReconcile runs the reconcile immediately
func (i *InlineEnqueuer) EnqueueReconcile(ctx context.Context, adminID uint) (Ticket, error) {
	fixed, err := i.Writer.Reconcile(ctx)
	if err != nil {
		return Ticket{}, err
	}
	metrics.BalanceDrift.Set(0)
	logrus.WithFields(logrus.Fields{"requested_by": adminID, "fixed": fixed}).Info("Ledger reconcile finished inline")
	return Ticket{Inline: true, Fixed: fixed}, nil
}
