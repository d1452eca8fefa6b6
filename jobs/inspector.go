package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/facturador/internal/invoice"
)

// ErrTaskNotFound reports that no archived or retrying task exists for an invoice.
var ErrTaskNotFound = errors.New("jobs: task not found")

// QueueInspector is the subset of asynq.Inspector used for queue operations.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
	Close() error
}

var _ QueueInspector = (*asynq.Inspector)(nil)

// QueueStats summarises the invoice queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
	Processed int    `json:"processedToday"`
	Failed    int    `json:"failedToday"`
}

// FailedTask describes a task that ran out of attempts or awaits a retry.
type FailedTask struct {
	TaskID       string    `json:"taskId"`
	InvoiceID    string    `json:"invoiceId,omitempty"`
	State        string    `json:"state"`
	Retried      int       `json:"retried"`
	MaxRetry     int       `json:"maxRetry"`
	LastError    string    `json:"lastError,omitempty"`
	LastFailedAt time.Time `json:"lastFailedAt,omitempty"`
}

// Requeue enqueues a fresh task for an invoice the queue has no record of.
type Requeue func(ctx context.Context, invoiceID string) error

const requeueTimeout = 10 * time.Second

// Inspector reads and manipulates the invoice queue.
type Inspector struct {
	inspector QueueInspector
	queue     string
	requeue   Requeue
}

// NewInspector wraps an asynq inspector for the invoice queue.
func NewInspector(inspector QueueInspector) *Inspector {
	return &Inspector{inspector: inspector, queue: QueueInvoices}
}

// NewRedisInspector connects an inspector to the given Redis options.
func NewRedisInspector(redisOpts asynq.RedisClientOpt) *Inspector {
	return NewInspector(asynq.NewInspector(redisOpts))
}

// WithRequeue sets the fallback RetryInvoice uses when no task exists.
func (i *Inspector) WithRequeue(fn Requeue) *Inspector {
	i.requeue = fn
	return i
}

// InvoiceLookup loads an invoice.
type InvoiceLookup interface {
	Get(ctx context.Context, id string) (invoice.Invoice, error)
}

// InvoiceEnqueuer enqueues the pipeline task.
type InvoiceEnqueuer interface {
	EnqueueInvoiceProcess(ctx context.Context, payload InvoiceProcessPayload) (bool, error)
}

// PendingRequeue enqueues a new task for an invoice that is still in
// flight, e.g. a draft whose first enqueue failed. Terminal and unknown
// invoices report ErrTaskNotFound.
func PendingRequeue(invoices InvoiceLookup, queue InvoiceEnqueuer) Requeue {
	return func(ctx context.Context, invoiceID string) error {
		inv, err := invoices.Get(ctx, invoiceID)
		if errors.Is(err, invoice.ErrNotFound) {
			return fmt.Errorf("%w: invoice %s", ErrTaskNotFound, invoiceID)
		}
		if err != nil {
			return fmt.Errorf("jobs: load invoice: %w", err)
		}
		if inv.Status.Terminal() {
			return fmt.Errorf("%w: invoice %s is %s", ErrTaskNotFound, invoiceID, inv.Status)
		}
		if _, err := queue.EnqueueInvoiceProcess(ctx, InvoiceProcessPayload{
			InvoiceID:   inv.ID,
			DealID:      inv.DealID,
			Environment: inv.Environment,
		}); err != nil {
			return fmt.Errorf("jobs: requeue invoice: %w", err)
		}
		return nil
	}
}

// Stats reports queue counters. A queue that has never seen a task reports zeros.
func (i *Inspector) Stats() (QueueStats, error) {
	stats := QueueStats{Queue: i.queue}
	info, err := i.inspector.GetQueueInfo(i.queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return stats, nil
	}
	if err != nil {
		return QueueStats{}, fmt.Errorf("jobs: queue info: %w", err)
	}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
		stats.Completed = info.Completed
		stats.Processed = info.Processed
		stats.Failed = info.Failed
	}
	return stats, nil
}

// Failed lists archived tasks followed by tasks waiting for a retry.
func (i *Inspector) Failed(size int) ([]FailedTask, error) {
	if size <= 0 {
		size = 20
	}
	archived, err := i.inspector.ListArchivedTasks(i.queue, asynq.PageSize(size), asynq.Page(1))
	if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, fmt.Errorf("jobs: list archived: %w", err)
	}
	retrying, err := i.inspector.ListRetryTasks(i.queue, asynq.PageSize(size), asynq.Page(1))
	if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, fmt.Errorf("jobs: list retry: %w", err)
	}
	out := make([]FailedTask, 0, len(archived)+len(retrying))
	for _, info := range append(archived, retrying...) {
		out = append(out, toFailedTask(info))
	}
	return out, nil
}

// RetryInvoice moves the archived or retrying task of an invoice back to
// pending. Without such a task it falls back to the requeue function, if set.
func (i *Inspector) RetryInvoice(invoiceID string) error {
	err := i.inspector.RunTask(i.queue, InvoiceTaskID(invoiceID))
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		if i.requeue != nil {
			ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
			defer cancel()
			return i.requeue(ctx, invoiceID)
		}
		return fmt.Errorf("%w: invoice %s", ErrTaskNotFound, invoiceID)
	case err != nil:
		return fmt.Errorf("jobs: run task: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (i *Inspector) Close() error {
	return i.inspector.Close()
}

func toFailedTask(info *asynq.TaskInfo) FailedTask {
	task := FailedTask{
		TaskID:       info.ID,
		State:        info.State.String(),
		Retried:      info.Retried,
		MaxRetry:     info.MaxRetry,
		LastError:    info.LastErr,
		LastFailedAt: info.LastFailedAt,
	}
	if payload, err := ParseInvoiceProcessPayload(info.Payload); err == nil {
		task.InvoiceID = payload.InvoiceID
	}
	return task
}
