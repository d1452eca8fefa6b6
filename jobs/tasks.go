package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/facturador/internal/sri"
)

const (
	// QueueInvoices is the queue holding invoice pipeline tasks.
	QueueInvoices = "invoices"
	// TaskInvoiceProcess drives one invoice from DRAFT to a terminal state.
	TaskInvoiceProcess = "invoice:process"

	DefaultAttempts    = 3
	DefaultBackoffBase = 5 * time.Second
	DefaultRetention   = 24 * time.Hour
	DefaultConcurrency = 3
)

// InvoiceProcessPayload is the task body of TaskInvoiceProcess.
type InvoiceProcessPayload struct {
	InvoiceID   string          `json:"invoiceId"`
	DealID      string          `json:"dealId"`
	Environment sri.Environment `json:"environment"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
}

// InvoiceTaskID is the queue-wide identity of the task for an invoice. At
// most one live task exists per ID.
func InvoiceTaskID(invoiceID string) string {
	return "invoice-" + invoiceID
}

// NewInvoiceProcessTask constructs an Asynq task.
func NewInvoiceProcessTask(payload InvoiceProcessPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.InvoiceID) == "" {
		return nil, fmt.Errorf("jobs: invoice id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceProcess, data), nil
}

// ParseInvoiceProcessPayload decodes and checks a task body.
func ParseInvoiceProcessPayload(data []byte) (InvoiceProcessPayload, error) {
	var payload InvoiceProcessPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return InvoiceProcessPayload{}, fmt.Errorf("jobs: decode invoice payload: %w", err)
	}
	if strings.TrimSpace(payload.InvoiceID) == "" {
		return InvoiceProcessPayload{}, fmt.Errorf("jobs: invoice payload without invoice id")
	}
	return payload, nil
}

// InvoiceProcessResult is written to the task result on completion.
type InvoiceProcessResult struct {
	InvoiceID           string    `json:"invoiceId"`
	Status              string    `json:"status"`
	AccessKey           string    `json:"accessKey,omitempty"`
	AuthorizationNumber string    `json:"authorizationNumber,omitempty"`
	ReceiptPath         string    `json:"receiptPath,omitempty"`
	Progress            int       `json:"progress"`
	ProcessedAt         time.Time `json:"processedAt"`
	DurationMs          int64     `json:"durationMs"`
}
