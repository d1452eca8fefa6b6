package invoice

import (
	"context"
	"encoding/json"
	"time"

	"github.com/odyssey-erp/facturador/internal/sri"
)

// Transition is a guarded status change. The store applies it only while the
// invoice is in one of From and records artifacts that are still unset.
type Transition struct {
	From []Status
	To   Status

	SignedXML             string
	ReceptionResponse     json.RawMessage
	AuthorizationResponse json.RawMessage
	AuthorizationNumber   string
	AuthorizedAt          *time.Time
	ErrorMessage          string
}

func (t Transition) allows(s Status) bool {
	for _, from := range t.From {
		if from == s {
			return true
		}
	}
	return false
}

// Store persists invoices, their items and audit trail. Every mutating call
// writes its audit entry in the same transaction.
type Store interface {
	Create(ctx context.Context, inv *Invoice, entry AuditEntry) error
	Get(ctx context.Context, id string) (Invoice, error)
	GetByAccessKey(ctx context.Context, accessKey string) (Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, error)
	NextSequential(ctx context.Context, env sri.Environment) (int64, error)
	AttachDocument(ctx context.Context, id string, doc Document, entry AuditEntry) error
	ApplyTransition(ctx context.Context, id string, t Transition, entry AuditEntry) error
	AttachReceipt(ctx context.Context, id, path string) error
	AuditTrail(ctx context.Context, id string) ([]AuditEntry, error)
}
