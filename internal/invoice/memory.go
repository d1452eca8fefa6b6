package invoice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/facturador/internal/sri"
)

// MemoryStore is a process local Store used by tests and the mock stack.
type MemoryStore struct {
	mu        sync.Mutex
	invoices  map[string]Invoice
	audit     map[string][]AuditEntry
	sequences map[sri.Environment]int64
	nextAudit int64
	now       func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices:  map[string]Invoice{},
		audit:     map[string][]AuditEntry{},
		sequences: map[sri.Environment]int64{},
		now:       time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, inv *Invoice, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; ok {
		return ErrArtifactExists
	}
	now := m.now()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	m.invoices[inv.ID] = cloneInvoice(*inv)
	m.appendAudit(inv.ID, entry, now)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (m *MemoryStore) GetByAccessKey(_ context.Context, accessKey string) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.AccessKey == accessKey {
			return cloneInvoice(inv), nil
		}
	}
	return Invoice{}, ErrNotFound
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.Environment != "" && inv.Environment != filter.Environment {
			continue
		}
		if filter.DealID != "" && inv.DealID != filter.DealID {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []Invoice{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) NextSequential(_ context.Context, env sri.Environment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[env]++
	return m.sequences[env], nil
}

func (m *MemoryStore) AttachDocument(_ context.Context, id string, doc Document, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != StatusDraft {
		return &StateError{ID: id, Current: inv.Status, Allowed: []Status{StatusDraft}, Target: StatusDraft}
	}
	if inv.AccessKey != "" {
		return ErrArtifactExists
	}
	for _, other := range m.invoices {
		if other.AccessKey == doc.AccessKey {
			return ErrArtifactExists
		}
	}
	issued := doc.IssuedAt
	inv.AccessKey = doc.AccessKey
	inv.Sequential = doc.Sequential
	inv.IssuedAt = &issued
	inv.UnsignedXML = doc.XML
	inv.UpdatedAt = m.now()
	m.invoices[id] = inv
	m.appendAudit(id, entry, inv.UpdatedAt)
	return nil
}

func (m *MemoryStore) ApplyTransition(_ context.Context, id string, t Transition, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return ErrNotFound
	}
	if !t.allows(inv.Status) {
		return &StateError{ID: id, Current: inv.Status, Allowed: t.From, Target: t.To}
	}
	inv.Status = t.To
	if t.SignedXML != "" && inv.SignedXML == "" {
		inv.SignedXML = t.SignedXML
	}
	if len(t.ReceptionResponse) > 0 && len(inv.ReceptionResponse) == 0 {
		inv.ReceptionResponse = t.ReceptionResponse
	}
	if len(t.AuthorizationResponse) > 0 && len(inv.AuthorizationResponse) == 0 {
		inv.AuthorizationResponse = t.AuthorizationResponse
	}
	if t.AuthorizationNumber != "" && inv.AuthorizationNumber == "" {
		inv.AuthorizationNumber = t.AuthorizationNumber
	}
	if t.AuthorizedAt != nil && inv.AuthorizedAt == nil {
		ts := *t.AuthorizedAt
		inv.AuthorizedAt = &ts
	}
	if t.ErrorMessage != "" {
		inv.ErrorMessage = t.ErrorMessage
	}
	inv.UpdatedAt = m.now()
	m.invoices[id] = inv
	m.appendAudit(id, entry, inv.UpdatedAt)
	return nil
}

func (m *MemoryStore) AttachReceipt(_ context.Context, id, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != StatusAuthorized {
		return &StateError{ID: id, Current: inv.Status, Allowed: []Status{StatusAuthorized}, Target: StatusAuthorized}
	}
	if inv.ReceiptPath != "" {
		return ErrArtifactExists
	}
	inv.ReceiptPath = path
	inv.UpdatedAt = m.now()
	m.invoices[id] = inv
	return nil
}

func (m *MemoryStore) AuditTrail(_ context.Context, id string) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[id]; !ok {
		return nil, ErrNotFound
	}
	entries := m.audit[id]
	out := make([]AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *MemoryStore) appendAudit(id string, entry AuditEntry, at time.Time) {
	m.nextAudit++
	entry.ID = m.nextAudit
	entry.InvoiceID = id
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = at
	}
	m.audit[id] = append(m.audit[id], entry)
}

func cloneInvoice(inv Invoice) Invoice {
	out := inv
	out.Items = append([]Item(nil), inv.Items...)
	return out
}
