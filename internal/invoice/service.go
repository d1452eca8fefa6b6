package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facturador/internal/accesskey"
	"github.com/odyssey-erp/facturador/internal/sri"
)

const maxSequential = 999_999_999

// Config wires issuer data and defaults into the Service.
type Config struct {
	Issuer      Issuer
	DefaultRate decimal.Decimal
	// Location is the civil time zone of issue dates, UTC-5 by default.
	Location *time.Location
	Logger   *slog.Logger
}

// Service is the single authority over invoice status. It validates every
// transition and records an audit entry with each one.
type Service struct {
	store       Store
	issuer      Issuer
	defaultRate decimal.Decimal
	location    *time.Location
	logger      *slog.Logger
	now         func() time.Time
	numericCode func() string
	newID       func() string
}

// NewService constructs a Service instance.
func NewService(store Store, cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.FixedZone("ECT", -5*60*60)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		issuer:      cfg.Issuer,
		defaultRate: cfg.DefaultRate,
		location:    loc,
		logger:      logger,
		now:         time.Now,
		numericCode: accesskey.RandomNumericCode,
		newID:       func() string { return uuid.NewString() },
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithNumericCode overrides the access key numeric code source.
func (s *Service) WithNumericCode(fn func() string) {
	if fn != nil {
		s.numericCode = fn
	}
}

// CreateDraft validates the input, computes totals and persists a DRAFT
// invoice with its items and first audit entry.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (Invoice, error) {
	dealID := strings.TrimSpace(in.DealID)
	if dealID == "" {
		return Invoice{}, validationError("deal id is required")
	}
	if !in.Environment.Valid() {
		return Invoice{}, validationError("environment %q is not valid", in.Environment)
	}
	buyer := FinalConsumer()
	if in.Buyer != nil {
		buyer = *in.Buyer
		buyer.TaxID = strings.TrimSpace(buyer.TaxID)
		buyer.LegalName = strings.TrimSpace(buyer.LegalName)
		buyer.Email = strings.TrimSpace(buyer.Email)
		if !buyer.IDType.Valid() {
			return Invoice{}, validationError("buyer id type %q is not valid", buyer.IDType)
		}
		if buyer.TaxID == "" || buyer.LegalName == "" {
			return Invoice{}, validationError("buyer tax id and legal name are required")
		}
	}
	items, totals, err := CalculateTotals(in.Items, s.defaultRate)
	if err != nil {
		return Invoice{}, err
	}
	inv := Invoice{
		ID:          s.newID(),
		DealID:      dealID,
		Environment: in.Environment,
		Status:      StatusDraft,
		Buyer:       buyer,
		Items:       items,
		Totals:      totals,
	}
	entry := AuditEntry{
		Status:  StatusDraft,
		Message: fmt.Sprintf("invoice created for deal %s", dealID),
		Metadata: map[string]any{
			"dealId":     dealID,
			"grandTotal": totals.Grand.StringFixed(2),
		},
	}
	if err := s.store.Create(ctx, &inv, entry); err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	s.logger.Info("invoice draft created",
		slog.String("invoice_id", inv.ID),
		slog.String("deal_id", dealID),
		slog.String("environment", string(inv.Environment)),
		slog.String("grand_total", totals.Grand.StringFixed(2)))
	return inv, nil
}

// GenerateDocument allocates the sequential number and access key and builds
// the unsigned document. It runs once per invoice, only while DRAFT.
func (s *Service) GenerateDocument(ctx context.Context, id string) (Document, error) {
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if inv.Status != StatusDraft {
		return Document{}, &StateError{ID: id, Current: inv.Status, Allowed: []Status{StatusDraft}, Target: StatusDraft}
	}
	if inv.AccessKey != "" {
		return Document{}, fmt.Errorf("invoice %s: %w", id, ErrArtifactExists)
	}
	seq, err := s.store.NextSequential(ctx, inv.Environment)
	if err != nil {
		return Document{}, fmt.Errorf("allocate sequential: %w", err)
	}
	if seq <= 0 || seq > maxSequential {
		return Document{}, fmt.Errorf("%w: %d", ErrSequenceExhausted, seq)
	}
	sequential := fmt.Sprintf("%09d", seq)
	issuedAt := s.now().In(s.location)
	key, err := accesskey.Generate(accesskey.Params{
		IssueDate:     issuedAt,
		DocumentType:  sri.DocumentTypeInvoice,
		TaxpayerID:    s.issuer.RUC,
		Environment:   inv.Environment,
		Establishment: s.issuer.Establishment,
		EmissionPoint: s.issuer.EmissionPoint,
		Sequential:    sequential,
		NumericCode:   s.numericCode(),
	})
	if err != nil {
		return Document{}, err
	}
	xmlDoc, err := BuildDocument(DocumentData{
		Issuer:      s.issuer,
		Environment: inv.Environment,
		AccessKey:   key,
		Sequential:  sequential,
		IssuedAt:    issuedAt,
		Buyer:       inv.Buyer,
		Items:       inv.Items,
		Totals:      inv.Totals,
	})
	if err != nil {
		return Document{}, err
	}
	doc := Document{XML: xmlDoc, AccessKey: key, Sequential: sequential, IssuedAt: issuedAt}
	entry := AuditEntry{
		Status:   StatusDraft,
		Message:  fmt.Sprintf("document generated with access key %s", key),
		Metadata: map[string]any{"accessKey": key, "sequential": sequential},
	}
	if err := s.store.AttachDocument(ctx, id, doc, entry); err != nil {
		return Document{}, fmt.Errorf("attach document: %w", err)
	}
	s.logger.Info("invoice document generated",
		slog.String("invoice_id", id),
		slog.String("access_key", key),
		slog.String("sequential", sequential))
	return doc, nil
}

// RecordSigned moves DRAFT to SIGNED and stores the signed document.
func (s *Service) RecordSigned(ctx context.Context, id, signedXML string) error {
	if strings.TrimSpace(signedXML) == "" {
		return validationError("signed document is empty")
	}
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status == StatusDraft && !inv.HasDocument() {
		return fmt.Errorf("invoice %s: document not generated: %w", id, ErrInvalidState)
	}
	return s.transition(ctx, id, Transition{
		From:      []Status{StatusDraft},
		To:        StatusSigned,
		SignedXML: signedXML,
	}, "document signed", nil)
}

// RecordSent moves SIGNED to SENT and stores the reception answer.
func (s *Service) RecordSent(ctx context.Context, id string, reception sri.ReceptionResult) error {
	raw, err := responsePayload(reception.Raw, reception)
	if err != nil {
		return err
	}
	return s.transition(ctx, id, Transition{
		From:              []Status{StatusSigned},
		To:                StatusSent,
		ReceptionResponse: raw,
	}, "document received by authority", map[string]any{"state": reception.State})
}

// RecordAuthorized moves SENT to AUTHORIZED with the authorization number.
func (s *Service) RecordAuthorized(ctx context.Context, id string, auth sri.AuthorizationResult) error {
	raw, err := responsePayload(auth.Raw, auth)
	if err != nil {
		return err
	}
	authorizedAt := auth.AuthorizedAt
	if authorizedAt.IsZero() {
		authorizedAt = s.now()
	}
	number := auth.Number
	return s.transition(ctx, id, Transition{
		From:                  []Status{StatusSent},
		To:                    StatusAuthorized,
		AuthorizationResponse: raw,
		AuthorizationNumber:   number,
		AuthorizedAt:          &authorizedAt,
	}, "document authorized", map[string]any{"authorizationNumber": number, "authorizedAt": authorizedAt.Format(time.RFC3339)})
}

// RecordRejected moves SENT to REJECTED, keeping the authority messages.
func (s *Service) RecordRejected(ctx context.Context, id string, auth sri.AuthorizationResult) error {
	raw, err := responsePayload(auth.Raw, auth)
	if err != nil {
		return err
	}
	messages := make([]string, 0, len(auth.Messages))
	for _, m := range auth.Messages {
		messages = append(messages, m.String())
	}
	reason := "document not authorized"
	if len(messages) > 0 {
		reason = strings.Join(messages, "; ")
	}
	return s.transition(ctx, id, Transition{
		From:                  []Status{StatusSent},
		To:                    StatusRejected,
		AuthorizationResponse: raw,
		ErrorMessage:          reason,
	}, "document rejected by authority", map[string]any{"messages": messages})
}

// RecordError moves any non-terminal invoice to ERROR.
func (s *Service) RecordError(ctx context.Context, id, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	return s.transition(ctx, id, Transition{
		From:         []Status{StatusDraft, StatusSigned, StatusSent},
		To:           StatusError,
		ErrorMessage: reason,
	}, "processing failed", map[string]any{"error": reason})
}

// AttachReceipt stores the RIDE location of an AUTHORIZED invoice.
func (s *Service) AttachReceipt(ctx context.Context, id, path string) error {
	if strings.TrimSpace(path) == "" {
		return validationError("receipt path is empty")
	}
	return s.store.AttachReceipt(ctx, id, path)
}

// Get loads one invoice.
func (s *Service) Get(ctx context.Context, id string) (Invoice, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Invoice{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.store.Get(ctx, id)
}

// GetByAccessKey loads the invoice issued under accessKey.
func (s *Service) GetByAccessKey(ctx context.Context, key string) (Invoice, error) {
	if !accesskey.Validate(key) {
		return Invoice{}, validationError("access key %q is not valid", key)
	}
	return s.store.GetByAccessKey(ctx, key)
}

// List returns invoices newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = 50
	case filter.Limit > 200:
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.List(ctx, filter)
}

// Audit returns the history of an invoice in insertion order.
func (s *Service) Audit(ctx context.Context, id string) ([]AuditEntry, error) {
	return s.store.AuditTrail(ctx, id)
}

func (s *Service) transition(ctx context.Context, id string, t Transition, message string, meta map[string]any) error {
	entry := AuditEntry{Status: t.To, Message: message, Metadata: meta}
	if t.ErrorMessage != "" && t.To == StatusError {
		entry.Message = fmt.Sprintf("%s: %s", message, t.ErrorMessage)
	}
	if err := s.store.ApplyTransition(ctx, id, t, entry); err != nil {
		var stateErr *StateError
		if errors.As(err, &stateErr) {
			s.logger.Warn("invoice transition refused",
				slog.String("invoice_id", id),
				slog.String("current", string(stateErr.Current)),
				slog.String("target", string(t.To)))
		}
		return err
	}
	s.logger.Info("invoice transitioned", slog.String("invoice_id", id), slog.String("status", string(t.To)))
	return nil
}

func responsePayload(raw json.RawMessage, parsed any) (json.RawMessage, error) {
	if len(raw) > 0 {
		if json.Valid(raw) {
			return raw, nil
		}
		parsed = string(raw)
	}
	data, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("encode authority response: %w", err)
	}
	return data, nil
}
