// Package emission turns CRM deal triggers into DRAFT invoices and queues
// their processing.
package emission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facturador/internal/invoice"
	"github.com/odyssey-erp/facturador/internal/sri"
	"github.com/odyssey-erp/facturador/jobs"
)

// ErrDealBusy reports that another emission for the same deal is in flight.
var ErrDealBusy = errors.New("emission: deal is already being processed")

// Drafts creates DRAFT invoices.
type Drafts interface {
	CreateDraft(ctx context.Context, in invoice.DraftInput) (invoice.Invoice, error)
}

// Enqueuer schedules the pipeline for a DRAFT invoice.
type Enqueuer interface {
	EnqueueInvoiceProcess(ctx context.Context, payload jobs.InvoiceProcessPayload) (bool, error)
}

// Locker serialises emissions per deal.
type Locker interface {
	Acquire(ctx context.Context, dealID string) (release func(), err error)
}

// Request is the trigger input. Buyer and Items are optional.
type Request struct {
	DealID      string
	Environment sri.Environment
	Buyer       *invoice.Buyer
	Items       []invoice.ItemInput
}

// Response is returned to the caller as soon as the invoice is queued.
type Response struct {
	InvoiceID string         `json:"invoiceId"`
	Status    invoice.Status `json:"status"`
	Message   string         `json:"message"`
	Queued    bool           `json:"queued"`
}

// Config wires the service.
type Config struct {
	Drafts             Drafts
	Queue              Enqueuer
	Locker             Locker
	DefaultEnvironment sri.Environment
	Logger             *slog.Logger
}

// Service implements the emission trigger.
type Service struct {
	drafts     Drafts
	queue      Enqueuer
	locker     Locker
	defaultEnv sri.Environment
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs the trigger service. A nil Locker disables the
// per-deal guard.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	env := cfg.DefaultEnvironment
	if !env.Valid() {
		env = sri.EnvironmentTest
	}
	return &Service{
		drafts:     cfg.Drafts,
		queue:      cfg.Queue,
		locker:     cfg.Locker,
		defaultEnv: env,
		logger:     logger,
		now:        time.Now,
	}
}

// EmitInvoice creates the DRAFT invoice for a deal and enqueues its
// processing. It returns before any authority interaction.
func (s *Service) EmitInvoice(ctx context.Context, req Request) (Response, error) {
	dealID := strings.TrimSpace(req.DealID)
	if dealID == "" {
		return Response{}, fmt.Errorf("%w: deal id is required", invoice.ErrValidation)
	}
	env := req.Environment
	if env == "" {
		env = s.defaultEnv
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, dealID)
		if err != nil {
			return Response{}, err
		}
		defer release()
	}

	items := req.Items
	if len(items) == 0 {
		s.logger.Warn("deal without items, using fallback line", slog.String("deal_id", dealID))
		items = fallbackItems(dealID)
	}
	inv, err := s.drafts.CreateDraft(ctx, invoice.DraftInput{
		DealID:      dealID,
		Environment: env,
		Buyer:       req.Buyer,
		Items:       items,
	})
	if err != nil {
		return Response{}, err
	}
	queued, err := s.queue.EnqueueInvoiceProcess(ctx, jobs.InvoiceProcessPayload{
		InvoiceID:   inv.ID,
		DealID:      dealID,
		Environment: env,
		EnqueuedAt:  s.now().UTC(),
	})
	if err != nil {
		// the DRAFT stays; an operator can re-enqueue it
		s.logger.Error("enqueue invoice", slog.String("invoice_id", inv.ID), slog.Any("error", err))
		return Response{}, fmt.Errorf("enqueue invoice %s: %w", inv.ID, err)
	}
	s.logger.Info("invoice emission queued",
		slog.String("invoice_id", inv.ID),
		slog.String("deal_id", dealID),
		slog.String("environment", string(env)))
	return Response{
		InvoiceID: inv.ID,
		Status:    inv.Status,
		Message:   "invoice created",
		Queued:    queued,
	}, nil
}

// fallbackItems is the single service line used for a deal without items.
// A missing buyer becomes the final consumer in CreateDraft.
func fallbackItems(dealID string) []invoice.ItemInput {
	return []invoice.ItemInput{{
		Code:        "SRV001",
		Description: "Servicio Deal #" + dealID,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.NewFromInt(100),
	}}
}
