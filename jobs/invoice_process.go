package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/facturador/internal/accesskey"
	"github.com/odyssey-erp/facturador/internal/invoice"
	jobmetrics "github.com/odyssey-erp/facturador/internal/jobs"
	"github.com/odyssey-erp/facturador/internal/signing"
	"github.com/odyssey-erp/facturador/internal/sri"
)

// Invoices is the slice of invoice.Service the pipeline drives.
type Invoices interface {
	Get(ctx context.Context, id string) (invoice.Invoice, error)
	GenerateDocument(ctx context.Context, id string) (invoice.Document, error)
	RecordSigned(ctx context.Context, id, signedXML string) error
	RecordSent(ctx context.Context, id string, reception sri.ReceptionResult) error
	RecordAuthorized(ctx context.Context, id string, auth sri.AuthorizationResult) error
	RecordRejected(ctx context.Context, id string, auth sri.AuthorizationResult) error
	RecordError(ctx context.Context, id, reason string) error
	AttachReceipt(ctx context.Context, id, path string) error
}

// AuthorityGateway submits documents and waits for a verdict.
type AuthorityGateway interface {
	Submit(ctx context.Context, signedXML string, env sri.Environment, accessKey string) (sri.ReceptionResult, error)
	AwaitAuthorization(ctx context.Context, accessKey string, env sri.Environment) (sri.AuthorizationResult, error)
}

// ReceiptRenderer produces the RIDE file.
type ReceiptRenderer interface {
	Render(ctx context.Context, inv invoice.Invoice) (string, error)
}

// ProgressFunc receives pipeline progress in percent.
type ProgressFunc func(percent int)

const (
	progressLoaded     = 10
	progressDocument   = 25
	progressSigned     = 45
	progressSent       = 60
	progressAuthorized = 85
	progressDone       = 100
)

const recordErrorTimeout = 5 * time.Second

// InvoiceProcessConfig wires dependencies required by the pipeline job.
type InvoiceProcessConfig struct {
	Invoices       Invoices
	Signer         signing.Signer
	Authority      AuthorityGateway
	Renderer       ReceiptRenderer
	SigningTimeout time.Duration
	Metrics        *jobmetrics.Metrics
	Logger         *slog.Logger
}

// InvoiceProcessJob runs the emission pipeline for one invoice. Every step
// checks the persisted status first, so a retried task resumes after the
// last completed step.
type InvoiceProcessJob struct {
	invoices       Invoices
	signer         signing.Signer
	authority      AuthorityGateway
	renderer       ReceiptRenderer
	signingTimeout time.Duration
	metrics        *jobmetrics.Metrics
	logger         *slog.Logger
	retryState     func(ctx context.Context) (retried, maxRetry int)
}

// NewInvoiceProcessJob constructs the job handler.
func NewInvoiceProcessJob(cfg InvoiceProcessConfig) *InvoiceProcessJob {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.SigningTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InvoiceProcessJob{
		invoices:       cfg.Invoices,
		signer:         cfg.Signer,
		authority:      cfg.Authority,
		renderer:       cfg.Renderer,
		signingTimeout: timeout,
		metrics:        cfg.Metrics,
		logger:         logger,
		retryState:     asynqRetryState,
	}
}

func asynqRetryState(ctx context.Context) (int, int) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried, maxRetry
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *InvoiceProcessJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.invoices == nil || j.signer == nil || j.authority == nil || task == nil {
		return fmt.Errorf("invoice job not configured: %w", asynq.SkipRetry)
	}
	started := time.Now()
	payload, err := ParseInvoiceProcessPayload(task.Payload())
	if err != nil {
		j.logger.Error("invoice job payload rejected", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	logger := j.logger.With(slog.String("invoice_id", payload.InvoiceID), slog.String("deal_id", payload.DealID))
	tracker := j.metrics.Track(TaskInvoiceProcess)

	result, err := j.Process(ctx, payload, func(p int) {
		logger.Debug("invoice job progress", slog.Int("progress", p))
	})
	if err != nil {
		return tracker.End(j.fail(ctx, logger, payload, err))
	}
	if result.Status != "" {
		j.metrics.ObserveOutcome(result.Status, string(payload.Environment))
	}
	result.ProcessedAt = time.Now().UTC()
	result.DurationMs = time.Since(started).Milliseconds()
	if writer := task.ResultWriter(); writer != nil {
		if data, mErr := json.Marshal(result); mErr == nil {
			if _, wErr := writer.Write(data); wErr != nil {
				logger.Warn("write task result", slog.Any("error", wErr))
			}
		}
	}
	logger.Info("invoice job finished", slog.String("status", result.Status))
	return tracker.End(nil)
}

// fail decides between retry and abort and, when no attempt is left,
// records the failure on the invoice. An interrupted attempt never counts
// against the invoice: asynq re-queues it on shutdown.
func (j *InvoiceProcessJob) fail(ctx context.Context, logger *slog.Logger, payload InvoiceProcessPayload, err error) error {
	switch {
	case errors.Is(err, sri.ErrAuthorizationRejected):
		// already REJECTED by Process
		j.metrics.ObserveOutcome(string(invoice.StatusRejected), string(payload.Environment))
		logger.Warn("invoice rejected by authority", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case errors.Is(err, invoice.ErrNotFound), errors.Is(err, invoice.ErrInvalidState), errors.Is(err, invoice.ErrArtifactExists):
		logger.Warn("invoice job aborted", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case errors.Is(err, accesskey.ErrMalformedBase), errors.Is(err, invoice.ErrValidation), errors.Is(err, invoice.ErrSequenceExhausted):
		logger.Error("invoice job hit a non-retryable error", slog.Any("error", err))
		j.recordError(ctx, logger, payload, err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if ctx.Err() != nil {
		logger.Warn("invoice job interrupted, state kept for the next run", slog.Any("error", err))
		return err
	}
	retried, maxRetry := j.retryState(ctx)
	if retried >= maxRetry {
		logger.Error("invoice job exhausted its attempts",
			slog.Int("attempt", retried+1),
			slog.Any("error", err))
		j.recordError(ctx, logger, payload, err)
		return err
	}
	logger.Warn("invoice job attempt failed, will retry",
		slog.Int("attempt", retried+1),
		slog.Int("max_attempts", maxRetry+1),
		slog.Any("error", err))
	return err
}

func (j *InvoiceProcessJob) recordError(ctx context.Context, logger *slog.Logger, payload InvoiceProcessPayload, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordErrorTimeout)
	defer cancel()
	if err := j.invoices.RecordError(ctx, payload.InvoiceID, cause.Error()); err != nil {
		logger.Warn("record invoice error", slog.Any("error", err))
		return
	}
	j.metrics.ObserveOutcome(string(invoice.StatusError), string(payload.Environment))
}

// Process runs the remaining pipeline steps for the invoice.
func (j *InvoiceProcessJob) Process(ctx context.Context, payload InvoiceProcessPayload, progress ProgressFunc) (InvoiceProcessResult, error) {
	if progress == nil {
		progress = func(int) {}
	}
	id := payload.InvoiceID
	inv, err := j.invoices.Get(ctx, id)
	if err != nil {
		return InvoiceProcessResult{}, err
	}
	result := InvoiceProcessResult{InvoiceID: id}
	if inv.Status == invoice.StatusRejected || inv.Status == invoice.StatusError {
		result.Status = string(inv.Status)
		result.Progress = progressDone
		j.logger.Info("invoice already terminal", slog.String("invoice_id", id), slog.String("status", string(inv.Status)))
		return result, nil
	}
	progress(progressLoaded)

	if inv.Status == invoice.StatusDraft && !inv.HasDocument() {
		doc, err := j.invoices.GenerateDocument(ctx, id)
		if err != nil {
			return result, fmt.Errorf("generate document: %w", err)
		}
		inv.AccessKey = doc.AccessKey
		inv.Sequential = doc.Sequential
		inv.UnsignedXML = doc.XML
	}
	progress(progressDocument)

	if inv.Status == invoice.StatusDraft {
		signCtx, cancel := context.WithTimeout(ctx, j.signingTimeout)
		signed, err := j.signer.Sign(signCtx, inv.UnsignedXML)
		cancel()
		if err != nil {
			return result, fmt.Errorf("sign document: %w", err)
		}
		if err := j.invoices.RecordSigned(ctx, id, signed); err != nil {
			return result, err
		}
		inv.SignedXML = signed
		inv.Status = invoice.StatusSigned
	}
	progress(progressSigned)

	if inv.Status == invoice.StatusSigned {
		reception, err := j.authority.Submit(ctx, inv.SignedXML, inv.Environment, inv.AccessKey)
		if err != nil {
			return result, fmt.Errorf("submit document: %w", err)
		}
		if err := j.invoices.RecordSent(ctx, id, reception); err != nil {
			return result, err
		}
		inv.Status = invoice.StatusSent
	}
	progress(progressSent)

	if inv.Status == invoice.StatusSent {
		auth, err := j.authority.AwaitAuthorization(ctx, inv.AccessKey, inv.Environment)
		if errors.Is(err, sri.ErrAuthorizationRejected) {
			if recErr := j.invoices.RecordRejected(ctx, id, auth); recErr != nil {
				return result, recErr
			}
			return result, err
		}
		if err != nil {
			return result, fmt.Errorf("await authorization: %w", err)
		}
		if err := j.invoices.RecordAuthorized(ctx, id, auth); err != nil {
			return result, err
		}
	}
	progress(progressAuthorized)

	inv, err = j.invoices.Get(ctx, id)
	if err != nil {
		return result, err
	}
	if inv.Status != invoice.StatusAuthorized {
		return result, fmt.Errorf("invoice %s ended in %s: %w", id, inv.Status, invoice.ErrInvalidState)
	}
	if inv.ReceiptPath == "" && j.renderer != nil {
		j.renderReceipt(ctx, &inv)
	}
	progress(progressDone)

	result.Status = string(inv.Status)
	result.AccessKey = inv.AccessKey
	result.AuthorizationNumber = inv.AuthorizationNumber
	result.ReceiptPath = inv.ReceiptPath
	result.Progress = progressDone
	return result, nil
}

// renderReceipt never fails the pipeline: the invoice is already authorized.
func (j *InvoiceProcessJob) renderReceipt(ctx context.Context, inv *invoice.Invoice) {
	path, err := j.renderer.Render(ctx, *inv)
	if err != nil {
		j.logger.Warn("ride render failed", slog.String("invoice_id", inv.ID), slog.Any("error", err))
		return
	}
	if err := j.invoices.AttachReceipt(ctx, inv.ID, path); err != nil {
		j.logger.Warn("ride attach failed", slog.String("invoice_id", inv.ID), slog.Any("error", err))
		return
	}
	inv.ReceiptPath = path
}
