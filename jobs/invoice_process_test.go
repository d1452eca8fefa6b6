package jobs

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/facturador/internal/invoice"
	jobmetrics "github.com/odyssey-erp/facturador/internal/jobs"
	"github.com/odyssey-erp/facturador/internal/ride"
	"github.com/odyssey-erp/facturador/internal/signing"
	"github.com/odyssey-erp/facturador/internal/sri"
)

type pipelineFixture struct {
	service   *invoice.Service
	authority *sri.MockAuthority
	signer    *countingSigner
	job       *InvoiceProcessJob
	dir       string
}

type countingSigner struct {
	inner signing.Signer
	err   error
	calls atomic.Int32
}

func (s *countingSigner) Sign(ctx context.Context, unsignedXML string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return s.inner.Sign(ctx, unsignedXML)
}

func testIssuer() invoice.Issuer {
	return invoice.Issuer{
		RUC:           "1790012345001",
		LegalName:     "Compañía Ejemplo S.A.",
		TradeName:     "Ejemplo",
		MainAddress:   "Av. Amazonas N1-23, Quito",
		BranchAddress: "Av. Amazonas N1-23, Quito",
		Establishment: "001",
		EmissionPoint: "001",
		KeepsAccounts: true,
	}
}

func newPipeline(t *testing.T, authority *sri.MockAuthority) *pipelineFixture {
	t.Helper()
	svc := invoice.NewService(invoice.NewMemoryStore(), invoice.Config{
		Issuer:      testIssuer(),
		DefaultRate: decimal.NewFromInt(15),
	})
	gateway := sri.NewGateway(authority, sri.GatewayConfig{MaxRetries: 3})
	gateway.WithSleep(func(context.Context, time.Duration) error { return nil })
	signer := &countingSigner{inner: signing.NewMockSigner()}
	dir := t.TempDir()
	job := NewInvoiceProcessJob(InvoiceProcessConfig{
		Invoices:  svc,
		Signer:    signer,
		Authority: gateway,
		Renderer:  ride.NewPDFRenderer(testIssuer(), dir),
		Metrics:   jobmetrics.NewMetrics(prometheus.NewRegistry()),
	})
	return &pipelineFixture{service: svc, authority: authority, signer: signer, job: job, dir: dir}
}

func (f *pipelineFixture) draft(t *testing.T) invoice.Invoice {
	t.Helper()
	inv, err := f.service.CreateDraft(context.Background(), invoice.DraftInput{
		DealID:      "42",
		Environment: sri.EnvironmentTest,
		Items: []invoice.ItemInput{
			{Code: "SRV001", Description: "Servicio Deal #42", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100)},
		},
	})
	require.NoError(t, err)
	return inv
}

func taskFor(t *testing.T, inv invoice.Invoice) *asynq.Task {
	t.Helper()
	task, err := NewInvoiceProcessTask(InvoiceProcessPayload{InvoiceID: inv.ID, DealID: inv.DealID, Environment: inv.Environment})
	require.NoError(t, err)
	return task
}

func TestInvoiceProcessAuthorizesAndRenders(t *testing.T) {
	f := newPipeline(t, sri.NewMockAuthority())
	ctx := context.Background()
	inv := f.draft(t)

	var seen []int
	result, err := f.job.Process(ctx, InvoiceProcessPayload{InvoiceID: inv.ID}, func(p int) { seen = append(seen, p) })
	require.NoError(t, err)
	require.Equal(t, string(invoice.StatusAuthorized), result.Status)
	require.Len(t, result.AccessKey, 49)
	require.NotEmpty(t, result.AuthorizationNumber)
	require.Equal(t, []int{10, 25, 45, 60, 85, 100}, seen)

	got, err := f.service.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusAuthorized, got.Status)
	require.Equal(t, "115.00", got.Totals.Grand.StringFixed(2))
	require.Contains(t, got.SignedXML, "<ds:Signature")
	require.NotEmpty(t, got.ReceiptPath)
	_, statErr := os.Stat(got.ReceiptPath)
	require.NoError(t, statErr)

	trail, err := f.service.Audit(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, trail, 5)
	require.Equal(t, 1, f.authority.Submissions())
}

func TestInvoiceProcessResumesFromSigned(t *testing.T) {
	f := newPipeline(t, sri.NewMockAuthority())
	ctx := context.Background()
	inv := f.draft(t)
	doc, err := f.service.GenerateDocument(ctx, inv.ID)
	require.NoError(t, err)
	signed, err := signing.NewMockSigner().Sign(ctx, doc.XML)
	require.NoError(t, err)
	require.NoError(t, f.service.RecordSigned(ctx, inv.ID, signed))

	result, err := f.job.Process(ctx, InvoiceProcessPayload{InvoiceID: inv.ID}, nil)
	require.NoError(t, err)
	require.Equal(t, string(invoice.StatusAuthorized), result.Status)
	require.Equal(t, doc.AccessKey, result.AccessKey)
	require.Zero(t, f.signer.calls.Load())
	require.Equal(t, 1, f.authority.Submissions())
}

func TestInvoiceProcessTerminalIsNoop(t *testing.T) {
	f := newPipeline(t, sri.NewMockAuthority())
	ctx := context.Background()
	inv := f.draft(t)
	require.NoError(t, f.service.RecordError(ctx, inv.ID, "manual"))

	result, err := f.job.Process(ctx, InvoiceProcessPayload{InvoiceID: inv.ID}, nil)
	require.NoError(t, err)
	require.Equal(t, string(invoice.StatusError), result.Status)
	require.Zero(t, f.signer.calls.Load())
	require.Zero(t, f.authority.Submissions())
}

func TestHandleRejectionSkipsRetry(t *testing.T) {
	authority := sri.NewMockAuthority()
	authority.Script = []sri.AuthorizationStatus{sri.StatusNotAuthorized}
	f := newPipeline(t, authority)
	inv := f.draft(t)

	err := f.job.Handle(context.Background(), taskFor(t, inv))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, sri.ErrAuthorizationRejected)

	got, getErr := f.service.Get(context.Background(), inv.ID)
	require.NoError(t, getErr)
	require.Equal(t, invoice.StatusRejected, got.Status)
	require.NotEmpty(t, got.AuthorizationResponse)
	require.Empty(t, got.ReceiptPath)
}

func TestHandleRetriesUntilFinalAttempt(t *testing.T) {
	f := newPipeline(t, sri.NewMockAuthority())
	f.signer.err = errors.New("signing service unavailable")
	inv := f.draft(t)
	ctx := context.Background()

	f.job.retryState = func(context.Context) (int, int) { return 0, 2 }
	err := f.job.Handle(ctx, taskFor(t, inv))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
	got, getErr := f.service.Get(ctx, inv.ID)
	require.NoError(t, getErr)
	require.Equal(t, invoice.StatusDraft, got.Status)
	require.True(t, got.HasDocument())

	f.job.retryState = func(context.Context) (int, int) { return 2, 2 }
	err = f.job.Handle(ctx, taskFor(t, inv))
	require.Error(t, err)
	got, getErr = f.service.Get(ctx, inv.ID)
	require.NoError(t, getErr)
	require.Equal(t, invoice.StatusError, got.Status)
	require.Contains(t, got.ErrorMessage, "signing service unavailable")
	require.EqualValues(t, 2, f.signer.calls.Load())
}

func TestHandleUnknownInvoiceSkipsRetry(t *testing.T) {
	f := newPipeline(t, sri.NewMockAuthority())
	task, err := NewInvoiceProcessTask(InvoiceProcessPayload{InvoiceID: "e5b8a3f0-0000-4000-8000-000000000000"})
	require.NoError(t, err)
	require.ErrorIs(t, f.job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestHandleMalformedPayloadSkipsRetry(t *testing.T) {
	f := newPipeline(t, sri.NewMockAuthority())
	task := asynq.NewTask(TaskInvoiceProcess, []byte(`{"dealId":"1"}`))
	require.ErrorIs(t, f.job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestHandleReceptionRejectionRetries(t *testing.T) {
	authority := sri.NewMockAuthority()
	authority.Reject = []sri.Message{{Identifier: "35", Text: "ARCHIVO NO CUMPLE ESTRUCTURA XML", Type: sri.MessageError}}
	f := newPipeline(t, authority)
	inv := f.draft(t)
	ctx := context.Background()

	f.job.retryState = func(context.Context) (int, int) { return 0, 2 }
	err := f.job.Handle(ctx, taskFor(t, inv))
	require.ErrorIs(t, err, sri.ErrReceptionRejected)
	require.False(t, errors.Is(err, asynq.SkipRetry))
	got, getErr := f.service.Get(ctx, inv.ID)
	require.NoError(t, getErr)
	require.Equal(t, invoice.StatusSigned, got.Status)

	f.job.retryState = func(context.Context) (int, int) { return 2, 2 }
	err = f.job.Handle(ctx, taskFor(t, inv))
	require.ErrorIs(t, err, sri.ErrReceptionRejected)
	got, getErr = f.service.Get(ctx, inv.ID)
	require.NoError(t, getErr)
	require.Equal(t, invoice.StatusError, got.Status)
	require.Equal(t, 2, authority.Submissions())
	require.EqualValues(t, 1, f.signer.calls.Load())
}

func TestHandleAuthorizationTimeoutRetries(t *testing.T) {
	authority := sri.NewMockAuthority()
	authority.Script = []sri.AuthorizationStatus{sri.StatusInProcess}
	f := newPipeline(t, authority)
	inv := f.draft(t)
	ctx := context.Background()

	f.job.retryState = func(context.Context) (int, int) { return 0, 2 }
	err := f.job.Handle(ctx, taskFor(t, inv))
	require.ErrorIs(t, err, sri.ErrAuthorizationTimeout)
	require.False(t, errors.Is(err, asynq.SkipRetry))
	got, getErr := f.service.Get(ctx, inv.ID)
	require.NoError(t, getErr)
	require.Equal(t, invoice.StatusSent, got.Status)
	require.Equal(t, 3, authority.Checks())

	f.job.retryState = func(context.Context) (int, int) { return 2, 2 }
	err = f.job.Handle(ctx, taskFor(t, inv))
	require.ErrorIs(t, err, sri.ErrAuthorizationTimeout)
	got, getErr = f.service.Get(ctx, inv.ID)
	require.NoError(t, getErr)
	require.Equal(t, invoice.StatusError, got.Status)
	require.NotEqual(t, invoice.StatusRejected, got.Status)
	require.Equal(t, 6, authority.Checks())
	require.Equal(t, 1, authority.Submissions())
}

// cancellingSigner cancels the job context mid-sign, as a worker shutdown would.
type cancellingSigner struct {
	cancel context.CancelFunc
}

func (s cancellingSigner) Sign(ctx context.Context, _ string) (string, error) {
	s.cancel()
	<-ctx.Done()
	return "", ctx.Err()
}

func TestHandleCancelledContextKeepsState(t *testing.T) {
	f := newPipeline(t, sri.NewMockAuthority())
	inv := f.draft(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.job.signer = cancellingSigner{cancel: cancel}
	f.job.retryState = func(context.Context) (int, int) { return 2, 2 }

	err := f.job.Handle(ctx, taskFor(t, inv))
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	got, getErr := f.service.Get(context.Background(), inv.ID)
	require.NoError(t, getErr)
	require.Equal(t, invoice.StatusDraft, got.Status)
	require.Empty(t, got.ErrorMessage)
	require.Zero(t, f.authority.Submissions())
}

// ctxInvoices refuses writes on a finished context like a database driver.
type ctxInvoices struct {
	*invoice.Service
}

func (c ctxInvoices) RecordError(ctx context.Context, id, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Service.RecordError(ctx, id, reason)
}

func TestRecordErrorOutlivesCancelledContext(t *testing.T) {
	f := newPipeline(t, sri.NewMockAuthority())
	inv := f.draft(t)
	f.job.invoices = ctxInvoices{Service: f.service}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.job.recordError(ctx, f.job.logger, InvoiceProcessPayload{InvoiceID: inv.ID}, errors.New("sequence store unavailable"))

	got, err := f.service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusError, got.Status)
	require.Contains(t, got.ErrorMessage, "sequence store unavailable")
}
