package emission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facturador/internal/invoice"
	"github.com/odyssey-erp/facturador/internal/platform/httpx"
	"github.com/odyssey-erp/facturador/internal/sri"
)

// Emitter is the trigger the webhook calls.
type Emitter interface {
	EmitInvoice(ctx context.Context, req Request) (Response, error)
}

// Handler exposes the CRM webhook.
type Handler struct {
	emitter   Emitter
	logger    *slog.Logger
	validator *validator.Validate
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the webhook handler. requestsPerMinute <= 0 disables
// the per-IP limiter.
func NewHandler(emitter Emitter, logger *slog.Logger, requestsPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := func(next http.Handler) http.Handler { return next }
	if requestsPerMinute > 0 {
		limiter = httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	}
	return &Handler{emitter: emitter, logger: logger, validator: validator.New(), rateLimit: limiter}
}

// MountRoutes registers the webhook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rateLimit).Post("/emit-invoice", h.handleEmit)
}

type buyerDTO struct {
	IDType    string `json:"tipoIdentificacion" validate:"required,oneof=04 05 06 07"`
	LegalName string `json:"razonSocial" validate:"required"`
	TaxID     string `json:"identificacion" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
}

type itemDTO struct {
	Code          string   `json:"codigoPrincipal" validate:"required"`
	AuxiliaryCode string   `json:"codigoAuxiliar"`
	Description   string   `json:"descripcion" validate:"required"`
	Quantity      float64  `json:"cantidad" validate:"gt=0"`
	UnitPrice     float64  `json:"precioUnitario" validate:"gt=0"`
	Discount      float64  `json:"descuento" validate:"gte=0"`
	TaxRate       *float64 `json:"tarifaIva" validate:"omitempty,gte=0"`
}

type emitRequest struct {
	DealID      string    `json:"dealId" validate:"required"`
	Environment string    `json:"ambiente" validate:"omitempty,oneof=TEST PROD"`
	Buyer       *buyerDTO `json:"comprador" validate:"omitempty"`
	Items       []itemDTO `json:"items" validate:"omitempty,min=1,dive"`
}

func (h *Handler) handleEmit(w http.ResponseWriter, r *http.Request) {
	var body emitRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be a JSON object")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(msgs, "; "))
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	resp, err := h.emitter.EmitInvoice(r.Context(), body.toRequest())
	if err != nil {
		h.respondError(w, body.DealID, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, resp)
}

func (h *Handler) respondError(w http.ResponseWriter, dealID string, err error) {
	switch {
	case errors.Is(err, ErrDealBusy):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error()))
	case errors.Is(err, invoice.ErrValidation):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	default:
		h.logger.Error("emit invoice", slog.String("deal_id", dealID), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (b emitRequest) toRequest() Request {
	req := Request{DealID: b.DealID, Environment: sri.Environment(b.Environment)}
	if b.Buyer != nil {
		idType, _ := sri.IDTypeFromCode(b.Buyer.IDType)
		req.Buyer = &invoice.Buyer{
			IDType:    idType,
			TaxID:     b.Buyer.TaxID,
			LegalName: b.Buyer.LegalName,
			Email:     b.Buyer.Email,
		}
	}
	for _, it := range b.Items {
		in := invoice.ItemInput{
			Code:          it.Code,
			AuxiliaryCode: it.AuxiliaryCode,
			Description:   it.Description,
			Quantity:      decimal.NewFromFloat(it.Quantity),
			UnitPrice:     decimal.NewFromFloat(it.UnitPrice),
			Discount:      decimal.NewFromFloat(it.Discount),
		}
		if it.TaxRate != nil {
			rate := decimal.NewFromFloat(*it.TaxRate)
			in.TaxRate = &rate
		}
		req.Items = append(req.Items, in)
	}
	return req
}
