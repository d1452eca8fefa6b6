// Package http exposes invoice queries over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/facturador/internal/invoice"
	"github.com/odyssey-erp/facturador/internal/platform/httpx"
	"github.com/odyssey-erp/facturador/internal/sri"
)

// Queries is the read side of invoice.Service.
type Queries interface {
	Get(ctx context.Context, id string) (invoice.Invoice, error)
	GetByAccessKey(ctx context.Context, key string) (invoice.Invoice, error)
	List(ctx context.Context, filter invoice.ListFilter) ([]invoice.Invoice, error)
	Audit(ctx context.Context, id string) ([]invoice.AuditEntry, error)
}

// Handler wires invoice query endpoints.
type Handler struct {
	queries Queries
	logger  *slog.Logger
}

// NewHandler constructs the invoice handler.
func NewHandler(queries Queries, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queries: queries, logger: logger}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/by-access-key/{key}", h.handleByAccessKey)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/status", h.handleStatus)
	r.Get("/{id}/audit", h.handleAudit)
	r.Get("/{id}/xml", h.handleXML)
	r.Get("/{id}/ride", h.handleRide)
}

type listResponse struct {
	Data  []invoice.StatusView `json:"data"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	filter := invoice.ListFilter{
		Status:      invoice.Status(q.Get("status")),
		Environment: sri.Environment(q.Get("environment")),
		DealID:      q.Get("dealId"),
		Limit:       limit,
		Offset:      (page - 1) * limit,
	}
	if filter.Environment != "" && !filter.Environment.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "environment must be TEST or PROD")
		return
	}
	invoices, err := h.queries.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	views := make([]invoice.StatusView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, invoice.NewStatusView(inv))
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: views, Page: page, Limit: limit})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	inv, err := h.queries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	inv, err := h.queries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice.NewStatusView(inv))
}

func (h *Handler) handleByAccessKey(w http.ResponseWriter, r *http.Request) {
	inv, err := h.queries.GetByAccessKey(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice.NewStatusView(inv))
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queries.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

// handleXML serves the signed document, or the unsigned one before signing.
func (h *Handler) handleXML(w http.ResponseWriter, r *http.Request) {
	inv, err := h.queries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	doc := inv.SignedXML
	if doc == "" {
		doc = inv.UnsignedXML
	}
	if doc == "" {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "document not generated yet")
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xml", inv.AccessKey))
	_, _ = w.Write([]byte(doc))
}

func (h *Handler) handleRide(w http.ResponseWriter, r *http.Request) {
	inv, err := h.queries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if inv.ReceiptPath == "" {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "receipt not rendered")
		return
	}
	f, err := os.Open(inv.ReceiptPath)
	if err != nil {
		h.logger.Error("open receipt", slog.String("invoice_id", inv.ID), slog.Any("error", err))
		httpx.Problem(w, http.StatusNotFound, "Not Found", "receipt file missing")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(inv.ReceiptPath))
	http.ServeContent(w, r, filepath.Base(inv.ReceiptPath), info.ModTime(), f)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var stateErr *invoice.StateError
	switch {
	case errors.Is(err, invoice.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, invoice.ErrValidation):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	case errors.Is(err, invoice.ErrArtifactExists):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrDuplicate, err.Error()))
	case errors.As(err, &stateErr):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error()))
	default:
		h.logger.Error("invoice request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
