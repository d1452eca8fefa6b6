package jobs

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/facturador/internal/platform/httpx"
)

// QueueOperations is what the HTTP handler needs from Inspector.
type QueueOperations interface {
	Stats() (QueueStats, error)
	Failed(size int) ([]FailedTask, error)
	RetryInvoice(invoiceID string) error
}

// Handler exposes queue operations over HTTP.
type Handler struct {
	ops    QueueOperations
	logger *slog.Logger
}

// NewHandler constructs the queue handler.
func NewHandler(ops QueueOperations, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ops: ops, logger: logger}
}

// MountRoutes registers the queue endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stats", h.handleStats)
	r.Get("/failed", h.handleFailed)
	r.Post("/invoices/{id}/retry", h.handleRetry)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ops.Stats()
	if err != nil {
		h.logger.Error("queue stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleFailed(w http.ResponseWriter, r *http.Request) {
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	tasks, err := h.ops.Failed(size)
	if err != nil {
		h.logger.Error("list failed tasks", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ops.RetryInvoice(id); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("retry invoice task", slog.String("invoice_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("invoice task requeued", slog.String("invoice_id", id))
	httpx.JSON(w, http.StatusAccepted, map[string]string{"invoiceId": id, "taskId": InvoiceTaskID(id)})
}
