package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler exposes stock and ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /inventory and /ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/", h.listStock)
		r.Get("/low-stock", h.listLowStock)
		r.Get("/{code}", h.getStock)
	})
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/", h.listMovements)
		r.Post("/", h.record)
	})
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.ListStock(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.ListLowStock(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	level, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", defaultListLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movements, err := h.service.ListRecent(r.Context(), r.URL.Query().Get("item"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	var input RecordInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.RefType = "manual"
	input.CreatedBy = shared.ActorFromContext(r.Context())
	m, err := h.service.Record(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.IsClientError(err) && h.logger != nil {
		h.logger.Error("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
