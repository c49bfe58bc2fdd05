package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.listItems)
		r.Post("/", h.createItem)
		r.Get("/{code}", h.getItem)
		r.Put("/{code}", h.updateItem)
		r.Delete("/{code}", h.deleteItem)
	})
	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.listCounterparties(KindCustomer))
		r.Post("/", h.createCounterparty(KindCustomer))
		r.Get("/{id}", h.getCounterparty(KindCustomer))
	})
	r.Route("/vendors", func(r chi.Router) {
		r.Get("/", h.listCounterparties(KindVendor))
		r.Post("/", h.createCounterparty(KindVendor))
		r.Get("/{id}", h.getCounterparty(KindVendor))
	})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var input ItemInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var input ItemInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), chi.URLParam(r, "code"), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteItem(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCounterparties(kind CounterpartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := h.service.ListCounterparties(r.Context(), kind)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, list)
	}
}

func (h *Handler) createCounterparty(kind CounterpartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CounterpartyInput
		if err := httpx.DecodeJSON(r, &input); err != nil {
			h.fail(w, r, err)
			return
		}
		var (
			cp  Counterparty
			err error
		)
		if kind == KindVendor {
			cp, err = h.service.CreateVendor(r.Context(), input)
		} else {
			cp, err = h.service.CreateCustomer(r.Context(), input)
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, cp)
	}
}

func (h *Handler) getCounterparty(kind CounterpartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, ErrCounterpartyNotFound)
			return
		}
		cp, err := h.service.GetCounterparty(r.Context(), kind, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, cp)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.IsClientError(err) && h.logger != nil {
		h.logger.Error("catalog request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
