package documents

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Printer renders a document to PDF.
type Printer interface {
	PrintDocument(ctx context.Context, doc Document) ([]byte, error)
}

var errPrinterUnavailable = httpx.NewError(httpx.ErrUnavailable, "documents: pdf rendering not configured")

// Handler exposes bill and purchase endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	printer Printer
}

// NewHandler creates a documents handler. printer may be nil.
func NewHandler(logger *slog.Logger, service *Service, printer Printer) *Handler {
	return &Handler{logger: logger, service: service, printer: printer}
}

// MountRoutes registers /bills and /purchases.
func (h *Handler) MountRoutes(r chi.Router) {
	for path, kind := range map[string]Kind{"/bills": KindBill, "/purchases": KindPurchase} {
		r.Route(path, func(r chi.Router) {
			r.Get("/", h.list(kind))
			r.Post("/", h.create(kind))
			r.Get("/next-number", h.nextNumber(kind))
			r.Get("/{id}", h.get(kind))
			r.Patch("/{id}/status", h.updateStatus(kind))
			r.Get("/{id}/pdf", h.pdf(kind))
		})
	}
}

func (h *Handler) list(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := httpx.QueryInt(r, "limit", defaultListLimit)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		docs, err := h.service.List(r.Context(), kind, limit)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, docs)
	}
}

func (h *Handler) create(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CreateInput
		if err := httpx.DecodeJSON(r, &input); err != nil {
			h.fail(w, r, err)
			return
		}
		input.CreatedBy = shared.ActorFromContext(r.Context())
		input.IdempotencyKey = r.Header.Get("Idempotency-Key")
		var (
			doc Document
			err error
		)
		if kind == KindPurchase {
			doc, err = h.service.CreatePurchase(r.Context(), input)
		} else {
			doc, err = h.service.CreateBill(r.Context(), input)
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Location", r.URL.Path+"/"+doc.ID.String())
		if doc.Replayed {
			w.Header().Set("Idempotent-Replayed", "true")
			httpx.JSON(w, http.StatusOK, doc)
			return
		}
		httpx.JSON(w, http.StatusCreated, doc)
	}
}

func (h *Handler) nextNumber(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number, err := h.service.PreviewNumber(r.Context(), kind)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"number": number, "reserved": false})
	}
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, kind Kind) (Document, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, NotFound(kind))
		return Document{}, false
	}
	doc, err := h.service.Get(r.Context(), kind, id)
	if err != nil {
		h.fail(w, r, err)
		return Document{}, false
	}
	return doc, true
}

func (h *Handler) get(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if doc, ok := h.load(w, r, kind); ok {
			httpx.JSON(w, http.StatusOK, doc)
		}
	}
}

func (h *Handler) updateStatus(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, NotFound(kind))
			return
		}
		var input StatusInput
		if err := httpx.DecodeJSON(r, &input); err != nil {
			h.fail(w, r, err)
			return
		}
		if err := h.service.validate.Struct(input); err != nil {
			h.fail(w, r, err)
			return
		}
		actor := shared.ActorFromContext(r.Context())
		var doc Document
		if kind == KindPurchase {
			doc, err = h.service.UpdatePurchaseStatus(r.Context(), id, input.Status, actor)
		} else {
			doc, err = h.service.UpdateBillStatus(r.Context(), id, input.Status, actor)
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) pdf(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.printer == nil {
			h.fail(w, r, errPrinterUnavailable)
			return
		}
		doc, ok := h.load(w, r, kind)
		if !ok {
			return
		}
		out, err := h.printer.PrintDocument(r.Context(), doc)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="`+doc.Number+`.pdf"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.IsClientError(err) && h.logger != nil {
		h.logger.Error("documents request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
