package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/douma-dental/manager/internal/platform/httpx"
	"github.com/douma-dental/manager/internal/shared"
)

// Handler manages invoice and payment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Get("/{id}", h.getInvoice)
		r.Delete("/{id}", h.deleteInvoice)
		r.Get("/{id}/payments", h.listPayments)
	})
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.createPayment)
		r.Put("/{id}", h.updatePayment)
		r.Delete("/{id}", h.deletePayment)
	})
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	req := ListInvoicesRequest{Status: InvoiceStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("client_id"); v != "" {
		req.ClientID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		req.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		req.Offset, _ = strconv.Atoi(v)
	}
	if actor.Role == shared.RoleClient {
		req.ClientID = actor.ID
	}

	invoices, err := h.service.ListInvoices(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err, "list invoices")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de facture invalide")
		return
	}

	invoice, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err, "get invoice")
		return
	}
	if actor.Role == shared.RoleClient && invoice.ClientID != actor.ID {
		httpx.Problem(w, http.StatusNotFound, ErrInvoiceNotFound.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de facture invalide")
		return
	}

	if err := h.service.DeleteInvoice(r.Context(), id, actor); err != nil {
		h.respondError(w, r, err, "delete invoice")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de facture invalide")
		return
	}

	invoice, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err, "get invoice")
		return
	}
	if actor.Role == shared.RoleClient && invoice.ClientID != actor.ID {
		httpx.Problem(w, http.StatusNotFound, ErrInvoiceNotFound.Error())
		return
	}

	payments, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err, "list payments")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	var input CreatePaymentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, err.Error())
		return
	}

	payment, err := h.service.RecordPayment(r.Context(), input, actor)
	if err != nil {
		h.respondError(w, r, err, "record payment")
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de versement invalide")
		return
	}

	var input UpdatePaymentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, err.Error())
		return
	}

	payment, err := h.service.UpdatePayment(r.Context(), id, input, actor)
	if err != nil {
		h.respondError(w, r, err, "update payment")
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de versement invalide")
		return
	}

	if err := h.service.DeletePayment(r.Context(), id, actor); err != nil {
		h.respondError(w, r, err, "delete payment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrInvoiceNotFound), errors.Is(err, ErrPaymentNotFound):
		httpx.Problem(w, http.StatusNotFound, err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidMethod):
		httpx.Problem(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvoiceLocked), errors.Is(err, ErrExceedsBalance):
		httpx.Problem(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "erreur interne")
	}
}
