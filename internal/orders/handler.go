package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/douma-dental/manager/internal/platform/httpx"
	"github.com/douma-dental/manager/internal/shared"
	"github.com/douma-dental/manager/internal/stock"
)

// Handler manages order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/status", h.changeStatus)
	r.Post("/{id}/approve", h.approve)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.service.Create(r.Context(), req, actor)
	if err != nil {
		h.respondError(w, r, err, "create order")
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	req := ListRequest{Status: Status(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("client_id"); v != "" {
		req.ClientID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		req.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		req.Offset, _ = strconv.Atoi(v)
	}
	// Clients only ever see their own orders.
	if actor.Role == shared.RoleClient {
		req.ClientID = actor.ID
	}

	orders, err := h.service.List(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err, "list orders")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de commande invalide")
		return
	}

	order, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err, "get order")
		return
	}
	if actor.Role == shared.RoleClient && order.ClientID != actor.ID {
		httpx.Problem(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de commande invalide")
		return
	}

	var req StatusChangeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.service.RequestStatusChange(r.Context(), id, Status(req.Status), actor)
	if err != nil {
		h.respondError(w, r, err, "change order status")
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de commande invalide")
		return
	}

	order, err := h.service.ClearApproval(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, r, err, "approve order")
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, stock.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrEmptyLines),
		errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrTerminalState),
		errors.Is(err, ErrCannotCancelPaid),
		errors.Is(err, ErrApprovalRequired),
		errors.Is(err, stock.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "erreur interne")
	}
}
