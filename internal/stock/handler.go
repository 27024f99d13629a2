package stock

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/douma-dental/manager/internal/platform/httpx"
	"github.com/douma-dental/manager/internal/shared"
)

// Handler manages stock endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjust", h.adjust)
	r.Get("/{productID}", h.level)
	r.Get("/{productID}/movements", h.movements)
}

// AdjustRequest describes a manual restock or correction.
type AdjustRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	VariantID *int64 `json:"variant_id,omitempty" validate:"omitempty,gt=0"`
	Delta     int    `json:"delta" validate:"required"`
	Reason    string `json:"reason" validate:"required,max=200"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "session requise")
		return
	}
	if !actor.HasRole(shared.RoleAdmin, shared.RoleMagasinier) {
		httpx.Problem(w, http.StatusForbidden, shared.ErrUnauthorized.Error())
		return
	}

	var req AdjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, err.Error())
		return
	}

	level, err := h.service.Adjust(r.Context(), AdjustInput{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Delta:     req.Delta,
		Reference: fmt.Sprintf("ajustement manuel: %s", req.Reason),
		ActorID:   actor.ID,
	})
	if err != nil {
		h.respondError(w, r, err, "adjust stock")
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) level(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de produit invalide")
		return
	}
	var variantID *int64
	if v := r.URL.Query().Get("variant_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "identifiant de variante invalide")
			return
		}
		variantID = &id
	}

	level, err := h.service.GetLevel(r.Context(), productID, variantID)
	if err != nil {
		h.respondError(w, r, err, "get stock level")
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "identifiant de produit invalide")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	movements, err := h.service.ListMovements(r.Context(), productID, limit)
	if err != nil {
		h.respondError(w, r, err, "list stock movements")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "erreur interne")
	}
}
