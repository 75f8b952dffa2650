package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/materials", h.handleAddMaterial)
	r.Get("/materials", h.handleListMaterials)
	r.Get("/materials/{id}", h.handleGetMaterial)
	r.Get("/materials/{id}/transactions", h.handleListTransactions)
	r.Delete("/materials/{id}", h.handleDeleteMaterial)
}

type addMaterialRequest struct {
	Name         string  `json:"name" validate:"required"`
	Category     string  `json:"category"`
	Unit         string  `json:"unit" validate:"required"`
	ReorderLevel float64 `json:"reorderLevel" validate:"gte=0"`
	Warehouse    string  `json:"warehouse"`
}

type itemResponse struct {
	MaterialID   string  `json:"materialId"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Category     string  `json:"category,omitempty"`
	Unit         string  `json:"unit"`
	CurrentStock float64 `json:"currentStock"`
	ReorderLevel float64 `json:"reorderLevel"`
	AverageRate  float64 `json:"averageRate"`
	TotalValue   float64 `json:"totalValue"`
	Warehouse    string  `json:"warehouse"`
	LowStock     bool    `json:"lowStock"`
	UpdatedAt    string  `json:"updatedAt"`
}

func toItemResponse(item Item) itemResponse {
	return itemResponse{
		MaterialID:   item.MaterialID.String(),
		Code:         item.Code,
		Name:         item.Name,
		Category:     item.Category,
		Unit:         item.Unit,
		CurrentStock: item.CurrentStock,
		ReorderLevel: item.ReorderLevel,
		AverageRate:  item.AverageRate,
		TotalValue:   item.TotalValue,
		Warehouse:    item.Warehouse,
		LowStock:     item.LowStock(),
		UpdatedAt:    item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type transactionResponse struct {
	ID           string  `json:"id"`
	Number       string  `json:"number"`
	Type         string  `json:"type"`
	MaterialID   string  `json:"materialId"`
	MaterialName string  `json:"materialName"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	Rate         float64 `json:"rate,omitempty"`
	GRNID        string  `json:"grnId,omitempty"`
	IndentID     string  `json:"indentId,omitempty"`
	OccurredAt   string  `json:"occurredAt"`
	BalanceAfter float64 `json:"balanceAfterTransaction"`
}

func toTransactionResponse(entry StockTransaction) transactionResponse {
	resp := transactionResponse{
		ID:           entry.ID.String(),
		Number:       entry.Number,
		Type:         string(entry.Type),
		MaterialID:   entry.MaterialID.String(),
		MaterialName: entry.MaterialName,
		Quantity:     entry.Quantity,
		Unit:         entry.Unit,
		Rate:         entry.Rate,
		OccurredAt:   entry.OccurredAt.UTC().Format(time.RFC3339),
		BalanceAfter: entry.BalanceAfter,
	}
	if entry.GRNID != uuid.Nil {
		resp.GRNID = entry.GRNID.String()
	}
	if entry.IndentID != uuid.Nil {
		resp.IndentID = entry.IndentID.String()
	}
	return resp
}

func (h *Handler) handleAddMaterial(w http.ResponseWriter, r *http.Request) {
	var req addMaterialRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, created, err := h.service.AddOrGetMaterial(r.Context(), AddMaterialInput{
		Name:         req.Name,
		Category:     req.Category,
		Unit:         req.Unit,
		ReorderLevel: req.ReorderLevel,
		Warehouse:    req.Warehouse,
		ActorID:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("add material", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, toItemResponse(item))
}

func (h *Handler) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := ItemFilter{
		Category:     q.Get("category"),
		LowStockOnly: q.Get("low_stock") == "true",
		Search:       q.Get("search"),
		Page:         page,
		PerPage:      perPage,
	}
	items, pagination, err := h.service.ListMaterials(r.Context(), filter)
	if err != nil {
		h.logger.Error("list materials", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	responses := make([]itemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, toItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items": responses,
		"pagination": map[string]int{
			"page":       pagination.Page,
			"perPage":    pagination.PerPage,
			"total":      pagination.Total,
			"totalPages": pagination.TotalPages,
		},
	})
}

func (h *Handler) handleGetMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	entries, err := h.service.ListTransactions(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	responses := make([]transactionResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, toTransactionResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": responses})
}

func (h *Handler) handleDeleteMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid material id")
		return
	}
	if err := h.service.DeleteItem(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrTransactionNotFound), errors.Is(err, masterdata.ErrMaterialNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidRate), errors.Is(err, ErrConflictingRefs), errors.Is(err, masterdata.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrItemReferenced), errors.Is(err, ErrNotStockIn):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, sequence.ErrExhaustedRetries), errors.Is(err, sequence.ErrDuplicateNumber):
		httpx.Problem(w, http.StatusServiceUnavailable, "Transient Error", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
