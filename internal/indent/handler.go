package indent

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

// Handler wires HTTP endpoints for the indent module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs indent handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers indent routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/indents", h.handleRaise)
	r.Get("/indents", h.handleList)
	r.Get("/indents/{id}", h.handleGet)
	r.Post("/indents/{id}/decision", h.handleDecision)
	r.Post("/indents/{id}/check-inventory", h.handleCheckInventory)
	r.Post("/indents/{id}/issue", h.handleIssue)
	r.Delete("/indents/{id}", h.handleDelete)
}

type raiseRequest struct {
	SiteID       string  `json:"siteId" validate:"required,uuid"`
	MaterialID   string  `json:"materialId" validate:"omitempty,uuid"`
	MaterialName string  `json:"materialName"`
	Quantity     float64 `json:"quantity" validate:"required,gt=0"`
	Unit         string  `json:"unit"`
	Priority     string  `json:"priority" validate:"omitempty,oneof=Low Medium High Urgent"`
	RequestedBy  string  `json:"requestedBy" validate:"required,uuid"`
	ExpectedBy   string  `json:"expectedBy" validate:"required"`
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Reason   string `json:"reason"`
}

type indentResponse struct {
	ID                string  `json:"id"`
	Number            string  `json:"number"`
	SiteID            string  `json:"siteId"`
	SiteName          string  `json:"siteName"`
	MaterialID        string  `json:"materialId"`
	MaterialName      string  `json:"materialName"`
	Quantity          float64 `json:"quantity"`
	Unit              string  `json:"unit"`
	Priority          string  `json:"priority"`
	RequestedBy       string  `json:"requestedBy"`
	Requester         string  `json:"requester"`
	ExpectedBy        string  `json:"expectedBy"`
	Status            string  `json:"status"`
	ApprovedBy        string  `json:"approvedBy,omitempty"`
	ApprovedAt        string  `json:"approvedAt,omitempty"`
	RejectionReason   string  `json:"rejectionReason,omitempty"`
	AvailableStock    float64 `json:"availableStock"`
	ShortageQuantity  float64 `json:"shortageQuantity"`
	CheckedAt         string  `json:"checkedAt,omitempty"`
	PurchaseRequestID string  `json:"purchaseRequestId,omitempty"`
	IssuedQuantity    float64 `json:"issuedQuantity"`
	IssuedAt          string  `json:"issuedAt,omitempty"`
	CreatedAt         string  `json:"createdAt"`
	UpdatedAt         string  `json:"updatedAt"`
}

func toIndentResponse(ind Indent) indentResponse {
	resp := indentResponse{
		ID:               ind.ID.String(),
		Number:           ind.Number,
		SiteID:           ind.SiteID.String(),
		SiteName:         ind.SiteName,
		MaterialID:       ind.MaterialID.String(),
		MaterialName:     ind.MaterialName,
		Quantity:         ind.Quantity,
		Unit:             ind.Unit,
		Priority:         ind.Priority,
		RequestedBy:      ind.RequestedBy.String(),
		Requester:        ind.Requester,
		ExpectedBy:       ind.ExpectedBy.UTC().Format(time.RFC3339),
		Status:           string(ind.Status),
		RejectionReason:  ind.RejectionReason,
		AvailableStock:   ind.AvailableStock,
		ShortageQuantity: ind.ShortageQuantity,
		IssuedQuantity:   ind.IssuedQuantity,
		CreatedAt:        ind.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        ind.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if ind.ApprovedBy != uuid.Nil {
		resp.ApprovedBy = ind.ApprovedBy.String()
	}
	if !ind.ApprovedAt.IsZero() {
		resp.ApprovedAt = ind.ApprovedAt.UTC().Format(time.RFC3339)
	}
	if !ind.CheckedAt.IsZero() {
		resp.CheckedAt = ind.CheckedAt.UTC().Format(time.RFC3339)
	}
	if ind.PurchaseRequestID != uuid.Nil {
		resp.PurchaseRequestID = ind.PurchaseRequestID.String()
	}
	if !ind.IssuedAt.IsZero() {
		resp.IssuedAt = ind.IssuedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) handleRaise(w http.ResponseWriter, r *http.Request) {
	var req raiseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	expectedBy, err := time.Parse("2006-01-02", req.ExpectedBy)
	if err != nil {
		expectedBy, err = time.Parse(time.RFC3339, req.ExpectedBy)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expectedBy must be a date")
			return
		}
	}
	siteID, _ := uuid.Parse(req.SiteID)
	requestedBy, _ := uuid.Parse(req.RequestedBy)
	var materialID uuid.UUID
	if req.MaterialID != "" {
		materialID, _ = uuid.Parse(req.MaterialID)
	}
	ind, err := h.service.Raise(r.Context(), RaiseInput{
		SiteID:       siteID,
		MaterialID:   materialID,
		MaterialName: req.MaterialName,
		Quantity:     req.Quantity,
		Unit:         req.Unit,
		Priority:     req.Priority,
		RequestedBy:  requestedBy,
		ExpectedBy:   expectedBy,
	})
	if err != nil {
		h.logger.Error("raise indent", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toIndentResponse(ind))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := Filter{
		Status:   Status(q.Get("status")),
		Priority: q.Get("priority"),
		Page:     page,
		PerPage:  perPage,
	}
	if raw := q.Get("site_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid site_id")
			return
		}
		filter.SiteID = id
	}
	indents, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list indents", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	responses := make([]indentResponse, 0, len(indents))
	for _, ind := range indents {
		responses = append(responses, toIndentResponse(ind))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"indents": responses,
		"pagination": map[string]int{
			"page":       pagination.Page,
			"perPage":    pagination.PerPage,
			"total":      pagination.Total,
			"totalPages": pagination.TotalPages,
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid indent id")
		return
	}
	ind, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toIndentResponse(ind))
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid indent id")
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ind, err := h.service.Decide(r.Context(), id, DecisionInput{
		Approve: req.Decision == "approve",
		Reason:  req.Reason,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("decide indent", slog.Any("error", err), slog.String("indent_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toIndentResponse(ind))
}

func (h *Handler) handleCheckInventory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid indent id")
		return
	}
	ind, err := h.service.CheckInventory(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("check inventory", slog.Any("error", err), slog.String("indent_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toIndentResponse(ind))
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid indent id")
		return
	}
	ind, err := h.service.Issue(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("issue indent", slog.Any("error", err), slog.String("indent_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toIndentResponse(ind))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid indent id")
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, masterdata.ErrMaterialNotFound),
		errors.Is(err, masterdata.ErrSiteNotFound), errors.Is(err, masterdata.ErrEmployeeNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrReasonRequired), errors.Is(err, masterdata.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, sequence.ErrExhaustedRetries), errors.Is(err, sequence.ErrDuplicateNumber):
		httpx.Problem(w, http.StatusServiceUnavailable, "Transient Error", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
