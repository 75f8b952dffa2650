package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the procurement module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchase-requests", h.handleListPRs)
	r.Get("/purchase-requests/{id}", h.handleGetPR)
	r.Post("/grns", h.handleReceive)
	r.Get("/grns", h.handleListGRNs)
	r.Get("/grns/{id}", h.handleGetGRN)
	r.Post("/grns/{id}/apply-stock", h.handleApplyStock)
	r.Delete("/grns/{id}", h.handleDelete)
}

type receiveLineRequest struct {
	MaterialID  string  `json:"materialId" validate:"required,uuid"`
	ReceivedQty float64 `json:"receivedQty" validate:"required,gt=0"`
	AcceptedQty float64 `json:"acceptedQty" validate:"gte=0"`
	RejectedQty float64 `json:"rejectedQty" validate:"gte=0"`
	Remarks     string  `json:"remarks"`
}

type receiveRequest struct {
	OrderID       string               `json:"orderId" validate:"omitempty,uuid"`
	OrderNumber   string               `json:"orderNumber"`
	ReceivedBy    string               `json:"receivedBy" validate:"omitempty,uuid"`
	VehicleNumber string               `json:"vehicleNumber"`
	Remarks       string               `json:"remarks"`
	Lines         []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type prResponse struct {
	ID           string  `json:"id"`
	Number       string  `json:"number"`
	IndentID     string  `json:"indentId"`
	IndentNumber string  `json:"indentNumber"`
	SiteID       string  `json:"siteId"`
	MaterialID   string  `json:"materialId"`
	MaterialName string  `json:"materialName"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	Priority     string  `json:"priority"`
	RequiredBy   string  `json:"requiredBy"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"createdAt"`
}

func toPRResponse(pr PurchaseRequest) prResponse {
	return prResponse{
		ID:           pr.ID.String(),
		Number:       pr.Number,
		IndentID:     pr.IndentID.String(),
		IndentNumber: pr.IndentNumber,
		SiteID:       pr.SiteID.String(),
		MaterialID:   pr.MaterialID.String(),
		MaterialName: pr.MaterialName,
		Quantity:     pr.Quantity,
		Unit:         pr.Unit,
		Priority:     pr.Priority,
		RequiredBy:   pr.RequiredBy.UTC().Format(time.RFC3339),
		Status:       pr.Status,
		CreatedAt:    pr.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type grnItemResponse struct {
	MaterialID    string  `json:"materialId"`
	MaterialName  string  `json:"materialName"`
	Unit          string  `json:"unit"`
	ReceivedQty   float64 `json:"receivedQty"`
	AcceptedQty   float64 `json:"acceptedQty"`
	RejectedQty   float64 `json:"rejectedQty"`
	Rate          float64 `json:"rate"`
	TransactionID string  `json:"transactionId,omitempty"`
	Remarks       string  `json:"remarks,omitempty"`
}

type grnResponse struct {
	ID            string            `json:"id"`
	Number        string            `json:"number"`
	OrderID       string            `json:"orderId"`
	OrderNumber   string            `json:"orderNumber"`
	VendorName    string            `json:"vendorName"`
	ReceivedAt    string            `json:"receivedAt"`
	VehicleNumber string            `json:"vehicleNumber,omitempty"`
	Remarks       string            `json:"remarks,omitempty"`
	Status        string            `json:"status"`
	StockUpdated  bool              `json:"stockUpdated"`
	Items         []grnItemResponse `json:"items"`
}

func toGRNResponse(grn GRN) grnResponse {
	resp := grnResponse{
		ID:            grn.ID.String(),
		Number:        grn.Number,
		OrderID:       grn.OrderID.String(),
		OrderNumber:   grn.OrderNumber,
		VendorName:    grn.VendorName,
		ReceivedAt:    grn.ReceivedAt.UTC().Format(time.RFC3339),
		VehicleNumber: grn.VehicleNumber,
		Remarks:       grn.Remarks,
		Status:        grn.Status,
		StockUpdated:  grn.StockUpdated,
		Items:         make([]grnItemResponse, 0, len(grn.Items)),
	}
	for _, item := range grn.Items {
		line := grnItemResponse{
			MaterialID:   item.MaterialID.String(),
			MaterialName: item.MaterialName,
			Unit:         item.Unit,
			ReceivedQty:  item.ReceivedQty,
			AcceptedQty:  item.AcceptedQty,
			RejectedQty:  item.RejectedQty,
			Rate:         item.Rate,
			Remarks:      item.Remarks,
		}
		if item.TransactionID != uuid.Nil {
			line.TransactionID = item.TransactionID.String()
		}
		resp.Items = append(resp.Items, line)
	}
	return resp
}

func (h *Handler) handleListPRs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := PRFilter{Status: q.Get("status"), Page: page, PerPage: perPage}
	if raw := q.Get("site_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid site_id")
			return
		}
		filter.SiteID = id
	}
	prs, pagination, err := h.service.ListPRs(r.Context(), filter)
	if err != nil {
		h.logger.Error("list purchase requests", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	responses := make([]prResponse, 0, len(prs))
	for _, pr := range prs {
		responses = append(responses, toPRResponse(pr))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchaseRequests": responses,
		"pagination": map[string]int{
			"page":       pagination.Page,
			"perPage":    pagination.PerPage,
			"total":      pagination.Total,
			"totalPages": pagination.TotalPages,
		},
	})
}

func (h *Handler) handleGetPR(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase request id")
		return
	}
	pr, err := h.service.GetPR(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPRResponse(pr))
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ReceiveInput{
		OrderNumber:   req.OrderNumber,
		VehicleNumber: req.VehicleNumber,
		Remarks:       req.Remarks,
		ActorID:       shared.ActorFromContext(r.Context()),
	}
	if req.OrderID != "" {
		input.OrderID, _ = uuid.Parse(req.OrderID)
	}
	if req.ReceivedBy != "" {
		input.ReceivedBy, _ = uuid.Parse(req.ReceivedBy)
	}
	for _, line := range req.Lines {
		materialID, _ := uuid.Parse(line.MaterialID)
		input.Lines = append(input.Lines, ReceiveLine{
			MaterialID:  materialID,
			ReceivedQty: line.ReceivedQty,
			AcceptedQty: line.AcceptedQty,
			RejectedQty: line.RejectedQty,
			Remarks:     line.Remarks,
		})
	}
	grn, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.logger.Error("receive grn", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGRNResponse(grn))
}

func (h *Handler) handleListGRNs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := GRNFilter{
		Vendor:  q.Get("vendor"),
		Status:  q.Get("status"),
		Page:    page,
		PerPage: perPage,
	}
	grns, pagination, err := h.service.ListGRNs(r.Context(), filter)
	if err != nil {
		h.logger.Error("list grns", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	responses := make([]grnResponse, 0, len(grns))
	for _, grn := range grns {
		responses = append(responses, toGRNResponse(grn))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"grns": responses,
		"pagination": map[string]int{
			"page":       pagination.Page,
			"perPage":    pagination.PerPage,
			"total":      pagination.Total,
			"totalPages": pagination.TotalPages,
		},
	})
}

func (h *Handler) handleGetGRN(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid grn id")
		return
	}
	grn, err := h.service.GetGRN(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGRNResponse(grn))
}

func (h *Handler) handleApplyStock(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid grn id")
		return
	}
	grn, err := h.service.ApplyStock(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("apply grn stock", slog.Any("error", err), slog.String("grn_id", id.String()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGRNResponse(grn))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid grn id")
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error("delete grn", slog.Any("error", err), slog.String("grn_id", id.String()))
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPRNotFound), errors.Is(err, ErrPONotFound), errors.Is(err, ErrGRNNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrLineMismatch), errors.Is(err, ErrLineNotOnOrder):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrAlreadyApplied):
		httpx.Problem(w, http.StatusConflict, "Stock Already Applied", err.Error())
	case errors.Is(err, ErrNothingToApply):
		httpx.Problem(w, http.StatusConflict, "Nothing To Apply", err.Error())
	case errors.Is(err, inventory.ErrInvalidQuantity), errors.Is(err, inventory.ErrInvalidRate):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, sequence.ErrExhaustedRetries), errors.Is(err, sequence.ErrDuplicateNumber):
		httpx.Problem(w, http.StatusServiceUnavailable, "Transient Error", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
