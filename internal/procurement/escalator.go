package procurement

import (
	"context"

	"github.com/meridian-erp/meridian-erp/internal/indent"
)

// IndentEscalator adapts Service to the escalation surface the indent state
// machine expects.
type IndentEscalator struct {
	service *Service
}

// NewIndentEscalator constructs the adapter.
func NewIndentEscalator(service *Service) *IndentEscalator {
	return &IndentEscalator{service: service}
}

// Escalate raises (or reuses) the purchase request backing an indent shortage.
func (e *IndentEscalator) Escalate(ctx context.Context, req indent.EscalationRequest) (indent.Escalation, error) {
	pr, err := e.service.Escalate(ctx, EscalateInput{
		IndentID:     req.IndentID,
		IndentNumber: req.IndentNumber,
		SiteID:       req.SiteID,
		MaterialID:   req.MaterialID,
		MaterialName: req.MaterialName,
		Quantity:     req.Quantity,
		Unit:         req.Unit,
		Priority:     req.Priority,
		RequiredBy:   req.RequiredBy,
		ActorID:      req.ActorID,
	})
	if err != nil {
		return indent.Escalation{}, err
	}
	return indent.Escalation{ID: pr.ID, Number: pr.Number}, nil
}
