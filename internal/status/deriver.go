package status

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/apperr"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
	"github.com/colinzhu/limit-monitoring-sub000/internal/repository"
)

// Derive computes the approval status of a settlement from current state.
// The status is never stored; it is re-derived on every read so a later
// ingestion or approval changes it without any fix-up writes.
//
// Precedence, first match wins:
//  1. RECEIVE settlements and CANCELLED settlements never need approval.
//  2. Group subtotal within limit: no approval needed.
//  3. Over limit with an AUTHORISE on this exact version: released.
//  4. Over limit with a REQUEST_RELEASE pending: awaiting a second pair of
//     eyes.
//  5. Over limit, PAY and VERIFIED: blocked, approval workflow applies.
//  6. Anything else over limit (PENDING, INVALID): not yet actionable.
func Derive(s *models.Settlement, runningTotal, limit decimal.Decimal, wf models.WorkflowInfo) models.ApprovalStatus {
	if s.Direction == models.DirectionReceive || s.BusinessStatus == models.StatusCancelled {
		return models.ApprovalCreated
	}
	if runningTotal.LessThanOrEqual(limit) {
		return models.ApprovalCreated
	}
	if len(wf.Authorisers) > 0 {
		return models.ApprovalAuthorised
	}
	if len(wf.Requesters) > 0 {
		return models.ApprovalPendingAuthorise
	}
	if s.Direction == models.DirectionPay && s.BusinessStatus == models.StatusVerified {
		return models.ApprovalBlocked
	}
	return models.ApprovalCreated
}

// Deriver loads everything Derive needs for one settlement identity.
type Deriver struct {
	repo   *repository.Repository
	limits Limits
}

func NewDeriver(repo *repository.Repository, limits Limits) *Deriver {
	return &Deriver{repo: repo, limits: limits}
}

// Result is the full derived view returned by the status endpoints.
type Result struct {
	Settlement   *models.Settlement    `json:"settlement"`
	Status       models.ApprovalStatus `json:"status"`
	RunningTotal decimal.Decimal       `json:"runningTotal"`
	Limit        decimal.Decimal       `json:"limit"`
	Workflow     models.WorkflowInfo   `json:"workflow"`
}

// StatusFor derives the approval status of the latest version of an identity.
func (d *Deriver) StatusFor(ctx context.Context, settlementID, pts, pe string) (*Result, error) {
	s, err := d.repo.FindLatestVersion(ctx, d.repo.DB(), settlementID, pts, pe)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.Validation("unknown settlement", "settlementId not found for pts/processingEntity")
	}
	return d.StatusOf(ctx, s)
}

// StatusOf derives the approval status of an already-loaded settlement row.
func (d *Deriver) StatusOf(ctx context.Context, s *models.Settlement) (*Result, error) {
	total := decimal.Zero
	gt, err := d.repo.GetGroupTotal(ctx, d.repo.DB(), s.GroupKey())
	if err != nil {
		return nil, err
	}
	if gt != nil {
		total = gt.RunningTotal
	}

	limit, err := d.limits.LimitFor(ctx, s.CounterpartyID)
	if err != nil {
		return nil, err
	}

	wf, err := d.repo.WorkflowInfo(ctx, d.repo.DB(), s.SettlementID, s.SettlementVersion)
	if err != nil {
		return nil, err
	}

	return &Result{
		Settlement:   s,
		Status:       Derive(s, total, limit, wf),
		RunningTotal: total,
		Limit:        limit,
		Workflow:     wf,
	}, nil
}
