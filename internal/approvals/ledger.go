package approvals

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/apperr"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
	"github.com/colinzhu/limit-monitoring-sub000/internal/repository"
	"github.com/colinzhu/limit-monitoring-sub000/internal/status"
)

// Service records approval actions in the activity ledger. Actions are
// append-only rows bound to an exact settlement version. Preconditions are
// re-checked inside the recording transaction, and the ledger's unique index
// (one action per user per version) stops a user's racing request and
// authorisation from both landing.
type Service struct {
	repo   *repository.Repository
	limits status.Limits
}

func NewService(repo *repository.Repository, limits status.Limits) *Service {
	return &Service{repo: repo, limits: limits}
}

// Actor identifies the user performing an approval action.
type Actor struct {
	UserID   string
	UserName string
}

// RequestRelease records a REQUEST_RELEASE for the given settlement version.
// The given version must be the active one and must currently derive as
// BLOCKED, which also rules out versions with a pending request or an
// authorisation already on the ledger.
func (s *Service) RequestRelease(ctx context.Context, settlementID, pts, pe string, version int64, actor Actor, comment string) (*models.Activity, error) {
	if actor.UserID == "" {
		return nil, apperr.Validation("invalid request", "userId must not be empty")
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	latest, derived, err := s.deriveOn(ctx, tx, settlementID, pts, pe, version)
	if err != nil {
		return nil, err
	}
	if derived != models.ApprovalBlocked {
		return nil, apperr.Precondition("settlement %s v%d is %s, release can only be requested when blocked", settlementID, version, derived)
	}

	activity := &models.Activity{
		ID:                uuid.NewString(),
		PTS:               latest.PTS,
		ProcessingEntity:  latest.ProcessingEntity,
		SettlementID:      settlementID,
		SettlementVersion: version,
		UserID:            actor.UserID,
		UserName:          actor.UserName,
		Action:            models.ActionRequestRelease,
		Comment:           comment,
	}
	if err := s.repo.InsertActivity(ctx, tx, activity); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Printf("[approvals] %s requested release of %s v%d", actor.UserID, settlementID, version)
	return activity, nil
}

// Authorise records an AUTHORISE for the given settlement version. A release
// request must exist, the actor must not be one of its requesters, and the
// version must not already be authorised.
func (s *Service) Authorise(ctx context.Context, settlementID, pts, pe string, version int64, actor Actor, comment string) (*models.Activity, error) {
	if actor.UserID == "" {
		return nil, apperr.Validation("invalid request", "userId must not be empty")
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	latest, _, err := s.deriveOn(ctx, tx, settlementID, pts, pe, version)
	if err != nil {
		return nil, err
	}

	requested, err := s.repo.HasRequestRelease(ctx, tx, settlementID, version)
	if err != nil {
		return nil, err
	}
	if !requested {
		return nil, apperr.Precondition("no release request exists for %s v%d", settlementID, version)
	}

	requestedByActor, err := s.repo.HasActionBy(ctx, tx, settlementID, version, actor.UserID, models.ActionRequestRelease)
	if err != nil {
		return nil, err
	}
	if requestedByActor {
		return nil, apperr.Precondition("user %s requested the release of %s v%d and cannot also authorise it", actor.UserID, settlementID, version)
	}

	authorised, err := s.repo.IsAuthorised(ctx, tx, settlementID, version)
	if err != nil {
		return nil, err
	}
	if authorised {
		return nil, apperr.Conflict("settlement " + settlementID + " is already authorised at this version")
	}

	activity := &models.Activity{
		ID:                uuid.NewString(),
		PTS:               latest.PTS,
		ProcessingEntity:  latest.ProcessingEntity,
		SettlementID:      settlementID,
		SettlementVersion: version,
		UserID:            actor.UserID,
		UserName:          actor.UserName,
		Action:            models.ActionAuthorise,
		Comment:           comment,
	}
	if err := s.repo.InsertActivity(ctx, tx, activity); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Printf("[approvals] %s authorised %s v%d", actor.UserID, settlementID, version)
	return activity, nil
}

// deriveOn loads the active row and derives its status on the caller's
// transaction. It rejects actions aimed at a superseded version.
func (s *Service) deriveOn(ctx context.Context, q repository.Querier, settlementID, pts, pe string, version int64) (*models.Settlement, models.ApprovalStatus, error) {
	latest, err := s.repo.FindLatestVersion(ctx, q, settlementID, pts, pe)
	if err != nil {
		return nil, "", err
	}
	if latest == nil {
		return nil, "", apperr.Validation("unknown settlement", "settlementId not found for pts/processingEntity")
	}
	if latest.SettlementVersion != version {
		return nil, "", apperr.Precondition("settlement %s is at version %d, action targeted version %d", settlementID, latest.SettlementVersion, version)
	}

	total := decimal.Zero
	gt, err := s.repo.GetGroupTotal(ctx, q, latest.GroupKey())
	if err != nil {
		return nil, "", err
	}
	if gt != nil {
		total = gt.RunningTotal
	}

	limit, err := s.limits.LimitFor(ctx, latest.CounterpartyID)
	if err != nil {
		return nil, "", err
	}

	wf, err := s.repo.WorkflowInfo(ctx, q, settlementID, version)
	if err != nil {
		return nil, "", err
	}

	return latest, status.Derive(latest, total, limit, wf), nil
}
