package approvals

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/apperr"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
	"github.com/colinzhu/limit-monitoring-sub000/internal/repository"
	"github.com/colinzhu/limit-monitoring-sub000/internal/status"
)

func setup(t *testing.T) *repository.Repository {
	t.Helper()
	dbURL := os.Getenv("TEST_DB_URL")
	if dbURL == "" {
		t.Skip("TEST_DB_URL not set, skipping database test")
	}
	repo, err := repository.NewRepository(dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := repo.Migrate("../../schema.sql"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

// ingestOne appends one settlement row and recomputes its group, bypassing
// the HTTP pipeline.
func ingestOne(t *testing.T, repo *repository.Repository, s *models.Settlement) int64 {
	t.Helper()
	ctx := context.Background()
	refID, err := repo.SaveSettlement(ctx, repo.DB(), s)
	if err != nil {
		t.Fatalf("save settlement: %v", err)
	}
	if err := repo.MarkOldVersions(ctx, repo.DB(), s.SettlementID, s.PTS, s.ProcessingEntity); err != nil {
		t.Fatalf("mark old versions: %v", err)
	}
	rule := models.DefaultRule(s.PTS, s.ProcessingEntity)
	if err := repo.RecomputeGroupTotal(ctx, repo.DB(), s.GroupKey(), refID, rule, false); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	return refID
}

func blockedSettlement() *models.Settlement {
	return &models.Settlement{
		SettlementID:      "APR-" + uuid.NewString(),
		SettlementVersion: 1,
		PTS:               "PTS-" + uuid.NewString()[:8],
		ProcessingEntity:  "PE1",
		CounterpartyID:    "CP-" + uuid.NewString()[:8],
		ValueDate:         time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		Currency:          "USD",
		Amount:            decimal.RequireFromString("600"),
		BusinessStatus:    models.StatusVerified,
		Direction:         models.DirectionPay,
		SettlementType:    models.TypeGross,
	}
}

func TestService_RequestThenAuthorise(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()
	limits := status.NewFixedLimits(decimal.RequireFromString("500"))
	svc := NewService(repo, limits)
	deriver := status.NewDeriver(repo, limits)

	s := blockedSettlement()
	ingestOne(t, repo, s)

	res, err := deriver.StatusFor(ctx, s.SettlementID, s.PTS, s.ProcessingEntity)
	if err != nil {
		t.Fatalf("StatusFor: %v", err)
	}
	if res.Status != models.ApprovalBlocked {
		t.Fatalf("expected BLOCKED before workflow, got %s", res.Status)
	}

	if _, err := svc.RequestRelease(ctx, s.SettlementID, s.PTS, s.ProcessingEntity, 1, Actor{UserID: "alice", UserName: "Alice"}, "urgent"); err != nil {
		t.Fatalf("RequestRelease: %v", err)
	}
	res, _ = deriver.StatusFor(ctx, s.SettlementID, s.PTS, s.ProcessingEntity)
	if res.Status != models.ApprovalPendingAuthorise {
		t.Fatalf("expected PENDING_AUTHORISE after request, got %s", res.Status)
	}

	if _, err := svc.Authorise(ctx, s.SettlementID, s.PTS, s.ProcessingEntity, 1, Actor{UserID: "bob", UserName: "Bob"}, ""); err != nil {
		t.Fatalf("Authorise: %v", err)
	}
	res, _ = deriver.StatusFor(ctx, s.SettlementID, s.PTS, s.ProcessingEntity)
	if res.Status != models.ApprovalAuthorised {
		t.Fatalf("expected AUTHORISED, got %s", res.Status)
	}
}

func TestService_RequestReleaseRequiresBlocked(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()
	// Limit far above the amount, so the settlement derives as CREATED.
	svc := NewService(repo, status.NewFixedLimits(decimal.RequireFromString("1000000")))

	s := blockedSettlement()
	ingestOne(t, repo, s)

	_, err := svc.RequestRelease(ctx, s.SettlementID, s.PTS, s.ProcessingEntity, 1, Actor{UserID: "alice"}, "")
	if !apperr.IsKind(err, apperr.KindPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestService_AuthoriseRequiresRequest(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()
	svc := NewService(repo, status.NewFixedLimits(decimal.RequireFromString("500")))

	s := blockedSettlement()
	ingestOne(t, repo, s)

	_, err := svc.Authorise(ctx, s.SettlementID, s.PTS, s.ProcessingEntity, 1, Actor{UserID: "bob"}, "")
	if !apperr.IsKind(err, apperr.KindPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestService_RequesterCannotAuthorise(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()
	svc := NewService(repo, status.NewFixedLimits(decimal.RequireFromString("500")))

	s := blockedSettlement()
	ingestOne(t, repo, s)

	if _, err := svc.RequestRelease(ctx, s.SettlementID, s.PTS, s.ProcessingEntity, 1, Actor{UserID: "alice"}, ""); err != nil {
		t.Fatalf("RequestRelease: %v", err)
	}
	_, err := svc.Authorise(ctx, s.SettlementID, s.PTS, s.ProcessingEntity, 1, Actor{UserID: "alice"}, "")
	if !apperr.IsKind(err, apperr.KindPrecondition) {
		t.Fatalf("self-authorise must fail with precondition, got %v", err)
	}
}

func TestService_StaleVersionRejected(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()
	svc := NewService(repo, status.NewFixedLimits(decimal.RequireFromString("500")))

	s := blockedSettlement()
	ingestOne(t, repo, s)
	v2 := *s
	v2.SettlementVersion = 2
	ingestOne(t, repo, &v2)

	_, err := svc.RequestRelease(ctx, s.SettlementID, s.PTS, s.ProcessingEntity, 1, Actor{UserID: "alice"}, "")
	if !apperr.IsKind(err, apperr.KindPrecondition) {
		t.Fatalf("action on superseded version must fail, got %v", err)
	}
}

// A new version starts with an empty ledger, so an authorisation on v1 does
// not carry over to v2.
func TestService_NewVersionInvalidatesApprovals(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()
	limits := status.NewFixedLimits(decimal.RequireFromString("500"))
	svc := NewService(repo, limits)
	deriver := status.NewDeriver(repo, limits)

	s := blockedSettlement()
	ingestOne(t, repo, s)
	if _, err := svc.RequestRelease(ctx, s.SettlementID, s.PTS, s.ProcessingEntity, 1, Actor{UserID: "alice"}, ""); err != nil {
		t.Fatalf("RequestRelease: %v", err)
	}
	if _, err := svc.Authorise(ctx, s.SettlementID, s.PTS, s.ProcessingEntity, 1, Actor{UserID: "bob"}, ""); err != nil {
		t.Fatalf("Authorise: %v", err)
	}

	v2 := *s
	v2.SettlementVersion = 2
	ingestOne(t, repo, &v2)

	res, err := deriver.StatusFor(ctx, s.SettlementID, s.PTS, s.ProcessingEntity)
	if err != nil {
		t.Fatalf("StatusFor: %v", err)
	}
	if res.Status != models.ApprovalBlocked {
		t.Fatalf("v2 must re-derive as BLOCKED, got %s", res.Status)
	}
}
