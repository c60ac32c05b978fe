package ingester

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/apperr"
	"github.com/colinzhu/limit-monitoring-sub000/internal/config"
	"github.com/colinzhu/limit-monitoring-sub000/internal/eventbus"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
	"github.com/colinzhu/limit-monitoring-sub000/internal/repository"
	"github.com/colinzhu/limit-monitoring-sub000/internal/rules"
)

func setupPipeline(t *testing.T, failOnMissingRate bool) (*repository.Repository, *Ingester) {
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

	cache := rules.NewCache(rules.NewStaticProvider(nil), time.Minute)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("rule cache: %v", err)
	}
	bus := eventbus.New()
	t.Cleanup(bus.Close)

	return repo, New(repo, cache, bus, failOnMissingRate)
}

// request returns a valid PAY/VERIFIED/GROSS settlement under a fresh pts so
// each test works in its own group space.
func request(pts string, version int64, amount string) *Request {
	return &Request{
		SettlementID:      "SETT-" + pts,
		SettlementVersion: version,
		PTS:               pts,
		ProcessingEntity:  "PE1",
		CounterpartyID:    "CP-A",
		ValueDate:         "2026-09-01",
		Currency:          "USD",
		Amount:            decimal.RequireFromString(amount),
		BusinessStatus:    "VERIFIED",
		Direction:         "PAY",
		SettlementType:    "GROSS",
	}
}

func freshPTS() string {
	return "PTS-" + uuid.NewString()[:8]
}

func groupTotal(t *testing.T, repo *repository.Repository, req *Request) *models.GroupTotal {
	t.Helper()
	valueDate, _ := time.ParseInLocation(models.DateOnly, req.ValueDate, time.UTC)
	gt, err := repo.GetGroupTotal(context.Background(), repo.DB(), models.GroupKey{
		PTS:              req.PTS,
		ProcessingEntity: req.ProcessingEntity,
		CounterpartyID:   req.CounterpartyID,
		ValueDate:        valueDate,
	})
	if err != nil {
		t.Fatalf("get group total: %v", err)
	}
	return gt
}

func TestProcess_SingleSettlement(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()

	refID, err := ing.Process(context.Background(), request(pts, 1, "100.25"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if refID <= 0 {
		t.Fatalf("ref id = %d", refID)
	}

	gt := groupTotal(t, repo, request(pts, 1, "100.25"))
	if gt == nil {
		t.Fatal("expected a group total row")
	}
	if !gt.RunningTotal.Equal(decimal.RequireFromString("100.25")) {
		t.Errorf("running total = %s, want 100.25", gt.RunningTotal)
	}
	if gt.SettlementCount != 1 {
		t.Errorf("count = %d, want 1", gt.SettlementCount)
	}
	if gt.RefID != refID {
		t.Errorf("group ref id = %d, want %d", gt.RefID, refID)
	}
}

// Version 2 arriving before version 1 must win and stay the winner.
func TestProcess_OutOfOrderVersions(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()
	ctx := context.Background()

	if _, err := ing.Process(ctx, request(pts, 1, "80")); err != nil {
		t.Fatalf("v1: %v", err)
	}
	if _, err := ing.Process(ctx, request(pts, 3, "90")); err != nil {
		t.Fatalf("v3: %v", err)
	}
	if _, err := ing.Process(ctx, request(pts, 2, "120")); err != nil {
		t.Fatalf("v2: %v", err)
	}

	gt := groupTotal(t, repo, request(pts, 1, "80"))
	if !gt.RunningTotal.Equal(decimal.RequireFromString("90")) {
		t.Errorf("running total = %s, want 90 (v3 must win)", gt.RunningTotal)
	}
	if gt.SettlementCount != 1 {
		t.Errorf("count = %d, want 1", gt.SettlementCount)
	}

	latest, err := repo.FindLatestVersion(ctx, repo.DB(), "SETT-"+pts, pts, "PE1")
	if err != nil {
		t.Fatalf("find latest: %v", err)
	}
	if latest.SettlementVersion != 3 {
		t.Errorf("latest version = %d, want 3", latest.SettlementVersion)
	}
	if latest.IsOld {
		t.Error("latest version must not be flagged old")
	}

	var oldCount int
	err = repo.DB().QueryRow(ctx, `
		SELECT count(*) FROM settlement
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = 'PE1' AND is_old = TRUE`,
		"SETT-"+pts, pts,
	).Scan(&oldCount)
	if err != nil {
		t.Fatalf("count old rows: %v", err)
	}
	if oldCount != 2 {
		t.Errorf("old rows = %d, want 2", oldCount)
	}
}

// A counterparty change on a new version moves the exposure: the old group
// drops the settlement and the new group picks it up, atomically.
func TestProcess_CounterpartyMigration(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()
	ctx := context.Background()

	v1 := request(pts, 1, "100")
	if _, err := ing.Process(ctx, v1); err != nil {
		t.Fatalf("v1: %v", err)
	}

	v2 := request(pts, 2, "100")
	v2.CounterpartyID = "CP-B"
	if _, err := ing.Process(ctx, v2); err != nil {
		t.Fatalf("v2: %v", err)
	}

	oldGroup := groupTotal(t, repo, v1)
	if !oldGroup.RunningTotal.IsZero() || oldGroup.SettlementCount != 0 {
		t.Errorf("old group = %s/%d, want 0/0", oldGroup.RunningTotal, oldGroup.SettlementCount)
	}

	newGroup := groupTotal(t, repo, v2)
	if !newGroup.RunningTotal.Equal(decimal.RequireFromString("100")) || newGroup.SettlementCount != 1 {
		t.Errorf("new group = %s/%d, want 100/1", newGroup.RunningTotal, newGroup.SettlementCount)
	}
}

// Replaying the same message must return the original ref id and leave the
// subtotal untouched.
func TestProcess_IdempotentReplay(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()
	ctx := context.Background()

	first, err := ing.Process(ctx, request(pts, 1, "100"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := ing.Process(ctx, request(pts, 1, "100"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first != second {
		t.Errorf("replay ref id = %d, want %d", second, first)
	}

	gt := groupTotal(t, repo, request(pts, 1, "100"))
	if !gt.RunningTotal.Equal(decimal.RequireFromString("100")) || gt.SettlementCount != 1 {
		t.Errorf("group = %s/%d, want 100/1", gt.RunningTotal, gt.SettlementCount)
	}
}

// Cancelling a settlement removes its contribution because CANCELLED is not
// in any rule's included statuses.
func TestProcess_CancellationDropsContribution(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()
	ctx := context.Background()

	if _, err := ing.Process(ctx, request(pts, 1, "100")); err != nil {
		t.Fatalf("v1: %v", err)
	}

	cancel := request(pts, 2, "100")
	cancel.BusinessStatus = "CANCELLED"
	if _, err := ing.Process(ctx, cancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	gt := groupTotal(t, repo, request(pts, 1, "100"))
	if !gt.RunningTotal.IsZero() || gt.SettlementCount != 0 {
		t.Errorf("group = %s/%d, want 0/0 after cancellation", gt.RunningTotal, gt.SettlementCount)
	}
}

// RECEIVE settlements are stored but never contribute to exposure.
func TestProcess_ReceiveExcluded(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()
	ctx := context.Background()

	recv := request(pts, 1, "500")
	recv.Direction = "RECEIVE"
	if _, err := ing.Process(ctx, recv); err != nil {
		t.Fatalf("Process: %v", err)
	}

	gt := groupTotal(t, repo, recv)
	if gt == nil {
		t.Fatal("group row should exist even with zero contributions")
	}
	if !gt.RunningTotal.IsZero() || gt.SettlementCount != 0 {
		t.Errorf("group = %s/%d, want 0/0", gt.RunningTotal, gt.SettlementCount)
	}

	latest, err := repo.FindLatestVersion(ctx, repo.DB(), recv.SettlementID, pts, "PE1")
	if err != nil || latest == nil {
		t.Fatalf("settlement row must still be stored: %v", err)
	}
}

func TestProcess_CurrencyConversion(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()
	ctx := context.Background()

	if err := repo.UpsertRate(ctx, "EUR", decimal.RequireFromString("1.10")); err != nil {
		t.Fatalf("upsert rate: %v", err)
	}

	req := request(pts, 1, "100")
	req.Currency = "EUR"
	if _, err := ing.Process(ctx, req); err != nil {
		t.Fatalf("Process: %v", err)
	}

	gt := groupTotal(t, repo, req)
	if !gt.RunningTotal.Equal(decimal.RequireFromString("110")) {
		t.Errorf("running total = %s, want 110", gt.RunningTotal)
	}
}

// Under the passthrough policy an unknown currency converts at 1.0.
func TestProcess_MissingRatePassthrough(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()
	ctx := context.Background()

	req := request(pts, 1, "100")
	req.Currency = "ZZW"
	if _, err := ing.Process(ctx, req); err != nil {
		t.Fatalf("Process: %v", err)
	}

	gt := groupTotal(t, repo, req)
	if !gt.RunningTotal.Equal(decimal.RequireFromString("100")) {
		t.Errorf("running total = %s, want 100", gt.RunningTotal)
	}
}

// Under the strict policy the whole ingestion rolls back, including the
// settlement row itself.
func TestProcess_MissingRateFailPolicy(t *testing.T) {
	repo, ing := setupPipeline(t, true)
	pts := freshPTS()
	ctx := context.Background()

	req := request(pts, 1, "100")
	req.Currency = "ZZW"
	_, err := ing.Process(ctx, req)
	if !apperr.IsKind(err, apperr.KindUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	latest, err := repo.FindLatestVersion(ctx, repo.DB(), req.SettlementID, pts, "PE1")
	if err != nil {
		t.Fatalf("find latest: %v", err)
	}
	if latest != nil {
		t.Error("settlement row must not survive a rolled-back ingestion")
	}
}

func TestProcess_ValidationRejectsBeforeWrite(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()
	ctx := context.Background()

	req := request(pts, 1, "100")
	req.Currency = "usd"
	if _, err := ing.Process(ctx, req); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	latest, err := repo.FindLatestVersion(ctx, repo.DB(), req.SettlementID, pts, "PE1")
	if err != nil {
		t.Fatalf("find latest: %v", err)
	}
	if latest != nil {
		t.Error("nothing may be written for an invalid message")
	}
}

// A narrowed rule keeps a settlement out of the subtotal while the row
// itself is still stored as the latest version.
func TestProcess_RuleNarrowingHidesSettlement(t *testing.T) {
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

	pts := freshPTS()
	cache := rules.NewCache(rules.NewStaticProvider([]config.StaticRule{{
		PTS:                      pts,
		ProcessingEntity:         "PE1",
		IncludedBusinessStatuses: []string{"VERIFIED"},
		IncludedDirections:       []string{"PAY"},
		IncludedSettlementTypes:  []string{"GROSS", "NET"},
	}}), time.Minute)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("rule cache: %v", err)
	}
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	ing := New(repo, cache, bus, false)

	ctx := context.Background()
	pending := request(pts, 1, "50")
	pending.BusinessStatus = "PENDING"
	if _, err := ing.Process(ctx, pending); err != nil {
		t.Fatalf("Process: %v", err)
	}

	gt := groupTotal(t, repo, pending)
	if !gt.RunningTotal.IsZero() || gt.SettlementCount != 0 {
		t.Errorf("group = %s/%d, want 0/0 under VERIFIED-only rule", gt.RunningTotal, gt.SettlementCount)
	}

	latest, err := repo.FindLatestVersion(ctx, repo.DB(), pending.SettlementID, pts, "PE1")
	if err != nil || latest == nil {
		t.Fatalf("settlement row must still be stored: %v", err)
	}
	if latest.IsOld {
		t.Error("stored row must be the active version")
	}
}

// Concurrent ingestions of the same group serialize on the group lock; the
// stored subtotal includes every contribution whatever the commit order.
func TestProcess_ConcurrentSameGroup(t *testing.T) {
	repo, ing := setupPipeline(t, false)
	pts := freshPTS()
	ctx := context.Background()

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			req := request(pts, 1, "10")
			req.SettlementID = req.SettlementID + "-" + uuid.NewString()[:8]
			_, err := ing.Process(ctx, req)
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent ingest: %v", err)
		}
	}

	gt := groupTotal(t, repo, request(pts, 1, "10"))
	if !gt.RunningTotal.Equal(decimal.RequireFromString("100")) || gt.SettlementCount != n {
		t.Errorf("group = %s/%d, want 100/%d", gt.RunningTotal, gt.SettlementCount, n)
	}
}
