package ingester

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/colinzhu/limit-monitoring-sub000/internal/eventbus"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
	"github.com/colinzhu/limit-monitoring-sub000/internal/repository"
	"github.com/colinzhu/limit-monitoring-sub000/internal/rules"
)

// Ingester drives the settlement write path. Each Process call runs one
// database transaction covering the append, the old-version flags and every
// affected group recomputation, so a group subtotal is never visible without
// the settlement row that produced it.
type Ingester struct {
	repo              *repository.Repository
	rules             *rules.Cache
	bus               *eventbus.Bus
	failOnMissingRate bool
}

func New(repo *repository.Repository, ruleCache *rules.Cache, bus *eventbus.Bus, failOnMissingRate bool) *Ingester {
	return &Ingester{
		repo:              repo,
		rules:             ruleCache,
		bus:               bus,
		failOnMissingRate: failOnMissingRate,
	}
}

// Process validates and ingests one settlement message, returning the ref_id
// assigned to it. A replay of an already-seen (identity, version) returns the
// original ref_id and still recomputes the affected groups, converging on the
// same subtotal.
func (ing *Ingester) Process(ctx context.Context, req *Request) (int64, error) {
	s, err := req.Validate()
	if err != nil {
		return 0, err
	}

	start := time.Now()

	tx, err := ing.repo.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	refID, err := ing.repo.SaveSettlement(ctx, tx, s)
	if err != nil {
		return 0, err
	}
	s.RefID = refID

	if err := ing.repo.MarkOldVersions(ctx, tx, s.SettlementID, s.PTS, s.ProcessingEntity); err != nil {
		return 0, err
	}

	// The new row's group always recomputes. When an earlier version of the
	// identity sat under a different counterparty, that group lost a member
	// and recomputes too, inside the same transaction.
	groups := []models.GroupKey{s.GroupKey()}
	prevCP, found, err := ing.repo.FindPreviousCounterparty(ctx, tx, s.SettlementID, s.PTS, s.ProcessingEntity, refID)
	if err != nil {
		return 0, err
	}
	if found && prevCP != s.CounterpartyID {
		old := s.GroupKey()
		old.CounterpartyID = prevCP
		groups = append(groups, old)
		log.Printf("[ingester] counterparty moved %s -> %s for %s v%d, recomputing both groups",
			prevCP, s.CounterpartyID, s.SettlementID, s.SettlementVersion)
		// Fixed recompute order so two transactions touching the same pair of
		// groups take the group locks consistently.
		sort.Slice(groups, func(i, j int) bool {
			return groups[i].CounterpartyID < groups[j].CounterpartyID
		})
	}

	rule := ing.rules.Get(s.PTS, s.ProcessingEntity)
	for _, key := range groups {
		if err := ing.repo.RecomputeGroupTotal(ctx, tx, key, refID, rule, ing.failOnMissingRate); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	log.Printf("[ingester] processed %s v%d ref_id=%d groups=%d in %s",
		s.SettlementID, s.SettlementVersion, refID, len(groups), time.Since(start))

	// Events fire after commit; subscribers only ever see durable state.
	ing.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeSettlementIngested,
		RefID:     refID,
		Timestamp: time.Now(),
		Data:      s,
	})
	for _, key := range groups {
		ing.bus.Publish(eventbus.Event{
			Type:      eventbus.TypeGroupRecalculated,
			RefID:     refID,
			Timestamp: time.Now(),
			Data:      key,
		})
	}

	return refID, nil
}
