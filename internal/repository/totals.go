package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/colinzhu/limit-monitoring-sub000/internal/apperr"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

// groupProjection is the rule-filtered latest-version set of a group under a
// ref_id upper bound. RecomputeGroupTotal reads it unbounded; the bound
// exists for as-of reads.
const groupProjection = `
	SELECT id, amount, currency
	FROM (
		SELECT DISTINCT ON (settlement_id)
			id, amount, currency, counterparty_id, value_date,
			business_status, direction, settlement_type
		FROM settlement
		WHERE pts = $1 AND processing_entity = $2 AND id <= $5
		ORDER BY settlement_id, settlement_version DESC, id DESC
	) latest
	WHERE counterparty_id = $3 AND value_date = $4
	  AND business_status = ANY($6::text[])
	  AND direction = ANY($7::text[])
	  AND settlement_type = ANY($8::text[])`

// noSeqBound makes the projection read every visible row.
const noSeqBound = int64(1) << 62

// RecomputeGroupTotal recomputes a group's USD subtotal from every visible
// latest-version row and upserts the group row. Recomputations of the same
// group serialize on a per-group advisory lock held to the end of the
// caller's transaction, so by the time the projection runs every earlier
// writer's rows are committed and visible; the last recomputation in lock
// order always carries the complete subtotal, whatever the commit order. The
// stored ref_id is the highest sequence id the subtotal covers and never
// moves backwards.
//
// failOnMissingRate selects the strict policy: error out instead of treating
// an absent exchange rate as 1.0.
func (r *Repository) RecomputeGroupTotal(ctx context.Context, q Querier, key models.GroupKey, refID int64, rule models.CalcRule, failOnMissingRate bool) error {
	lockKey := strings.Join([]string{
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate.Format(models.DateOnly),
	}, "|")
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return fmt.Errorf("lock group for recompute: %w", err)
	}

	args := []any{
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate, noSeqBound,
		rule.StatusStrings(), rule.DirectionStrings(), rule.TypeStrings(),
	}

	if failOnMissingRate {
		rows, err := q.Query(ctx, `
			SELECT DISTINCT p.currency
			FROM (`+groupProjection+`) p
			WHERE NOT EXISTS (
				SELECT 1 FROM exchange_rate er WHERE er.currency = p.currency
			)`, args...)
		if err != nil {
			return fmt.Errorf("check exchange rates for group: %w", err)
		}
		missing, err := collectStrings(rows)
		if err != nil {
			return fmt.Errorf("scan missing currencies: %w", err)
		}
		if len(missing) > 0 {
			return apperr.Upstream("no exchange rate for "+strings.Join(missing, ", "), nil)
		}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO running_total (
			pts, processing_entity, counterparty_id, value_date,
			running_total, settlement_count, ref_id, create_time, update_time
		)
		SELECT
			$1, $2, $3, $4,
			COALESCE(SUM(p.amount * COALESCE(er.rate_to_usd, 1)), 0),
			COUNT(p.id),
			GREATEST(COALESCE(MAX(p.id), 0), $9),
			NOW(), NOW()
		FROM (`+groupProjection+`) p
		LEFT JOIN exchange_rate er ON er.currency = p.currency
		ON CONFLICT ON CONSTRAINT running_total_group DO UPDATE SET
			running_total = EXCLUDED.running_total,
			settlement_count = EXCLUDED.settlement_count,
			ref_id = GREATEST(running_total.ref_id, EXCLUDED.ref_id),
			update_time = EXCLUDED.update_time`,
		append(args, refID)...)
	if err != nil {
		return fmt.Errorf("recompute group total: %w", err)
	}
	return nil
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, rows.Err()
}

// GetGroupTotal returns the group row, or nil when the group has never had a
// contribution.
func (r *Repository) GetGroupTotal(ctx context.Context, q Querier, key models.GroupKey) (*models.GroupTotal, error) {
	var gt models.GroupTotal
	err := q.QueryRow(ctx, `
		SELECT pts, processing_entity, counterparty_id, value_date,
		       running_total, settlement_count, ref_id, create_time, update_time
		FROM running_total
		WHERE pts = $1 AND processing_entity = $2 AND counterparty_id = $3 AND value_date = $4`,
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate,
	).Scan(
		&gt.PTS, &gt.ProcessingEntity, &gt.CounterpartyID, &gt.ValueDate,
		&gt.RunningTotal, &gt.SettlementCount, &gt.RefID, &gt.CreateTime, &gt.UpdateTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group total: %w", err)
	}
	return &gt, nil
}
