package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

const settlementColumns = `
	id, settlement_id, settlement_version, pts, processing_entity,
	counterparty_id, value_date, currency, amount,
	business_status, direction, settlement_type,
	is_old, create_time, update_time`

func scanSettlement(row pgx.Row) (*models.Settlement, error) {
	var s models.Settlement
	err := row.Scan(
		&s.RefID, &s.SettlementID, &s.SettlementVersion, &s.PTS, &s.ProcessingEntity,
		&s.CounterpartyID, &s.ValueDate, &s.Currency, &s.Amount,
		&s.BusinessStatus, &s.Direction, &s.SettlementType,
		&s.IsOld, &s.CreateTime, &s.UpdateTime,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSettlement appends one settlement row and returns its ref_id. A
// duplicate of (settlement_id, pts, processing_entity, settlement_version)
// resolves to the existing row's ref_id so ingest retries stay idempotent.
func (r *Repository) SaveSettlement(ctx context.Context, q Querier, s *models.Settlement) (int64, error) {
	var refID int64
	err := q.QueryRow(ctx, `
		INSERT INTO settlement (
			settlement_id, settlement_version, pts, processing_entity,
			counterparty_id, value_date, currency, amount,
			business_status, direction, settlement_type
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ON CONSTRAINT settlement_identity_version DO NOTHING
		RETURNING id`,
		s.SettlementID, s.SettlementVersion, s.PTS, s.ProcessingEntity,
		s.CounterpartyID, s.ValueDate, s.Currency, s.Amount,
		string(s.BusinessStatus), string(s.Direction), string(s.SettlementType),
	).Scan(&refID)
	if err == nil {
		return refID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("insert settlement %s v%d: %w", s.SettlementID, s.SettlementVersion, err)
	}

	err = q.QueryRow(ctx, `
		SELECT id FROM settlement
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3 AND settlement_version = $4`,
		s.SettlementID, s.PTS, s.ProcessingEntity, s.SettlementVersion,
	).Scan(&refID)
	if err != nil {
		return 0, fmt.Errorf("fetch duplicate settlement %s v%d: %w", s.SettlementID, s.SettlementVersion, err)
	}
	return refID, nil
}

// MarkOldVersions flags every row of the identity except the latest one
// (max settlement_version, ties broken by max ref_id). Idempotent: rows
// already flagged are left alone.
func (r *Repository) MarkOldVersions(ctx context.Context, q Querier, settlementID, pts, pe string) error {
	_, err := q.Exec(ctx, `
		UPDATE settlement s
		SET is_old = TRUE, update_time = NOW()
		FROM (
			SELECT id FROM settlement
			WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3
			ORDER BY settlement_version DESC, id DESC
			LIMIT 1
		) latest
		WHERE s.settlement_id = $1 AND s.pts = $2 AND s.processing_entity = $3
		  AND s.id <> latest.id
		  AND s.is_old = FALSE`,
		settlementID, pts, pe,
	)
	if err != nil {
		return fmt.Errorf("mark old versions of %s: %w", settlementID, err)
	}
	return nil
}

// FindPreviousCounterparty returns the counterparty of the row with the
// highest ref_id strictly below currentRefID for the identity. The second
// return is false when no earlier row exists.
func (r *Repository) FindPreviousCounterparty(ctx context.Context, q Querier, settlementID, pts, pe string, currentRefID int64) (string, bool, error) {
	var cp string
	err := q.QueryRow(ctx, `
		SELECT counterparty_id FROM settlement
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3 AND id < $4
		ORDER BY id DESC
		LIMIT 1`,
		settlementID, pts, pe, currentRefID,
	).Scan(&cp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find previous counterparty of %s: %w", settlementID, err)
	}
	return cp, true, nil
}

// FindLatestVersion returns the active row of an identity, or nil when the
// identity is unknown.
func (r *Repository) FindLatestVersion(ctx context.Context, q Querier, settlementID, pts, pe string) (*models.Settlement, error) {
	s, err := scanSettlement(q.QueryRow(ctx, `
		SELECT `+settlementColumns+`
		FROM settlement
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3
		ORDER BY settlement_version DESC, id DESC
		LIMIT 1`,
		settlementID, pts, pe,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest version of %s: %w", settlementID, err)
	}
	return s, nil
}

// FindGroupLatestVersions returns, for each settlement_id in the group, its
// latest-version row with ref_id <= maxRefID, filtered by the rule's
// allowed-value sets. This is the projection the subtotal MERGE sums over.
func (r *Repository) FindGroupLatestVersions(ctx context.Context, q Querier, key models.GroupKey, maxRefID int64, rule models.CalcRule) ([]models.Settlement, error) {
	rows, err := q.Query(ctx, `
		SELECT `+settlementColumns+`
		FROM (
			SELECT DISTINCT ON (settlement_id) `+settlementColumns+`
			FROM settlement
			WHERE pts = $1 AND processing_entity = $2 AND id <= $3
			ORDER BY settlement_id, settlement_version DESC, id DESC
		) latest
		WHERE counterparty_id = $4 AND value_date = $5
		  AND business_status = ANY($6::text[])
		  AND direction = ANY($7::text[])
		  AND settlement_type = ANY($8::text[])
		ORDER BY id`,
		key.PTS, key.ProcessingEntity, maxRefID,
		key.CounterpartyID, key.ValueDate,
		rule.StatusStrings(), rule.DirectionStrings(), rule.TypeStrings(),
	)
	if err != nil {
		return nil, fmt.Errorf("find group latest versions: %w", err)
	}
	defer rows.Close()

	var out []models.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group settlement: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
