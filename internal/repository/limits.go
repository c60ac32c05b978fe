package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// GetCounterpartyLimit returns the stored exposure limit for a counterparty.
// The second return is false when no row exists; the caller falls back to
// the fixed default.
func (r *Repository) GetCounterpartyLimit(ctx context.Context, counterpartyID string) (decimal.Decimal, bool, error) {
	var limit decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT exposure_limit FROM counterparty_limit WHERE counterparty_id = $1`,
		counterpartyID,
	).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("get counterparty limit %s: %w", counterpartyID, err)
	}
	return limit, true, nil
}

// UpsertCounterpartyLimit stores or refreshes a counterparty's exposure
// limit. Idempotent.
func (r *Repository) UpsertCounterpartyLimit(ctx context.Context, counterpartyID string, limit decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO counterparty_limit (counterparty_id, exposure_limit, update_time)
		VALUES ($1, $2, NOW())
		ON CONFLICT (counterparty_id) DO UPDATE SET
			exposure_limit = EXCLUDED.exposure_limit,
			update_time = EXCLUDED.update_time`,
		counterpartyID, limit,
	)
	if err != nil {
		return fmt.Errorf("upsert counterparty limit %s: %w", counterpartyID, err)
	}
	return nil
}
