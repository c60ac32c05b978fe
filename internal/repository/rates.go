package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

// UpsertRate stores or refreshes a currency's USD rate. Idempotent.
func (r *Repository) UpsertRate(ctx context.Context, currency string, rate decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO exchange_rate (currency, rate_to_usd, update_time)
		VALUES ($1, $2, NOW())
		ON CONFLICT (currency) DO UPDATE SET
			rate_to_usd = EXCLUDED.rate_to_usd,
			update_time = EXCLUDED.update_time`,
		currency, rate,
	)
	if err != nil {
		return fmt.Errorf("upsert rate %s: %w", currency, err)
	}
	return nil
}

func (r *Repository) GetRate(ctx context.Context, currency string) (*models.ExchangeRate, error) {
	var er models.ExchangeRate
	err := r.db.QueryRow(ctx, `
		SELECT currency, rate_to_usd, update_time FROM exchange_rate WHERE currency = $1`,
		currency,
	).Scan(&er.Currency, &er.RateToUSD, &er.UpdateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rate %s: %w", currency, err)
	}
	er.Currency = strings.TrimSpace(er.Currency)
	return &er, nil
}

func (r *Repository) ListRates(ctx context.Context) ([]models.ExchangeRate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT currency, rate_to_usd, update_time FROM exchange_rate ORDER BY currency`)
	if err != nil {
		return nil, fmt.Errorf("list rates: %w", err)
	}
	defer rows.Close()

	var out []models.ExchangeRate
	for rows.Next() {
		var er models.ExchangeRate
		if err := rows.Scan(&er.Currency, &er.RateToUSD, &er.UpdateTime); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		er.Currency = strings.TrimSpace(er.Currency)
		out = append(out, er)
	}
	return out, rows.Err()
}
