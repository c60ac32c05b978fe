package status

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/repository"
)

// Limits resolves the USD exposure limit for a counterparty.
type Limits interface {
	LimitFor(ctx context.Context, counterpartyID string) (decimal.Decimal, error)
}

// FixedLimits applies the same limit to every counterparty.
type FixedLimits struct {
	Limit decimal.Decimal
}

// DefaultLimit is used when no limit is configured.
var DefaultLimit = decimal.RequireFromString("500000000.00")

func NewFixedLimits(limit decimal.Decimal) FixedLimits {
	if limit.IsZero() {
		limit = DefaultLimit
	}
	return FixedLimits{Limit: limit}
}

func (f FixedLimits) LimitFor(ctx context.Context, counterpartyID string) (decimal.Decimal, error) {
	return f.Limit, nil
}

// TableLimits reads per-counterparty limits from the counterparty_limit
// table, falling back to a fixed limit for counterparties without a row.
type TableLimits struct {
	repo     *repository.Repository
	fallback decimal.Decimal
}

func NewTableLimits(repo *repository.Repository, fallback decimal.Decimal) *TableLimits {
	if fallback.IsZero() {
		fallback = DefaultLimit
	}
	return &TableLimits{repo: repo, fallback: fallback}
}

func (t *TableLimits) LimitFor(ctx context.Context, counterpartyID string) (decimal.Decimal, error) {
	limit, found, err := t.repo.GetCounterpartyLimit(ctx, counterpartyID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !found {
		return t.fallback, nil
	}
	return limit, nil
}
