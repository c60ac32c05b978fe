package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/colinzhu/limit-monitoring-sub000/internal/apperr"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

// InsertActivity appends one ledger row. The approvals service re-verifies
// the segregation-of-duties precondition on the same transaction before
// calling this; the unique index on (settlement_id, settlement_version,
// user_id) rejects the second of two racing actions by the same user.
func (r *Repository) InsertActivity(ctx context.Context, q Querier, a *models.Activity) error {
	err := q.QueryRow(ctx, `
		INSERT INTO activities (
			id, pts, processing_entity, settlement_id, settlement_version,
			user_id, user_name, action, comment
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING create_time`,
		a.ID, a.PTS, a.ProcessingEntity, a.SettlementID, a.SettlementVersion,
		a.UserID, a.UserName, string(a.Action), a.Comment,
	).Scan(&a.CreateTime)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict(fmt.Sprintf("user %s already recorded an action for %s v%d", a.UserID, a.SettlementID, a.SettlementVersion))
		}
		return fmt.Errorf("insert activity %s for %s v%d: %w", a.Action, a.SettlementID, a.SettlementVersion, err)
	}
	return nil
}

// HasRequestRelease reports whether any REQUEST_RELEASE row exists for the
// settlement version.
func (r *Repository) HasRequestRelease(ctx context.Context, q Querier, settlementID string, version int64) (bool, error) {
	return r.hasAction(ctx, q, settlementID, version, "", models.ActionRequestRelease)
}

// IsAuthorised reports whether any AUTHORISE row exists for the settlement
// version.
func (r *Repository) IsAuthorised(ctx context.Context, q Querier, settlementID string, version int64) (bool, error) {
	return r.hasAction(ctx, q, settlementID, version, "", models.ActionAuthorise)
}

// HasActionBy reports whether the given user already recorded the given
// action for the settlement version.
func (r *Repository) HasActionBy(ctx context.Context, q Querier, settlementID string, version int64, userID string, action models.ActivityAction) (bool, error) {
	return r.hasAction(ctx, q, settlementID, version, userID, action)
}

func (r *Repository) hasAction(ctx context.Context, q Querier, settlementID string, version int64, userID string, action models.ActivityAction) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM activities
			WHERE settlement_id = $1 AND settlement_version = $2 AND action = $3
			  AND ($4 = '' OR user_id = $4)
		)`,
		settlementID, version, string(action), userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s for %s v%d: %w", action, settlementID, version, err)
	}
	return exists, nil
}

// WorkflowInfo returns the requesters and authorisers recorded for one
// settlement version. A new version starts with an empty ledger, which is
// what invalidates prior approvals.
func (r *Repository) WorkflowInfo(ctx context.Context, q Querier, settlementID string, version int64) (models.WorkflowInfo, error) {
	wf := models.WorkflowInfo{
		Requesters:  []string{},
		Authorisers: []string{},
	}

	rows, err := q.Query(ctx, `
		SELECT user_id, action FROM activities
		WHERE settlement_id = $1 AND settlement_version = $2
		ORDER BY create_time, id`,
		settlementID, version,
	)
	if err != nil {
		return wf, fmt.Errorf("workflow info for %s v%d: %w", settlementID, version, err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, action string
		if err := rows.Scan(&userID, &action); err != nil {
			return wf, fmt.Errorf("scan activity: %w", err)
		}
		switch models.ActivityAction(action) {
		case models.ActionRequestRelease:
			wf.Requesters = append(wf.Requesters, userID)
		case models.ActionAuthorise:
			wf.Authorisers = append(wf.Authorisers, userID)
		}
	}
	return wf, rows.Err()
}

// ListActivities returns the full ledger for one settlement version, newest
// last.
func (r *Repository) ListActivities(ctx context.Context, settlementID string, version int64) ([]models.Activity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, pts, processing_entity, settlement_id, settlement_version,
		       user_id, user_name, action, COALESCE(comment, ''), create_time
		FROM activities
		WHERE settlement_id = $1 AND settlement_version = $2
		ORDER BY create_time, id`,
		settlementID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("list activities for %s v%d: %w", settlementID, version, err)
	}
	defer rows.Close()

	var out []models.Activity
	for rows.Next() {
		var a models.Activity
		if err := rows.Scan(
			&a.ID, &a.PTS, &a.ProcessingEntity, &a.SettlementID, &a.SettlementVersion,
			&a.UserID, &a.UserName, &a.Action, &a.Comment, &a.CreateTime,
		); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
