package repository

import (
	"context"
	"database/sql"

	"github.com/worksheetlab/worksheet-api/internal/database"
	"github.com/worksheetlab/worksheet-api/internal/model"
)

// UsageRepo provides append and count operations over the 'usage_events'
// table. Usage rows are append-only: they are never updated or deleted
// individually, only aggregated by count and cascaded away with the
// owning account.
type UsageRepo struct{ DB *sql.DB }

func NewUsageRepo(db *sql.DB) *UsageRepo { return &UsageRepo{DB: db} }

// CountByUser returns how many usage events the user has recorded.
func (r *UsageRepo) CountByUser(ctx context.Context, userID uint64) (int, error) {
	var n int
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM usage_events WHERE user_id=?", userID).Scan(&n)
	})
	return n, storeErr(err)
}

// Record appends a usage event and advances the denormalized
// users.lifetime_usage counter in a single transaction: either both
// writes commit or neither does. The insert is deliberately not retried,
// a retry after an ambiguous failure could double-record the event.
func (r *UsageRepo) Record(ctx context.Context, ev model.UsageEvent) (uint64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO usage_events (user_id, document_type, subject, grade, language) VALUES (?,?,?,?,?)",
		ev.UserID, ev.DocumentType, ev.Subject, ev.Grade, ev.Language)
	if err != nil {
		return 0, storeErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET lifetime_usage=lifetime_usage+1 WHERE id=?", ev.UserID); err != nil {
		return 0, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr(err)
	}
	return uint64(id), nil
}
