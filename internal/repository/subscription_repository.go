package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/worksheetlab/worksheet-api/internal/database"
	"github.com/worksheetlab/worksheet-api/internal/model"
)

// SubscriptionRepo provides access to the 'subscriptions' table. The
// table may hold historical rows per user; only the most recent row is
// consulted for entitlement decisions. Rows are keyed for reconciliation
// by the unique stripe_subscription_id column, which makes repeated
// webhook deliveries naturally idempotent: writing the same state twice
// leaves the row unchanged.
type SubscriptionRepo struct{ DB *sql.DB }

func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo { return &SubscriptionRepo{DB: db} }

const subscriptionColumns = "id,user_id,stripe_customer_id,stripe_subscription_id,status,plan_id,price_id,current_period_end,cancel_at_period_end,canceled_at,created_at,updated_at"

func scanSubscription(row *sql.Row) (model.Subscription, error) {
	var (
		s          model.Subscription
		providerID sql.NullString
		canceledAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.StripeCustomerID, &providerID, &s.Status,
		&s.PlanID, &s.PriceID, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd,
		&canceledAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Subscription{}, err
	}
	if providerID.Valid {
		s.StripeSubscriptionID = &providerID.String
	}
	if canceledAt.Valid {
		t := canceledAt.Time
		s.CanceledAt = &t
	}
	return s, nil
}

// LatestByUser returns the user's most recent subscription row, or
// ErrNotFound when the user never subscribed.
func (r *SubscriptionRepo) LatestByUser(ctx context.Context, userID uint64) (model.Subscription, error) {
	var s model.Subscription
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		s, scanErr = scanSubscription(r.DB.QueryRowContext(ctx,
			"SELECT "+subscriptionColumns+" FROM subscriptions WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT 1",
			userID))
		return scanErr
	})
	return s, storeErr(err)
}

// GetByProviderID returns the row for a payment provider subscription
// reference, or ErrNotFound.
func (r *SubscriptionRepo) GetByProviderID(ctx context.Context, providerSubID string) (model.Subscription, error) {
	var s model.Subscription
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		s, scanErr = scanSubscription(r.DB.QueryRowContext(ctx,
			"SELECT "+subscriptionColumns+" FROM subscriptions WHERE stripe_subscription_id=? LIMIT 1",
			providerSubID))
		return scanErr
	})
	return s, storeErr(err)
}

// Upsert writes the latest known provider state for a subscription,
// inserting the row on first sight of the provider id and overwriting
// status, period end, plan, price and cancel flag afterwards. Applying
// the same event twice converges on identical stored state.
func (r *SubscriptionRepo) Upsert(ctx context.Context, s model.Subscription) error {
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		_, execErr := r.DB.ExecContext(ctx, `
			INSERT INTO subscriptions
				(user_id, stripe_customer_id, stripe_subscription_id, status, plan_id, price_id, current_period_end, cancel_at_period_end)
			VALUES (?,?,?,?,?,?,?,?)
			ON DUPLICATE KEY UPDATE
				status=VALUES(status),
				plan_id=VALUES(plan_id),
				price_id=VALUES(price_id),
				current_period_end=VALUES(current_period_end),
				cancel_at_period_end=VALUES(cancel_at_period_end)`,
			s.UserID, s.StripeCustomerID, s.StripeSubscriptionID, s.Status,
			s.PlanID, s.PriceID, s.CurrentPeriodEnd.UTC(), s.CancelAtPeriodEnd)
		return execErr
	})
	return storeErr(err)
}

// UpdateStatus sets the status of a row identified by provider
// subscription id. When the new status is terminal ("canceled"), the
// canceled_at timestamp is stamped once and kept on repeat deliveries.
func (r *SubscriptionRepo) UpdateStatus(ctx context.Context, providerSubID, status string) error {
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		var execErr error
		if status == model.SubscriptionCanceled {
			_, execErr = r.DB.ExecContext(ctx,
				"UPDATE subscriptions SET status=?, canceled_at=COALESCE(canceled_at, NOW()) WHERE stripe_subscription_id=?",
				status, providerSubID)
		} else {
			_, execErr = r.DB.ExecContext(ctx,
				"UPDATE subscriptions SET status=? WHERE stripe_subscription_id=?",
				status, providerSubID)
		}
		return execErr
	})
	return storeErr(err)
}

// UpdateCancelFlag flips cancel_at_period_end on the user's current
// subscription row. Used by user-initiated cancellation and
// reactivation; the terminal transition itself comes from the provider.
func (r *SubscriptionRepo) UpdateCancelFlag(ctx context.Context, subscriptionID uint64, cancelAtPeriodEnd bool) error {
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		_, execErr := r.DB.ExecContext(ctx,
			"UPDATE subscriptions SET cancel_at_period_end=? WHERE id=?",
			cancelAtPeriodEnd, subscriptionID)
		return execErr
	})
	return storeErr(err)
}

// MarkCanceled terminally cancels a row by internal id (admin override
// path, no provider round-trip).
func (r *SubscriptionRepo) MarkCanceled(ctx context.Context, subscriptionID uint64, at time.Time) error {
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		_, execErr := r.DB.ExecContext(ctx,
			"UPDATE subscriptions SET status=?, canceled_at=COALESCE(canceled_at, ?) WHERE id=?",
			model.SubscriptionCanceled, at.UTC(), subscriptionID)
		return execErr
	})
	return storeErr(err)
}
