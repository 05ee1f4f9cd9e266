package model

import "time"

// Subscription status values as written to the `subscriptions.status`
// column. They mirror the payment provider's vocabulary so webhook
// reconciliation can store provider state verbatim.
const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
	SubscriptionExpired  = "expired"
)

// Subscription mirrors a row of the `subscriptions` table. A user has at
// most one live subscription at a time; historical rows are kept so the
// table may contain several rows per user, of which only the most recent
// is consulted for entitlement decisions.
//
// Fields:
//  ID                   – primary key identifier.
//  UserID               – owning user.
//  StripeCustomerID     – payment provider customer reference.
//  StripeSubscriptionID – payment provider subscription reference
//                         (unique; null until the provider confirms).
//  Status               – active | past_due | canceled | expired.
//  PlanID               – internal plan identifier (e.g. "pro_monthly").
//  PriceID              – payment provider price reference.
//  CurrentPeriodEnd     – end of the billing period currently paid for.
//  CancelAtPeriodEnd    – true when the user asked to cancel at period end.
//  CanceledAt           – when the subscription was terminally canceled.
//  CreatedAt            – timestamp of creation.
//  UpdatedAt            – timestamp of last update.
type Subscription struct {
	ID                   uint64     // subscriptions.id
	UserID               uint64     // subscriptions.user_id
	StripeCustomerID     string     // subscriptions.stripe_customer_id
	StripeSubscriptionID *string    // subscriptions.stripe_subscription_id (nullable)
	Status               string     // subscriptions.status
	PlanID               string     // subscriptions.plan_id
	PriceID              string     // subscriptions.price_id
	CurrentPeriodEnd     time.Time  // subscriptions.current_period_end
	CancelAtPeriodEnd    bool       // subscriptions.cancel_at_period_end
	CanceledAt           *time.Time // subscriptions.canceled_at (nullable)
	CreatedAt            time.Time  // subscriptions.created_at
	UpdatedAt            time.Time  // subscriptions.updated_at
}

// IsCurrent reports whether the subscription is active AND its paid
// period has not elapsed at the given instant. A row whose status is
// "active" but whose period end lies in the past does not count: the
// provider has simply not told us yet, and entitlement must not outlive
// what was paid for. This is the single place that rule is encoded.
func (s *Subscription) IsCurrent(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.Status == SubscriptionActive && s.CurrentPeriodEnd.After(now)
}
