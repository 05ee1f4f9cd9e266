package model

import "time"

// UnlimitedUsage is the sentinel limit reported for Pro users. JSON
// consumers treat a negative limit as "no limit".
const UnlimitedUsage = -1

// Usage summarizes a user's consumption against their tier ceiling.
type Usage struct {
	Current   int  `json:"current"`
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
}

// SubscriptionInfo is the client-facing summary of a subscription row.
// It is what gets serialized into the entitlement cache and into API
// responses; internal identifiers and provider references stay out.
type SubscriptionInfo struct {
	Status            string     `json:"status"`
	PlanID            string     `json:"planId"`
	CurrentPeriodEnd  time.Time  `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	CanceledAt        *time.Time `json:"canceledAt,omitempty"`
}

// Summary converts a stored subscription row into its client-facing form.
func (s *Subscription) Summary() *SubscriptionInfo {
	if s == nil {
		return nil
	}
	return &SubscriptionInfo{
		Status:            s.Status,
		PlanID:            s.PlanID,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CanceledAt:        s.CanceledAt,
	}
}

// SubscriptionStatus is the derived entitlement view returned to clients
// and held in the entitlement cache. It is never persisted durably.
//
// IsActive means a subscription row exists whose status is "active" and
// whose billing period has not elapsed (Subscription.IsCurrent). IsPro is
// the entitlement class derived from that; today the two coincide, but
// IsPro is the field authorization must consult.
type SubscriptionStatus struct {
	IsActive     bool              `json:"isActive"`
	IsPro        bool              `json:"isPro"`
	Subscription *SubscriptionInfo `json:"subscription,omitempty"`
	Usage        Usage             `json:"usage"`
	ComputedAt   time.Time         `json:"computedAt"`
}

// GenerateDecision answers "may this user generate a document right now".
// A false decision is an expected business outcome, not an error; Reason
// carries the user-facing explanation.
type GenerateDecision struct {
	CanGenerate bool   `json:"canGenerate"`
	Reason      string `json:"reason,omitempty"`
}

// UsageReceipt is returned after recording a usage event. RemainingUses
// is UnlimitedUsage for Pro users, otherwise the free-tier allowance left
// after this event, clamped at zero.
type UsageReceipt struct {
	Success       bool   `json:"success"`
	RemainingUses int    `json:"remainingUses"`
	Error         string `json:"error,omitempty"`
}
