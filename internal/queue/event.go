// Package queue defines message payloads exchanged over the message broker.
package queue

// DocumentGeneratedEvent is published after a usage event has been
// durably recorded. It carries enough information for downstream
// consumers (activity log, admin analytics) without querying the
// primary database.
type DocumentGeneratedEvent struct {
	UsageEventID  uint64 `json:"usage_event_id"`
	UserID        uint64 `json:"user_id"`
	DocumentType  string `json:"document_type"`
	Subject       string `json:"subject"`
	Grade         string `json:"grade"`
	Language      string `json:"language"`
	Pro           bool   `json:"pro"`
	RemainingUses int    `json:"remaining_uses"`
	RecordedAt    string `json:"recorded_at"`
}

// SubscriptionChangedEvent is published after the webhook reconciler or
// the entitlement service applies a subscription state change to the
// store.
type SubscriptionChangedEvent struct {
	UserID            uint64 `json:"user_id"`
	ProviderSubID     string `json:"provider_subscription_id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Source            string `json:"source"` // "webhook" | "user" | "admin"
	ChangedAt         string `json:"changed_at"`
}
