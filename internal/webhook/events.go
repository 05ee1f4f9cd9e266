package webhook

// The provider's webhook payloads are dynamic JSON; after signature
// verification they are narrowed into this tagged union so every event
// the reconciler acts on is an explicit case. Anything else becomes
// IgnoredEvent rather than falling through a default.

import "time"

// Event is one verified, decoded provider event.
type Event interface{ isEvent() }

// CheckoutCompletedEvent links a provider customer to a user. It causes
// no subscription writes; subscription creation is driven by its own
// event.
type CheckoutCompletedEvent struct {
	CustomerID string
	UserID     uint64 // from metadata/client reference; 0 when absent
}

// SubscriptionUpsertEvent covers both "subscription created" and
// "subscription updated": each is applied as the latest known provider
// state for the subscription, which makes duplicate and out-of-order
// delivery harmless.
type SubscriptionUpsertEvent struct {
	ProviderSubID     string
	CustomerID        string
	UserID            uint64 // from metadata; 0 when absent
	Status            string
	PlanID            string
	PriceID           string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// SubscriptionDeletedEvent terminally cancels a subscription.
type SubscriptionDeletedEvent struct {
	ProviderSubID string
	CustomerID    string
}

// InvoicePaymentEvent flips the subscription status on payment outcome:
// succeeded reactivates, failed marks past due.
type InvoicePaymentEvent struct {
	ProviderSubID string
	CustomerID    string
	Succeeded     bool
}

// IgnoredEvent is any event type the reconciler does not act on. It is
// acknowledged with 200 so the provider stops redelivering it.
type IgnoredEvent struct {
	Type string
}

func (CheckoutCompletedEvent) isEvent()   {}
func (SubscriptionUpsertEvent) isEvent()  {}
func (SubscriptionDeletedEvent) isEvent() {}
func (InvoicePaymentEvent) isEvent()      {}
func (IgnoredEvent) isEvent()             {}
