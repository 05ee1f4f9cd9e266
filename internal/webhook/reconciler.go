// Package webhook consumes the payment provider's event stream and
// reconciles it into the persistent store. Events are verified against
// the shared endpoint secret before anything is parsed, applied as
// idempotent "latest known state" writes keyed by the provider
// subscription id, and followed by cache invalidation for the owning
// user. Duplicate or out-of-order delivery converges on the same rows.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"

	"github.com/worksheetlab/worksheet-api/internal/billing"
	"github.com/worksheetlab/worksheet-api/internal/model"
	"github.com/worksheetlab/worksheet-api/internal/queue"
	"github.com/worksheetlab/worksheet-api/internal/repository"
	queue_publisher "github.com/worksheetlab/worksheet-api/internal/service"
)

// ErrSignature marks a payload that failed signature verification.
// Nothing is written and the handler answers 400; the provider must not
// retry a definitively rejected delivery.
var ErrSignature = errors.New("webhook signature verification failed")

// ErrPayload marks a verified event whose payload could not be decoded.
var ErrPayload = errors.New("webhook payload invalid")

// SubscriptionStore is the slice of the subscription repository the
// reconciler writes through.
type SubscriptionStore interface {
	GetByProviderID(ctx context.Context, providerSubID string) (model.Subscription, error)
	Upsert(ctx context.Context, s model.Subscription) error
	UpdateStatus(ctx context.Context, providerSubID, status string) error
}

// UserStore resolves provider customer references to users.
type UserStore interface {
	GetByStripeCustomer(ctx context.Context, customerID string) (model.User, error)
	SetStripeCustomer(ctx context.Context, userID uint64, customerID string) error
}

// Invalidator drops a user's cached entitlement entries after a write.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID uint64)
}

// Result reports what a processed delivery did. Applied is false for
// ignored event types and for events whose target row or user could not
// be found; both still answer 200 so the provider stops redelivering.
type Result struct {
	Type    string
	Applied bool
	UserID  uint64
}

// Reconciler applies verified provider events to the store.
type Reconciler struct {
	secret string
	subs   SubscriptionStore
	users  UserStore
	ents   Invalidator

	now     func() time.Time
	publish func(ctx context.Context, ev queue.SubscriptionChangedEvent) error
}

// NewReconciler builds a Reconciler. secret is the webhook endpoint
// secret shared with the provider.
func NewReconciler(secret string, subs SubscriptionStore, users UserStore, ents Invalidator) *Reconciler {
	return &Reconciler{
		secret:  secret,
		subs:    subs,
		users:   users,
		ents:    ents,
		now:     time.Now,
		publish: queue_publisher.PublishSubscriptionChanged,
	}
}

// Process verifies, decodes and applies one raw webhook delivery. The
// payload must be the unmodified request body: the signature covers the
// exact bytes sent by the provider.
func (r *Reconciler) Process(ctx context.Context, payload []byte, sigHeader string) (Result, error) {
	event, err := stripewebhook.ConstructEventWithOptions(payload, sigHeader, r.secret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	decoded, err := decodeEvent(event)
	if err != nil {
		return Result{Type: string(event.Type)}, err
	}
	return r.apply(ctx, string(event.Type), decoded)
}

// decodeEvent narrows a verified provider event into the tagged union.
func decodeEvent(event stripe.Event) (Event, error) {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrPayload, err)
		}
		ev := CheckoutCompletedEvent{UserID: metadataUserID(sess.Metadata)}
		if ev.UserID == 0 && sess.ClientReferenceID != "" {
			if id, err := strconv.ParseUint(sess.ClientReferenceID, 10, 64); err == nil {
				ev.UserID = id
			}
		}
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		return ev, nil

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", ErrPayload, err)
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: subscription id missing", ErrPayload)
		}
		ev := SubscriptionUpsertEvent{
			ProviderSubID:     sub.ID,
			UserID:            metadataUserID(sub.Metadata),
			Status:            mapStatus(sub.Status),
			CurrentPeriodEnd:  time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			p := sub.Items.Data[0].Price
			ev.PriceID = p.ID
			ev.PlanID = p.Nickname
		}
		if ev.PlanID == "" {
			ev.PlanID = "pro"
		}
		return ev, nil

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", ErrPayload, err)
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: subscription id missing", ErrPayload)
		}
		ev := SubscriptionDeletedEvent{ProviderSubID: sub.ID}
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		return ev, nil

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice: %v", ErrPayload, err)
		}
		ev := InvoicePaymentEvent{Succeeded: event.Type == "invoice.payment_succeeded"}
		if inv.Subscription != nil {
			ev.ProviderSubID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
		if ev.ProviderSubID == "" {
			// One-off invoices carry no subscription; nothing to reconcile.
			return IgnoredEvent{Type: string(event.Type)}, nil
		}
		return ev, nil

	default:
		return IgnoredEvent{Type: string(event.Type)}, nil
	}
}

func metadataUserID(md map[string]string) uint64 {
	if md == nil {
		return 0
	}
	if v, ok := md[billing.MetadataUserID]; ok {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// mapStatus folds the provider's status vocabulary onto ours. Trialing
// counts as active (the trial period is paid-for time); unpaid folds
// into past_due; the incomplete states are expired from our point of
// view.
func mapStatus(s stripe.SubscriptionStatus) string {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return model.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return model.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled:
		return model.SubscriptionCanceled
	default:
		return model.SubscriptionExpired
	}
}

// apply routes one decoded event through the state machine. Store
// failures propagate so the handler answers 500 and the provider
// retries; unresolvable references are logged and acknowledged, since
// redelivery cannot fix them.
func (r *Reconciler) apply(ctx context.Context, eventType string, decoded Event) (Result, error) {
	res := Result{Type: eventType}

	switch ev := decoded.(type) {
	case IgnoredEvent:
		log.Printf("reconciler: ignoring event type %s", ev.Type)
		return res, nil

	case CheckoutCompletedEvent:
		if ev.UserID == 0 || ev.CustomerID == "" {
			log.Printf("reconciler: checkout completed without user reference, customer=%q", ev.CustomerID)
			return res, nil
		}
		if err := r.users.SetStripeCustomer(ctx, ev.UserID, ev.CustomerID); err != nil {
			return res, err
		}
		res.Applied = true
		res.UserID = ev.UserID
		return res, nil

	case SubscriptionUpsertEvent:
		userID, err := r.resolveUser(ctx, ev.UserID, ev.CustomerID)
		if err != nil {
			return res, err
		}
		if userID == 0 {
			log.Printf("reconciler: no user for subscription %s (customer=%q); skipping", ev.ProviderSubID, ev.CustomerID)
			return res, nil
		}
		sub := model.Subscription{
			UserID:               userID,
			StripeCustomerID:     ev.CustomerID,
			StripeSubscriptionID: &ev.ProviderSubID,
			Status:               ev.Status,
			PlanID:               ev.PlanID,
			PriceID:              ev.PriceID,
			CurrentPeriodEnd:     ev.CurrentPeriodEnd,
			CancelAtPeriodEnd:    ev.CancelAtPeriodEnd,
		}
		if err := r.subs.Upsert(ctx, sub); err != nil {
			return res, err
		}
		if ev.UserID != 0 && ev.CustomerID != "" {
			// Keep the user row's customer reference in sync; idempotent.
			if err := r.users.SetStripeCustomer(ctx, userID, ev.CustomerID); err != nil {
				log.Printf("reconciler: link customer %s to user %d failed: %v", ev.CustomerID, userID, err)
			}
		}
		return r.applied(ctx, res, userID, ev.ProviderSubID, ev.Status, ev.CancelAtPeriodEnd), nil

	case SubscriptionDeletedEvent:
		return r.transition(ctx, res, ev.ProviderSubID, model.SubscriptionCanceled)

	case InvoicePaymentEvent:
		status := model.SubscriptionPastDue
		if ev.Succeeded {
			status = model.SubscriptionActive
		}
		return r.transition(ctx, res, ev.ProviderSubID, status)
	}

	log.Printf("reconciler: unhandled decoded event %T", decoded)
	return res, nil
}

// transition sets the status of an existing row. A missing row is logged
// and acknowledged; everything else either applies or propagates.
func (r *Reconciler) transition(ctx context.Context, res Result, providerSubID, status string) (Result, error) {
	sub, err := r.subs.GetByProviderID(ctx, providerSubID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("reconciler: no subscription row for %s; skipping %s", providerSubID, res.Type)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if err := r.subs.UpdateStatus(ctx, providerSubID, status); err != nil {
		return res, err
	}
	return r.applied(ctx, res, sub.UserID, providerSubID, status, sub.CancelAtPeriodEnd), nil
}

// applied finalizes a successful write: invalidate the owner's cached
// entitlement entries and publish the change for downstream consumers.
func (r *Reconciler) applied(ctx context.Context, res Result, userID uint64, providerSubID, status string, cancelAtPeriodEnd bool) Result {
	res.Applied = true
	res.UserID = userID
	r.ents.InvalidateUser(ctx, userID)
	if err := r.publish(ctx, queue.SubscriptionChangedEvent{
		UserID:            userID,
		ProviderSubID:     providerSubID,
		Status:            status,
		CancelAtPeriodEnd: cancelAtPeriodEnd,
		Source:            "webhook",
		ChangedAt:         r.now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("reconciler: publish subscription event failed for user %d: %v", userID, err)
	}
	return res
}

// resolveUser prefers the user id carried in event metadata and falls
// back to the stored customer reference.
func (r *Reconciler) resolveUser(ctx context.Context, metaUserID uint64, customerID string) (uint64, error) {
	if metaUserID != 0 {
		return metaUserID, nil
	}
	if customerID == "" {
		return 0, nil
	}
	u, err := r.users.GetByStripeCustomer(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}
