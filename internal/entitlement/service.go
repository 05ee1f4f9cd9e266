// Package entitlement is the single source of truth for "may this user
// generate another document right now". It computes subscription status
// and usage quota from the persistent store, serves decisions through a
// short-TTL read-through cache, records usage, and issues cancel and
// reactivate commands toward the payment provider.
//
// Gateway commands are optimistic: the local row is updated even when
// the provider call fails, because the webhook reconciler converges
// local state onto provider state as soon as the provider's events
// arrive. The reverse never happens; entitlement reads only touch the
// store and the cache.
package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/worksheetlab/worksheet-api/internal/cache"
	"github.com/worksheetlab/worksheet-api/internal/config"
	"github.com/worksheetlab/worksheet-api/internal/model"
	"github.com/worksheetlab/worksheet-api/internal/queue"
	"github.com/worksheetlab/worksheet-api/internal/repository"
	queue_publisher "github.com/worksheetlab/worksheet-api/internal/service"
)

// SubscriptionStore is the slice of the subscription repository the
// service needs.
type SubscriptionStore interface {
	LatestByUser(ctx context.Context, userID uint64) (model.Subscription, error)
	UpdateCancelFlag(ctx context.Context, subscriptionID uint64, cancelAtPeriodEnd bool) error
	MarkCanceled(ctx context.Context, subscriptionID uint64, at time.Time) error
}

// UsageStore is the slice of the usage repository the service needs.
type UsageStore interface {
	CountByUser(ctx context.Context, userID uint64) (int, error)
	Record(ctx context.Context, ev model.UsageEvent) (uint64, error)
}

// Gateway is the outbound payment provider command surface.
type Gateway interface {
	SetCancelAtPeriodEnd(ctx context.Context, providerSubID string, cancel bool) error
	CancelNow(ctx context.Context, providerSubID string) error
}

// Metadata describes the document a usage event is recorded for.
type Metadata struct {
	Subject  string
	Grade    string
	Language string
}

// Service answers entitlement queries and applies entitlement commands.
// All collaborators are constructor-injected so tests can substitute
// fakes, including a no-op cache.
type Service struct {
	subs    SubscriptionStore
	usage   UsageStore
	gateway Gateway
	cache   cache.Store
	cfg     config.EntitlementConfig

	now func() time.Time

	// Publishing is best-effort and swappable in tests.
	publishDocument     func(ctx context.Context, ev queue.DocumentGeneratedEvent) error
	publishSubscription func(ctx context.Context, ev queue.SubscriptionChangedEvent) error
}

// NewService builds a Service on the given collaborators.
func NewService(subs SubscriptionStore, usage UsageStore, gateway Gateway, store cache.Store, cfg config.EntitlementConfig) *Service {
	return &Service{
		subs:                subs,
		usage:               usage,
		gateway:             gateway,
		cache:               store,
		cfg:                 cfg,
		now:                 time.Now,
		publishDocument:     queue_publisher.PublishDocumentGenerated,
		publishSubscription: queue_publisher.PublishSubscriptionChanged,
	}
}

func userKey(userID uint64) string { return strconv.FormatUint(userID, 10) }

// GetSubscriptionStatus returns the user's entitlement view, served from
// the cache when a fresh entry exists. On miss the latest subscription
// row and the usage count are loaded and the decision derived:
//
//   - IsActive: a subscription row exists, its status is "active" and
//     its current_period_end has not elapsed. An active-status row whose
//     period end lies in the past is treated as not active (see
//     model.Subscription.IsCurrent).
//   - IsPro: IsActive with status strictly "active"; past_due, canceled
//     and expired rows are never Pro.
//   - Usage.Limit: the free-tier ceiling, or the unlimited sentinel for
//     Pro users.
//
// A store failure propagates; stale or default data is never returned in
// its place.
func (s *Service) GetSubscriptionStatus(ctx context.Context, userID uint64) (model.SubscriptionStatus, error) {
	bs, err := s.cache.GetOrSet(ctx, cache.NamespaceStatus, userKey(userID), s.cfg.CacheTTL, func(ctx context.Context) ([]byte, error) {
		st, err := s.computeStatus(ctx, userID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(st)
	})
	if err != nil {
		return model.SubscriptionStatus{}, err
	}
	var st model.SubscriptionStatus
	if err := json.Unmarshal(bs, &st); err != nil {
		return model.SubscriptionStatus{}, fmt.Errorf("decode cached status: %w", err)
	}
	return st, nil
}

func (s *Service) computeStatus(ctx context.Context, userID uint64) (model.SubscriptionStatus, error) {
	var sub *model.Subscription
	latest, err := s.subs.LatestByUser(ctx, userID)
	switch {
	case err == nil:
		sub = &latest
	case errors.Is(err, repository.ErrNotFound):
		// Never subscribed: free tier.
	default:
		return model.SubscriptionStatus{}, err
	}

	count, err := s.usage.CountByUser(ctx, userID)
	if err != nil {
		return model.SubscriptionStatus{}, err
	}

	isActive := sub.IsCurrent(s.now())
	isPro := isActive && sub.Status == model.SubscriptionActive

	st := model.SubscriptionStatus{
		IsActive:     isActive,
		IsPro:        isPro,
		Subscription: sub.Summary(),
		Usage: model.Usage{
			Current:   count,
			Limit:     s.cfg.FreeTierLimit,
			Unlimited: isPro,
		},
		ComputedAt: s.now().UTC(),
	}
	if isPro {
		st.Usage.Limit = model.UnlimitedUsage
	}
	return st, nil
}

// CanGenerateDocument derives the go/no-go decision from the
// subscription status. Pro users may always generate; free users may
// generate while their usage count is below the ceiling. A negative
// decision is a business outcome carrying a user-facing reason, never an
// error.
func (s *Service) CanGenerateDocument(ctx context.Context, userID uint64) (model.GenerateDecision, error) {
	bs, err := s.cache.GetOrSet(ctx, cache.NamespaceCanGenerate, userKey(userID), s.cfg.CacheTTL, func(ctx context.Context) ([]byte, error) {
		st, err := s.GetSubscriptionStatus(ctx, userID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(decide(st))
	})
	if err != nil {
		return model.GenerateDecision{}, err
	}
	var d model.GenerateDecision
	if err := json.Unmarshal(bs, &d); err != nil {
		return model.GenerateDecision{}, fmt.Errorf("decode cached decision: %w", err)
	}
	return d, nil
}

func decide(st model.SubscriptionStatus) model.GenerateDecision {
	if st.IsPro {
		return model.GenerateDecision{CanGenerate: true}
	}
	if st.Usage.Current < st.Usage.Limit {
		return model.GenerateDecision{CanGenerate: true}
	}
	return model.GenerateDecision{
		CanGenerate: false,
		Reason:      fmt.Sprintf("You have used all %d free documents. Upgrade to Pro for unlimited generation.", st.Usage.Limit),
	}
}

// RecordDocumentUsage re-checks the generation decision and, when
// allowed, durably appends a usage event (together with the denormalized
// user counter, in one transaction), invalidates the user's cached
// entitlement entries and reports the remaining allowance.
//
// The check and the insert are two steps without a lock in between: two
// concurrent requests can both pass the check before either records,
// over-counting a free user by at most the number of in-flight requests.
// That leniency is deliberate; see the service tests.
func (s *Service) RecordDocumentUsage(ctx context.Context, userID uint64, documentType string, meta Metadata) (model.UsageReceipt, error) {
	if !model.ValidDocumentType(documentType) {
		return model.UsageReceipt{}, ErrBadDocumentType
	}

	st, err := s.GetSubscriptionStatus(ctx, userID)
	if err != nil {
		return model.UsageReceipt{}, err
	}
	if d := decide(st); !d.CanGenerate {
		return model.UsageReceipt{Success: false, RemainingUses: 0, Error: d.Reason}, nil
	}

	eventID, err := s.usage.Record(ctx, model.UsageEvent{
		UserID:       userID,
		DocumentType: documentType,
		Subject:      meta.Subject,
		Grade:        meta.Grade,
		Language:     meta.Language,
	})
	if err != nil {
		// The insert is the only write; nothing was applied.
		return model.UsageReceipt{}, err
	}

	// Invalidate only after the write has durably succeeded.
	s.invalidate(ctx, userID)

	remaining := model.UnlimitedUsage
	if !st.IsPro {
		remaining = st.Usage.Limit - (st.Usage.Current + 1)
		if remaining < 0 {
			remaining = 0
		}
	}

	if err := s.publishDocument(ctx, queue.DocumentGeneratedEvent{
		UsageEventID:  eventID,
		UserID:        userID,
		DocumentType:  documentType,
		Subject:       meta.Subject,
		Grade:         meta.Grade,
		Language:      meta.Language,
		Pro:           st.IsPro,
		RemainingUses: remaining,
		RecordedAt:    s.now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("entitlement: publish document event failed for user %d: %v", userID, err)
	}

	return model.UsageReceipt{Success: true, RemainingUses: remaining}, nil
}

// CancelSubscription marks the user's current subscription for
// cancellation at period end, or cancels it immediately when immediate
// is set (admin override). The provider command is best-effort: a
// gateway failure is logged and the local state change applied anyway,
// since the reconciler will converge the two later.
func (s *Service) CancelSubscription(ctx context.Context, userID uint64, immediate bool) error {
	sub, err := s.subs.LatestByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNoSubscription
	}
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionCanceled || sub.Status == model.SubscriptionExpired {
		return ErrSubscriptionClosed
	}

	providerSubID := ""
	if sub.StripeSubscriptionID != nil {
		providerSubID = *sub.StripeSubscriptionID
	}

	source := "user"
	if immediate {
		source = "admin"
		if providerSubID != "" {
			if err := s.gateway.CancelNow(ctx, providerSubID); err != nil {
				log.Printf("entitlement: gateway cancel failed for sub %s: %v", providerSubID, err)
			}
		}
		if err := s.subs.MarkCanceled(ctx, sub.ID, s.now()); err != nil {
			return err
		}
	} else {
		if sub.CancelAtPeriodEnd {
			return nil // already pending; repeating the request is a no-op
		}
		if providerSubID != "" {
			if err := s.gateway.SetCancelAtPeriodEnd(ctx, providerSubID, true); err != nil {
				log.Printf("entitlement: gateway cancel-at-period-end failed for sub %s: %v", providerSubID, err)
			}
		}
		if err := s.subs.UpdateCancelFlag(ctx, sub.ID, true); err != nil {
			return err
		}
	}

	s.invalidate(ctx, userID)

	status := sub.Status
	if immediate {
		status = model.SubscriptionCanceled
	}
	if err := s.publishSubscription(ctx, queue.SubscriptionChangedEvent{
		UserID:            userID,
		ProviderSubID:     providerSubID,
		Status:            status,
		CancelAtPeriodEnd: !immediate,
		Source:            source,
		ChangedAt:         s.now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("entitlement: publish subscription event failed for user %d: %v", userID, err)
	}
	return nil
}

// ReactivateSubscription clears a pending cancellation. The subscription
// must exist and currently have cancel_at_period_end set; its status is
// left untouched.
func (s *Service) ReactivateSubscription(ctx context.Context, userID uint64) error {
	sub, err := s.subs.LatestByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNoSubscription
	}
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionCanceled || sub.Status == model.SubscriptionExpired {
		return ErrSubscriptionClosed
	}
	if !sub.CancelAtPeriodEnd {
		return ErrNotPendingCancel
	}

	providerSubID := ""
	if sub.StripeSubscriptionID != nil {
		providerSubID = *sub.StripeSubscriptionID
	}
	if providerSubID != "" {
		if err := s.gateway.SetCancelAtPeriodEnd(ctx, providerSubID, false); err != nil {
			log.Printf("entitlement: gateway reactivate failed for sub %s: %v", providerSubID, err)
		}
	}
	if err := s.subs.UpdateCancelFlag(ctx, sub.ID, false); err != nil {
		return err
	}

	s.invalidate(ctx, userID)

	if err := s.publishSubscription(ctx, queue.SubscriptionChangedEvent{
		UserID:            userID,
		ProviderSubID:     providerSubID,
		Status:            sub.Status,
		CancelAtPeriodEnd: false,
		Source:            "user",
		ChangedAt:         s.now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("entitlement: publish subscription event failed for user %d: %v", userID, err)
	}
	return nil
}

// InvalidateUser drops the user's cached entitlement entries. The
// webhook reconciler calls this after every applied event.
func (s *Service) InvalidateUser(ctx context.Context, userID uint64) {
	s.invalidate(ctx, userID)
}

func (s *Service) invalidate(ctx context.Context, userID uint64) {
	key := userKey(userID)
	if err := s.cache.Delete(ctx, cache.NamespaceStatus, key); err != nil {
		log.Printf("entitlement: invalidate %s/%s failed: %v", cache.NamespaceStatus, key, err)
	}
	if err := s.cache.Delete(ctx, cache.NamespaceCanGenerate, key); err != nil {
		log.Printf("entitlement: invalidate %s/%s failed: %v", cache.NamespaceCanGenerate, key, err)
	}
}
