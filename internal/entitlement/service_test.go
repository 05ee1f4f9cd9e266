package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksheetlab/worksheet-api/internal/cache"
	"github.com/worksheetlab/worksheet-api/internal/config"
	"github.com/worksheetlab/worksheet-api/internal/model"
	"github.com/worksheetlab/worksheet-api/internal/queue"
	"github.com/worksheetlab/worksheet-api/internal/repository"
)

// ----- fakes -----

type fakeSubs struct {
	mu  sync.Mutex
	sub *model.Subscription
	err error

	cancelFlagCalls int
	markCanceledAt  *time.Time
}

func (f *fakeSubs) LatestByUser(_ context.Context, _ uint64) (model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Subscription{}, f.err
	}
	if f.sub == nil {
		return model.Subscription{}, repository.ErrNotFound
	}
	return *f.sub, nil
}

func (f *fakeSubs) UpdateCancelFlag(_ context.Context, _ uint64, cancel bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelFlagCalls++
	f.sub.CancelAtPeriodEnd = cancel
	return nil
}

func (f *fakeSubs) MarkCanceled(_ context.Context, _ uint64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sub.Status = model.SubscriptionCanceled
	f.markCanceledAt = &at
	return nil
}

type fakeUsage struct {
	mu       sync.Mutex
	count    int
	err      error
	recorded []model.UsageEvent
}

func (f *fakeUsage) CountByUser(_ context.Context, _ uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.err
}

func (f *fakeUsage) Record(_ context.Context, ev model.UsageEvent) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.recorded = append(f.recorded, ev)
	f.count++
	return uint64(f.count), nil
}

type fakeGateway struct {
	err         error
	setCalls    []bool
	cancelCalls int
}

func (f *fakeGateway) SetCancelAtPeriodEnd(_ context.Context, _ string, cancel bool) error {
	f.setCalls = append(f.setCalls, cancel)
	return f.err
}

func (f *fakeGateway) CancelNow(_ context.Context, _ string) error {
	f.cancelCalls++
	return f.err
}

// ----- helpers -----

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(subs *fakeSubs, usage *fakeUsage, gw *fakeGateway, store cache.Store) *Service {
	s := NewService(subs, usage, gw, store, config.EntitlementConfig{
		FreeTierLimit: 2,
		CacheTTL:      time.Minute,
	})
	s.now = func() time.Time { return testNow }
	s.publishDocument = func(context.Context, queue.DocumentGeneratedEvent) error { return nil }
	s.publishSubscription = func(context.Context, queue.SubscriptionChangedEvent) error { return nil }
	return s
}

func proSubscription() *model.Subscription {
	id := "sub_123"
	return &model.Subscription{
		ID:                   1,
		UserID:               7,
		StripeCustomerID:     "cus_123",
		StripeSubscriptionID: &id,
		Status:               model.SubscriptionActive,
		PlanID:               "pro_monthly",
		PriceID:              "price_123",
		CurrentPeriodEnd:     testNow.Add(30 * 24 * time.Hour),
	}
}

// ----- status -----

func TestStatusNoSubscriptionIsFreeTier(t *testing.T) {
	svc := newTestService(&fakeSubs{}, &fakeUsage{}, &fakeGateway{}, cache.NewMemory())

	st, err := svc.GetSubscriptionStatus(context.Background(), 7)
	require.NoError(t, err)

	assert.False(t, st.IsActive)
	assert.False(t, st.IsPro)
	assert.Nil(t, st.Subscription)
	assert.Equal(t, 2, st.Usage.Limit)
	assert.False(t, st.Usage.Unlimited)
}

func TestStatusActiveUnexpiredIsPro(t *testing.T) {
	svc := newTestService(&fakeSubs{sub: proSubscription()}, &fakeUsage{count: 40}, &fakeGateway{}, cache.NewMemory())

	st, err := svc.GetSubscriptionStatus(context.Background(), 7)
	require.NoError(t, err)

	assert.True(t, st.IsActive)
	assert.True(t, st.IsPro)
	require.NotNil(t, st.Subscription)
	assert.Equal(t, model.SubscriptionActive, st.Subscription.Status)
	assert.Equal(t, model.UnlimitedUsage, st.Usage.Limit)
	assert.True(t, st.Usage.Unlimited)
}

// An "active" row whose paid period already ended is not entitled:
// status and period end are checked together.
func TestStatusElapsedPeriodIsNotPro(t *testing.T) {
	sub := proSubscription()
	sub.CurrentPeriodEnd = testNow.Add(-time.Hour)
	svc := newTestService(&fakeSubs{sub: sub}, &fakeUsage{}, &fakeGateway{}, cache.NewMemory())

	st, err := svc.GetSubscriptionStatus(context.Background(), 7)
	require.NoError(t, err)

	assert.False(t, st.IsActive)
	assert.False(t, st.IsPro)
	assert.Equal(t, 2, st.Usage.Limit)
}

func TestStatusPastDueIsNotPro(t *testing.T) {
	sub := proSubscription()
	sub.Status = model.SubscriptionPastDue
	svc := newTestService(&fakeSubs{sub: sub}, &fakeUsage{}, &fakeGateway{}, cache.NewMemory())

	st, err := svc.GetSubscriptionStatus(context.Background(), 7)
	require.NoError(t, err)

	assert.False(t, st.IsPro)
	require.NotNil(t, st.Subscription)
	assert.Equal(t, model.SubscriptionPastDue, st.Subscription.Status)
}

func TestStatusStoreFailurePropagates(t *testing.T) {
	svc := newTestService(&fakeSubs{err: repository.ErrStoreUnavailable}, &fakeUsage{}, &fakeGateway{}, cache.NewMemory())

	_, err := svc.GetSubscriptionStatus(context.Background(), 7)
	require.ErrorIs(t, err, repository.ErrStoreUnavailable)
}

// ----- can-generate -----

func TestCanGenerateFreeTierBoundary(t *testing.T) {
	usage := &fakeUsage{count: 1} // limit - 1
	svc := newTestService(&fakeSubs{}, usage, &fakeGateway{}, cache.NewMemory())

	d, err := svc.CanGenerateDocument(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, d.CanGenerate)

	// Exactly at the limit: refused with a user-facing reason.
	usage.count = 2
	svc2 := newTestService(&fakeSubs{}, usage, &fakeGateway{}, cache.NewMemory())
	d, err = svc2.CanGenerateDocument(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, d.CanGenerate)
	assert.NotEmpty(t, d.Reason)
}

func TestCanGenerateProAlwaysAllowed(t *testing.T) {
	svc := newTestService(&fakeSubs{sub: proSubscription()}, &fakeUsage{count: 9000}, &fakeGateway{}, cache.NewMemory())

	d, err := svc.CanGenerateDocument(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, d.CanGenerate)
	assert.Empty(t, d.Reason)
}

// ----- record usage -----

func TestRecordUsageAppendsAndReportsRemaining(t *testing.T) {
	usage := &fakeUsage{count: 0}
	svc := newTestService(&fakeSubs{}, usage, &fakeGateway{}, cache.NewMemory())

	receipt, err := svc.RecordDocumentUsage(context.Background(), 7, model.DocumentWorksheet, Metadata{
		Subject: "math", Grade: "4", Language: "en",
	})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, 1, receipt.RemainingUses)
	require.Len(t, usage.recorded, 1)
	assert.Equal(t, "math", usage.recorded[0].Subject)
}

func TestRecordUsageRefusedAtLimitWritesNothing(t *testing.T) {
	usage := &fakeUsage{count: 2}
	svc := newTestService(&fakeSubs{}, usage, &fakeGateway{}, cache.NewMemory())

	receipt, err := svc.RecordDocumentUsage(context.Background(), 7, model.DocumentExam, Metadata{})
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.NotEmpty(t, receipt.Error)
	assert.Empty(t, usage.recorded)
}

func TestRecordUsageProRemainingUnlimited(t *testing.T) {
	svc := newTestService(&fakeSubs{sub: proSubscription()}, &fakeUsage{count: 500}, &fakeGateway{}, cache.NewMemory())

	receipt, err := svc.RecordDocumentUsage(context.Background(), 7, model.DocumentWorksheet, Metadata{})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, model.UnlimitedUsage, receipt.RemainingUses)
}

func TestRecordUsageBadDocumentType(t *testing.T) {
	usage := &fakeUsage{}
	svc := newTestService(&fakeSubs{}, usage, &fakeGateway{}, cache.NewMemory())

	_, err := svc.RecordDocumentUsage(context.Background(), 7, "poster", Metadata{})
	require.ErrorIs(t, err, ErrBadDocumentType)
	assert.Empty(t, usage.recorded)
}

// Cache coherence: a status read immediately after a successful record
// must reflect the incremented count, not the pre-write cache entry.
func TestRecordUsageInvalidatesCachedStatus(t *testing.T) {
	usage := &fakeUsage{count: 0}
	svc := newTestService(&fakeSubs{}, usage, &fakeGateway{}, cache.NewMemory())
	ctx := context.Background()

	st, err := svc.GetSubscriptionStatus(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Usage.Current)

	_, err = svc.RecordDocumentUsage(ctx, 7, model.DocumentWorksheet, Metadata{})
	require.NoError(t, err)

	st, err = svc.GetSubscriptionStatus(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Usage.Current)
}

// The check and the insert run without a lock in between: concurrent
// requests may both pass the check before either records, so a free
// user can exceed the ceiling by at most the number of in-flight
// requests. That bounded over-count is an accepted trade-off, not a
// bug; this test documents it by tolerating either interleaving.
func TestRecordUsageConcurrentRequestsMayOvercount(t *testing.T) {
	usage := &fakeUsage{count: 1} // one free use left
	svc := newTestService(&fakeSubs{}, usage, &fakeGateway{}, cache.NewMemory())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordDocumentUsage(ctx, 7, model.DocumentWorksheet, Metadata{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got := len(usage.recorded)
	assert.GreaterOrEqual(t, got, 1)
	assert.LessOrEqual(t, got, 2, "over-count must stay bounded by in-flight requests")
}

func TestRecordUsageStoreFailureLeavesNothingApplied(t *testing.T) {
	usage := &fakeUsage{err: repository.ErrStoreUnavailable}
	svc := newTestService(&fakeSubs{}, usage, &fakeGateway{}, cache.NewMemory())

	_, err := svc.RecordDocumentUsage(context.Background(), 7, model.DocumentWorksheet, Metadata{})
	require.ErrorIs(t, err, repository.ErrStoreUnavailable)
	assert.Empty(t, usage.recorded)
}

// ----- cancel / reactivate -----

func TestCancelThenReactivateRoundTrip(t *testing.T) {
	subs := &fakeSubs{sub: proSubscription()}
	gw := &fakeGateway{}
	svc := newTestService(subs, &fakeUsage{}, gw, cache.NewMemory())
	ctx := context.Background()

	require.NoError(t, svc.CancelSubscription(ctx, 7, false))
	assert.True(t, subs.sub.CancelAtPeriodEnd)
	assert.Equal(t, model.SubscriptionActive, subs.sub.Status, "scheduled cancel must not change status")

	require.NoError(t, svc.ReactivateSubscription(ctx, 7))
	assert.False(t, subs.sub.CancelAtPeriodEnd)
	assert.Equal(t, model.SubscriptionActive, subs.sub.Status)

	assert.Equal(t, []bool{true, false}, gw.setCalls)
}

func TestCancelWithoutSubscription(t *testing.T) {
	svc := newTestService(&fakeSubs{}, &fakeUsage{}, &fakeGateway{}, cache.NewMemory())
	err := svc.CancelSubscription(context.Background(), 7, false)
	require.ErrorIs(t, err, ErrNoSubscription)
}

func TestReactivateRequiresPendingCancel(t *testing.T) {
	svc := newTestService(&fakeSubs{sub: proSubscription()}, &fakeUsage{}, &fakeGateway{}, cache.NewMemory())
	err := svc.ReactivateSubscription(context.Background(), 7)
	require.ErrorIs(t, err, ErrNotPendingCancel)
}

func TestCancelRepeatIsNoOp(t *testing.T) {
	sub := proSubscription()
	sub.CancelAtPeriodEnd = true
	subs := &fakeSubs{sub: sub}
	svc := newTestService(subs, &fakeUsage{}, &fakeGateway{}, cache.NewMemory())

	require.NoError(t, svc.CancelSubscription(context.Background(), 7, false))
	assert.Zero(t, subs.cancelFlagCalls)
}

// The provider command is best-effort: local state is updated
// optimistically even when the gateway call fails, and the webhook
// reconciler later converges the two. This asymmetry is deliberate.
func TestCancelAppliesLocallyDespiteGatewayFailure(t *testing.T) {
	subs := &fakeSubs{sub: proSubscription()}
	gw := &fakeGateway{err: assert.AnError}
	svc := newTestService(subs, &fakeUsage{}, gw, cache.NewMemory())

	require.NoError(t, svc.CancelSubscription(context.Background(), 7, false))
	assert.True(t, subs.sub.CancelAtPeriodEnd)
}

func TestAdminImmediateCancel(t *testing.T) {
	subs := &fakeSubs{sub: proSubscription()}
	gw := &fakeGateway{}
	svc := newTestService(subs, &fakeUsage{}, gw, cache.NewMemory())

	require.NoError(t, svc.CancelSubscription(context.Background(), 7, true))
	assert.Equal(t, model.SubscriptionCanceled, subs.sub.Status)
	assert.Equal(t, 1, gw.cancelCalls)
	require.NotNil(t, subs.markCanceledAt)
}

func TestCancelClosedSubscription(t *testing.T) {
	sub := proSubscription()
	sub.Status = model.SubscriptionCanceled
	svc := newTestService(&fakeSubs{sub: sub}, &fakeUsage{}, &fakeGateway{}, cache.NewMemory())

	err := svc.CancelSubscription(context.Background(), 7, false)
	require.ErrorIs(t, err, ErrSubscriptionClosed)
}
