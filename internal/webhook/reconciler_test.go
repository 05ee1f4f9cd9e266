package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksheetlab/worksheet-api/internal/model"
	"github.com/worksheetlab/worksheet-api/internal/queue"
	"github.com/worksheetlab/worksheet-api/internal/repository"
)

const testSecret = "whsec_test_secret"

// signedEvent wraps an object payload in an event envelope and signs it
// the way the provider does: HMAC-SHA256 over "<timestamp>.<payload>".
func signedEvent(eventType, object string) ([]byte, string) {
	payload := fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":%s}}`, eventType, object)
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	sig := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
	return []byte(payload), sig
}

// ----- fakes -----

type fakeSubStore struct {
	rows    map[string]model.Subscription
	upserts int
	err     error
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{rows: map[string]model.Subscription{}}
}

func (f *fakeSubStore) GetByProviderID(_ context.Context, providerSubID string) (model.Subscription, error) {
	if f.err != nil {
		return model.Subscription{}, f.err
	}
	s, ok := f.rows[providerSubID]
	if !ok {
		return model.Subscription{}, repository.ErrNotFound
	}
	return s, nil
}

func (f *fakeSubStore) Upsert(_ context.Context, s model.Subscription) error {
	if f.err != nil {
		return f.err
	}
	f.upserts++
	key := *s.StripeSubscriptionID
	if prev, ok := f.rows[key]; ok {
		s.ID = prev.ID
	} else {
		s.ID = uint64(len(f.rows) + 1)
	}
	f.rows[key] = s
	return nil
}

func (f *fakeSubStore) UpdateStatus(_ context.Context, providerSubID, status string) error {
	if f.err != nil {
		return f.err
	}
	s := f.rows[providerSubID]
	s.Status = status
	f.rows[providerSubID] = s
	return nil
}

type fakeUserStore struct {
	byCustomer map[string]model.User
	linked     map[uint64]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byCustomer: map[string]model.User{}, linked: map[uint64]string{}}
}

func (f *fakeUserStore) GetByStripeCustomer(_ context.Context, customerID string) (model.User, error) {
	u, ok := f.byCustomer[customerID]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) SetStripeCustomer(_ context.Context, userID uint64, customerID string) error {
	f.linked[userID] = customerID
	return nil
}

type fakeInvalidator struct {
	calls []uint64
}

func (f *fakeInvalidator) InvalidateUser(_ context.Context, userID uint64) {
	f.calls = append(f.calls, userID)
}

func newTestReconciler(subs *fakeSubStore, users *fakeUserStore, inv *fakeInvalidator) *Reconciler {
	r := NewReconciler(testSecret, subs, users, inv)
	r.publish = func(context.Context, queue.SubscriptionChangedEvent) error { return nil }
	return r
}

// ----- fixtures -----

func subscriptionObject(userID, status string, periodEnd int64) string {
	return fmt.Sprintf(`{
		"id": "sub_1",
		"object": "subscription",
		"customer": "cus_1",
		"status": %q,
		"current_period_end": %d,
		"cancel_at_period_end": false,
		"metadata": {"user_id": %q},
		"items": {"object": "list", "data": [{"object": "subscription_item", "price": {"id": "price_1", "object": "price", "nickname": "pro_monthly"}}]}
	}`, status, periodEnd, userID)
}

// ----- tests -----

func TestProcessRejectsBadSignature(t *testing.T) {
	subs := newFakeSubStore()
	users := newFakeUserStore()
	inv := &fakeInvalidator{}
	r := newTestReconciler(subs, users, inv)

	payload, sig := signedEvent("customer.subscription.created",
		subscriptionObject("7", "active", time.Now().Add(720*time.Hour).Unix()))
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = 'X'

	_, err := r.Process(context.Background(), tampered, sig)
	require.ErrorIs(t, err, ErrSignature)
	assert.Empty(t, subs.rows, "rejected delivery must write nothing")
	assert.Empty(t, users.linked)
	assert.Empty(t, inv.calls)
}

func TestProcessSubscriptionCreatedProvisionsOwner(t *testing.T) {
	subs := newFakeSubStore()
	users := newFakeUserStore()
	inv := &fakeInvalidator{}
	r := newTestReconciler(subs, users, inv)

	periodEnd := time.Now().Add(720 * time.Hour).Unix()
	payload, sig := signedEvent("customer.subscription.created",
		subscriptionObject("7", "active", periodEnd))

	res, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, uint64(7), res.UserID)

	row, ok := subs.rows["sub_1"]
	require.True(t, ok)
	assert.Equal(t, uint64(7), row.UserID)
	assert.Equal(t, model.SubscriptionActive, row.Status)
	assert.Equal(t, "cus_1", row.StripeCustomerID)
	assert.Equal(t, "price_1", row.PriceID)
	assert.Equal(t, "pro_monthly", row.PlanID)
	assert.Equal(t, time.Unix(periodEnd, 0).UTC(), row.CurrentPeriodEnd)

	assert.Equal(t, "cus_1", users.linked[7])
	assert.Equal(t, []uint64{7}, inv.calls)
}

// Duplicate delivery of the same update converges on the same row.
func TestProcessDuplicateUpdateIsIdempotent(t *testing.T) {
	subs := newFakeSubStore()
	users := newFakeUserStore()
	inv := &fakeInvalidator{}
	r := newTestReconciler(subs, users, inv)

	payload, sig := signedEvent("customer.subscription.updated",
		subscriptionObject("7", "active", time.Now().Add(720*time.Hour).Unix()))

	_, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err)
	first := subs.rows["sub_1"]

	res, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	require.Len(t, subs.rows, 1)
	assert.Equal(t, first, subs.rows["sub_1"], "replay must not change state")
	assert.Equal(t, 2, subs.upserts, "redundant write is fine; divergent state is not")
}

func TestProcessResolvesUserByCustomerWhenMetadataMissing(t *testing.T) {
	subs := newFakeSubStore()
	users := newFakeUserStore()
	users.byCustomer["cus_1"] = model.User{ID: 42, Email: "t@example.com"}
	inv := &fakeInvalidator{}
	r := newTestReconciler(subs, users, inv)

	payload, sig := signedEvent("customer.subscription.updated",
		subscriptionObject("", "active", time.Now().Add(time.Hour).Unix()))

	res, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, uint64(42), res.UserID)
	assert.Equal(t, uint64(42), subs.rows["sub_1"].UserID)
}

// A subscription for nobody we know is acknowledged without writes;
// redelivery cannot make the user appear.
func TestProcessUnresolvableUserAcknowledged(t *testing.T) {
	subs := newFakeSubStore()
	users := newFakeUserStore()
	inv := &fakeInvalidator{}
	r := newTestReconciler(subs, users, inv)

	payload, sig := signedEvent("customer.subscription.updated",
		subscriptionObject("", "active", time.Now().Add(time.Hour).Unix()))

	res, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Empty(t, subs.rows)
	assert.Empty(t, inv.calls)
}

func TestProcessDeletedMarksCanceled(t *testing.T) {
	subs := newFakeSubStore()
	id := "sub_1"
	subs.rows[id] = model.Subscription{ID: 1, UserID: 7, StripeSubscriptionID: &id, Status: model.SubscriptionActive}
	inv := &fakeInvalidator{}
	r := newTestReconciler(subs, newFakeUserStore(), inv)

	payload, sig := signedEvent("customer.subscription.deleted",
		`{"id": "sub_1", "object": "subscription", "customer": "cus_1", "status": "canceled"}`)

	res, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, model.SubscriptionCanceled, subs.rows["sub_1"].Status)
	assert.Equal(t, []uint64{7}, inv.calls)
}

func TestProcessDeletedUnknownRowAcknowledged(t *testing.T) {
	subs := newFakeSubStore()
	r := newTestReconciler(subs, newFakeUserStore(), &fakeInvalidator{})

	payload, sig := signedEvent("customer.subscription.deleted",
		`{"id": "sub_missing", "object": "subscription", "status": "canceled"}`)

	res, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err, "a row we never had is not a retryable failure")
	assert.False(t, res.Applied)
}

func TestProcessInvoicePaymentTransitions(t *testing.T) {
	subs := newFakeSubStore()
	id := "sub_1"
	subs.rows[id] = model.Subscription{ID: 1, UserID: 7, StripeSubscriptionID: &id, Status: model.SubscriptionActive}
	r := newTestReconciler(subs, newFakeUserStore(), &fakeInvalidator{})
	ctx := context.Background()

	payload, sig := signedEvent("invoice.payment_failed",
		`{"id": "in_1", "object": "invoice", "customer": "cus_1", "subscription": "sub_1"}`)
	res, err := r.Process(ctx, payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, model.SubscriptionPastDue, subs.rows["sub_1"].Status)

	payload, sig = signedEvent("invoice.payment_succeeded",
		`{"id": "in_2", "object": "invoice", "customer": "cus_1", "subscription": "sub_1"}`)
	res, err = r.Process(ctx, payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, model.SubscriptionActive, subs.rows["sub_1"].Status)
}

func TestProcessInvoiceWithoutSubscriptionIgnored(t *testing.T) {
	subs := newFakeSubStore()
	r := newTestReconciler(subs, newFakeUserStore(), &fakeInvalidator{})

	payload, sig := signedEvent("invoice.payment_succeeded",
		`{"id": "in_1", "object": "invoice", "customer": "cus_1"}`)

	res, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Empty(t, subs.rows)
}

func TestProcessCheckoutCompletedLinksCustomer(t *testing.T) {
	users := newFakeUserStore()
	r := newTestReconciler(newFakeSubStore(), users, &fakeInvalidator{})

	payload, sig := signedEvent("checkout.session.completed",
		`{"id": "cs_1", "object": "checkout.session", "customer": "cus_1", "metadata": {"user_id": "7"}}`)

	res, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "cus_1", users.linked[7])
}

func TestProcessUnrecognizedTypeIgnored(t *testing.T) {
	subs := newFakeSubStore()
	inv := &fakeInvalidator{}
	r := newTestReconciler(subs, newFakeUserStore(), inv)

	payload, sig := signedEvent("customer.created",
		`{"id": "cus_1", "object": "customer"}`)

	res, err := r.Process(context.Background(), payload, sig)
	require.NoError(t, err, "unknown types are acknowledged, not failed")
	assert.False(t, res.Applied)
	assert.Empty(t, subs.rows)
	assert.Empty(t, inv.calls)
}

// Store failures must propagate so the handler answers 500 and the
// provider redelivers.
func TestProcessStoreFailurePropagates(t *testing.T) {
	subs := newFakeSubStore()
	subs.err = repository.ErrStoreUnavailable
	r := newTestReconciler(subs, newFakeUserStore(), &fakeInvalidator{})

	payload, sig := signedEvent("customer.subscription.created",
		subscriptionObject("7", "active", time.Now().Add(time.Hour).Unix()))

	_, err := r.Process(context.Background(), payload, sig)
	require.ErrorIs(t, err, repository.ErrStoreUnavailable)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, model.SubscriptionActive, mapStatus("active"))
	assert.Equal(t, model.SubscriptionActive, mapStatus("trialing"))
	assert.Equal(t, model.SubscriptionPastDue, mapStatus("past_due"))
	assert.Equal(t, model.SubscriptionPastDue, mapStatus("unpaid"))
	assert.Equal(t, model.SubscriptionCanceled, mapStatus("canceled"))
	assert.Equal(t, model.SubscriptionExpired, mapStatus("incomplete_expired"))
}
