package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksheetlab/worksheet-api/internal/model"
	"github.com/worksheetlab/worksheet-api/internal/repository"
	"github.com/worksheetlab/worksheet-api/internal/webhook"
)

const webhookTestSecret = "whsec_handler_test"

type rejectingSubStore struct{ err error }

func (s rejectingSubStore) GetByProviderID(context.Context, string) (model.Subscription, error) {
	return model.Subscription{}, s.err
}
func (s rejectingSubStore) Upsert(context.Context, model.Subscription) error { return s.err }
func (s rejectingSubStore) UpdateStatus(context.Context, string, string) error {
	return s.err
}

type noUserStore struct{}

func (noUserStore) GetByStripeCustomer(context.Context, string) (model.User, error) {
	return model.User{}, repository.ErrNotFound
}
func (noUserStore) SetStripeCustomer(context.Context, uint64, string) error { return nil }

type noopInvalidator struct{}

func (noopInvalidator) InvalidateUser(context.Context, uint64) {}

func signWebhook(payload string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(h *WebhookHandler, payload, sig string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()
	_ = h.HandleStripe(e.NewContext(req, rec))
	return rec
}

func TestWebhookBadSignatureIs400(t *testing.T) {
	r := webhook.NewReconciler(webhookTestSecret, rejectingSubStore{}, noUserStore{}, noopInvalidator{})
	h := NewWebhookHandler(r)

	payload := `{"id":"evt_1","object":"event","type":"customer.created","data":{"object":{}}}`
	rec := postWebhook(h, payload, "t=1,v1=deadbeef")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookIgnoredEventIs200(t *testing.T) {
	r := webhook.NewReconciler(webhookTestSecret, rejectingSubStore{}, noUserStore{}, noopInvalidator{})
	h := NewWebhookHandler(r)

	payload := `{"id":"evt_1","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`
	rec := postWebhook(h, payload, signWebhook(payload))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received":true`)
}

// A store failure must come back 500 so the provider redelivers.
func TestWebhookStoreFailureIs500(t *testing.T) {
	r := webhook.NewReconciler(webhookTestSecret,
		rejectingSubStore{err: repository.ErrStoreUnavailable}, noUserStore{}, noopInvalidator{})
	h := NewWebhookHandler(r)

	payload := `{"id":"evt_1","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","object":"subscription","status":"canceled"}}}`
	rec := postWebhook(h, payload, signWebhook(payload))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
