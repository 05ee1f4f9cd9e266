package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/worksheetlab/worksheet-api/internal/webhook"
)

// Cap on webhook bodies; provider events are small.
const maxWebhookBody = int64(65536)

// WebhookHandler receives the payment provider's event deliveries.
type WebhookHandler struct {
	Reconciler *webhook.Reconciler
}

func NewWebhookHandler(r *webhook.Reconciler) *WebhookHandler {
	return &WebhookHandler{Reconciler: r}
}

// HandleStripe verifies and applies one webhook delivery. The raw body
// is read before any JSON parsing because the signature covers the
// exact bytes. Responses: 200 {"received":true} once the event is
// applied or deliberately ignored, 400 on signature or payload
// rejection (no writes happened), 500 on store failure so the provider
// redelivers.
func (h *WebhookHandler) HandleStripe(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}
	sig := c.Request().Header.Get("Stripe-Signature")

	res, err := h.Reconciler.Process(c.Request().Context(), body, sig)
	if err != nil {
		if errors.Is(err, webhook.ErrSignature) {
			c.Logger().Warnf("webhook signature rejected: %v", err)
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "signature verification failed"})
		}
		if errors.Is(err, webhook.ErrPayload) {
			c.Logger().Warnf("webhook payload rejected: %v", err)
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event payload"})
		}
		c.Logger().Errorf("webhook processing failed for %s: %v", res.Type, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to process event"})
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
