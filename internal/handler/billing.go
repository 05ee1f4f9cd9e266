package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/worksheetlab/worksheet-api/internal/billing"
	"github.com/worksheetlab/worksheet-api/internal/config"
	"github.com/worksheetlab/worksheet-api/internal/middleware"
	"github.com/worksheetlab/worksheet-api/internal/repository"
)

// BillingHandler exposes the checkout/portal/prices endpoints. These
// talk to the payment provider directly; entitlement state is only ever
// changed through the webhook reconciler once the provider confirms.
type BillingHandler struct {
	Cfg     config.StripeConfig
	Users   *repository.UserRepo
	Gateway *billing.StripeGateway
}

func NewBillingHandler(cfg config.StripeConfig, users *repository.UserRepo, gw *billing.StripeGateway) *BillingHandler {
	return &BillingHandler{Cfg: cfg, Users: users, Gateway: gw}
}

// Checkout starts a subscription checkout session and returns the
// hosted payment page URL.
func (h *BillingHandler) Checkout(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	frontend := strings.TrimRight(h.Cfg.FrontendURL, "/")
	if h.Cfg.PriceIDPro == "" || frontend == "" {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "billing not configured"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	customerID, err := h.ensureCustomer(ctx, uid)
	if err != nil {
		c.Logger().Errorf("ensure customer failed for user %d: %v", uid, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to prepare billing"})
	}

	url, err := h.Gateway.CreateCheckoutSession(ctx, uid, customerID, h.Cfg.PriceIDPro,
		frontend+"/billing/success", frontend+"/billing/cancel")
	if err != nil {
		c.Logger().Errorf("checkout session failed for user %d: %v", uid, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create checkout session"})
	}
	return c.JSON(http.StatusOK, echo.Map{"url": url})
}

// Portal opens the provider's self-service billing portal.
func (h *BillingHandler) Portal(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	frontend := strings.TrimRight(h.Cfg.FrontendURL, "/")
	if frontend == "" {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "billing not configured"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load customer"})
	}
	if u.StripeCustomerID == nil || *u.StripeCustomerID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no billing profile for this account"})
	}

	url, err := h.Gateway.CreatePortalSession(ctx, *u.StripeCustomerID, frontend+"/settings/billing")
	if err != nil {
		c.Logger().Errorf("portal session failed for user %d: %v", uid, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create portal session"})
	}
	return c.JSON(http.StatusOK, echo.Map{"url": url})
}

// Prices lists the active plan prices. Informational only.
func (h *BillingHandler) Prices(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	prices, err := h.Gateway.ListPrices(ctx)
	if err != nil {
		c.Logger().Errorf("list prices failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load prices"})
	}
	return c.JSON(http.StatusOK, echo.Map{"prices": prices})
}

// ensureCustomer returns the user's provider customer reference,
// creating and persisting one on first use.
func (h *BillingHandler) ensureCustomer(ctx context.Context, userID uint64) (string, error) {
	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.StripeCustomerID != nil && *u.StripeCustomerID != "" {
		return *u.StripeCustomerID, nil
	}
	customerID, err := h.Gateway.EnsureCustomer(ctx, u.ID, u.Email, u.Name)
	if err != nil {
		return "", err
	}
	if err := h.Users.SetStripeCustomer(ctx, u.ID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}
