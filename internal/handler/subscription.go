package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/worksheetlab/worksheet-api/internal/entitlement"
	"github.com/worksheetlab/worksheet-api/internal/middleware"
	"github.com/worksheetlab/worksheet-api/internal/model"
	"github.com/worksheetlab/worksheet-api/internal/repository"
)

// EntitlementService is the slice of the entitlement service the
// subscription endpoints need. Narrowed to an interface so handler
// tests can run against a stub.
type EntitlementService interface {
	GetSubscriptionStatus(ctx context.Context, userID uint64) (model.SubscriptionStatus, error)
	CanGenerateDocument(ctx context.Context, userID uint64) (model.GenerateDecision, error)
	RecordDocumentUsage(ctx context.Context, userID uint64, documentType string, meta entitlement.Metadata) (model.UsageReceipt, error)
	CancelSubscription(ctx context.Context, userID uint64, immediate bool) error
	ReactivateSubscription(ctx context.Context, userID uint64) error
}

// SubscriptionHandler exposes the entitlement query/command endpoints.
// Every route operates on the authenticated identity only; the one
// admin route takes an explicit user id and is role-gated in the router.
type SubscriptionHandler struct {
	Svc EntitlementService
}

func NewSubscriptionHandler(svc EntitlementService) *SubscriptionHandler {
	return &SubscriptionHandler{Svc: svc}
}

type recordUsageReq struct {
	DocumentType string `json:"document_type"`
	Subject      string `json:"subject"`
	Grade        string `json:"grade"`
	Language     string `json:"language"`
}

// Status returns the derived subscription status and usage counters.
func (h *SubscriptionHandler) Status(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	st, err := h.Svc.GetSubscriptionStatus(ctx, uid)
	if err != nil {
		return storeFailure(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// CanGenerate answers whether the user may generate another document.
func (h *SubscriptionHandler) CanGenerate(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	d, err := h.Svc.CanGenerateDocument(ctx, uid)
	if err != nil {
		return storeFailure(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// RecordUsage records one document generation. A quota refusal comes
// back 200 with success=false: running out of free documents is a
// business outcome, not a request error.
func (h *SubscriptionHandler) RecordUsage(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req recordUsageReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	receipt, err := h.Svc.RecordDocumentUsage(ctx, uid, req.DocumentType, entitlement.Metadata{
		Subject:  req.Subject,
		Grade:    req.Grade,
		Language: req.Language,
	})
	if err != nil {
		if errors.Is(err, entitlement.ErrBadDocumentType) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "document_type must be worksheet or exam"})
		}
		return storeFailure(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// Cancel flags the user's subscription for cancellation at period end.
func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.Svc.CancelSubscription(ctx, uid, false); err != nil {
		return subscriptionFailure(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "cancellation scheduled"})
}

// Reactivate clears a pending cancellation.
func (h *SubscriptionHandler) Reactivate(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.Svc.ReactivateSubscription(ctx, uid); err != nil {
		return subscriptionFailure(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "reactivated"})
}

// AdminCancelNow terminally cancels another user's subscription without
// waiting for the period end. Router applies RequireRole(ADMIN).
func (h *SubscriptionHandler) AdminCancelNow(c echo.Context) error {
	uid, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || uid == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.Svc.CancelSubscription(ctx, uid, true); err != nil {
		return subscriptionFailure(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "canceled"})
}

// subscriptionFailure maps the cancel/reactivate business errors onto
// HTTP responses; anything else is an infrastructure failure.
func subscriptionFailure(c echo.Context, err error) error {
	switch {
	case errors.Is(err, entitlement.ErrNoSubscription):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no subscription for this account"})
	case errors.Is(err, entitlement.ErrSubscriptionClosed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "subscription already canceled or expired"})
	case errors.Is(err, entitlement.ErrNotPendingCancel):
		return c.JSON(http.StatusConflict, echo.Map{"error": "subscription is not pending cancellation"})
	default:
		return storeFailure(c, err)
	}
}

// storeFailure hides infrastructure detail from the client while
// logging it in full. Transient store trouble is 503 so clients and
// proxies know to retry.
func storeFailure(c echo.Context, err error) error {
	c.Logger().Errorf("subscription endpoint failed: %v", err)
	if errors.Is(err, repository.ErrStoreUnavailable) {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service temporarily unavailable"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
