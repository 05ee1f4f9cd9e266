package entitlement

import "errors"

// Business preconditions for the cancel/reactivate commands. These are
// definitive outcomes: handlers translate them into 4xx responses and
// they are never retried. A free user at their limit is NOT one of
// these; that case is a structured GenerateDecision, not an error.
var (
	// ErrNoSubscription – the user has no subscription row that could
	// be canceled or reactivated.
	ErrNoSubscription = errors.New("no subscription for user")

	// ErrSubscriptionClosed – the user's latest subscription is already
	// terminally canceled or expired.
	ErrSubscriptionClosed = errors.New("subscription already canceled or expired")

	// ErrNotPendingCancel – reactivation requires a subscription with
	// cancel_at_period_end set; anything else is a no-op refused with
	// this error.
	ErrNotPendingCancel = errors.New("subscription is not pending cancellation")

	// ErrBadDocumentType – the document type is not recordable.
	ErrBadDocumentType = errors.New("unsupported document type")
)
