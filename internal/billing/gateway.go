// Package billing wraps the payment provider's API. Commands issued
// here are best-effort from the entitlement service's point of view:
// local state is updated optimistically and the webhook reconciler
// corrects any divergence when the provider's events arrive. No
// entitlement decision ever calls out to the provider.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v79"
	portalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/price"
	"github.com/stripe/stripe-go/v79/subscription"

	"github.com/worksheetlab/worksheet-api/internal/config"
)

// ErrGatewayCommand wraps any failure of an outbound provider command.
// Callers log it and carry on; they must not block local state changes
// on it.
var ErrGatewayCommand = errors.New("gateway command failed")

// MetadataUserID is the metadata key carrying our user id on provider
// objects. The reconciler reads it back from subscription events to find
// the owning user.
const MetadataUserID = "user_id"

// StripeGateway issues commands against Stripe. The stripe-go client is
// configured process-wide through stripe.Key.
type StripeGateway struct {
	cfg config.StripeConfig
}

// NewStripeGateway wires the API key and returns the gateway.
func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	stripe.Key = cfg.SecretKey
	return &StripeGateway{cfg: cfg}
}

// EnsureCustomer creates a provider customer for the user, tagged with
// the internal user id, and returns its reference. The caller persists
// the reference; calling this twice for the same user creates a stray
// customer object but is otherwise harmless.
func (g *StripeGateway) EnsureCustomer(ctx context.Context, userID uint64, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
		Metadata: map[string]string{
			MetadataUserID: strconv.FormatUint(userID, 10),
		},
	}
	params.Context = ctx
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", ErrGatewayCommand, err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout for the customer
// and returns the hosted payment page URL.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, userID uint64, customerID, priceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataUserID: strconv.FormatUint(userID, 10),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create checkout session: %v", ErrGatewayCommand, err)
	}
	return sess.URL, nil
}

// CreatePortalSession opens the provider's self-service billing portal
// for an existing customer.
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create portal session: %v", ErrGatewayCommand, err)
	}
	return sess.URL, nil
}

// SetCancelAtPeriodEnd flips the provider-side cancel flag. Used for
// both cancellation (true) and reactivation (false).
func (g *StripeGateway) SetCancelAtPeriodEnd(ctx context.Context, providerSubID string, cancel bool) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	if _, err := subscription.Update(providerSubID, params); err != nil {
		return fmt.Errorf("%w: update subscription %s: %v", ErrGatewayCommand, providerSubID, err)
	}
	return nil
}

// CancelNow terminates the provider subscription immediately (admin
// override path).
func (g *StripeGateway) CancelNow(ctx context.Context, providerSubID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(providerSubID, params); err != nil {
		return fmt.Errorf("%w: cancel subscription %s: %v", ErrGatewayCommand, providerSubID, err)
	}
	return nil
}

// PlanPrice is the informational plan metadata returned to the pricing
// page. It plays no part in the entitlement state machine.
type PlanPrice struct {
	ID         string `json:"id"`
	Currency   string `json:"currency"`
	UnitAmount int64  `json:"unit_amount"`
	Interval   string `json:"interval"`
	Product    string `json:"product"`
}

// ListPrices returns the active recurring prices configured at the
// provider.
func (g *StripeGateway) ListPrices(ctx context.Context) ([]PlanPrice, error) {
	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
	}
	params.Context = ctx
	var out []PlanPrice
	it := price.List(params)
	for it.Next() {
		p := it.Price()
		if p.Recurring == nil {
			continue
		}
		pp := PlanPrice{
			ID:         p.ID,
			Currency:   string(p.Currency),
			UnitAmount: p.UnitAmount,
			Interval:   string(p.Recurring.Interval),
		}
		if p.Product != nil {
			pp.Product = p.Product.ID
		}
		out = append(out, pp)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("%w: list prices: %v", ErrGatewayCommand, err)
	}
	return out, nil
}
