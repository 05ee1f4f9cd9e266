package config

import "log"

// StripeConfig carries the payment provider credentials and the URLs
// checkout redirects back to. SecretKey and WebhookSecret are required:
// without the webhook secret no event signature can be verified, and an
// unverifiable webhook endpoint must not start at all.
type StripeConfig struct {
	SecretKey     string // API key used for outbound gateway commands
	WebhookSecret string // shared secret for webhook signature verification
	PriceIDPro    string // price the checkout flow subscribes users to
	FrontendURL   string // base URL for success/cancel redirects
}

// LoadStripeConfig reads the Stripe environment variables. The secrets
// are mandatory; the price and frontend URL default to empty and the
// checkout handler rejects requests until they are configured.
func LoadStripeConfig() StripeConfig {
	cfg := StripeConfig{
		SecretKey:     must("STRIPE_SECRET_KEY"),
		WebhookSecret: must("STRIPE_WEBHOOK_SECRET"),
		PriceIDPro:    envStr("STRIPE_PRICE_ID_PRO", ""),
		FrontendURL:   envStr("FRONTEND_URL", ""),
	}
	if cfg.PriceIDPro == "" {
		log.Printf("config: STRIPE_PRICE_ID_PRO not set; checkout disabled")
	}
	return cfg
}
