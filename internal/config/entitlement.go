package config

import "time"

// EntitlementConfig controls the entitlement service: the free-tier
// generation ceiling and how long derived entitlement decisions may live
// in the cache before they must be recomputed from the store. The TTL is
// an upper bound only; writes invalidate affected entries synchronously,
// the TTL merely caps how stale an entry can get if an invalidation is
// ever missed.
type EntitlementConfig struct {
	FreeTierLimit int
	CacheTTL      time.Duration
}

// LoadEntitlementConfig reads environment variables to build an
// EntitlementConfig. Defaults are used when variables are not set.
func LoadEntitlementConfig() EntitlementConfig {
	cfg := EntitlementConfig{
		FreeTierLimit: envInt("FREE_TIER_LIMIT", 10),
		CacheTTL:      envDur("ENTITLEMENT_CACHE_TTL", 5*time.Minute),
	}
	if cfg.FreeTierLimit < 0 {
		cfg.FreeTierLimit = 0
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return cfg
}
