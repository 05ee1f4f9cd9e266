package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/worksheetlab/worksheet-api/internal/billing"
	"github.com/worksheetlab/worksheet-api/internal/cache"
	"github.com/worksheetlab/worksheet-api/internal/config"
	"github.com/worksheetlab/worksheet-api/internal/database"
	"github.com/worksheetlab/worksheet-api/internal/entitlement"
	"github.com/worksheetlab/worksheet-api/internal/handler"
	"github.com/worksheetlab/worksheet-api/internal/queue"
	"github.com/worksheetlab/worksheet-api/internal/repository"
	"github.com/worksheetlab/worksheet-api/internal/router"
	"github.com/worksheetlab/worksheet-api/internal/webhook"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment

	cfg := config.Load()
	stripeCfg := config.LoadStripeConfig()
	entCfg := config.LoadEntitlementConfig()
	rlCfg := config.LoadRateLimitConfig()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	// Redis backs the entitlement cache and the rate limiter. Without it
	// the service still runs: in-process cache, no limiting.
	rdb := config.NewRedisClient()
	var entCache cache.Store
	if rdb != nil {
		entCache = cache.NewRedis(rdb)
	} else {
		log.Printf("redis unavailable; using in-process entitlement cache")
		entCache = cache.NewMemory()
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	subs := repository.NewSubscriptionRepo(db)
	usage := repository.NewUsageRepo(db)

	gateway := billing.NewStripeGateway(stripeCfg)
	entService := entitlement.NewService(subs, usage, gateway, entCache, entCfg)
	reconciler := webhook.NewReconciler(stripeCfg.WebhookSecret, subs, users, entService)

	// Background consumer feeding the activity log for admin analytics.
	go func() {
		if err := queue.StartActivityConsumer(); err != nil {
			log.Printf("activity consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true

	router.RegisterRoutes(e, handler.NewWebhookHandler(reconciler))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret)
	router.RegisterSubscription(e,
		handler.NewSubscriptionHandler(entService),
		handler.NewBillingHandler(stripeCfg, users, gateway),
		cfg.JWTSecret, rlCfg, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
