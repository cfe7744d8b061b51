package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bookhaven/internal/usertoken"
	"bookhaven/internal/util"
	"bookhaven/pkg/googlebooks"
	"bookhaven/pkg/store"
	"bookhaven/services/bookstore/internal/app"
	"bookhaven/services/bookstore/internal/config"
	"bookhaven/services/bookstore/internal/security"
	"bookhaven/services/bookstore/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	tokenTTL, err := config.ParseDuration("jwtTTL", cfg.JWTTTL, 0)
	if err != nil {
		log.Fatalf("failed to parse jwt ttl: %v", err)
	}
	rememberMeTTL, err := config.ParseDuration("jwtRememberMeTTL", cfg.JWTRememberMeTTL, 0)
	if err != nil {
		log.Fatalf("failed to parse remember-me ttl: %v", err)
	}
	leeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway, 0)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	tokens, err := usertoken.NewService(usertoken.Config{
		Secret:        cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		TTL:           tokenTTL,
		RememberMeTTL: rememberMeTTL,
		Leeway:        leeway,
	})
	if err != nil {
		log.Fatalf("failed to init token service: %v", err)
	}

	lookupTimeout, err := config.ParseDuration("googleBooksTimeout", cfg.GoogleBooksTimeout, 0)
	if err != nil {
		log.Fatalf("failed to parse google books timeout: %v", err)
	}
	lookup := googlebooks.NewClient(cfg.GoogleBooksBaseURL, lookupTimeout)

	var pricing app.PricingPolicy
	if price, ok, err := config.ParseFixedPrice(cfg.FixedPrice); err != nil {
		log.Fatalf("failed to parse fixed price: %v", err)
	} else if ok {
		pricing = app.FixedPricing{Amount: price}
	}

	// Redis is optional: without it cart summaries stay in process memory
	// and register/login are not rate limited.
	var (
		summaries store.CartSummaryCache
		scripter  redis.Scripter
		alerter   *security.AuditAlerter
	)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		defer client.Close()
		summaryTTL, err := config.ParseDuration("cartSummaryTTL", cfg.CartSummaryTTL, 0)
		if err != nil {
			log.Fatalf("failed to parse cart summary ttl: %v", err)
		}
		redisSummaries, err := store.NewRedisCartSummaryCache(client, "", summaryTTL)
		if err != nil {
			log.Fatalf("failed to init cart summary cache: %v", err)
		}
		summaries = redisSummaries
		scripter = client
		alerter = security.NewAuditAlerter(client, "", nil)
	} else {
		logger.Warn("redisAddr not set; rate limiting disabled and cart summaries kept in memory")
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		DBMaxOpenConns: cfg.DBMaxOpenConns,
		DBMaxIdleConns: cfg.DBMaxIdleConns,
		Summaries:      summaries,
		Tokens:         tokens,
		Lookup:         lookup,
		Pricing:        pricing,
		AdminEmails:    cfg.AdminEmails,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      scripter,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		Alerter:                    alerter,
		TrustedProxies:             trusted,
		AllowedOrigins:             cfg.AllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		slog.Info("bookstore server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()
	<-ctx.Done()

	shutdownTimeout, err := config.ParseDuration("shutdownTimeout", cfg.ShutdownTimeout, 10*time.Second)
	if err != nil {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	slog.Info("bookstore server stopped")
}
