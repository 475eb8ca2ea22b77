// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hexacloud/storefront/internal/affiliate"
	"github.com/hexacloud/storefront/internal/api"
	"github.com/hexacloud/storefront/internal/billing"
	"github.com/hexacloud/storefront/internal/catalog"
	"github.com/hexacloud/storefront/internal/config"
	"github.com/hexacloud/storefront/internal/db"
	"github.com/hexacloud/storefront/internal/health"
	"github.com/hexacloud/storefront/internal/middleware"
	"github.com/hexacloud/storefront/internal/order"
	"github.com/hexacloud/storefront/internal/payment"
	"github.com/hexacloud/storefront/internal/tracing"
	"github.com/hexacloud/storefront/internal/tracking"
)

const serviceName = "storefront"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Storefront API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	// Initialize logger
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx := context.Background()

	// Distributed tracing
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Product catalog
	mapping := catalog.DefaultMapping()
	if cfg.CatalogPath != "" {
		mapping, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			logger.Error("failed to load catalog", "path", cfg.CatalogPath, "error", err)
			os.Exit(1)
		}
		logger.Info("catalog loaded", "path", cfg.CatalogPath)
	}
	mapper := catalog.NewMapper(mapping)

	// Billing backend client
	billingClient := billing.NewHTTPClient(cfg.BillingEndpoint, cfg.BillingAPIID, cfg.BillingAPIKey)

	// Redis is optional; it backs webhook dedupe, shared rate limits and
	// affiliate counters.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, continuing", "addr", cfg.RedisAddr, "error", err)
		}
	}

	// Intent storage: Postgres when configured, in-memory otherwise.
	var intents payment.IntentRepository
	var pool *sql.DB
	if cfg.DatabaseURL != "" {
		pool, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		repo := payment.NewPostgresIntentRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		intents = repo
		logger.Info("using postgres intent storage")
	} else {
		intents = payment.NewInMemoryIntentRepository()
		logger.Warn("DATABASE_URL not set, payment intents are stored in memory")
	}

	// Webhook dedupe storage
	var events payment.EventRepository
	if redisClient != nil {
		events = payment.NewRedisEventRepository(redisClient)
	} else {
		events = payment.NewInMemoryEventRepository()
		logger.Warn("REDIS_ADDR not set, webhook dedupe is per-instance only")
	}

	// Stripe gateway for card payments
	var stripeGateway payment.StripeGateway
	if cfg.StripeAPIKey != "" {
		stripeGateway = payment.NewStripeClient(cfg.StripeAPIKey, cfg.StripeWebhookSecret)
	}

	// Metrics
	paymentMetrics := payment.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := paymentMetrics.Register(registry); err != nil {
		logger.Error("failed to register payment metrics", "error", err)
		os.Exit(1)
	}
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	// Domain services
	orchestrator := order.NewOrchestrator(billingClient, mapper, cfg.HomeCurrency, cfg.AffiliateRequired)
	initializer := payment.NewInitializer(payment.InitializerConfig{
		EnabledMethods:    cfg.Methods(),
		CheckoutBaseURL:   cfg.CheckoutBaseURL,
		ReturnURL:         cfg.ReturnURL,
		CancelURL:         cfg.CancelURL,
		HomeCurrency:      cfg.HomeCurrency,
		BankAccountNumber: cfg.BankAccountNumber,
	}, intents, stripeGateway, paymentMetrics)
	reconciler := payment.NewReconciler(intents, events, stripeGateway, paymentMetrics)
	tracker := tracking.NewTracker(redisClient)
	codec := affiliate.NewCodec(cfg.AffiliateSecret)

	// HTTP handlers
	checkoutHandlers := api.NewCheckoutHandlers(orchestrator, tracker, paymentMetrics)
	paymentHandlers := api.NewPaymentHandlers(initializer, reconciler)
	webhookHandlers := api.NewWebhookHandlers(reconciler)

	healthConfig := api.HealthHandlersConfig{
		BillingChecker: health.NewBillingChecker(billingClient),
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	if pool != nil {
		healthConfig.DBChecker = health.NewDBChecker(pool)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	// Rate limiting: shared store when Redis is available.
	var limitStore middleware.RateLimitStore
	if redisClient != nil {
		limitStore = middleware.NewRedisRateLimitStoreWithMetrics(redisClient, httpMetrics)
	} else {
		store := middleware.NewInMemoryRateLimitStore()
		go func() {
			for range time.Tick(5 * time.Minute) {
				store.Cleanup()
			}
		}()
		limitStore = store
	}
	keyFunc := middleware.IPKeyFunc()
	checkoutLimiter := middleware.RateLimiter(limitStore,
		middleware.RateLimitConfig{RequestsPerWindow: cfg.CheckoutRateLimit, WindowDuration: time.Minute},
		keyFunc, httpMetrics, "checkout")
	webhookLimiter := middleware.RateLimiter(limitStore,
		middleware.RateLimitConfig{RequestsPerWindow: cfg.WebhookRateLimit, WindowDuration: time.Minute},
		keyFunc, httpMetrics, "webhook")
	globalLimiter := middleware.RateLimiter(limitStore,
		middleware.RateLimitConfig{RequestsPerWindow: cfg.GlobalRateLimit, WindowDuration: time.Minute},
		keyFunc, httpMetrics, "global")

	// Routes
	mux := http.NewServeMux()

	mux.Handle("/checkout", checkoutLimiter(http.HandlerFunc(checkoutHandlers.HandleCheckout)))
	mux.Handle("/payments/initialize", checkoutLimiter(http.HandlerFunc(paymentHandlers.HandleInitialize)))
	mux.Handle("/payments/status", globalLimiter(http.HandlerFunc(paymentHandlers.HandleStatus)))
	mux.Handle("/payments/return", globalLimiter(http.HandlerFunc(paymentHandlers.HandleReturn)))
	mux.Handle("/webhooks", webhookLimiter(http.HandlerFunc(webhookHandlers.HandleWebhook)))
	mux.Handle("/webhooks/", webhookLimiter(http.HandlerFunc(webhookHandlers.HandleWebhook)))

	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Root endpoint doubles as the affiliate referral landing page; everything
	// else under it is a structured 404.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"storefront-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: RequestID -> Tracing -> HTTPMetrics -> Logging -> Affiliate.
	// Logging sits innermost so handlers can hand error codes back through the
	// wrapped response writer.
	handler := affiliate.Middleware(codec, tracker)(mux)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down tracer provider", "error", err)
	}
	if pool != nil {
		if err := pool.Close(); err != nil {
			logger.Error("failed to close database pool", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}

	logger.Info("server stopped")
}
