// Checkout service - runs wholesale checkout sessions against a WooCommerce
// store with card capture through Stripe.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/handler"
	"storefront-checkout/internal/middleware"
	"storefront-checkout/internal/negotiation"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/recovery"
	"storefront-checkout/internal/shipping"
	"storefront-checkout/internal/stripe"
	"storefront-checkout/internal/telemetry"
	"storefront-checkout/internal/woocommerce"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(cfg)
	logger.Info("configuration loaded",
		slog.String("merchant_id", cfg.MerchantID),
		slog.String("environment", cfg.Environment),
		slog.String("store_domain", cfg.Merchant.StoreDomain),
		slog.String("currency", cfg.Checkout.Currency),
		slog.Bool("card_payments", cfg.CardPaymentsEnabled()),
	)

	metricsHandler, shutdownMetrics, err := telemetry.InitMeterProvider("storefront-checkout", version)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownMetrics(context.Background())

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	store, err := woocommerce.New(woocommerce.Config{
		StoreURL:  cfg.Merchant.StoreURL,
		APIKey:    cfg.Merchant.APIKey,
		APISecret: cfg.Merchant.APISecret,
		Timeout:   cfg.Checkout.StoreTimeout,
		ChromeTLS: cfg.Merchant.ChromeTLS,
	})
	if err != nil {
		return fmt.Errorf("creating store client: %w", err)
	}

	shippingSvc := shipping.WithBreaker(store.Shipping(), shipping.BreakerConfig{
		Name:        "shipping-plugin",
		MaxFailures: cfg.Checkout.BreakerMaxFailures,
		OpenTimeout: cfg.Checkout.BreakerOpenTimeout,
		Logger:      logger,
	})

	reconciler := pricing.NewReconciler(pricing.Config{
		FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
	})
	selector := payment.NewSelector(payment.Config{
		CardMethods:    cfg.Checkout.CardMethods,
		CardPrefixes:   cfg.Checkout.CardPrefixes,
		InvoiceMethod:  cfg.Checkout.InvoiceMethod,
		InvoiceTitle:   cfg.Checkout.InvoiceTitle,
		CreditTermDays: cfg.Checkout.CreditTermDays,
	})

	snapshots, closeSnapshots, err := newRecoveryStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	deps := checkout.Deps{
		Cart:    store.Cart(),
		Backend: store,
		Resolver: shipping.NewResolver(shippingSvc, shipping.ResolverConfig{
			FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
			Policy:                cfg.Checkout.ShippingPolicy,
			FallbackFlatCost:      cfg.Checkout.FallbackShippingCost,
			Timeout:               cfg.Checkout.ShippingTimeout,
			Logger:                logger,
			Metrics:               metrics,
		}),
		Validator: shipping.NewValidator(shippingSvc, cfg.Checkout.ShippingTimeout, logger),
		Pricing:   reconciler,
		Payments:  selector,
		Recovery:  snapshots,
		Metrics:   metrics,
		Logger:    logger,
		Currency:  cfg.Checkout.Currency,
	}
	opts := handler.Options{
		Pricing:      reconciler,
		Payments:     selector,
		Metrics:      metricsHandler,
		ClientPolicy: negotiation.VersionPolicy{MinVersion: cfg.Checkout.MinClientVersion},
		Version:      version,
	}

	// Card pathway is optional; invoice and manual orders work without it
	if cfg.CardPaymentsEnabled() {
		processor, err := stripe.New(stripe.Config{
			SecretKey:   cfg.Merchant.StripeSecretKey,
			Logger:      logger,
			Description: cfg.Merchant.MerchantName,
		})
		if err != nil {
			return fmt.Errorf("creating payment processor: %w", err)
		}
		deps.Processor = processor
		opts.Verifier = processor
	} else {
		logger.Warn("card payments disabled: no stripe secret key configured")
	}

	checkouts := checkout.NewManager(deps, checkout.ManagerConfig{IdleTTL: cfg.Checkout.SessionIdleTTL})
	go sweepSessions(ctx, checkouts, cfg.Checkout.SessionIdleTTL, logger)

	h := handler.New(checkouts, opts, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: request ID → recovery → logging → tracing → negotiation → handler
	// Recovery must be outside logging to catch panics from logging middleware
	// Negotiation enforces the Storefront-Client header (except exempt paths)
	httpHandler := middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.Instrument("checkoutd"),
		negotiation.Middleware(opts.ClientPolicy, logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
			slog.String("version", version),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped", slog.Int("open_sessions", checkouts.Len()))
	return nil
}

// newRecoveryStore picks Redis when a URL is configured so snapshots survive
// a restart between commit and the payment callback.
func newRecoveryStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (recovery.Store, func(), error) {
	if cfg.Merchant.RedisURL == "" {
		logger.Warn("recovery snapshots kept in memory: no redis url configured")
		return recovery.NewMemoryStore(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Merchant.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logger.Info("recovery store connected", slog.String("addr", opts.Addr))
	return recovery.NewRedisStore(client, cfg.Checkout.RecoveryTTL), func() { client.Close() }, nil
}

// sweepSessions drops idle sessions until ctx is cancelled.
func sweepSessions(ctx context.Context, checkouts *checkout.Manager, ttl time.Duration, logger *slog.Logger) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := checkouts.Sweep(); n > 0 {
				logger.Debug("idle sessions swept", slog.Int("count", n))
			}
		}
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
