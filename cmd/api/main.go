package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tibacloud/booking-platform/internal/api/router"
	appconfig "github.com/tibacloud/booking-platform/internal/config"
	"github.com/tibacloud/booking-platform/internal/directory"
	"github.com/tibacloud/booking-platform/internal/events"
	"github.com/tibacloud/booking-platform/internal/finalize"
	"github.com/tibacloud/booking-platform/internal/notify"
	"github.com/tibacloud/booking-platform/internal/observability/metrics"
	"github.com/tibacloud/booking-platform/internal/payments"
	"github.com/tibacloud/booking-platform/internal/scheduling"
	"github.com/tibacloud/booking-platform/internal/settlement"
	"github.com/tibacloud/booking-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without cache", "error", err)
			rdb = nil
		}
	}

	loc, err := time.LoadLocation(cfg.BookingTimezone)
	if err != nil {
		logger.Error("invalid booking timezone", "error", err, "tz", cfg.BookingTimezone)
		os.Exit(1)
	}

	bookingMetrics := metrics.NewBookingMetrics(nil)
	paymentMetrics := metrics.NewPaymentMetrics(nil)

	// Directory and scheduling.
	dirStore := directory.NewStore(pool)
	bookingStore := scheduling.NewStore(pool)
	calendar := scheduling.NewCalendar(bookingStore)
	bookingSvc := scheduling.NewService(bookingStore, calendar, dirStore, dirStore,
		bookingMetrics, cfg.BookingWindowDays, logger)

	// Payment gateways. Callback URLs default to paths under the public
	// base URL unless set explicitly.
	mpesaCallbackURL := cfg.MpesaCallbackURL
	if mpesaCallbackURL == "" {
		mpesaCallbackURL = cfg.CallbackURL("/payments/mpesa/callback")
	}
	pesapalCallbackURL := cfg.PesapalCallbackURL
	if pesapalCallbackURL == "" {
		pesapalCallbackURL = cfg.CallbackURL("/payments/pesapal/ipn")
	}
	pesapalIPNURL := cfg.PesapalIPNURL
	if pesapalIPNURL == "" {
		pesapalIPNURL = cfg.CallbackURL("/payments/pesapal/ipn")
	}
	mpesa := payments.NewMpesaClient(cfg.MpesaBaseURL, cfg.MpesaConsumerKey, cfg.MpesaConsumerSecret,
		cfg.MpesaShortCode, cfg.MpesaPasskey, mpesaCallbackURL, rdb, logger.With("component", "mpesa"))
	pesapal := payments.NewPesapalClient(cfg.PesapalBaseURL, cfg.PesapalConsumerKey, cfg.PesapalConsumerSecret,
		pesapalCallbackURL, rdb, logger.With("component", "pesapal"))
	if pesapalIPNURL != "" {
		if ipnID, err := pesapal.RegisterIPN(ctx, pesapalIPNURL); err != nil {
			logger.Warn("pesapal IPN registration failed", "error", err)
		} else {
			logger.Info("pesapal IPN registered", "ipn_id", ipnID)
		}
	}

	// Notification sink.
	var sender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sender = sg
	} else {
		sender = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewBookingNotifier(sender, logger)

	// Settlement leg.
	settlementStore := settlement.NewStore(pool)
	forwarder := settlement.NewForwarder(settlement.Config{
		Enabled:     cfg.StellarEnabled,
		Network:     cfg.StellarNetwork,
		HorizonURL:  cfg.StellarHorizonURL,
		SecretKey:   cfg.StellarSourceSecret,
		Destination: cfg.StellarDestinationWallet,
		USDCIssuer:  cfg.StellarUSDCIssuer,
		MemoPrefix:  cfg.StellarMemoPrefix,
		KesPerUSD:   cfg.KesPerUSD,
		Store:       settlementStore,
		Rates:       settlement.NewRateSource(cfg.ExchangeRateAPIURL),
		Metrics:     paymentMetrics,
		Logger:      logger.With("component", "settlement"),
	})

	// Finalization and payments.
	reconStore := finalize.NewReconciliationStore(pool)
	outbox := events.NewOutboxStore(pool)
	finalizer := finalize.New(finalize.Config{
		Bookings:        bookingStore,
		Reconciliations: reconStore,
		Outbox:          outbox,
		Notify:          notifier,
		Settlement:      forwarder,
		Logger:          logger,
	})
	paymentSvc := payments.NewService(payments.ServiceConfig{
		Store:      payments.NewStore(pool),
		Cache:      payments.NewStatusCache(rdb, cfg.PaymentStatusCache, logger),
		Mpesa:      mpesa,
		Pesapal:    pesapal,
		Finalizer:  finalizer,
		Processed:  events.NewProcessedStore(pool),
		Slots:      scheduling.NewAvailabilityChecker(calendar),
		Metrics:    paymentMetrics,
		Logger:     logger,
		SessionTTL: cfg.PaymentSessionTTL,
	})
	go paymentSvc.RunExpiry(ctx, time.Minute)
	go paymentSvc.RunStatusPolls(ctx, 30*time.Second)
	outboxLogger := logger.With("component", "outbox")
	go events.NewDeliverer(outbox, events.NewLogHandler(outboxLogger), outboxLogger).Start(ctx)

	r := router.New(&router.Config{
		Logger:             logger,
		BookingHandler:     scheduling.NewHandler(bookingSvc, loc, logger),
		PaymentHandler:     payments.NewHandler(paymentSvc, loc, logger),
		DirectoryHandler:   directory.NewHandler(dirStore, logger),
		AdminReconcile:     finalize.NewAdminHandler(reconStore, logger),
		AdminSettlement:    settlement.NewAdminHandler(settlementStore, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RequestsPerSecond:  cfg.RateLimitRPS,
		RateBurst:          cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
