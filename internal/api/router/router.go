package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tibacloud/booking-platform/internal/directory"
	"github.com/tibacloud/booking-platform/internal/finalize"
	httpmiddleware "github.com/tibacloud/booking-platform/internal/http/middleware"
	"github.com/tibacloud/booking-platform/internal/payments"
	"github.com/tibacloud/booking-platform/internal/scheduling"
	"github.com/tibacloud/booking-platform/internal/settlement"
	"github.com/tibacloud/booking-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger           *logging.Logger
	BookingHandler   *scheduling.Handler
	PaymentHandler   *payments.Handler
	DirectoryHandler *directory.Handler
	AdminReconcile   *finalize.AdminHandler
	AdminSettlement  *settlement.AdminHandler

	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// RequestsPerSecond enables per-IP rate limiting when > 0.
	RequestsPerSecond float64
	RateBurst         int
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 20
		}
		r.Use(httpmiddleware.RateLimit(cfg.RequestsPerSecond, burst))
	}

	// Public endpoints (booking, payments, gateway callbacks, health).
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}

		if cfg.DirectoryHandler != nil {
			public.Post("/patients", cfg.DirectoryHandler.RegisterPatient)
			public.Get("/providers", cfg.DirectoryHandler.ListProviders)
			public.Get("/providers/{providerID}/services", cfg.DirectoryHandler.ListServices)
		}

		if cfg.BookingHandler != nil {
			public.Route("/bookings", func(b chi.Router) {
				b.Post("/slots/query", cfg.BookingHandler.QuerySlots)
				b.Post("/reserve", cfg.BookingHandler.Reserve)
				b.Route("/{bookingID}", func(one chi.Router) {
					one.Get("/", cfg.BookingHandler.Get)
					one.Delete("/", cfg.BookingHandler.Delete)
					one.Post("/confirm", cfg.BookingHandler.Confirm)
					one.Post("/start", cfg.BookingHandler.Start)
					one.Post("/complete", cfg.BookingHandler.Complete)
					one.Post("/cancel", cfg.BookingHandler.Cancel)
					one.Post("/reject", cfg.BookingHandler.Reject)
					one.Post("/no-show", cfg.BookingHandler.MarkNoShow)
				})
				b.Get("/patient/{patientID}", cfg.BookingHandler.ListByPatient)
				b.Get("/provider/{providerType}/{providerID}", cfg.BookingHandler.ListByProvider)
			})
		}

		if cfg.PaymentHandler != nil {
			public.Route("/payments", func(p chi.Router) {
				p.Post("/sessions", cfg.PaymentHandler.OpenSession)
				p.Get("/sessions/{reference}", cfg.PaymentHandler.GetStatus)
				p.Post("/mpesa/callback", cfg.PaymentHandler.MpesaCallback)
				p.Get("/pesapal/ipn", cfg.PaymentHandler.PesapalIPN)
				p.Post("/pesapal/ipn", cfg.PaymentHandler.PesapalIPN)
			})
		}
	})

	// Admin routes (operator JWT).
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.AdminReconcile != nil {
				admin.Get("/reconciliations", cfg.AdminReconcile.ListReconciliations)
				admin.Post("/reconciliations/{reconciliationID}/resolve", cfg.AdminReconcile.ResolveReconciliation)
			}
			if cfg.AdminSettlement != nil {
				admin.Get("/settlements", cfg.AdminSettlement.ListSettlements)
			}
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
