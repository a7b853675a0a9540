package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saji-pos/api/internal/config"
	"github.com/saji-pos/api/internal/database"
	"github.com/saji-pos/api/internal/gateway"
	"github.com/saji-pos/api/internal/handler"
	mw "github.com/saji-pos/api/internal/middleware"
	"github.com/saji-pos/api/internal/notify"
	"github.com/saji-pos/api/internal/payment"
	"github.com/saji-pos/api/internal/service"
	"github.com/saji-pos/api/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication and role-based middleware as needed.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",        // SvelteKit dev server
			"https://pos.warungsaji.id",    // Production POS terminals
			"https://kasir.warungsaji.id",  // Cashier display
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// --- Payment pipeline wiring ---
	gw := gateway.NewMidtransGateway(cfg.GatewayBaseURL, cfg.GatewayServerKey)

	var notifier notify.Notifier = notify.Nop{}
	var channels notify.Multi
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		channels = append(channels, notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WhatsAppAPIURL != "" && cfg.WhatsAppRecipient != "" {
		channels = append(channels, notify.NewWhatsAppNotifier(cfg.WhatsAppAPIURL, cfg.WhatsAppToken, cfg.WhatsAppRecipient))
	}
	if len(channels) > 0 {
		notifier = channels
	}

	finalizer := service.NewOrderFinalizer(
		queries,
		pool,
		func(db database.DBTX) service.FinalizerStore {
			return database.New(db)
		},
		notifier,
		hub,
	)
	reconciler := payment.NewReconciler(queries, finalizer)
	issuer := payment.NewIssuer(queries, gw, "midtrans", cfg.IntentExpiry)
	poller := payment.NewPoller(queries, gw, reconciler)

	qrisHandler := handler.NewQrisHandler(queries, issuer, poller, reconciler)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// Provider webhook (public; validated by payload shape, not session)
	qrisHandler.RegisterWebhookRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Menu reads (all staff)
		menuHandler := handler.NewMenuHandler(queries)
		menuHandler.RegisterRoutes(r)

		// Tables
		tableHandler := handler.NewTableHandler(queries)
		r.Route("/tables", func(r chi.Router) {
			tableHandler.RegisterRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole("ADMIN"))
				tableHandler.RegisterAdminRoutes(r)
			})
		})

		// Orders
		newOrderStore := func(db database.DBTX) service.OrderStore {
			return database.New(db)
		}
		orderService := service.NewOrderService(pool, newOrderStore)
		orderHandler := handler.NewOrderHandler(orderService, queries, hub)
		r.Route("/orders", func(r chi.Router) {
			orderHandler.RegisterRoutes(r)

			// QRIS intents (nested under orders)
			qrisHandler.RegisterOrderRoutes(r)

			// Receipts
			receiptHandler := handler.NewReceiptHandler(queries)
			receiptHandler.RegisterRoutes(r)

			// Payments (nested under orders)
			r.Route("/{id}/payments", func(r chi.Router) {
				paymentHandler := handler.NewPaymentHandler(
					queries,
					pool,
					func(db database.DBTX) handler.PaymentStore {
						return database.New(db)
					},
					finalizer,
					hub,
				)
				paymentHandler.RegisterRoutes(r)
			})
		})

		// Intent polling + evidence
		qrisHandler.RegisterIntentRoutes(r)

		// ADMIN-only routes
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole("ADMIN"))

			userHandler := handler.NewUserHandler(queries)
			r.Route("/users", userHandler.RegisterRoutes)

			menuHandler.RegisterAdminRoutes(r)

			reportHandler := handler.NewReportHandler(queries)
			r.Route("/reports", reportHandler.RegisterRoutes)
		})
	})

	return r
}

// Server wraps http.Server with sane timeouts for a LAN POS deployment.
func Server(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
