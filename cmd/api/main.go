package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/config"
	"github.com/1sub-io/vendor-api/internal/handlers"
	"github.com/1sub-io/vendor-api/internal/services"
	"github.com/1sub-io/vendor-api/pkg/database"
	"github.com/1sub-io/vendor-api/pkg/ratelimit"
	"github.com/1sub-io/vendor-api/pkg/storage"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting 1Sub Vendor API")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("Migrations completed successfully")

	// Local upload storage
	store, err := storage.New(cfg.StorageDir, cfg.StoragePublicURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize upload storage")
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Initialize services
	settingsService := services.NewSettingsService(db.Pool)
	seedSettings(ctx, settingsService, cfg)

	keyService := services.NewKeyService(db, cfg)
	creditService := services.NewCreditService(db)
	subscriptionService := services.NewSubscriptionService(db)
	linkService := services.NewLinkService(db, cfg.LinkCodeTTL)
	webhookService := services.NewWebhookService(db)
	notifyService := services.NewNotifyService(db.Pool, settingsService, cfg.DiscordBotToken)
	chartService := services.NewChartService()
	feedHub := services.NewFeedHub()

	keyLimit := cfg.KeyRateLimit
	if raw := settingsService.Get(ctx, "api_rate_limit", ""); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			keyLimit = parsed
		}
	}
	limiter, err := ratelimit.New(cfg.RedisURL, keyLimit, "platform")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rate limiter")
	}
	defer limiter.Close()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(db, cfg)
	toolHandler := handlers.NewToolHandler(db, store)
	productHandler := handlers.NewProductHandler(db)
	keyHandler := handlers.NewKeyHandler(db, keyService)
	txHandler := handlers.NewTransactionHandler(db, creditService, chartService)
	settingsHandler := handlers.NewSettingsHandler(settingsService)
	liveHandler := handlers.NewLiveHandler(db, feedHub)
	platformHandler := handlers.NewPlatformHandler(db, cfg, creditService, subscriptionService,
		linkService, webhookService, notifyService, feedHub)

	// Vendor dashboard routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public Routes
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Get("/auth/discord/login", authHandler.DiscordOAuthLogin)
		r.Get("/auth/discord/callback", authHandler.DiscordOAuthCallback)

		// WebSocket authenticates via query param, not the auth middleware
		r.Get("/tools/{id}/live", liveHandler.StreamTransactions)

		// Platform API consumed by tool backends via SDK (sk-tool key auth)
		r.Group(func(r chi.Router) {
			r.Use(handlers.ToolAuthMiddleware(keyService))
			r.Use(handlers.RateLimitMiddleware(limiter))

			r.Post("/credits/consume", platformHandler.Consume)
			r.Post("/tools/subscriptions/verify", platformHandler.Verify)
			r.Post("/authorize/exchange", platformHandler.ExchangeLinkCode)
		})

		// Protected Routes
		r.Group(func(r chi.Router) {
			r.Use(handlers.AuthMiddleware)

			// Auth
			r.Get("/auth/me", authHandler.GetMe)
			r.Delete("/auth/discord", authHandler.UnlinkDiscord)

			// Account linking
			r.Post("/link-code", platformHandler.IssueLinkCode)

			// Tools
			r.Get("/tools", toolHandler.ListTools)
			r.Post("/tools", toolHandler.CreateTool)
			r.Route("/tools/{id}", func(r chi.Router) {
				r.Get("/", toolHandler.GetTool)
				r.Put("/", toolHandler.UpdateTool)
				r.Delete("/", toolHandler.DeleteTool)
				r.Post("/images/{kind}", toolHandler.UploadImage)
				r.Post("/launch", platformHandler.Launch)

				// Products
				r.Get("/products", productHandler.ListProducts)
				r.Post("/products", productHandler.CreateProduct)
				r.Put("/products/{productID}", productHandler.UpdateProduct)
				r.Delete("/products/{productID}", productHandler.DeleteProduct)

				// API key lifecycle
				r.Route("/key", func(r chi.Router) {
					r.Get("/", keyHandler.GetKey)
					r.Post("/", keyHandler.CreateKey)
					r.Post("/regenerate", keyHandler.RegenerateKey)
					r.Put("/webhook", keyHandler.ConfigureWebhook)
					r.Put("/redirect-uri", keyHandler.SetRedirectURI)
				})

				// Analytics
				r.Get("/transactions", txHandler.ListTransactions)
				r.Get("/transactions/export", txHandler.ExportTransactions)
				r.Get("/stats", txHandler.GetStats)
				r.Get("/stats/top-users", txHandler.GetTopUsers)
				r.Get("/stats/revenue", txHandler.GetRevenueSeries)
				r.Get("/stats/revenue/chart", txHandler.GetRevenueChart)
			})

			// Vendor Settings
			r.Get("/settings", settingsHandler.GetVendorSettings)
			r.Put("/settings", settingsHandler.UpdateVendorSetting)
		})
	})

	// Serve optimized uploads
	fileServer := http.StripPrefix("/uploads/", http.FileServer(http.Dir(store.Dir())))
	r.Get("/uploads/*", func(w http.ResponseWriter, r *http.Request) {
		fileServer.ServeHTTP(w, r)
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}()

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}

func seedSettings(ctx context.Context, s *services.SettingsService, cfg *config.Config) {
	// Seed api_rate_limit
	if val := s.Get(ctx, "api_rate_limit", "NOT_SET"); val == "NOT_SET" {
		log.Info().Msg("Seeding api_rate_limit")
		s.Set(ctx, "api_rate_limit", strconv.Itoa(cfg.KeyRateLimit), "Platform API rate limit (requests per minute per key)", false)
	}

	// Seed max_consume_amount
	if val := s.Get(ctx, "max_consume_amount", "NOT_SET"); val == "NOT_SET" {
		log.Info().Msg("Seeding max_consume_amount")
		s.Set(ctx, "max_consume_amount", strconv.FormatInt(cfg.MaxConsumeAmount, 10), "Maximum credits per consume call", false)
	}
}
