package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/liggeey/backend/internal/config"
	"github.com/liggeey/backend/internal/database"
	"github.com/liggeey/backend/internal/handlers"
	mW "github.com/liggeey/backend/internal/middleware"
	"github.com/liggeey/backend/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.migrations_path", "DATABASE_MIGRATIONS_PATH")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize backing stores
	db := database.InitDatabase()
	defer db.Close()

	if err := database.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	marketplaceConfig := config.LoadMarketplaceConfig()
	notifier := services.NewNotificationSink(redisClient)

	// Initialize services
	trackingService := services.NewTrackingService(db, redisClient)
	ledgerService := services.NewLedgerService(db, redisClient, marketplaceConfig, notifier)
	postService := services.NewPostService(db, marketplaceConfig, trackingService, notifier)
	applicationService := services.NewApplicationService(db, notifier)
	missionService := services.NewMissionService(db, ledgerService, trackingService, marketplaceConfig, notifier)
	trackingHandler := handlers.NewTrackingHandler(trackingService)
	walletHandler := handlers.NewWalletHandler(ledgerService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Use(middleware.Timeout(60 * time.Second))

			// Posts
			r.Post("/posts", postService.Create)
			r.Get("/posts/nearby", postService.Nearby)
			r.Get("/posts/mine", postService.Mine)
			r.Get("/posts/{postID}", postService.Get)
			r.Put("/posts/{postID}/price", postService.ChangePrice)
			r.Delete("/posts/{postID}", postService.Cancel)

			// Applications
			r.Post("/posts/{postID}/applications", applicationService.Create)
			r.Get("/posts/{postID}/applications", applicationService.List)
			r.Put("/posts/{postID}/applications/{applicationID}/reject", applicationService.RejectCandidate)

			// Mission lifecycle
			r.Post("/posts/{postID}/approve", missionService.ApproveCandidate)
			r.Post("/posts/{postID}/complete", missionService.CompleteMission)
			r.Post("/posts/{postID}/reopen", missionService.ReopenMission)

			// Live tracking
			r.Post("/posts/{postID}/tracking", trackingHandler.Start)
			r.Put("/posts/{postID}/tracking", trackingHandler.Update)
			r.Get("/posts/{postID}/tracking", trackingHandler.Current)

			// Wallet
			r.Get("/wallet/balance", ledgerService.GetBalance)
			r.Get("/wallet/transactions", ledgerService.GetTransactions)
			r.Post("/wallet/deposits", ledgerService.Deposit)
			r.Post("/wallet/deposits/qr", walletHandler.GenerateDepositQR)
			r.Post("/wallet/deposits/qr/confirm", walletHandler.ConfirmDepositQR)
			r.Post("/wallet/withdrawals", ledgerService.Withdraw)
			r.Put("/wallet/withdrawals/{txID}/settle", ledgerService.Settle)
		})

		// Websocket streams stay open well past the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/posts/{postID}/tracking/ws", trackingHandler.Subscribe)
			r.Get("/posts/{postID}/tracking/publish", trackingHandler.Publish)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
