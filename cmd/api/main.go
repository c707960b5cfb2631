package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/orvio/server/internal/auth"
	"github.com/orvio/server/internal/cashback"
	"github.com/orvio/server/internal/config"
	"github.com/orvio/server/internal/credit"
	"github.com/orvio/server/internal/db"
	httphandler "github.com/orvio/server/internal/http"
	"github.com/orvio/server/internal/http/handlers"
	"github.com/orvio/server/internal/repo"
	"github.com/orvio/server/internal/service"
	"github.com/orvio/server/internal/storage"
	"github.com/orvio/server/internal/storage/memory"
	storageredis "github.com/orvio/server/internal/storage/redis"
	"github.com/orvio/server/internal/webhook"
)

func main() {
	// Load .env from CWD so it works in dev (env vars override)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Per-phone send cooldown: Redis when configured, in-memory otherwise
	var cooldown storage.CooldownStore
	if cfg.RedisURL != "" {
		rc, err := storageredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		cooldown = rc
		log.Println("Cooldown store: redis")
	} else {
		cooldown = memory.New()
		log.Println("Cooldown store: in-memory")
	}
	defer cooldown.Close()

	// Repositories
	userRepo := repo.NewUserRepo(database)
	deviceRepo := repo.NewDeviceRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	apiKeyRepo := repo.NewApiKeyRepo(database)
	cashbackRepo := repo.NewCashbackRepo(database)

	// Services
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	sessions := auth.NewSessionService(sessionRepo, apiKeyRepo, jwtService, cfg.RefreshTokenTTL)
	otpService := auth.NewOtpService(otpRepo, cooldown, cfg.OTPSalt)
	authService := auth.NewAuthService(otpService, sessions, userRepo, deviceRepo)
	apiKeyService := auth.NewApiKeyService(sessions, apiKeyRepo, sessionRepo)
	ledger := credit.NewLedger(userRepo)
	aggregator := cashback.NewAggregator(cashbackRepo, sessionRepo, deviceRepo, userRepo, apiKeyRepo)
	notifier := webhook.NewHTTPNotifier(cfg.WebhookTimeout)
	gateway := service.NewGateway(otpService, ledger, aggregator, otpRepo, apiKeyRepo, notifier)

	// Handlers and router
	authHandler := handlers.NewAuthHandler(authService, sessions, aggregator)
	apiKeyHandler := handlers.NewApiKeyHandler(apiKeyService)
	serviceHandler := handlers.NewServiceHandler(gateway, ledger)
	router := httphandler.NewRouter(authHandler, apiKeyHandler, serviceHandler, sessions, userRepo)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Hourly sweep of expired, unconsumed transactions
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := otpService.PurgeExpired(sweepCtx); err != nil {
					log.Printf("Failed to purge expired transactions: %v", err)
				} else if n > 0 {
					log.Printf("Purged %d expired OTP transactions", n)
				}
			}
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from repo root)")
	}

	absDir, _ := filepath.Abs(migrationDir)
	log.Printf("Running migrations from %s", absDir)

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
