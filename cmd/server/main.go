// ===========================================
// shortlink - Main Entry Point
// ===========================================
// Everything comes together here, by hand:
//
// 1. Load configuration (layered YAML + APP_ env overrides)
// 2. Open the store and run migrations
// 3. Build the short-code generator and the membership filter
// 4. Wire repositories -> services -> handlers
// 5. Start background tasks (snapshots, rate-limit eviction)
// 6. Serve until SIGINT/SIGTERM, then drain and snapshot once more
//
// DESIGN PRINCIPLE: "Fail Fast at Startup"
// If any critical dependency fails, crash immediately. Better to fail
// during deployment than serve broken requests.
// ===========================================

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/user/shortlink/internal/bloom"
	"github.com/user/shortlink/internal/config"
	"github.com/user/shortlink/internal/database"
	"github.com/user/shortlink/internal/generator"
	"github.com/user/shortlink/internal/handler"
	"github.com/user/shortlink/internal/logger"
	"github.com/user/shortlink/internal/mailer"
	"github.com/user/shortlink/internal/middleware"
	"github.com/user/shortlink/internal/repository"
	"github.com/user/shortlink/internal/service"
)

// Version is set at build time using ldflags.
var Version = "dev"

const snapshotInterval = 5 * time.Minute

func main() {
	// .env is optional; production injects real environment variables.
	_ = godotenv.Load()

	configDir := os.Getenv("APP_CONFIG_DIR")
	if configDir == "" {
		configDir = "configuration"
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Getenv("APP_LOG_LEVEL"))
	log.Info().Str("version", Version).Int("port", cfg.Application.Port).Msg("Starting shortlink")

	if config.ProductionEnv() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// ===========================================
	// Storage
	// ===========================================
	var (
		urlStore  repository.URLStore
		userStore repository.UserStore
		authStore repository.AuthStore
	)

	switch cfg.Database.Type {
	case "postgres":
		postgres, err := database.NewPostgresDB(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer postgres.Close()

		if err := repository.MigratePostgres(ctx, postgres.Pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}

		urlStore = repository.NewPostgresURLStore(postgres.Pool)
		userStore = repository.NewPostgresUserStore(postgres.Pool)
		authStore = repository.NewPostgresAuthStore(postgres.Pool)
		log.Info().Msg("PostgreSQL connected")

	case "sqlite":
		sqlite, err := database.NewSqliteDB(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open SQLite database")
		}
		defer sqlite.Close()

		if err := repository.MigrateSqlite(ctx, sqlite.DB); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}

		urlStore = repository.NewSqliteURLStore(sqlite.DB)
		log.Info().Str("path", cfg.Database.ConnectionString()).Msg("SQLite opened")
		log.Warn().Msg("Account subsystem requires PostgreSQL; auth routes disabled")

	default:
		log.Fatal().Str("type", cfg.Database.Type).Msg("Unknown database type")
	}

	// Optional hot-URL cache.
	var redis *database.RedisDB
	if cfg.Redis.URL != "" {
		redis, err = database.NewRedisDB(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redis.Close()
		log.Info().Msg("Redis connected")
	}

	// ===========================================
	// Generator & membership filter
	// ===========================================
	gen, err := generator.Build(cfg.Shortener)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build short-code generator")
	}
	log.Info().Str("engine", gen.Name()).Msg("Short-code generator ready")

	filter, err := bloom.Build(ctx, urlStore, urlStore, !config.SnapshotsDisabled(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build membership filter")
	}

	// ===========================================
	// Services & handlers
	// ===========================================
	shortener := service.NewShortenerService(
		urlStore, filter, gen, redis,
		cfg.Application.BaseURL, cfg.Shortener.Length, cfg.Shortener.Alphabet, log,
	)

	var (
		authService *service.AuthService
		userService *service.UserService
	)
	if userStore != nil {
		mail := mailer.NewLogMailer(log)
		authService = service.NewAuthService(userStore, authStore, mail, cfg.Auth, log)
		userService = service.NewUserService(userStore, log)
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimiting.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimiting)
		rateLimiter.StartEviction()
	}

	router := handler.Router(cfg, shortener, authService, userService, rateLimiter, log)

	// ===========================================
	// Background snapshot task
	// ===========================================
	var snapshotter *bloom.Snapshotter
	if config.SnapshotsDisabled() {
		log.Warn().Msg("Bloom snapshot persistence disabled")
	} else {
		snapshotter = bloom.NewSnapshotter(filter, urlStore, snapshotInterval, log)
		go snapshotter.Run()
	}

	// ===========================================
	// Serve
	// ===========================================
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Application.Host, cfg.Application.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shut down")
	}

	if rateLimiter != nil {
		rateLimiter.Stop()
	}
	if snapshotter != nil {
		// Runs one final snapshot; failures are logged, never fatal.
		snapshotter.Close()
	}
	if seq, ok := gen.(*generator.SequenceEngine); ok {
		if err := seq.Flush(); err != nil {
			log.Error().Err(err).Msg("Failed to flush sequence state")
		}
	}

	log.Info().Msg("Server stopped")
}
