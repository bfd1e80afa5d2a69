// live-caption relay
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/livecaption/relay/internal/api"
	"github.com/livecaption/relay/internal/config"
	"github.com/livecaption/relay/internal/delivery"
	"github.com/livecaption/relay/internal/identity"
	"github.com/livecaption/relay/internal/middleware"
	"github.com/livecaption/relay/internal/sessionstore"
	"github.com/livecaption/relay/internal/store"
	"github.com/livecaption/relay/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting relay",
		"port", cfg.Port,
		"jwt_secret_random", cfg.JWTSecretIsRandom,
		"admin_enabled", cfg.AdminEnabled(),
		"allowed_domains", cfg.AllowedDomains,
		"usage_public", cfg.UsagePublic,
		"free_apikey_active", cfg.FreeAPIKeyActive,
		"static_dir", cfg.StaticDir,
		"contact_configured", !cfg.Contact.Empty(),
	)
	if cfg.JWTSecretIsRandom {
		slog.Warn("JWT_SECRET not configured; generated a random secret for this process. Restarting the process invalidates all outstanding bearer tokens.")
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := sessionstore.New(repo, cfg.SessionTTL, cfg.CleanupInterval)
	workers := delivery.NewRegistry(ctx)
	issuer := identity.NewTokenIssuer(cfg.JWTSecret)
	allowlist := identity.NewDomainAllowlist(cfg.AllowedDomains)

	handler := api.NewHandler(repo, sessions, workers, issuer, allowlist, cfg)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(middleware.DefaultClassifier, func(origin string) bool {
		return len(sessions.GetByDomain(origin)) > 0
	}))

	handler.RegisterRoutes(r)

	if cfg.StaticDir != "" {
		r.Handle("/*", web.StaticHandler(cfg.StaticDir))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout, required for the event stream
		IdleTimeout:  120 * time.Second,
	}

	sessions.StartSweeper(ctx)
	slog.Info("session sweeper started", "ttl", cfg.SessionTTL, "interval", cfg.CleanupInterval)

	startRevokedKeyCleaner(ctx, repo, time.Duration(cfg.RevokedKeyTTLDays)*24*time.Hour, cfg.RevokedKeyCleanupInterval)

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("shutting down gracefully")

	sessions.StopCleanup()
	sessions.CloseAll(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped successfully")
}

// startRevokedKeyCleaner runs the daily-ish sweep of revoked keys older
// than ttl, logging non-zero purge counts.
func startRevokedKeyCleaner(ctx context.Context, repo store.Repository, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deleted, err := repo.CleanRevoked(ctx, ttl, false)
				if err != nil {
					slog.Error("revoked-key cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("revoked-key cleanup purged keys", "count", deleted)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
