// MyShoes Store - Asynchronous Chat Reply Server
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
	"golang.org/x/sync/errgroup"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/api"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/broker"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/cache"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/catalog"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/chat"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/config"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/engine"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/fallback"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/middleware"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/resilience"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/store"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache starts in memory fallback when Redis is unreachable and keeps
	// probing; a missing cache never blocks startup.
	cacheStore, err := cache.New(ctx, cfg.RedisURL, logger)
	if err != nil {
		slog.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}
	cacheStore.SetTTLs(cfg.ContextTTL, cfg.ResponseCacheTTL)
	slog.Info("Cache initialized", "fallback", cacheStore.InFallback())

	// Same deal for the broker: a failed first dial spills locally and
	// reconnects in the background.
	queue := broker.NewAMQP(ctx, cfg.BrokerURL, logger)
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			slog.Error("Failed to close broker", "error", closeErr)
		}
	}()
	slog.Info("Broker client initialized", "healthy", queue.Healthy())

	// Initialize services.
	cat := catalog.NewService(repo, nil, logger)
	if indexed, err := cat.Reindex(ctx); err != nil {
		slog.Warn("Startup catalog reindex failed", "error", err)
	} else {
		slog.Info("Catalog indexed", "shoes", indexed)
	}

	breaker := resilience.NewCircuitBreaker(5, 5*time.Minute)
	inference := engine.NewInferenceClient(cfg.Inference.BaseURL, cfg.Inference.APIKey, cfg.Inference.Models, breaker, logger)
	go inference.Warmup(ctx)

	eng := engine.New(inference, cat, cacheStore, breaker, logger)
	rules := fallback.NewEngine(cat, repo, cacheStore, logger)

	hub := transport.NewHub()
	wsHandler := transport.NewHandler(repo, queue, hub, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	worker := chat.NewWorker(queue, repo, cacheStore, eng, rules, wsHandler, logger)
	worker.Start(ctx)
	slog.Info("Chat worker started")

	// Initialize handlers.
	chatHandler := api.NewChatHandler(api.NewHandler(repo, cat, queue, cacheStore, hub))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	corsOrigins := []string{cfg.FrontendURL}
	if cfg.IsDevelopment() {
		corsOrigins = append(corsOrigins, "*")
	}
	r.Use(middleware.CORS(corsOrigins))

	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived WebSocket connections
		IdleTimeout:  120 * time.Second,
	}

	// Supervise the long-running loops.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cacheStore.Run(gctx)
		return nil
	})
	g.Go(func() error {
		queue.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
