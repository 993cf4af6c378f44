// healdash - live dashboard server for the code-healing backend
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

	"github.com/ashureev/healdash/internal/api"
	"github.com/ashureev/healdash/internal/backend"
	"github.com/ashureev/healdash/internal/config"
	"github.com/ashureev/healdash/internal/healthrpc"
	"github.com/ashureev/healdash/internal/history"
	"github.com/ashureev/healdash/internal/live"
	"github.com/ashureev/healdash/internal/middleware"
	"github.com/ashureev/healdash/internal/runner"
	"github.com/ashureev/healdash/internal/store"
	"github.com/ashureev/healdash/internal/transport"
	"github.com/ashureev/healdash/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "api_url", cfg.APIURL, "dev", cfg.IsDevelopment())

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

	wsURL, err := transport.WSURL(cfg.APIURL)
	if err != nil {
		slog.Error("Invalid API_URL", "error", err)
		os.Exit(1)
	}

	session, err := live.New(live.Options{
		URL:    wsURL,
		Dialer: transport.NewDialer(),
		Backoff: live.NewBackoff(
			cfg.Reconnect.BaseDelay,
			cfg.Reconnect.MaxDelay,
			live.DefaultFactor,
			cfg.Reconnect.MaxRetries,
		),
		DialTimeout: cfg.Timeout.Dial,
		Logger:      logger,
	})
	if err != nil {
		slog.Error("Failed to initialize live session", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			slog.Error("Failed to close live session", "error", closeErr)
		}
	}()

	client, err := backend.NewClient(backend.Config{BaseURL: cfg.APIURL}, logger)
	if err != nil {
		slog.Error("Failed to initialize backend client", "error", err)
		os.Exit(1)
	}

	recorder := history.NewRecorder(session, repo, logger)
	defer recorder.Close()

	run := runner.New(session, client, recorder, runner.Config{
		ConnectTimeout: cfg.Timeout.Connect,
		WakeTimeout:    cfg.Timeout.Wake,
	}, logger)

	handler := api.NewHandler(session, run, repo, api.Options{
		AllowedOrigin:      cfg.FrontendOrigin(),
		IsDev:              cfg.IsDevelopment(),
		RateLimitRequests:  cfg.RateLimit.Requests,
		RateLimitWindow:    cfg.RateLimit.Window,
		HealthCheckTimeout: cfg.Timeout.HealthCheck,
	}, logger)
	defer handler.Close()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	handler.RegisterRoutes(r)

	// Serve the embedded dashboard page.
	page := web.Handler()
	r.Handle("/", page)
	r.Handle("/index.html", page)

	// SSE and viewer sockets are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history.StartRetentionWorker(ctx, repo, cfg.History.Retention, cfg.History.SweepInterval)

	if cfg.GRPCHealthAddr != "" {
		mirror := healthrpc.NewMirror(session)
		defer mirror.Close()
		go func() {
			if err := healthrpc.Serve(ctx, cfg.GRPCHealthAddr, mirror); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Watch the backend stream from startup so the dashboard shows live state.
	session.StartConnection()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Close viewers first; their handlers would otherwise hold Shutdown open.
	handler.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
