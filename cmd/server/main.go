// stepstream - workflow orchestration and event streaming server
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

	"github.com/avelis/stepstream/internal/aiconn"
	"github.com/avelis/stepstream/internal/api"
	"github.com/avelis/stepstream/internal/config"
	"github.com/avelis/stepstream/internal/coordinator"
	"github.com/avelis/stepstream/internal/fault"
	"github.com/avelis/stepstream/internal/middleware"
	"github.com/avelis/stepstream/internal/orchestrator"
	"github.com/avelis/stepstream/internal/store"
	"github.com/avelis/stepstream/internal/stream"
	"github.com/avelis/stepstream/internal/taskexec"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Run history archive (optional).
	var repo store.Repository
	if cfg.History.Enabled {
		repo, err = store.NewSQLite(cfg.History.DBPath)
		if err != nil {
			slog.Error("Failed to initialize history database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close history database", "error", closeErr)
			}
		}()
		if err := repo.Ping(context.Background()); err != nil {
			slog.Error("History database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("History database connected", "path", cfg.History.DBPath)
	}

	// AI backend validator (optional).
	var validator orchestrator.AIValidator = aiconn.NoopValidator{}
	if cfg.AIAgentAddr != "" {
		grpcValidator, err := aiconn.NewGrpcValidator(aiconn.DefaultConfig(cfg.AIAgentAddr), logger)
		if err != nil {
			slog.Warn("Failed to connect to AI backend, connection validation disabled", "error", err)
		} else {
			defer grpcValidator.Close()
			validator = grpcValidator
		}
	}

	// Stream transport and publisher.
	broker := stream.NewBroker(cfg.StreamBufferSize, logger)
	var eventLog stream.EventLog
	if repo != nil {
		eventLog = repo
	}
	publisher := stream.NewPublisher(broker, eventLog, logger)

	// Collaborators. The simulator stands in until a real executor is wired.
	coord := coordinator.New(logger)
	ctxmgr := coordinator.NewContextManager()
	executor := taskexec.NewSimulator(cfg.SimulatedStepDuration, logger)

	var archiver orchestrator.Archiver
	if repo != nil {
		archiver = repo
	}
	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		MaxWorkflowSteps:      cfg.MaxWorkflowSteps,
		MaxStepLength:         cfg.MaxStepLength,
	}, orchestrator.Dependencies{
		Coordinator: coord,
		Context:     ctxmgr,
		Executor:    executor,
		Transport:   broker,
		Publisher:   publisher,
		AI:          validator,
		Archiver:    archiver,
		Errors:      fault.NewHandler(logger),
		Logger:      logger,
	})
	defer orch.Close()

	// Handlers.
	apiHandler := api.NewHandler(orch, repo, logger)
	wsHandler := api.NewWebSocketHandler(broker, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	apiHandler.RegisterRoutes(r)

	// WebSocket stream endpoint.
	r.Get("/ws/stream", wsHandler.ServeHTTP)

	// Note: stream connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
