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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"expense-agent/internal/agent"
	"expense-agent/internal/config"
	"expense-agent/internal/handlers"
	"expense-agent/internal/llm"
	"expense-agent/internal/logging"
	"expense-agent/internal/policy"
	"expense-agent/internal/storage"
)

func main() {
	ctx := context.Background()

	cfg := config.Load(ctx, slog.Default())
	logger := logging.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Starting expense agent", "port", cfg.Port, "mode", cfg.Mode, "model", cfg.Model)

	ledger, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	engine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		logger.Error("Failed to initialize policy engine", "error", err)
		os.Exit(1)
	}

	model := llm.NewClient(cfg.LLM(), cfg.Mode)
	a := agent.New(model, ledger,
		agent.WithPolicy(engine),
		agent.WithMaxListAll(cfg.MaxListAll),
	)

	h := handlers.NewHandlers(a, ledger)
	e := setupRouter(h, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down expense agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server gracefully", "error", err)
	}
}

func setupRouter(h *handlers.Handlers, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(handlers.ContextLogger(logger))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ctx := c.Request().Context()
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.ErrorContext(ctx, "request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.InfoContext(ctx, "request", attrs...)
			return nil
		},
	}))

	h.RegisterRoutes(e)
	return e
}
