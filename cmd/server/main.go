package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/example/immo/internal/config"
	"github.com/example/immo/internal/database"
	"github.com/example/immo/internal/handlers"
	"github.com/example/immo/internal/logging"
	"github.com/example/immo/internal/monitoring"
	"github.com/example/immo/internal/routes"
	"github.com/example/immo/internal/services"
)

func main() {
	cfg := config.Load()

	if err := logging.Init(cfg.LogLevel); err != nil {
		panic(err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := monitoring.InitTracer(ctx, "immo-backend", cfg.OTELEndpoint)
	if err != nil {
		logging.Warn("tracing disabled", zap.Error(err))
		shutdownTracer = func(context.Context) error { return nil }
	}

	db := database.Connect(cfg.DatabaseURL)

	notifier := services.MultiNotifier{
		services.NewStoreNotifier(db),
		services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat),
	}
	gateway := services.NewFapshiClient(cfg.Gateway)
	svc := routes.NewServices(db, cfg, gateway, notifier)

	if _, err := svc.Payments.ResumePending(ctx, cfg.Monitor.Timeout); err != nil {
		logging.Warn("resuming pending payments failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "Immo Backend",
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	routes.Register(app, db, cfg, svc)

	go func() {
		<-ctx.Done()
		logging.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logging.Error("fiber shutdown error", zap.Error(err))
		}
	}()

	logging.Info("starting server", zap.String("port", cfg.AppPort))
	if err := app.Listen(":" + cfg.AppPort); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("fiber.Listen error", zap.Error(err))
	}

	svc.Monitor.Shutdown()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracer(flushCtx); err != nil {
		logging.Warn("tracer shutdown error", zap.Error(err))
	}
}
