package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/magabrotheeeer/entitlement-engine/internal/app/engine"
	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
)

// logNotifier — заглушка доставки объявлений для автономного запуска.
// Боевой транспорт подключает разговорный слой через engine.New.
type logNotifier struct {
	log *slog.Logger
}

func (n *logNotifier) Notify(_ context.Context, userID int64, text string) error {
	n.log.Info("announcement", sl.UID(userID), slog.String("text", text))
	return nil
}

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("starting entitlement-engine", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := engine.New(cfg, logger, &logNotifier{log: logger})
	if err != nil {
		logger.Error("failed to initialize app", slog.Any("err", err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("app stopped with error", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("entitlement-engine stopped gracefully")
}
