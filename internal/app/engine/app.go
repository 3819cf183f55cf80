// Package engine собирает движок целиком: хранилища, сервисы, командную
// поверхность и keep-alive HTTP-сервер с метриками и самопингом.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/gateway"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/access"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/admin"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/announce"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/imagegen"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/keypool"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/subscription"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/trial"
	"github.com/magabrotheeeer/entitlement-engine/internal/storage/filestore"
	"github.com/magabrotheeeer/entitlement-engine/internal/storage/receiptvault"
)

// App — собранный движок и его keep-alive сервер.
type App struct {
	server      *http.Server
	logger      *slog.Logger
	engine      *gateway.Engine
	selfPingURL string
}

// New создает приложение: загружает разделы хранилища, строит сервисы и
// командную поверхность. notifier — транспорт доставки объявлений,
// принадлежащий разговорному слою.
func New(cfg *config.Config, logger *slog.Logger, notifier announce.Notifier) (*App, error) {
	store, err := filestore.New(cfg.StorageDir, logger)
	if err != nil {
		return nil, err
	}

	vault, err := receiptvault.New(filepath.Join(cfg.StorageDir, "receipts"))
	if err != nil {
		return nil, err
	}

	pool, err := keypool.New(cfg.KeyPool.Keys, cfg.KeyPool.Backoff, logger)
	if err != nil {
		return nil, err
	}

	accessService := access.New(store, logger)
	trialService := trial.New(store, cfg.Trial.Duration, cfg.Trial.Cooldown, logger)
	subscriptionService := subscription.New(store, vault, cfg.Subscription.ImageKeyGrant, logger)
	generator := imagegen.NewClient(cfg.Generator, logger)
	imageService := imagegen.New(store, trialService, subscriptionService, pool, generator, logger)
	announceService := announce.New(notifier, store, logger)
	authority := admin.NewAuthority(cfg.AdminID)

	eng := gateway.New(logger, authority,
		accessService, trialService, subscriptionService, imageService,
		announceService, vault, store,
		gateway.Terms{
			SubscriptionDays: cfg.Subscription.Days,
			ImageKeyGrant:    cfg.Subscription.ImageKeyGrant,
			TrialDuration:    cfg.Trial.Duration,
			TrialCooldown:    cfg.Trial.Cooldown,
		})

	router := chi.NewRouter()
	RegisterRoutes(router, logger)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:      srv,
		logger:      logger,
		engine:      eng,
		selfPingURL: cfg.SelfPingURL,
	}, nil
}

// Engine возвращает командную поверхность для разговорного слоя.
func (a *App) Engine() *gateway.Engine {
	return a.engine
}

// Run запускает keep-alive сервер и, при настроенном URL, цикл самопинга.
// Блокируется до отмены контекста или фатальной ошибки сервера.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	if a.selfPingURL != "" {
		go a.selfPing(ctx)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}

// selfPing дергает собственный публичный URL раз в пять минут, чтобы
// хостинг не усыплял процесс.
func (a *App) selfPing(ctx context.Context) {
	client := &http.Client{Timeout: 10 * time.Second}
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.selfPingURL, nil)
			if err != nil {
				a.logger.Warn("failed to build self-ping request", sl.Err(err))
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				a.logger.Warn("self-ping failed", sl.Err(err))
				continue
			}
			_ = resp.Body.Close()
		}
	}
}
