// Package imagegen оркестрирует платную генерацию изображения: резерв
// кредита, выдача ключа из пула, внешний вызов и компенсация кредита,
// если вызов так и не состоялся. Резерв кредита — единственная мутация
// до внешнего вызова, поэтому она же и единица компенсации.
package imagegen

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/metrics"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/access"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/keypool"
)

// ErrNoAccess — генерация запрошена без активной подписки или пробного периода.
var ErrNoAccess = errors.New("no access to image generation")

// ErrRateLimited сигнализирует, что ключ упёрся в лимит внешнего сервиса.
var ErrRateLimited = errors.New("generator rate limited")

// ErrInvalidKey сигнализирует, что внешний сервис отверг ключ.
var ErrInvalidKey = errors.New("generator rejected api key")

// Generator выполняет внешний вызов генерации и возвращает URL изображения.
type Generator interface {
	Generate(ctx context.Context, apiKey, prompt string) (string, error)
}

// KeyAllocator — пул вращающихся ключей.
type KeyAllocator interface {
	Allocate(now time.Time) (string, error)
	ReportFailure(value string, kind keypool.FailureKind, now time.Time)
}

// TrialCredits — пробный кредит генерации.
type TrialCredits interface {
	ConsumeImageCredit(userID int64, now time.Time) error
	RestoreImageCredit(userID int64) error
}

// SubscriberCredits — кредиты генерации подписчика.
type SubscriberCredits interface {
	ConsumeImageKey(userID int64) error
	RestoreImageKey(userID int64) error
}

// RecordProvider отдаёт объединённую запись пользователя.
type RecordProvider interface {
	GetRecord(userID int64) models.UserRecord
}

// Service реализует оркестрацию генерации изображений.
type Service struct {
	store  RecordProvider
	trials TrialCredits
	subs   SubscriberCredits
	pool   KeyAllocator
	gen    Generator
	log    *slog.Logger
}

// New создает новый экземпляр Service.
func New(store RecordProvider, trials TrialCredits, subs SubscriberCredits, pool KeyAllocator, gen Generator, log *slog.Logger) *Service {
	return &Service{
		store:  store,
		trials: trials,
		subs:   subs,
		pool:   pool,
		gen:    gen,
		log:    log,
	}
}

// Generate резервирует кредит, получает ключ и выполняет внешний вызов.
// Внешний вызов идёт без удержания каких-либо замков хранилища или пула.
// Если вызов не состоялся, зарезервированный кредит возвращается.
func (s *Service) Generate(ctx context.Context, userID int64, prompt string, now time.Time) (string, error) {
	state := access.Evaluate(s.store.GetRecord(userID), now)

	var restore func() error
	switch state {
	case models.SubscriptionActive:
		if err := s.subs.ConsumeImageKey(userID); err != nil {
			return "", err
		}
		restore = func() error { return s.subs.RestoreImageKey(userID) }
	case models.TrialActive:
		if err := s.trials.ConsumeImageCredit(userID, now); err != nil {
			return "", err
		}
		restore = func() error { return s.trials.RestoreImageCredit(userID) }
	default:
		return "", ErrNoAccess
	}

	url, err := s.generateWithRotation(ctx, prompt, now)
	if err != nil {
		metrics.Compensations.Inc()
		if rerr := restore(); rerr != nil {
			s.log.Error("credit compensation failed", sl.UID(userID), sl.Err(rerr))
		}
		return "", err
	}

	s.log.Info("image generated", sl.UID(userID))
	return url, nil
}

// generateWithRotation перебирает ключи пула, сообщая об отказах, пока
// вызов не удастся или пул не опустеет.
func (s *Service) generateWithRotation(ctx context.Context, prompt string, now time.Time) (string, error) {
	for {
		key, err := s.pool.Allocate(now)
		if err != nil {
			return "", err
		}

		url, err := s.gen.Generate(ctx, key, prompt)
		switch {
		case err == nil:
			return url, nil
		case errors.Is(err, ErrRateLimited):
			s.pool.ReportFailure(key, keypool.FailureRateLimit, now)
		case errors.Is(err, ErrInvalidKey):
			s.pool.ReportFailure(key, keypool.FailureInvalidKey, now)
		default:
			return "", err
		}
	}
}
