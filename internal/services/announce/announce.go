// Package announce рассылает объявления администратора всем активным
// подписчикам. Доставка идёт через интерфейс Notifier разговорного слоя
// и дросселируется, чтобы не упереться в лимиты транспорта.
package announce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/metrics"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// Notifier доставляет сообщение пользователю; реализация принадлежит
// разговорному слою.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Subscribers отдаёт активных подписчиков на момент now.
type Subscribers interface {
	ListActiveSubscribers(now time.Time) []models.Subscriber
}

// Result — итог рассылки.
type Result struct {
	Sent   int
	Failed int
}

// Service реализует рассылку объявлений.
type Service struct {
	notifier Notifier
	subs     Subscribers
	limiter  *rate.Limiter
	log      *slog.Logger
}

// New создает новый экземпляр Service. Лимит — 10 сообщений в секунду,
// сопоставимо с паузой оригинальной рассылки.
func New(notifier Notifier, subs Subscribers, log *slog.Logger) *Service {
	return &Service{
		notifier: notifier,
		subs:     subs,
		limiter:  rate.NewLimiter(rate.Limit(10), 1),
		log:      log,
	}
}

// Broadcast отправляет текст всем активным подписчикам. Ошибка доставки
// одному получателю не прерывает рассылку. Отмена контекста — прерывает.
func (s *Service) Broadcast(ctx context.Context, text string, now time.Time) (Result, error) {
	const op = "announce.Broadcast"

	var res Result
	for _, sub := range s.subs.ListActiveSubscribers(now) {
		if err := s.limiter.Wait(ctx); err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}

		if err := s.notifier.Notify(ctx, sub.UserID, text); err != nil {
			res.Failed++
			metrics.BroadcastsFailed.Inc()
			s.log.Warn("failed to deliver announcement", sl.UID(sub.UserID), sl.Err(err))
			continue
		}
		res.Sent++
		metrics.BroadcastsSent.Inc()
	}

	s.log.Info("announcement broadcast finished",
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed))
	return res, nil
}
