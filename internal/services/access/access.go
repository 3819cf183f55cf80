// Package access реализует чистую оценку прав доступа пользователя.
// Вердикт вычисляется из записи и текущего времени при каждом входящем
// действии и нигде не сохраняется, поэтому перезапуск процесса не может
// оставить устаревшее состояние.
package access

import (
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/metrics"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// Evaluate — чистая функция вердикта. Порядок проверок фиксирован:
// активная подписка сильнее активного пробного периода, использованный
// пробный период сильнее истёкшей подписки.
func Evaluate(rec models.UserRecord, now time.Time) models.AccessState {
	switch {
	case rec.SubscriptionExpiry != nil && now.Before(*rec.SubscriptionExpiry):
		return models.SubscriptionActive
	case rec.TrialExpiry != nil && now.Before(*rec.TrialExpiry):
		return models.TrialActive
	case rec.TrialUsedAt != nil:
		return models.TrialExpired
	case rec.SubscriptionExpiry != nil:
		return models.SubscriptionExpired
	default:
		return models.NoAccess
	}
}

// RecordProvider отдаёт объединённую запись пользователя.
type RecordProvider interface {
	GetRecord(userID int64) models.UserRecord
}

// Service — обёртка над Evaluate, читающая запись из хранилища.
type Service struct {
	store RecordProvider
	log   *slog.Logger
}

// New создает новый экземпляр Service.
func New(store RecordProvider, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Status возвращает вердикт для пользователя на момент now.
func (s *Service) Status(userID int64, now time.Time) models.AccessState {
	state := Evaluate(s.store.GetRecord(userID), now)
	metrics.Verdicts.WithLabelValues(state.String()).Inc()
	return state
}
