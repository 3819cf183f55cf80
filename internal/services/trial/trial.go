// Package trial содержит бизнес-логику пробного доступа: одноразовая
// активация с периодом охлаждения и единственный кредит генерации
// изображения на пробное окно.
package trial

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// ErrNoTrialCredit возвращается, когда пробная генерация уже потрачена
// или пробный период не активен.
var ErrNoTrialCredit = errors.New("no trial image credit")

// CooldownError — повторная активация раньше окончания периода охлаждения.
type CooldownError struct {
	Remaining time.Duration // Сколько осталось ждать
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("trial cooldown active: %s remaining", e.Remaining)
}

// Store определяет методы хранилища, нужные менеджеру пробных периодов.
type Store interface {
	// GetRecord возвращает объединённую запись пользователя.
	GetRecord(userID int64) models.UserRecord
	// UpdateTrial применяет атомарный read-modify-write раздела пробных периодов.
	UpdateTrial(userID int64, fn func(*models.TrialState) error) error
}

// Service реализует менеджер пробных периодов.
type Service struct {
	store    Store
	duration time.Duration
	cooldown time.Duration
	log      *slog.Logger
}

// New создает новый экземпляр Service.
func New(store Store, duration, cooldown time.Duration, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		duration: duration,
		cooldown: cooldown,
		log:      log,
	}
}

// Duration возвращает длительность пробного окна.
func (s *Service) Duration() time.Duration { return s.duration }

// Activate запускает пробный период. Повторная активация до истечения
// периода охлаждения отклоняется с CooldownError, независимо от того,
// истекло ли предыдущее пробное окно.
func (s *Service) Activate(userID int64, now time.Time) error {
	err := s.store.UpdateTrial(userID, func(st *models.TrialState) error {
		if st.UsedAt != nil {
			readyAt := st.UsedAt.Add(s.cooldown)
			if now.Before(readyAt) {
				return &CooldownError{Remaining: readyAt.Sub(now)}
			}
		}
		usedAt := now
		expiry := now.Add(s.duration)
		st.UsedAt = &usedAt
		st.Expiry = &expiry
		st.ImageUsed = false
		return nil
	})
	if err != nil {
		var cerr *CooldownError
		if !errors.As(err, &cerr) {
			s.log.Error("failed to activate trial", sl.UID(userID), sl.Err(err))
		}
		return err
	}

	s.log.Info("trial activated", sl.UID(userID), slog.Duration("duration", s.duration))
	return nil
}

// Grant выдаёт пробный период в обход периода охлаждения. Только для
// администратора; проверка полномочий выполняется на границе команды.
func (s *Service) Grant(userID int64, now time.Time) error {
	err := s.store.UpdateTrial(userID, func(st *models.TrialState) error {
		usedAt := now
		expiry := now.Add(s.duration)
		st.UsedAt = &usedAt
		st.Expiry = &expiry
		st.ImageUsed = false
		return nil
	})
	if err != nil {
		s.log.Error("failed to grant trial", sl.UID(userID), sl.Err(err))
		return err
	}

	s.log.Info("trial granted by admin", sl.UID(userID))
	return nil
}

// ConsumeImageCredit расходует единственный пробный кредит генерации.
// Отклоняется, если кредит уже потрачен или пробное окно не активно.
func (s *Service) ConsumeImageCredit(userID int64, now time.Time) error {
	return s.store.UpdateTrial(userID, func(st *models.TrialState) error {
		if st.Expiry == nil || !now.Before(*st.Expiry) {
			return ErrNoTrialCredit
		}
		if st.ImageUsed {
			return ErrNoTrialCredit
		}
		st.ImageUsed = true
		return nil
	})
}

// RestoreImageCredit возвращает пробный кредит — компенсация на случай,
// когда внешний вызов после резервирования так и не состоялся.
func (s *Service) RestoreImageCredit(userID int64) error {
	err := s.store.UpdateTrial(userID, func(st *models.TrialState) error {
		st.ImageUsed = false
		return nil
	})
	if err != nil {
		s.log.Error("failed to restore trial image credit", sl.UID(userID), sl.Err(err))
		return err
	}

	s.log.Info("trial image credit restored", sl.UID(userID))
	return nil
}
