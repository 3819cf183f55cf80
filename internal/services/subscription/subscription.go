// Package subscription содержит бизнес-логику оплаченного доступа:
// ручной цикл подтверждения чеков и продление подписки.
package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/access"
	"github.com/magabrotheeeer/entitlement-engine/internal/storage/filestore"
)

// ErrDuplicatePending — повторная отправка чека при уже существующей
// pending-заявке. Трактуется как идемпотентный no-op: состояние не
// меняется, пользователю сообщается, что заявка уже ожидает решения.
var ErrDuplicatePending = errors.New("payment request already pending")

// ErrNoImageKeys — у подписчика закончились кредиты генерации.
var ErrNoImageKeys = errors.New("no image keys left")

// ErrNoPendingRequest — решение по заявке, которой нет.
var ErrNoPendingRequest = errors.New("no pending request for user")

// Store определяет методы хранилища, нужные менеджеру подписок.
type Store interface {
	GetRecord(userID int64) models.UserRecord
	UpdateSubscriber(userID int64, fn func(*models.SubscriberState) error) error
	PutRequest(req models.PaymentRequest) error
	ListRequests() []models.PaymentRequest
	RemoveRequest(userID int64) (models.PaymentRequest, bool, error)
	ListActiveSubscribers(now time.Time) []models.Subscriber
}

// ReceiptVault удаляет блоб чека после разрешения заявки.
type ReceiptVault interface {
	Remove(ref string) error
}

// Service реализует менеджер подписок.
type Service struct {
	store         Store
	vault         ReceiptVault
	imageKeyGrant int
	log           *slog.Logger
}

// New создает новый экземпляр Service. imageKeyGrant — сколько кредитов
// генерации выдаётся при каждой активации подписки.
func New(store Store, vault ReceiptVault, imageKeyGrant int, log *slog.Logger) *Service {
	return &Service{
		store:         store,
		vault:         vault,
		imageKeyGrant: imageKeyGrant,
		log:           log,
	}
}

// SubmitPaymentRequest регистрирует заявку на подтверждение оплаты.
func (s *Service) SubmitPaymentRequest(userID int64, receiptRef string, now time.Time) (models.PaymentRequest, error) {
	req := models.PaymentRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		SubmittedAt: now,
		ReceiptRef:  receiptRef,
		Status:      models.StatusPending,
	}

	if err := s.store.PutRequest(req); err != nil {
		if errors.Is(err, filestore.ErrRequestPending) {
			return models.PaymentRequest{}, ErrDuplicatePending
		}
		s.log.Error("failed to store payment request", sl.UID(userID), sl.Err(err))
		return models.PaymentRequest{}, err
	}

	s.log.Info("payment request submitted", sl.UID(userID), slog.String("request_id", req.ID))
	return req, nil
}

// Approve активирует или продлевает подписку на days дней и выдаёт свежие
// кредиты генерации. Активная подписка продлевается от текущего срока,
// истёкшая или отсутствующая — от now: активный плательщик не теряет уже
// оплаченное время. Pending-заявка, если была, снимается вместе с чеком.
func (s *Service) Approve(userID int64, days int, now time.Time) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, fmt.Errorf("days must be positive, got %d", days)
	}

	var newExpiry time.Time
	err := s.store.UpdateSubscriber(userID, func(st *models.SubscriberState) error {
		base := now
		if st.Expiry != nil && now.Before(*st.Expiry) {
			base = *st.Expiry
		}
		newExpiry = base.AddDate(0, 0, days)
		st.Expiry = &newExpiry
		st.ImageKeys = s.imageKeyGrant
		return nil
	})
	if err != nil {
		s.log.Error("failed to approve subscription", sl.UID(userID), sl.Err(err))
		return time.Time{}, err
	}

	s.resolveRequest(userID)

	s.log.Info("subscription approved",
		sl.UID(userID),
		slog.Int("days", days),
		slog.Time("expiry", newExpiry))
	return newExpiry, nil
}

// Reject снимает pending-заявку без изменения состояния подписки.
func (s *Service) Reject(userID int64) error {
	req, found, err := s.store.RemoveRequest(userID)
	if err != nil {
		s.log.Error("failed to reject payment request", sl.UID(userID), sl.Err(err))
		return err
	}
	if !found {
		return ErrNoPendingRequest
	}

	if err := s.vault.Remove(req.ReceiptRef); err != nil {
		s.log.Warn("failed to remove receipt blob", sl.UID(userID), sl.Err(err))
	}

	s.log.Info("payment request rejected", sl.UID(userID), slog.String("request_id", req.ID))
	return nil
}

// Revoke досрочно отключает подписку пользователя.
func (s *Service) Revoke(userID int64) error {
	err := s.store.UpdateSubscriber(userID, func(st *models.SubscriberState) error {
		st.Expiry = nil
		st.ImageKeys = 0
		return nil
	})
	if err != nil {
		s.log.Error("failed to revoke subscription", sl.UID(userID), sl.Err(err))
		return err
	}

	s.log.Info("subscription revoked", sl.UID(userID))
	return nil
}

// Status возвращает вердикт оценки доступа на момент now.
func (s *Service) Status(userID int64, now time.Time) models.AccessState {
	return access.Evaluate(s.store.GetRecord(userID), now)
}

// ListActiveSubscribers возвращает активных подписчиков для отчёта администратору.
func (s *Service) ListActiveSubscribers(now time.Time) []models.Subscriber {
	return s.store.ListActiveSubscribers(now)
}

// ListPendingRequests возвращает заявки, ожидающие решения.
func (s *Service) ListPendingRequests() []models.PaymentRequest {
	var out []models.PaymentRequest
	for _, r := range s.store.ListRequests() {
		if r.Status == models.StatusPending {
			out = append(out, r)
		}
	}
	return out
}

// ConsumeImageKey списывает один кредит генерации подписчика.
func (s *Service) ConsumeImageKey(userID int64) error {
	return s.store.UpdateSubscriber(userID, func(st *models.SubscriberState) error {
		if st.ImageKeys <= 0 {
			return ErrNoImageKeys
		}
		st.ImageKeys--
		return nil
	})
}

// RestoreImageKey возвращает кредит генерации — компенсация на случай,
// когда внешний вызов после резервирования так и не состоялся.
func (s *Service) RestoreImageKey(userID int64) error {
	err := s.store.UpdateSubscriber(userID, func(st *models.SubscriberState) error {
		st.ImageKeys++
		return nil
	})
	if err != nil {
		s.log.Error("failed to restore image key", sl.UID(userID), sl.Err(err))
		return err
	}

	s.log.Info("image key restored", sl.UID(userID))
	return nil
}

// resolveRequest снимает pending-заявку и блоб чека; отсутствие заявки —
// нормальный случай для прямого /givesub без чека.
func (s *Service) resolveRequest(userID int64) {
	req, found, err := s.store.RemoveRequest(userID)
	if err != nil {
		s.log.Warn("failed to remove pending request", sl.UID(userID), sl.Err(err))
		return
	}
	if !found {
		return
	}
	if err := s.vault.Remove(req.ReceiptRef); err != nil {
		s.log.Warn("failed to remove receipt blob", sl.UID(userID), sl.Err(err))
	}
}
