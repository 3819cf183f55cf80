// Package filestore реализует хранилище движка на плоских JSON-файлах.
// Четыре раздела — подписчики, пробные периоды, заявки на оплату и языки —
// лежат в отдельных файлах, каждый под собственным замком. Любая мутация
// завершается атомарной заменой файла (запись во временный файл, fsync,
// rename), поэтому после падения процесса раздел отражает либо состояние
// до мутации, либо после неё, но никогда частичную запись.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// ErrWriteFailed возвращается, когда атомарная замена файла не удалась.
// Состояние в памяти и старый файл при этом остаются нетронутыми.
var ErrWriteFailed = errors.New("storage write failed")

// ErrRequestPending возвращается из PutRequest, если у пользователя уже
// есть заявка в статусе pending.
var ErrRequestPending = errors.New("pending request already exists")

const (
	subscribersFile = "subscribers.json"
	trialsFile      = "trials.json"
	requestsFile    = "requests.json"
	languagesFile   = "languages.json"
)

type subscriberEntry struct {
	Expiry    time.Time `json:"expiry"`
	ImageKeys int       `json:"image_keys"`
}

type trialEntry struct {
	UsedAt    time.Time `json:"used_at"`
	Expiry    time.Time `json:"expiry"`
	ImageUsed bool      `json:"image_used"`
}

// Store — хранилище разделов с загрузкой при старте и записью через
// атомарную замену. Разделы независимы: мутации подписок не блокируют
// мутации языков или заявок.
type Store struct {
	log *slog.Logger
	dir string

	subMu       sync.RWMutex
	subscribers map[int64]subscriberEntry

	trialMu sync.RWMutex
	trials  map[int64]trialEntry

	reqMu    sync.RWMutex
	requests []models.PaymentRequest

	langMu    sync.RWMutex
	languages map[int64]models.Language
}

// New загружает все разделы из dir. Отсутствующий файл — пустой раздел.
// Повреждённый файл логируется и заменяется пустым разделом, это не фатально.
func New(dir string, log *slog.Logger) (*Store, error) {
	const op = "filestore.New"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Store{
		log:         log,
		dir:         dir,
		subscribers: make(map[int64]subscriberEntry),
		trials:      make(map[int64]trialEntry),
		requests:    nil,
		languages:   make(map[int64]models.Language),
	}

	loadPartition(s, subscribersFile, &s.subscribers)
	loadPartition(s, trialsFile, &s.trials)
	loadPartition(s, requestsFile, &s.requests)
	loadPartition(s, languagesFile, &s.languages)

	return s, nil
}

// loadPartition читает раздел из файла. Ошибка чтения или разбора не
// останавливает запуск: раздел остаётся пустым, инцидент попадает в лог.
func loadPartition[T any](s *Store, name string, dst *T) {
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("partition unreadable, starting empty",
				slog.String("partition", name), sl.Err(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Error("partition corrupted, starting empty",
			slog.String("partition", name), sl.Err(err))
		var zero T
		*dst = zero
	}
}

// writeAtomic пишет данные во временный файл рядом с целевым, сбрасывает
// их на диск и подменяет целевой файл одним rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) savePartition(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := writeAtomic(filepath.Join(s.dir, name), data); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// GetRecord собирает объединённую запись пользователя из разделов.
// Для неизвестного пользователя возвращает запись по умолчанию, без ошибки.
func (s *Store) GetRecord(userID int64) models.UserRecord {
	rec := models.UserRecord{UserID: userID, Language: models.DefaultLanguage}

	s.subMu.RLock()
	if e, ok := s.subscribers[userID]; ok {
		if !e.Expiry.IsZero() {
			expiry := e.Expiry
			rec.SubscriptionExpiry = &expiry
		}
		rec.ImageKeysGranted = e.ImageKeys
	}
	s.subMu.RUnlock()

	s.trialMu.RLock()
	if e, ok := s.trials[userID]; ok {
		usedAt, expiry := e.UsedAt, e.Expiry
		rec.TrialUsedAt = &usedAt
		rec.TrialExpiry = &expiry
		rec.TrialImageUsed = e.ImageUsed
	}
	s.trialMu.RUnlock()

	s.langMu.RLock()
	if lang, ok := s.languages[userID]; ok {
		rec.Language = lang
	}
	s.langMu.RUnlock()

	return rec
}

// UpdateSubscriber выполняет атомарный read-modify-write раздела подписок.
// Если мутатор возвращает ошибку, состояние не меняется. Если после
// мутации срок действия сброшен и кредиты обнулены, запись удаляется.
func (s *Store) UpdateSubscriber(userID int64, fn func(*models.SubscriberState) error) error {
	const op = "filestore.UpdateSubscriber"

	s.subMu.Lock()
	defer s.subMu.Unlock()

	prev, existed := s.subscribers[userID]

	state := models.SubscriberState{}
	if existed {
		if !prev.Expiry.IsZero() {
			expiry := prev.Expiry
			state.Expiry = &expiry
		}
		state.ImageKeys = prev.ImageKeys
	}

	if err := fn(&state); err != nil {
		return err
	}

	if state.Expiry == nil && state.ImageKeys == 0 {
		delete(s.subscribers, userID)
	} else {
		entry := subscriberEntry{ImageKeys: state.ImageKeys}
		if state.Expiry != nil {
			entry.Expiry = *state.Expiry
		}
		s.subscribers[userID] = entry
	}

	if err := s.savePartition(subscribersFile, s.subscribers); err != nil {
		if existed {
			s.subscribers[userID] = prev
		} else {
			delete(s.subscribers, userID)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateTrial выполняет атомарный read-modify-write раздела пробных периодов.
func (s *Store) UpdateTrial(userID int64, fn func(*models.TrialState) error) error {
	const op = "filestore.UpdateTrial"

	s.trialMu.Lock()
	defer s.trialMu.Unlock()

	prev, existed := s.trials[userID]

	state := models.TrialState{}
	if existed {
		usedAt, expiry := prev.UsedAt, prev.Expiry
		state.UsedAt = &usedAt
		state.Expiry = &expiry
		state.ImageUsed = prev.ImageUsed
	}

	if err := fn(&state); err != nil {
		return err
	}

	if state.UsedAt == nil {
		delete(s.trials, userID)
	} else {
		entry := trialEntry{UsedAt: *state.UsedAt, ImageUsed: state.ImageUsed}
		if state.Expiry != nil {
			entry.Expiry = *state.Expiry
		}
		s.trials[userID] = entry
	}

	if err := s.savePartition(trialsFile, s.trials); err != nil {
		if existed {
			s.trials[userID] = prev
		} else {
			delete(s.trials, userID)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PutRequest добавляет заявку на оплату. Вторая pending-заявка одного
// пользователя отклоняется с ErrRequestPending.
func (s *Store) PutRequest(req models.PaymentRequest) error {
	const op = "filestore.PutRequest"

	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	for _, r := range s.requests {
		if r.UserID == req.UserID && r.Status == models.StatusPending {
			return ErrRequestPending
		}
	}

	s.requests = append(s.requests, req)

	if err := s.savePartition(requestsFile, s.requests); err != nil {
		s.requests = s.requests[:len(s.requests)-1]
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListRequests возвращает копию списка заявок в порядке поступления.
func (s *Store) ListRequests() []models.PaymentRequest {
	s.reqMu.RLock()
	defer s.reqMu.RUnlock()

	out := make([]models.PaymentRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RemoveRequest удаляет pending-заявку пользователя и возвращает её.
// Второе значение false, если заявки не было.
func (s *Store) RemoveRequest(userID int64) (models.PaymentRequest, bool, error) {
	const op = "filestore.RemoveRequest"

	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	idx := -1
	for i, r := range s.requests {
		if r.UserID == userID && r.Status == models.StatusPending {
			idx = i
			break
		}
	}
	if idx == -1 {
		return models.PaymentRequest{}, false, nil
	}

	removed := s.requests[idx]
	prev := s.requests
	s.requests = append(append([]models.PaymentRequest{}, prev[:idx]...), prev[idx+1:]...)

	if err := s.savePartition(requestsFile, s.requests); err != nil {
		s.requests = prev
		return models.PaymentRequest{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return removed, true, nil
}

// ListActiveSubscribers возвращает подписчиков, чей срок ещё не истёк.
func (s *Store) ListActiveSubscribers(now time.Time) []models.Subscriber {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	var out []models.Subscriber
	for id, e := range s.subscribers {
		if now.Before(e.Expiry) {
			out = append(out, models.Subscriber{
				UserID:    id,
				Expiry:    e.Expiry,
				ImageKeys: e.ImageKeys,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Language возвращает выбранный язык пользователя или язык по умолчанию.
func (s *Store) Language(userID int64) models.Language {
	s.langMu.RLock()
	defer s.langMu.RUnlock()

	if lang, ok := s.languages[userID]; ok {
		return lang
	}
	return models.DefaultLanguage
}

// SetLanguage сохраняет выбор языка пользователя.
func (s *Store) SetLanguage(userID int64, lang models.Language) error {
	const op = "filestore.SetLanguage"

	s.langMu.Lock()
	defer s.langMu.Unlock()

	prev, existed := s.languages[userID]
	s.languages[userID] = lang

	if err := s.savePartition(languagesFile, s.languages); err != nil {
		if existed {
			s.languages[userID] = prev
		} else {
			delete(s.languages, userID)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
