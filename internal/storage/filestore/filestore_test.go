package filestore

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, newNoopLogger())
	require.NoError(t, err)
	return s, dir
}

func TestGetRecord_UnknownUser(t *testing.T) {
	s, _ := newTestStore(t)

	rec := s.GetRecord(100)

	assert.Equal(t, int64(100), rec.UserID)
	assert.Nil(t, rec.SubscriptionExpiry)
	assert.Nil(t, rec.TrialUsedAt)
	assert.Nil(t, rec.TrialExpiry)
	assert.False(t, rec.TrialImageUsed)
	assert.Equal(t, models.DefaultLanguage, rec.Language)
}

func TestUpdateSubscriber_RoundTrip(t *testing.T) {
	s, dir := newTestStore(t)
	expiry := time.Date(2026, 9, 17, 12, 0, 0, 0, time.UTC)

	err := s.UpdateSubscriber(100, func(st *models.SubscriberState) error {
		st.Expiry = &expiry
		st.ImageKeys = 10
		return nil
	})
	require.NoError(t, err)

	// перезапуск: новый Store над тем же каталогом
	s2, err := New(dir, newNoopLogger())
	require.NoError(t, err)

	rec := s2.GetRecord(100)
	require.NotNil(t, rec.SubscriptionExpiry)
	assert.True(t, expiry.Equal(*rec.SubscriptionExpiry))
	assert.Equal(t, 10, rec.ImageKeysGranted)
}

func TestUpdateSubscriber_MutatorErrorLeavesStateUntouched(t *testing.T) {
	s, _ := newTestStore(t)
	expiry := time.Now().Add(24 * time.Hour)

	require.NoError(t, s.UpdateSubscriber(100, func(st *models.SubscriberState) error {
		st.Expiry = &expiry
		st.ImageKeys = 5
		return nil
	}))

	wantErr := assert.AnError
	err := s.UpdateSubscriber(100, func(st *models.SubscriberState) error {
		st.ImageKeys = 0
		st.Expiry = nil
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	rec := s.GetRecord(100)
	assert.Equal(t, 5, rec.ImageKeysGranted)
	require.NotNil(t, rec.SubscriptionExpiry)
}

func TestUpdateTrial_RoundTrip(t *testing.T) {
	s, dir := newTestStore(t)
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	expiry := now.Add(10 * time.Minute)

	err := s.UpdateTrial(200, func(st *models.TrialState) error {
		st.UsedAt = &now
		st.Expiry = &expiry
		st.ImageUsed = false
		return nil
	})
	require.NoError(t, err)

	s2, err := New(dir, newNoopLogger())
	require.NoError(t, err)

	rec := s2.GetRecord(200)
	require.NotNil(t, rec.TrialUsedAt)
	require.NotNil(t, rec.TrialExpiry)
	assert.True(t, now.Equal(*rec.TrialUsedAt))
	assert.True(t, expiry.Equal(*rec.TrialExpiry))
	assert.False(t, rec.TrialImageUsed)
}

func TestPutRequest_DuplicatePending(t *testing.T) {
	s, _ := newTestStore(t)
	req := models.PaymentRequest{
		ID:          "req-1",
		UserID:      300,
		SubmittedAt: time.Now(),
		ReceiptRef:  "blob-1",
		Status:      models.StatusPending,
	}

	require.NoError(t, s.PutRequest(req))

	err := s.PutRequest(models.PaymentRequest{
		ID:     "req-2",
		UserID: 300,
		Status: models.StatusPending,
	})
	assert.ErrorIs(t, err, ErrRequestPending)

	// длина списка инвариантна относительно повторной отправки
	assert.Len(t, s.ListRequests(), 1)
}

func TestRemoveRequest(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.PutRequest(models.PaymentRequest{
		ID: "req-1", UserID: 300, ReceiptRef: "blob-1", Status: models.StatusPending,
	}))

	removed, found, err := s.RemoveRequest(300)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "req-1", removed.ID)
	assert.Empty(t, s.ListRequests())

	_, found, err = s.RemoveRequest(300)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListActiveSubscribers(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now()
	active := now.Add(48 * time.Hour)
	lapsed := now.Add(-time.Hour)

	for id, exp := range map[int64]time.Time{1: active, 2: lapsed, 3: active} {
		exp := exp
		require.NoError(t, s.UpdateSubscriber(id, func(st *models.SubscriberState) error {
			st.Expiry = &exp
			st.ImageKeys = 10
			return nil
		}))
	}

	subs := s.ListActiveSubscribers(now)
	require.Len(t, subs, 2)
	assert.Equal(t, int64(1), subs[0].UserID)
	assert.Equal(t, int64(3), subs[1].UserID)
}

func TestLanguage_SetAndDefault(t *testing.T) {
	s, dir := newTestStore(t)

	assert.Equal(t, models.DefaultLanguage, s.Language(400))

	require.NoError(t, s.SetLanguage(400, models.LangRU))

	s2, err := New(dir, newNoopLogger())
	require.NoError(t, err)
	assert.Equal(t, models.LangRU, s2.Language(400))
}

func TestNew_CorruptPartitionRecoversEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, subscribersFile), []byte("{not json"), 0o644))

	s, err := New(dir, newNoopLogger())
	require.NoError(t, err)

	rec := s.GetRecord(1)
	assert.Nil(t, rec.SubscriptionExpiry)
}

// Падение посреди записи эквивалентно оставшемуся временному файлу:
// целевой файл не тронут, при перезапуске виден снимок до мутации.
func TestCrashMidWrite_OldStateSurvives(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, newNoopLogger())
	require.NoError(t, err)

	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateSubscriber(1, func(st *models.SubscriberState) error {
		st.Expiry = &expiry
		st.ImageKeys = 10
		return nil
	}))

	// имитация оборванной записи: недописанный временный файл рядом с разделом
	tmpPath := filepath.Join(dir, subscribersFile+".tmp-crash")
	require.NoError(t, os.WriteFile(tmpPath, []byte(`{"1":{"expi`), 0o644))

	s2, err := New(dir, newNoopLogger())
	require.NoError(t, err)

	rec := s2.GetRecord(1)
	require.NotNil(t, rec.SubscriptionExpiry)
	assert.True(t, expiry.Equal(*rec.SubscriptionExpiry))
	assert.Equal(t, 10, rec.ImageKeysGranted)
}

func TestUpdateSubscriber_ConcurrentMutatorsDoNotInterleave(t *testing.T) {
	s, _ := newTestStore(t)
	expiry := time.Now().Add(time.Hour)
	require.NoError(t, s.UpdateSubscriber(1, func(st *models.SubscriberState) error {
		st.Expiry = &expiry
		st.ImageKeys = 0
		return nil
	}))

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = s.UpdateSubscriber(1, func(st *models.SubscriberState) error {
				st.ImageKeys++
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, n, s.GetRecord(1).ImageKeysGranted)
}
