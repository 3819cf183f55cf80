package imagegen

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/keypool"
)

type StoreMock struct{ mock.Mock }

func (m *StoreMock) GetRecord(userID int64) models.UserRecord {
	args := m.Called(userID)
	return args.Get(0).(models.UserRecord)
}

type TrialMock struct{ mock.Mock }

func (m *TrialMock) ConsumeImageCredit(userID int64, now time.Time) error {
	return m.Called(userID, now).Error(0)
}
func (m *TrialMock) RestoreImageCredit(userID int64) error {
	return m.Called(userID).Error(0)
}

type SubsMock struct{ mock.Mock }

func (m *SubsMock) ConsumeImageKey(userID int64) error {
	return m.Called(userID).Error(0)
}
func (m *SubsMock) RestoreImageKey(userID int64) error {
	return m.Called(userID).Error(0)
}

type GenMock struct{ mock.Mock }

func (m *GenMock) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	args := m.Called(ctx, apiKey, prompt)
	return args.String(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func subscriberRecord(now time.Time) models.UserRecord {
	expiry := now.Add(24 * time.Hour)
	return models.UserRecord{UserID: 1, SubscriptionExpiry: &expiry, ImageKeysGranted: 3}
}

func trialRecord(now time.Time) models.UserRecord {
	usedAt := now.Add(-time.Minute)
	expiry := now.Add(9 * time.Minute)
	return models.UserRecord{UserID: 1, TrialUsedAt: &usedAt, TrialExpiry: &expiry}
}

func newPool(t *testing.T, values ...string) *keypool.Pool {
	t.Helper()
	p, err := keypool.New(values, time.Minute, newNoopLogger())
	require.NoError(t, err)
	return p
}

func TestGenerate_SubscriberHappyPath(t *testing.T) {
	now := time.Now()
	store := &StoreMock{}
	trials := &TrialMock{}
	subs := &SubsMock{}
	gen := &GenMock{}

	store.On("GetRecord", int64(1)).Return(subscriberRecord(now)).Once()
	subs.On("ConsumeImageKey", int64(1)).Return(nil).Once()
	gen.On("Generate", mock.Anything, "key-a", "a red fox").Return("https://img.example/1.png", nil).Once()

	svc := New(store, trials, subs, newPool(t, "key-a"), gen, newNoopLogger())

	url, err := svc.Generate(context.Background(), 1, "a red fox", now)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", url)

	subs.AssertNotCalled(t, "RestoreImageKey", mock.Anything)
	mock.AssertExpectationsForObjects(t, store, subs, gen)
}

func TestGenerate_NoAccess(t *testing.T) {
	now := time.Now()
	store := &StoreMock{}
	store.On("GetRecord", int64(1)).Return(models.UserRecord{UserID: 1}).Once()

	svc := New(store, &TrialMock{}, &SubsMock{}, newPool(t, "key-a"), &GenMock{}, newNoopLogger())

	_, err := svc.Generate(context.Background(), 1, "prompt", now)
	assert.ErrorIs(t, err, ErrNoAccess)
}

// Исчерпание пула после резервирования кредита компенсируется:
// кредит возвращается, потому что внешний вызов так и не состоялся.
func TestGenerate_PoolExhaustedCompensatesCredit(t *testing.T) {
	now := time.Now()
	store := &StoreMock{}
	subs := &SubsMock{}

	store.On("GetRecord", int64(1)).Return(subscriberRecord(now)).Once()
	subs.On("ConsumeImageKey", int64(1)).Return(nil).Once()
	subs.On("RestoreImageKey", int64(1)).Return(nil).Once()

	pool := newPool(t, "key-a")
	pool.ReportFailure("key-a", keypool.FailureRateLimit, now)

	svc := New(store, &TrialMock{}, subs, pool, &GenMock{}, newNoopLogger())

	_, err := svc.Generate(context.Background(), 1, "prompt", now)
	assert.ErrorIs(t, err, keypool.ErrPoolExhausted)
	mock.AssertExpectationsForObjects(t, store, subs)
}

func TestGenerate_TrialCreditCompensatedOnGeneratorFailure(t *testing.T) {
	now := time.Now()
	store := &StoreMock{}
	trials := &TrialMock{}
	gen := &GenMock{}

	store.On("GetRecord", int64(1)).Return(trialRecord(now)).Once()
	trials.On("ConsumeImageCredit", int64(1), now).Return(nil).Once()
	trials.On("RestoreImageCredit", int64(1)).Return(nil).Once()
	gen.On("Generate", mock.Anything, "key-a", "prompt").Return("", errors.New("upstream down")).Once()

	svc := New(store, trials, &SubsMock{}, newPool(t, "key-a"), gen, newNoopLogger())

	_, err := svc.Generate(context.Background(), 1, "prompt", now)
	assert.Error(t, err)
	mock.AssertExpectationsForObjects(t, store, trials, gen)
}

// Ключ, упёршийся в лимит, помечается в пуле, и вызов повторяется
// со следующим ключом.
func TestGenerate_RotatesPastRateLimitedKey(t *testing.T) {
	now := time.Now()
	store := &StoreMock{}
	subs := &SubsMock{}
	gen := &GenMock{}

	store.On("GetRecord", int64(1)).Return(subscriberRecord(now)).Once()
	subs.On("ConsumeImageKey", int64(1)).Return(nil).Once()
	gen.On("Generate", mock.Anything, "key-a", "prompt").Return("", ErrRateLimited).Once()
	gen.On("Generate", mock.Anything, "key-b", "prompt").Return("https://img.example/2.png", nil).Once()

	pool := newPool(t, "key-a", "key-b")
	svc := New(store, &TrialMock{}, subs, pool, gen, newNoopLogger())

	url, err := svc.Generate(context.Background(), 1, "prompt", now)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/2.png", url)

	snap := pool.Snapshot()
	assert.Equal(t, keypool.StateRateLimited, snap[0].State)
	mock.AssertExpectationsForObjects(t, store, subs, gen)
}

func TestGenerate_InvalidKeysExhaustPool(t *testing.T) {
	now := time.Now()
	store := &StoreMock{}
	subs := &SubsMock{}
	gen := &GenMock{}

	store.On("GetRecord", int64(1)).Return(subscriberRecord(now)).Once()
	subs.On("ConsumeImageKey", int64(1)).Return(nil).Once()
	subs.On("RestoreImageKey", int64(1)).Return(nil).Once()
	gen.On("Generate", mock.Anything, mock.Anything, "prompt").Return("", ErrInvalidKey).Twice()

	pool := newPool(t, "key-a", "key-b")
	svc := New(store, &TrialMock{}, subs, pool, gen, newNoopLogger())

	_, err := svc.Generate(context.Background(), 1, "prompt", now)
	assert.ErrorIs(t, err, keypool.ErrPoolExhausted)
	mock.AssertExpectationsForObjects(t, store, subs, gen)
}

func TestGenerate_NoImageKeysLeft(t *testing.T) {
	now := time.Now()
	store := &StoreMock{}
	subs := &SubsMock{}
	wantErr := errors.New("no image keys left")

	store.On("GetRecord", int64(1)).Return(subscriberRecord(now)).Once()
	subs.On("ConsumeImageKey", int64(1)).Return(wantErr).Once()

	svc := New(store, &TrialMock{}, subs, newPool(t, "key-a"), &GenMock{}, newNoopLogger())

	_, err := svc.Generate(context.Background(), 1, "prompt", now)
	assert.ErrorIs(t, err, wantErr)
	subs.AssertNotCalled(t, "RestoreImageKey", mock.Anything)
}
