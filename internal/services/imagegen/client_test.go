package imagegen

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
)

func newTestClient(endpoint string) *Client {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	return NewClient(config.Generator{
		Endpoint: endpoint,
		Model:    "recraft-v3",
		Timeout:  5 * time.Second,
	}, log)
}

func TestClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key-a", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"output":["https://img.example/1.png"]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	url, err := c.Generate(context.Background(), "key-a", "a red fox")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", url)
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	_, err := c.Generate(context.Background(), "key-a", "prompt")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestClient_InvalidKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	_, err := c.Generate(context.Background(), "key-a", "prompt")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// Отказы ключей не размыкают breaker: сервис жив, проблема в ключе.
func TestClient_KeyFailuresDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	for i := 0; i < 10; i++ {
		_, err := c.Generate(context.Background(), "key-a", "prompt")
		assert.ErrorIs(t, err, ErrRateLimited)
	}
}

func TestClient_EmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"output":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	_, err := c.Generate(context.Background(), "key-a", "prompt")
	assert.Error(t, err)
}
