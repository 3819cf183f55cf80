package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
)

// Client — HTTP-клиент внешнего сервиса генерации изображений, обёрнутый
// в circuit breaker. Отказы ключей (rate limit, невалидный ключ) не
// считаются отказами сервиса и breaker не размыкают.
type Client struct {
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[string]
	endpoint string
	model    string
	log      *slog.Logger
}

// NewClient создает новый экземпляр Client.
func NewClient(cfg config.Generator, log *slog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "image-generator",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrRateLimited) ||
				errors.Is(err, ErrInvalidKey)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("generator breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  gobreaker.NewCircuitBreaker[string](settings),
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		log:      log,
	}
}

type generateRequest struct {
	Model string        `json:"model"`
	Input generateInput `json:"input"`
}

type generateInput struct {
	Prompt     string `json:"prompt"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	NumOutputs int    `json:"num_outputs"`
}

type generateResponse struct {
	Output []string `json:"output"`
}

// Generate отправляет запрос генерации с заданным API-ключом и возвращает
// URL первого результата.
func (c *Client) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	return c.breaker.Execute(func() (string, error) {
		return c.doGenerate(ctx, apiKey, prompt)
	})
}

func (c *Client) doGenerate(ctx context.Context, apiKey, prompt string) (string, error) {
	const op = "imagegen.Generate"

	body, err := json.Marshal(generateRequest{
		Model: c.model,
		Input: generateInput{
			Prompt:     prompt,
			Width:      512,
			Height:     512,
			NumOutputs: 1,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusTooManyRequests:
		return "", ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", ErrInvalidKey
	default:
		return "", fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(out.Output) == 0 {
		return "", fmt.Errorf("%s: empty output", op)
	}
	return out.Output[0], nil
}
