package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TokenSource provides the bearer credential used for each connection.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken uses the same credential for every connection.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("realtime api key not configured")
	}
	return string(t), nil
}

// EphemeralTokenSource exchanges a long lived API key for short lived
// client secrets and caches each secret until shortly before it expires.
type EphemeralTokenSource struct {
	apiKey  string
	baseURL string
	model   string
	voice   string
	client  *http.Client
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

const tokenExpiryMargin = 10 * time.Second

func NewEphemeralTokenSource(apiKey, baseURL, model, voice string) *EphemeralTokenSource {
	return &EphemeralTokenSource{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		voice:   voice,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: 15 * time.Second},
		now:     time.Now,
	}
}

type ephemeralSessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice,omitempty"`
}

type ephemeralSessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func (s *EphemeralTokenSource) Token(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "mint realtime client secret")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(tokenExpiryMargin).Before(s.expiresAt) {
		return s.token, nil
	}

	body, err := json.Marshal(ephemeralSessionRequest{Model: s.model, Voice: s.voice})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request client secret: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("client secret request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(message)))
	}

	var session ephemeralSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("failed to decode client secret: %w", err)
	}
	if session.ClientSecret.Value == "" {
		return "", fmt.Errorf("client secret missing from response")
	}

	s.token = session.ClientSecret.Value
	s.expiresAt = time.Unix(session.ClientSecret.ExpiresAt, 0)
	return s.token, nil
}
