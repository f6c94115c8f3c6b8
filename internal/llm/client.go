// Package llm talks to the Ollama /api/generate endpoint. One client serves
// both the router's classification calls and answer generation.
//
// Every call passes a token-bucket limiter, then a circuit breaker wrapped
// around exponential-backoff retries, so a dead backend fails fast instead of
// stalling each request for the full retry budget.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/router"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Default client configuration values.
const (
	DefaultHost           = "http://localhost:11434"
	DefaultModel          = "qwen3:1.7b"
	DefaultTimeout        = 60 * time.Second
	DefaultRequestsPerSec = 5.0
	DefaultBurst          = 10
	DefaultMaxRetries     = 2
)

// Config configures the client.
type Config struct {
	Host  string
	Model string

	// ClassifyModel is used for routing calls (default: Model).
	ClassifyModel string

	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	MaxRetries     int

	// Temperature for answer generation; classification always runs at 0.
	Temperature float64

	// BreakerMinRequests and BreakerFailureRatio decide when the breaker
	// opens; BreakerOpenTimeout is how long it stays open.
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:                DefaultHost,
		Model:               DefaultModel,
		Timeout:             DefaultTimeout,
		RequestsPerSec:      DefaultRequestsPerSec,
		Burst:               DefaultBurst,
		MaxRetries:          DefaultMaxRetries,
		Temperature:         0.2,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.6,
		BreakerOpenTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	c.Host = strings.TrimRight(c.Host, "/")
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.ClassifyModel == "" {
		c.ClassifyModel = c.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RequestsPerSec <= 0 {
		c.RequestsPerSec = d.RequestsPerSec
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = d.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 {
		c.BreakerFailureRatio = d.BreakerFailureRatio
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = d.BreakerOpenTimeout
	}
	return c
}

// Generator produces answer text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
	Available(ctx context.Context) bool
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Think   *bool          `json:"think,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// generateResponse is the Ollama /api/generate response body.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// statusError is a non-200 response from the backend.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// Client is an Ollama generate client.
type Client struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	prom    *telemetry.Metrics

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time.
var (
	_ Generator                   = (*Client)(nil)
	_ router.ClassificationOracle = (*Client)(nil)
)

// Option configures the client.
type Option func(*Client)

// WithPrometheus counts generate calls by outcome.
func WithPrometheus(p *telemetry.Metrics) Option {
	return func(c *Client) {
		c.prom = p
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// New creates a client. No network call is made.
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
	}

	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "ollama-generate",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about backend health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns the model's answer to prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := c.call(ctx, c.config.Model, prompt, c.config.Temperature)
	c.prom.ObserveGenerate(err == nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stripThinking(out)), nil
}

// Classify sends a routing prompt and returns the raw reply.
func (c *Client) Classify(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, c.config.ClassifyModel, prompt, 0)
}

func (c *Client) call(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("client is closed")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", amanerrors.New(amanerrors.ErrCodeRateLimited, "generation rate limit wait aborted", err)
	}

	retryCfg := amanerrors.RetryConfig{
		MaxRetries:   c.config.MaxRetries,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryIf:      isTransient,
	}

	out, err := c.breaker.Execute(func() (string, error) {
		return amanerrors.RetryWithResult(ctx, retryCfg, func() (string, error) {
			return c.doGenerate(ctx, model, prompt, temperature)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", amanerrors.New(amanerrors.ErrCodeGeneratorUnavailable,
				"generation backend is failing, circuit open", err).
				WithSuggestion("Check that Ollama is running: ollama serve")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", amanerrors.New(amanerrors.ErrCodeGeneratorUnavailable, "generation request failed", err).
			WithDetail("model", model)
	}
	return out, nil
}

func (c *Client) doGenerate(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	think := false
	body, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Think:   &think,
		Options: map[string]any{"temperature": temperature},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama: %s", result.Error)
	}
	return result.Response, nil
}

// isTransient reports whether err is worth retrying: transport failures,
// 429 and 5xx. Client errors and cancellation are not.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// stripThinking drops a leading <think>...</think> block some models emit
// even when thinking is disabled.
func stripThinking(s string) string {
	start := strings.Index(s, "<think>")
	if start < 0 {
		return s
	}
	end := strings.Index(s[start:], "</think>")
	if end < 0 {
		return s
	}
	return s[:start] + s[start+end+len("</think>"):]
}

// ModelName returns the answer model.
func (c *Client) ModelName() string {
	return c.config.Model
}

// Available checks that the backend answers /api/tags.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// BreakerState returns the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Close marks the client closed. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.http.CloseIdleConnections()
	return nil
}
