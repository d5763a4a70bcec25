// internal/common/genai/client.go
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"construction-estimator/internal/common/llmjson"
	"construction-estimator/internal/common/logger"
	"construction-estimator/internal/common/metrics"
	"construction-estimator/internal/common/retry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1/chat/completions"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 60 * time.Second

	jsonResponseType = "json_object"
	tracerName       = "construction-estimator/genai"
)

// Role is the speaker label understood by the completion endpoint.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single non-streaming chat completion.
type Request struct {
	Messages     []Message
	JSONResponse bool
}

// Config is built once at start-up and shared read-only by every worker.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultConfig returns the endpoint, model and 5 retries / 2s backoff defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Model:      DefaultModel,
		Timeout:    DefaultTimeout,
		MaxRetries: retry.DefaultMaxRetries,
		BaseDelay:  retry.DefaultBaseDelay,
	}
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	rateLimited func(error) bool
	sleep       func(context.Context, time.Duration) error
	logger      logger.Logger
	tracer      trace.Tracer
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimitPredicate replaces IsRateLimited for providers that signal
// throttling differently.
func WithRateLimitPredicate(pred func(error) bool) Option {
	return func(c *Client) {
		if pred != nil {
			c.rateLimited = pred
		}
	}
}

// WithSleeper overrides how backoff waits are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

func NewClient(cfg Config, log logger.Logger, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}

	c := &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimited: IsRateLimited,
		logger:      log.WithFields(map[string]interface{}{"component": "genai", "model": cfg.Model}),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model reports the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete sends the messages and returns the first choice's content, or ""
// when the provider returned no choices. Rate-limited calls are retried with
// exponential backoff; every other failure is returned immediately.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := c.tracer.Start(ctx, "genai.complete", trace.WithAttributes(
		attribute.String("genai.model", c.cfg.Model),
		attribute.Int("genai.messages", len(req.Messages)),
		attribute.Bool("genai.json_response", req.JSONResponse),
	))
	defer span.End()

	payload := chatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: req.Messages,
		Stream:   false,
	}
	if req.JSONResponse {
		payload.ResponseFormat = &responseFormat{Type: jsonResponseType}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("genai request: encode body: %w", err)
	}

	policy := retry.DefaultPolicy(c.rateLimited)
	policy.MaxRetries = c.cfg.MaxRetries
	policy.BaseDelay = c.cfg.BaseDelay
	policy.Sleep = c.sleep
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.GenAIRateLimitRetries.Inc()
		span.AddEvent("rate_limited", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Int64("delay_ms", delay.Milliseconds()),
		))
		c.logger.Warn("genai rate limited, retrying", map[string]interface{}{
			"attempt":    attempt,
			"maxRetries": c.cfg.MaxRetries,
			"delayMs":    delay.Milliseconds(),
			"error":      err.Error(),
		})
	}

	content, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return c.send(ctx, body)
	})
	if err != nil {
		status := "error"
		if c.rateLimited(err) {
			status = "rate_limited"
		}
		metrics.GenAIRequests.WithLabelValues(status).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	metrics.GenAIRequests.WithLabelValues("ok").Inc()
	return content, nil
}

func (c *Client) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("genai request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("genai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("genai request: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newAPIError(resp.StatusCode, raw)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return "", fmt.Errorf("genai request: decode response: %w (body: %s)", err, llmjson.Snippet(string(raw)))
	}
	if completion.Error != nil {
		return "", completion.Error.toAPIError(resp.StatusCode)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}

// IsRateLimited is the default throttling predicate: HTTP 429, the
// rate_limit_exceeded error code, or "rate limit" in the message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Code == "rate_limit_exceeded" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiErrorBody `json:"error"`
}
