package engine

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
	"sync/atomic"
	"time"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/resilience"
)

const (
	baseCallTimeout = 30 * time.Second
	// Each retry against the same model gets more time; cold models on
	// the hosted inference API can take a while to answer.
	callTimeoutStep = 10 * time.Second
	warmupTimeout   = 60 * time.Second
)

// InferenceClient calls a hosted text-generation API. Failures that
// indicate upstream trouble feed the shared circuit breaker.
type InferenceClient struct {
	baseURL string
	apiKey  string
	models  []string
	http    *http.Client
	policy  *resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	log     *slog.Logger

	warmedUp atomic.Bool
}

func NewInferenceClient(baseURL, apiKey string, models []string, breaker *resilience.CircuitBreaker, log *slog.Logger) *InferenceClient {
	return &InferenceClient{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/",
		apiKey:  apiKey,
		models:  models,
		http:    &http.Client{},
		policy:  resilience.DefaultRetryPolicy(),
		breaker: breaker,
		log:     log,
	}
}

type generateRequest struct {
	Inputs string `json:"inputs"`
}

type generateReply struct {
	GeneratedText string `json:"generated_text"`
}

// Generate tries each configured model in order, retrying transient
// failures with backoff. It returns the generated text and the model
// that produced it.
func (c *InferenceClient) Generate(ctx context.Context, prompt string) (string, string, error) {
	var lastErr error
	for _, model := range c.models {
		var text string
		err := c.policy.Execute(ctx, func(attempt int) error {
			timeout := baseCallTimeout + time.Duration(attempt-1)*callTimeoutStep
			c.log.Info("calling inference api", "model", model, "attempt", attempt, "timeout", timeout)

			out, err := c.call(ctx, model, prompt, timeout)
			if err != nil {
				return err
			}
			text = out
			return nil
		})
		if err == nil {
			return text, model, nil
		}
		lastErr = err
		c.log.Warn("model exhausted", "model", model, "error", err)
	}
	return "", "", fmt.Errorf("all models failed: %w", lastErr)
}

func (c *InferenceClient) call(ctx context.Context, model, prompt string, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{Inputs: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+model, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection errors count against the upstream
		// just like 5xx responses. Caller cancellation does not.
		if !errors.Is(err, context.Canceled) {
			c.breaker.RecordFailure()
		}
		return "", fmt.Errorf("inference call: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return parseGenerated(resp.Body)
	case resp.StatusCode == http.StatusTooManyRequests:
		c.breaker.RecordFailure()
		return "", fmt.Errorf("rate limited by model %s: %w", model, resilience.ErrNonRetryable)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.breaker.RecordFailure()
		return "", fmt.Errorf("auth rejected for model %s (status %d): %w", model, resp.StatusCode, resilience.ErrNonRetryable)
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
		return "", fmt.Errorf("upstream error from model %s: status %d", model, resp.StatusCode)
	default:
		return "", fmt.Errorf("unexpected status %d from model %s", resp.StatusCode, model)
	}
}

// parseGenerated handles both response shapes the API produces: a
// single object or an array of candidates. When the model echoes the
// whole conversation back, only the final assistant turn is kept.
func parseGenerated(r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var many []generateReply
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return trimToAssistant(many[0].GeneratedText), nil
	}
	var one generateReply
	if err := json.Unmarshal(raw, &one); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return trimToAssistant(one.GeneratedText), nil
}

func trimToAssistant(text string) string {
	if idx := strings.LastIndex(text, assistantMarker); idx >= 0 {
		return strings.TrimSpace(text[idx+len(assistantMarker):])
	}
	return strings.TrimSpace(text)
}

// Warmup sends a throwaway generation so the first real request does
// not pay the model cold-start cost. Best effort.
func (c *InferenceClient) Warmup(ctx context.Context) {
	if c.warmedUp.Load() || len(c.models) == 0 {
		return
	}
	c.log.Info("pre-warming inference model", "model", c.models[0])
	if _, err := c.call(ctx, c.models[0], "Hello, how can you help me with shoes?", warmupTimeout); err != nil {
		c.log.Warn("model warmup failed, will retry on first request", "error", err)
		return
	}
	c.warmedUp.Store(true)
	c.log.Info("inference model warmed up")
}
