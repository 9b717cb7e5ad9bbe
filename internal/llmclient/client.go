// Package llmclient is the bounded, self-correcting LLM client
// (spec.md §4.7): a concurrency-gated, circuit-broken, retrying wrapper
// around the Anthropic API. CompleteJSON sanitizes each response, checks
// that it is valid JSON, and re-prompts the model with its own invalid
// output and the error when it is not.
//
// Grounded on the teacher's pkg/llm client (same fmt.Errorf-wrapped
// construction and Close-releases-resources shape, generalized from its
// gRPC transport to the anthropic-sdk-go transport the rest of the
// example corpus depends on), with concurrency gating via
// golang.org/x/sync/semaphore, retries via cenkalti/backoff/v4, and
// circuit breaking via sony/gobreaker — all three pulled in because the
// corpus's go.mod already carries them for this exact concern.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/metrics"
)

// sender performs a single, non-retried round trip to the model. The
// production implementation wraps anthropic-sdk-go; tests substitute a
// fake so the concurrency/retry/breaker logic around it can be exercised
// without a network call.
type sender interface {
	send(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// anthropicSender is the production sender backed by anthropic-sdk-go.
type anthropicSender struct {
	api   anthropic.Client
	model string
}

func (s *anthropicSender) send(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := s.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(4096),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic message call: %w", err)
	}
	var sb []byte
	for _, block := range msg.Content {
		if text := block.Text; text != "" {
			sb = append(sb, text...)
		}
	}
	return string(sb), nil
}

// Client is the shared, process-wide LLM gateway. Every pass (file
// analysis, intra-dir, global) calls through the same instance so the
// concurrency semaphore and circuit breaker reflect true outbound load.
type Client struct {
	send    sender
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker
	cfg     config.LLMConfig
}

// New constructs a Client from configuration, reading the API key from
// the environment variable cfg.APIKeyEnv names.
func New(cfg config.LLMConfig) (*Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("llmclient: environment variable %s is not set", cfg.APIKeyEnv)
	}

	api := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newWithSender(cfg, &anthropicSender{api: api, model: cfg.Model}), nil
}

func newWithSender(cfg config.LLMConfig, s sender) *Client {
	sem := semaphore.NewWeighted(int64(cfg.Concurrency))

	settings := gobreaker.Settings{
		Name:        "llm-client",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	}
	breaker := gobreaker.NewCircuitBreaker(settings)

	return &Client{send: s, sem: sem, breaker: breaker, cfg: cfg}
}

// Complete submits one prompt, enforcing the concurrency semaphore and
// circuit breaker and retrying transient failures with backoff, and
// returns the model's text as is. It neither sanitizes nor validates the
// text; call CompleteJSON below for a sanitized, checked JSON value.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquiring llm concurrency slot: %w", err)
	}
	defer c.sem.Release(1)

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		return c.retryingCall(ctx, systemPrompt, userPrompt)
	})
	metrics.LLMCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.LLMCalls.WithLabelValues("circuit_open").Inc()
			return "", fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
		metrics.LLMCalls.WithLabelValues(outcome).Inc()
		return "", err
	}
	metrics.LLMCalls.WithLabelValues("success").Inc()
	return result.(string), nil
}

// CompleteJSON calls Complete and sanitizes the response into the first
// balanced JSON value. When the result is not valid JSON it calls
// Complete again with a correction prompt holding the original prompt,
// the offending response and the error, up to cfg.MaxAttempts calls in
// all, and then returns ErrSchemaValidation.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	prompt := userPrompt
	for attempt := 1; ; attempt++ {
		raw, err := c.Complete(ctx, systemPrompt, prompt)
		if err != nil {
			return nil, err
		}
		sanitized := sanitizeJSON(raw)
		if json.Valid([]byte(sanitized)) {
			return json.RawMessage(sanitized), nil
		}
		verr := fmt.Errorf("%w: %s", ErrSchemaValidation, truncate(sanitized, 200))
		if attempt >= c.cfg.MaxAttempts {
			return nil, verr
		}
		prompt = fmt.Sprintf("Your previous response failed validation.\n\nOriginal request:\n%s\n\nYour response:\n%s\n\nValidation error:\n%s\n\nReturn corrected strict JSON only.", userPrompt, raw, verr)
	}
}

func (c *Client) retryingCall(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BackoffInitial
	bo.Multiplier = c.cfg.BackoffFactor
	bo.MaxInterval = c.cfg.BackoffCap

	var result string
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		text, err := c.send.send(callCtx, systemPrompt, userPrompt)
		if err != nil {
			slog.Warn("llm call failed, retrying", "attempt", attempt, "max_attempts", c.cfg.MaxAttempts, "error", err)
			return err
		}
		result = text
		return nil
	}

	policy := backoff.WithMaxRetries(bo, uint64(c.cfg.MaxAttempts-1))
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return "", fmt.Errorf("llm call exhausted %d attempts: %w", c.cfg.MaxAttempts, err)
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
