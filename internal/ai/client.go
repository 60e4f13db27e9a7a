package ai

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds oracle client configuration
type Config struct {
	APIKey    string      // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model     string      // Model to use (default: DefaultModel())
	MaxTokens int         // Completion token budget (default: 4096)
	Retry     RetryConfig // Retry configuration (uses defaults if not specified)
}

// Client is the Anthropic-backed Oracle.
type Client struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	retry     RetryConfig
	breaker   *CircuitBreaker
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
}

var _ Oracle = (*Client)(nil)

// NewClient creates an Anthropic-backed oracle
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	var breaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	var sem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	var limiter *rate.Limiter
	if retry.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(retry.RequestsPerSecond), 1)
	}

	return &Client{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
		retry:     retry,
		breaker:   breaker,
		sem:       sem,
		limiter:   limiter,
	}, nil
}

// Complete sends one prompt and returns the concatenated text blocks of the
// model's response.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, "completion", func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: int64(c.maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	log.Printf("[ORACLE] completion: input=%d tokens, output=%d tokens, duration=%v",
		response.Usage.InputTokens, response.Usage.OutputTokens, time.Since(start))
	return text, nil
}

// HealthCheck reports whether the oracle can currently serve requests.
func (c *Client) HealthCheck() error {
	if c.breaker != nil {
		state, failures, _ := c.breaker.GetMetrics()
		if state == CircuitOpen {
			return fmt.Errorf("oracle unavailable: %w (failures=%d, retry in %v)",
				ErrCircuitOpen, failures, c.retry.OpenTimeout)
		}
	}
	return nil
}
