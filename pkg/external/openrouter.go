package external

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

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/pharmgx-risk-server/internal/domain"
)

const (
	DefaultOpenRouterURL    = "https://openrouter.ai/api/v1"
	DefaultExplainModel     = "meta-llama/llama-3-8b-instruct"
	DefaultExplainTimeout   = 60 * time.Second
	defaultTemperature      = 0.2
	defaultMaxTokens        = 150
	defaultExplainRate      = 2
	explanationSystemPrompt = "You are a pharmacogenomics expert."
)

var (
	ErrMissingAPIKey       = errors.New("explanation provider API key not configured")
	ErrMalformedResponse   = errors.New("malformed explanation response")
	ErrProviderUnavailable = errors.New("explanation provider unavailable (circuit breaker open)")
)

// OpenRouterConfig contains configuration for the chat-completions client
type OpenRouterConfig struct {
	BaseURL     string        `json:"base_url"`
	APIKey      string        `json:"-"`
	Model       string        `json:"model"`
	Timeout     time.Duration `json:"timeout"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	RateLimit   int           `json:"rate_limit"` // requests per second
}

// OpenRouterClient implements domain.ExplanationProvider against an
// OpenAI-compatible chat-completions endpoint
type OpenRouterClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	rateLimit   *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	logger      *logrus.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenRouterClient creates a new explanation client
func NewOpenRouterClient(config OpenRouterConfig, logger *logrus.Logger) *OpenRouterClient {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOpenRouterURL
	}
	if config.Model == "" {
		config.Model = DefaultExplainModel
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultExplainTimeout
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.RateLimit == 0 {
		config.RateLimit = defaultExplainRate
	}
	if logger == nil {
		logger = logrus.New()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "OpenRouter",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &OpenRouterClient{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:   breaker,
		logger:    logger,
	}
}

// Explain requests a short explanation of the assessment
func (c *OpenRouterClient) Explain(ctx context.Context, req domain.ExplanationRequest) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrProviderUnavailable
		}
		return "", fmt.Errorf("explanation request failed: %w", err)
	}

	return result.(string), nil
}

// BreakerState returns the current circuit breaker state
func (c *OpenRouterClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// BreakerCounts returns the circuit breaker counters for the current interval
func (c *OpenRouterClient) BreakerCounts() gobreaker.Counts {
	return c.breaker.Counts()
}

func (c *OpenRouterClient) complete(ctx context.Context, req domain.ExplanationRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: explanationSystemPrompt},
			{Role: "user", Content: BuildExplanationPrompt(req)},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	c.logger.WithFields(logrus.Fields{
		"drug":  req.Drug,
		"gene":  req.Profile.Gene,
		"model": c.model,
	}).Debug("Explanation generated")

	return content, nil
}

// BuildExplanationPrompt renders the user prompt sent to the model
func BuildExplanationPrompt(req domain.ExplanationRequest) string {
	var b strings.Builder
	b.WriteString("Write a concise 2-3 sentence pharmacogenomic explanation.\n\n")
	fmt.Fprintf(&b, "Drug: %s\n", req.Drug)
	fmt.Fprintf(&b, "Gene: %s\n", req.Profile.Gene)
	fmt.Fprintf(&b, "Diplotype: %s\n", req.Profile.Diplotype)
	fmt.Fprintf(&b, "Phenotype: %s\n", req.Profile.Phenotype)
	fmt.Fprintf(&b, "Risk: %s\n", req.Risk.RiskLabel)
	fmt.Fprintf(&b, "Recommendation: %s\n", req.Risk.DosingNote)
	return b.String()
}
