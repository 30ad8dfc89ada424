// Package correlate keeps the documents a language model judges to be on
// the same topic as the claim.
package correlate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/factcheck/connectivity"
	"github.com/hazyhaar/factcheck/safeurl"
)

// Label is the judge's verdict.
type Label string

const (
	Correlated    Label = "Correlated"
	NotCorrelated Label = "Not Correlated"
)

// ErrUnrecognisedLabel is returned when the judge reply is neither label.
var ErrUnrecognisedLabel = errors.New("correlate: unrecognised judge reply")

// Judge classifies a text against a claim.
type Judge interface {
	Classify(ctx context.Context, text, claim string) (Label, error)
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(ctx context.Context, text, claim string) (Label, error)

// Classify implements Judge.
func (f JudgeFunc) Classify(ctx context.Context, text, claim string) (Label, error) {
	return f(ctx, text, claim)
}

const systemPrompt = `You are a fact-checking assistant. Decide whether the source text discusses the same subject as the claim. You do not judge whether the claim is true. Reply with exactly one of: Correlated, Not Correlated.`

// Prompt renders the fixed instruction for a text and claim.
func Prompt(text, claim string) string {
	return fmt.Sprintf("Claim:\n%s\n\nSource text:\n%s\n\nAnswer with Correlated or Not Correlated.", claim, text)
}

// ParseLabel normalises a model reply into a Label.
func ParseLabel(reply string) (Label, error) {
	s := strings.ToLower(reply)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '`', '*', '.', '!', ':', '-', '_':
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	switch {
	case strings.Contains(s, "not correlated"), strings.Contains(s, "uncorrelated"):
		return NotCorrelated, nil
	case strings.Contains(s, "correlated"):
		return Correlated, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognisedLabel, reply)
}

// ChatConfig configures a ChatJudge.
type ChatConfig struct {
	BaseURL string        // OpenAI-compatible API root. Default: Groq.
	Model   string        // Default: llama-3.1-8b-instant.
	APIKey  string        // Bearer token; empty for local servers.
	Timeout time.Duration // Per call. Default: 30s.
	Retries int           // Retries on 429/5xx. Default: 1; negative disables.
	Breaker connectivity.BreakerConfig
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

func (c *ChatConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.groq.com/openai/v1"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = "llama-3.1-8b-instant"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 1
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// ChatJudge asks an OpenAI-compatible chat completion endpoint
// (Groq, Ollama, OpenAI) for a label.
type ChatJudge struct {
	config  ChatConfig
	breaker *connectivity.CircuitBreaker
	logger  *slog.Logger
}

// NewChatJudge creates a ChatJudge.
func NewChatJudge(cfg ChatConfig, logger *slog.Logger) *ChatJudge {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	opts := append(cfg.Breaker.Options(),
		connectivity.WithBreakerLogger(logger),
		connectivity.WithBreakerTripOn(connectivity.Outage))
	breaker := connectivity.NewCircuitBreaker("judge", opts...)
	return &ChatJudge{
		config:  cfg,
		breaker: breaker,
		logger:  logger,
	}
}

// Breaker returns the state of the judge's circuit breaker.
func (j *ChatJudge) Breaker() connectivity.Counts { return j.breaker.Counts() }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Classify implements Judge.
func (j *ChatJudge) Classify(ctx context.Context, text, claim string) (Label, error) {
	var reply string
	err := connectivity.Retry(ctx, j.config.Retries, time.Second, j.logger, func(ctx context.Context) error {
		return j.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			reply, err = j.complete(ctx, text, claim)
			return err
		})
	})
	if err != nil {
		return "", err
	}
	return ParseLabel(reply)
}

func (j *ChatJudge) complete(ctx context.Context, text, claim string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: j.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Prompt(text, claim)},
		},
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		return "", fmt.Errorf("correlate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("correlate: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if j.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+j.config.APIKey)
	}

	resp, err := j.config.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("correlate: chat completion: %w", err)
	}
	defer resp.Body.Close()

	data, err := safeurl.LimitedReadAll(resp.Body, safeurl.MaxResponseBody)
	if err != nil {
		return "", fmt.Errorf("correlate: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", connectivity.NewHTTPError("judge", resp.StatusCode, data)
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("correlate: decode response: %w", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("correlate: judge error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("correlate: empty judge reply")
	}
	return cr.Choices[0].Message.Content, nil
}
