package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oarkflow/json"
	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/config"
)

// RESTLLMClient talks to an OpenAI-compatible chat completions endpoint.
// It satisfies contracts.LLMClient.
type RESTLLMClient struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	httpClient  *http.Client
	logger      *log.Logger
}

type LLMOption func(*RESTLLMClient)

func WithLLMLogger(logger *log.Logger) LLMOption {
	return func(c *RESTLLMClient) {
		c.logger = logger
	}
}

func WithLLMHTTPClient(httpClient *http.Client) LLMOption {
	return func(c *RESTLLMClient) {
		c.httpClient = httpClient
	}
}

func WithTemperature(temperature float64) LLMOption {
	return func(c *RESTLLMClient) {
		c.temperature = temperature
	}
}

func NewLLMClient(cfg config.AgentConfig, opts ...LLMOption) *RESTLLMClient {
	c := &RESTLLMClient{
		endpoint:    cfg.LLMEndpoint,
		model:       cfg.LLMModel,
		apiKey:      cfg.LLMAPIKey,
		temperature: 0.3,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		logger:      &log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *RESTLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   2048,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion: %d - %s", resp.StatusCode, string(respBody))
	}
	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	c.logger.Debug().Str("model", c.model).Dur("duration", time.Since(start)).Msg("Completion generated")
	return parsed.Choices[0].Message.Content, nil
}
