package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"prediction-eval/backend/internal/verdict"
)

// Judge produces raw verdict output for a prediction. The returned string is
// the judge model's message content verbatim; coercion and parsing happen in
// the verdict package.
type Judge interface {
	Enabled() bool
	Evaluate(ctx context.Context, req Request) (string, error)
}

// Config holds judge model configuration parameters.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// Client implements the Judge interface against an OpenAI-compatible API.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

var ErrDisabled = errors.New("ai judge disabled")

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	client := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: temp,
		maxTokens:   cfg.MaxTokens,
	}
	return client, nil
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Model returns the configured judge model identifier.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Evaluate asks the judge model for a verdict on the supplied prediction and
// returns its raw message content.
func (c *Client) Evaluate(ctx context.Context, req Request) (string, error) {
	if c == nil || !c.Enabled() {
		return "", ErrDisabled
	}

	payload := c.buildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("judge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", fmt.Errorf("judge status %d: %v", resp.StatusCode, apiErr)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(decoded.Choices) == 0 {
		return "", errors.New("judge empty response")
	}

	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errors.New("judge empty verdict")
	}
	return content, nil
}

func (c *Client) buildPayload(req Request) map[string]any {
	messages := []map[string]string{
		{
			"role":    "system",
			"content": systemPrompt(),
		},
		{
			"role":    "user",
			"content": buildUserPrompt(req),
		},
	}
	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if c.maxTokens > 0 {
		payload["max_tokens"] = c.maxTokens
	}
	return payload
}

func systemPrompt() string {
	builder := &strings.Builder{}
	builder.WriteString("You grade predictions made by autonomous agents. Reply with a strict JSON object containing exactly the keys valid, scores, and brief_rationale. ")
	builder.WriteString("valid is true only when the text states a concrete, falsifiable claim about a future event; greetings, questions, restatements of known facts, and vague musings are invalid. ")
	builder.WriteString("When valid is true, scores must map each of the dimensions ")
	builder.WriteString(strings.Join(verdict.DimensionNames(), ", "))
	builder.WriteString(" to an integer between 0 and 100. When valid is false, scores must be null. ")
	builder.WriteString("brief_rationale is one to three sentences and never exceeds 300 words. Emit nothing outside the JSON object.")
	return builder.String()
}

func buildUserPrompt(req Request) string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "Agent: %s\n", strings.TrimSpace(req.Agent))
	if topic := strings.TrimSpace(req.Topic); topic != "" {
		fmt.Fprintf(builder, "Topic: %s\n", topic)
	}
	fmt.Fprintf(builder, "Prediction: %s\n", strings.TrimSpace(req.Prediction))
	if post := strings.TrimSpace(req.FullPost); post != "" && post != strings.TrimSpace(req.Prediction) {
		fmt.Fprintf(builder, "Full post for context:\n%s\n", post)
	}
	builder.WriteString("Grade the prediction per the rubric and return the JSON verdict.")
	return builder.String()
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
