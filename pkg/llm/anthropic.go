package llm

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
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	AnthropicVersion = "2023-06-01"
)

// ErrEmptyResponse is returned when the provider replies without text.
var ErrEmptyResponse = errors.New("anthropic: response contained no text")

// AnthropicClient calls the Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithBaseURL points the client at another endpoint (proxies, tests).
func WithBaseURL(u string) AnthropicOption {
	return func(c *AnthropicClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(h *http.Client) AnthropicOption {
	return func(c *AnthropicClient) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func NewAnthropicClient(apiKey string, opts ...AnthropicOption) *AnthropicClient {
	c := &AnthropicClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		// Vision calls with ten screenshots routinely exceed 30s.
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type anthropicMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AnthropicClient) Generate(ctx context.Context, r Request) (*Response, error) {
	if r.Model == "" {
		return nil, errors.New("anthropic: model must not be empty")
	}
	if len(r.Content) == 0 {
		return nil, errors.New("anthropic: content must not be empty")
	}
	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = AnalysisMaxTokens
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       r.Model,
		MaxTokens:   maxTokens,
		Temperature: r.Temperature,
		System:      r.System,
		Messages:    []anthropicMessage{{Role: "user", Content: r.Content}},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", AnthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var ae anthropicError
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
			apiErr.Type = ae.Error.Type
			apiErr.Message = ae.Error.Message
		}
		return nil, apiErr
	}

	var ar anthropicResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range ar.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	model := ar.Model
	if model == "" {
		model = r.Model
	}
	return &Response{
		Text:         text.String(),
		Model:        model,
		InputTokens:  ar.Usage.InputTokens,
		OutputTokens: ar.Usage.OutputTokens,
		StopReason:   ar.StopReason,
	}, nil
}
