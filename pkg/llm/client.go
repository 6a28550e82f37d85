// Package llm talks to the language model provider. It knows nothing about
// credits or gates; callers meter the returned token counts themselves.
package llm

import (
	"context"
	"fmt"
)

// ContentPart is one block of a user message: text or a base64 image.
type ContentPart struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource carries inline image bytes.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Request is a single-turn generation request.
type Request struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature float64
	Content     []ContentPart
}

// Response is the generated text plus provider-reported usage.
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	StopReason   string `json:"stop_reason,omitempty"`
}

// Client generates a completion.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// APIError is a non-2xx reply from the provider.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("anthropic: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("anthropic: status %d: %s: %s", e.StatusCode, e.Type, e.Message)
}

// Retryable reports whether the call may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// TextPart returns a text content block.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart returns an image block, sniffing the media type from the base64
// prefix.
func ImagePart(b64 string) ContentPart {
	return ContentPart{
		Type: "image",
		Source: &ImageSource{
			Type:      "base64",
			MediaType: DetectMediaType(b64),
			Data:      b64,
		},
	}
}
