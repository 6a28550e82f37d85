package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMediaType(t *testing.T) {
	tests := map[string]string{
		"/9j/4AAQSkZJRg":   "image/jpeg",
		"iVBORw0KGgo":      "image/png",
		"R0lGODlhAQABAIAA": "image/gif",
		"UklGRiQAAABXRUJQ": "image/webp",
		"AAAAIGZ0eXBoZWlj": "image/png",
		"":                 "image/png",
	}
	for prefix, want := range tests {
		assert.Equal(t, want, DetectMediaType(prefix), prefix)
	}
}

func TestBuildAnalysisContentProfileOnly(t *testing.T) {
	parts := BuildAnalysisContent([]string{"/9j/a", "iVBORwb"}, nil, "")
	require.Len(t, parts, 3)

	assert.Equal(t, "image", parts[0].Type)
	assert.Equal(t, "image/jpeg", parts[0].Source.MediaType)
	assert.Equal(t, "base64", parts[0].Source.Type)
	assert.Equal(t, "image/png", parts[1].Source.MediaType)

	text := parts[2].Text
	assert.Equal(t, "text", parts[2].Type)
	assert.True(t, strings.HasPrefix(text, "Analyze this dating profile through the Rose Glass framework."))
	assert.Contains(t, text, "4. **Suggested Opener**")
	assert.NotContains(t, text, "5. **Conversation Analysis**")
	assert.NotContains(t, text, "User Context")
	assert.Contains(t, text, "Never comment on physical appearance")
}

func TestBuildAnalysisContentWithConversation(t *testing.T) {
	parts := BuildAnalysisContent([]string{"/9j/a"}, []string{"R0lGODc"}, "I'm shy")
	require.Len(t, parts, 4)

	assert.Equal(t, "image", parts[0].Type)
	assert.Contains(t, parts[1].Text, "CONVERSATION SCREENSHOTS FOLLOW")
	assert.Equal(t, "image/gif", parts[2].Source.MediaType)
	assert.Contains(t, parts[3].Text, "**User Context:** I'm shy")
	assert.Contains(t, parts[3].Text, "6. **Next Move**")
}

func TestRouter(t *testing.T) {
	r := NewRouter("small", "large")
	assert.Equal(t, "small", r.Model(false))
	assert.Equal(t, "large", r.Model(true))

	req := r.AnalysisRequest([]string{"x"}, nil, "", true)
	assert.Equal(t, "large", req.Model)
	assert.Equal(t, AnalysisMaxTokens, req.MaxTokens)
	assert.Equal(t, SystemPrompt, req.System)

	co := r.CoCreationRequest("prompt")
	assert.Equal(t, "small", co.Model)
	assert.Equal(t, CoCreationMaxTokens, co.MaxTokens)
	require.Len(t, co.Content, 1)
	assert.Equal(t, "prompt", co.Content[0].Text)
	assert.True(t, strings.HasPrefix(co.System, CoCreationAddendum))

	assert.Equal(t, "only", NewRouter("only", "").Model(true))
}

func TestAnthropicClientGenerate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, AnthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "claude-sonnet-4-20250514",
			"stop_reason": "end_turn",
			"content": [{"type": "text", "text": "Ψ = 0.8"}, {"type": "text", "text": " and more"}],
			"usage": {"input_tokens": 1200, "output_tokens": 340}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("test-key", WithBaseURL(srv.URL+"/"))
	resp, err := c.Generate(context.Background(), Request{
		Model:       "claude-sonnet-4-20250514",
		System:      "sys",
		Temperature: 1.0,
		Content:     []ContentPart{ImagePart("/9j/abc"), TextPart("hello")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Ψ = 0.8 and more", resp.Text)
	assert.Equal(t, int64(1200), resp.InputTokens)
	assert.Equal(t, int64(340), resp.OutputTokens)
	assert.Equal(t, "end_turn", resp.StopReason)

	assert.Equal(t, AnalysisMaxTokens, got.MaxTokens)
	assert.Equal(t, "sys", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "image/jpeg", got.Messages[0].Content[0].Source.MediaType)
}

func TestAnthropicClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", WithBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), Request{Model: "m", Content: []ContentPart{TextPart("x")}})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.True(t, apiErr.Retryable())
}

func TestAnthropicClientEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content": [], "usage": {"input_tokens": 1, "output_tokens": 0}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", WithBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), Request{Model: "m", Content: []ContentPart{TextPart("x")}})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicClientRejectsEmptyRequest(t *testing.T) {
	c := NewAnthropicClient("k")
	_, err := c.Generate(context.Background(), Request{Content: []ContentPart{TextPart("x")}})
	require.Error(t, err)
	_, err = c.Generate(context.Background(), Request{Model: "m"})
	require.Error(t, err)
}
