package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type verdict struct {
	Ok     bool   `json:"ok" description:"whether the input is fine"`
	Reason string `json:"reason"`
}

func chatServer(t *testing.T, handler func(req map[string]any) (int, any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
}

func completion(content, finishReason string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finishReason,
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func newTestClient(t *testing.T, url string) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: url + "/v1"}, "gpt-4o", zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestOpenAIClient_Complete(t *testing.T) {
	var captured map[string]any
	server := chatServer(t, func(req map[string]any) (int, any) {
		captured = req
		return http.StatusOK, completion(`{"ok":true,"reason":"looks good"}`, "stop")
	})
	defer server.Close()

	shape, err := NewShape("verdict", "a verdict", verdict{})
	require.NoError(t, err)

	var out verdict
	err = newTestClient(t, server.URL).Complete(context.Background(), "check this", shape, &out)
	require.NoError(t, err)
	assert.True(t, out.Ok)
	assert.Equal(t, "looks good", out.Reason)

	assert.Equal(t, "gpt-4o", captured["model"])
	format, ok := captured["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]any)
	assert.Equal(t, "verdict", schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestOpenAIClient_Complete_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantErr string
	}{
		{
			name:    "api error",
			status:  http.StatusInternalServerError,
			body:    map[string]any{"error": map[string]any{"message": "boom", "type": "server_error"}},
			wantErr: "chat completion",
		},
		{
			name:    "no choices",
			status:  http.StatusOK,
			body:    map[string]any{"id": "x", "choices": []any{}},
			wantErr: "no choices",
		},
		{
			name:    "truncated",
			status:  http.StatusOK,
			body:    completion(`{"ok":tr`, "length"),
			wantErr: "truncated",
		},
		{
			name:    "schema mismatch",
			status:  http.StatusOK,
			body:    completion(`{"ok":"yes"}`, "stop"),
			wantErr: "decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := chatServer(t, func(map[string]any) (int, any) { return tt.status, tt.body })
			defer server.Close()

			shape, err := NewShape("verdict", "", verdict{})
			require.NoError(t, err)

			var out verdict
			err = newTestClient(t, server.URL).Complete(context.Background(), "p", shape, &out)
			require.Error(t, err)

			var svcErr *ServiceError
			require.True(t, errors.As(err, &svcErr))
			assert.Equal(t, ProviderOpenAI, svcErr.Provider)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpenAIClient_DeadlinesDoNotTripBreaker(t *testing.T) {
	var slow atomic.Bool
	slow.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completion(`{"ok":true,"reason":"fine"}`, "stop"))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: server.URL + "/v1", BreakerFailures: 2}, "gpt-4o", zap.NewNop())
	require.NoError(t, err)
	shape, err := NewShape("verdict", "", verdict{})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		var out verdict
		err := client.Complete(ctx, "p", shape, &out)
		cancel()
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	slow.Store(false)
	var out verdict
	require.NoError(t, client.Complete(context.Background(), "p", shape, &out))
	assert.True(t, out.Ok)
}

func TestNewOpenAIClient_RequiresKeyAndModel(t *testing.T) {
	_, err := NewOpenAIClient(Config{}, "gpt-4o", nil)
	assert.Error(t, err)

	_, err = NewOpenAIClient(Config{APIKey: "k"}, "", nil)
	assert.Error(t, err)
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New(Config{Provider: "bedrock", APIKey: "k"}, "m", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported llm provider")
}

func TestJSONModePrompt(t *testing.T) {
	shape, err := NewShape("verdict", "a verdict", verdict{})
	require.NoError(t, err)

	prompt, err := jsonModePrompt("review the config", shape)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "review the config\n\n"))
	assert.Contains(t, prompt, "(a verdict)")
	assert.Contains(t, prompt, `"reason"`)
	assert.Contains(t, prompt, "whether the input is fine")
}

func TestShape_Decode(t *testing.T) {
	shape, err := NewShape("verdict", "", verdict{})
	require.NoError(t, err)

	var out verdict
	require.NoError(t, shape.Decode(`{"ok":false,"reason":"missing"}`, &out))
	assert.False(t, out.Ok)

	assert.Error(t, shape.Decode(`not json`, &out))
	assert.Error(t, shape.Decode(`{"reason":"no ok field"}`, &out))
}
