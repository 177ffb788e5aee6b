package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenericRequiresEndpoint(t *testing.T) {
	c := newHTTPCaller("", true)
	_, err := c.Invoke(context.Background(), Config{Name: "m", Kind: KindGeneric}, "hi", "")
	require.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestHTTPCallerSuccess(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "pong"}},
			},
			"usage": map[string]int{"prompt_tokens": 2, "completion_tokens": 3, "total_tokens": 5},
		})
	}))
	defer srv.Close()

	c := newHTTPCaller("", true)
	res, err := c.Invoke(context.Background(), Config{Name: "my-model", Kind: KindGeneric, Endpoint: srv.URL}, "ping", "sekrit")
	require.NoError(t, err)

	require.Equal(t, "pong", res.Output)
	require.NotNil(t, res.Usage)
	require.Equal(t, 5, res.Usage.TotalTokens)

	require.Equal(t, "Bearer sekrit", gotAuth)
	require.Equal(t, "my-model", gotBody.Model)
	require.Len(t, gotBody.Messages, 1)
	require.Equal(t, "user", gotBody.Messages[0].Role)
	require.Equal(t, "ping", gotBody.Messages[0].Content)
	require.Equal(t, maxTokens, gotBody.MaxTokens)
}

func TestHTTPCallerNoBearerWithoutCredential(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	c := newHTTPCaller(srv.URL, false)
	res, err := c.Invoke(context.Background(), Config{Name: "llama3", Kind: KindLocal}, "hi", "")
	require.NoError(t, err)
	require.Empty(t, gotAuth)
	require.Equal(t, "ok", res.Output)
	require.Nil(t, res.Usage)
}

func TestHTTPCallerNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newHTTPCaller("", true)
	_, err := c.Invoke(context.Background(), Config{Name: "m", Kind: KindGeneric, Endpoint: srv.URL}, "hi", "")

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, http.StatusServiceUnavailable, callErr.Status)
	require.Contains(t, callErr.Body, "model overloaded")
}

func TestHTTPCallerEmptyChoicesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	c := newHTTPCaller("", true)
	res, err := c.Invoke(context.Background(), Config{Name: "m", Kind: KindGeneric, Endpoint: srv.URL}, "hi", "")
	require.NoError(t, err)
	require.Equal(t, noOutputFallback, res.Output)
}

func TestHTTPCallerTransportError(t *testing.T) {
	c := newHTTPCaller("", true)
	// Nothing listens here.
	_, err := c.Invoke(context.Background(), Config{Name: "m", Kind: KindGeneric, Endpoint: "http://127.0.0.1:1/v1/chat/completions"}, "hi", "")
	require.Error(t, err)

	var callErr *CallError
	require.False(t, errors.As(err, &callErr), "transport failure must not look like an API error")
}

func TestOpenAICallerRequiresCredential(t *testing.T) {
	c := &OpenAICaller{}
	_, err := c.Invoke(context.Background(), Config{Name: "gpt-4", Kind: KindOpenAI}, "hi", "")
	require.ErrorIs(t, err, ErrMissingCredential)
}

func TestOpenAICallerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4",
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "hello there"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 4, "completion_tokens": 6, "total_tokens": 10},
		})
	}))
	defer srv.Close()

	c := &OpenAICaller{}
	res, err := c.Invoke(context.Background(), Config{Name: "gpt-4", Kind: KindOpenAI, Endpoint: srv.URL}, "hi", "key-123")
	require.NoError(t, err)
	require.Equal(t, "hello there", res.Output)
	require.Equal(t, 10, res.Usage.TotalTokens)
}

func TestOpenAICallerNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "invalid api key", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	c := &OpenAICaller{}
	_, err := c.Invoke(context.Background(), Config{Name: "gpt-4", Kind: KindOpenAI, Endpoint: srv.URL}, "hi", "bad-key")

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, http.StatusUnauthorized, callErr.Status)
}

func TestAnthropicCallerRequiresCredential(t *testing.T) {
	c := &AnthropicCaller{}
	_, err := c.Invoke(context.Background(), Config{Name: "claude-sonnet-4-20250514", Kind: KindAnthropic}, "hi", "")
	require.ErrorIs(t, err, ErrMissingCredential)
}

func TestAnthropicCallerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key-abc", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":   "msg_1",
			"type": "message",
			"role": "assistant",
			"content": []map[string]string{
				{"type": "text", "text": "bonjour"},
			},
			"model":       "claude-sonnet-4-20250514",
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 3, "output_tokens": 7},
		})
	}))
	defer srv.Close()

	c := &AnthropicCaller{}
	res, err := c.Invoke(context.Background(), Config{Name: "claude-sonnet-4-20250514", Kind: KindAnthropic, Endpoint: srv.URL}, "hi", "key-abc")
	require.NoError(t, err)
	require.Equal(t, "bonjour", res.Output)
	require.Equal(t, 10, res.Usage.TotalTokens)
}

func TestAnthropicCallerNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type":  "error",
			"error": map[string]string{"type": "invalid_request_error", "message": "model not available"},
		})
	}))
	defer srv.Close()

	c := &AnthropicCaller{}
	_, err := c.Invoke(context.Background(), Config{Name: "claude-sonnet-4-20250514", Kind: KindAnthropic, Endpoint: srv.URL}, "hi", "key-abc")

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, http.StatusBadRequest, callErr.Status)
}

func TestRegistryDispatchesUnknownKindToGeneric(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Invoke(context.Background(), Config{Name: "m", Kind: "something-new"}, "hi", "")
	// Generic without an endpoint: the dispatch reached the generic caller.
	require.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestCredentialsForKind(t *testing.T) {
	creds := Credentials{OpenAI: "oa", Anthropic: "an"}
	require.Equal(t, "oa", creds.For(KindOpenAI))
	require.Equal(t, "an", creds.For(KindAnthropic))
	require.Empty(t, creds.For(KindLocal))
	require.Empty(t, creds.For(KindGeneric))
}
