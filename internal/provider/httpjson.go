package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultLocalEndpoint = "http://localhost:11434/v1/chat/completions"

// httpCaller posts the OpenAI chat-completions wire shape to an arbitrary
// endpoint. It backs both the "local" kind (Ollama, OpenWebUI and friends)
// and the "generic" kind, which requires an explicit endpoint and attaches
// a bearer token only when a credential is supplied.
type httpCaller struct {
	client          *http.Client
	defaultEndpoint string
	requireEndpoint bool
}

func newHTTPCaller(defaultEndpoint string, requireEndpoint bool) *httpCaller {
	return &httpCaller{
		// No client-level timeout; the caller's context carries the deadline.
		client:          &http.Client{},
		defaultEndpoint: defaultEndpoint,
		requireEndpoint: requireEndpoint,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *httpCaller) Invoke(ctx context.Context, cfg Config, prompt, credential string) (*Result, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if c.requireEndpoint {
			return nil, ErrMissingEndpoint
		}
		endpoint = c.defaultEndpoint
	}

	body, _ := json.Marshal(chatRequest{
		Model:       cfg.Name,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &CallError{Status: resp.StatusCode, Body: string(b)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	output := noOutputFallback
	if len(parsed.Choices) > 0 && parsed.Choices[0].Message.Content != "" {
		output = parsed.Choices[0].Message.Content
	}

	result := &Result{Output: output}
	if parsed.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return result, nil
}
