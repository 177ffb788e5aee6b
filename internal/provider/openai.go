package provider

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const (
	maxTokens   = 2048
	temperature = 0.7
)

// OpenAICaller speaks the OpenAI chat-completions API through the official
// client. Config.Endpoint, when set, overrides the API base URL.
type OpenAICaller struct{}

func (c *OpenAICaller) Invoke(ctx context.Context, cfg Config, prompt, credential string) (*Result, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	clientCfg := openai.DefaultConfig(credential)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	client := openai.NewClientWithConfig(clientCfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: cfg.Name,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	output := noOutputFallback
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		output = resp.Choices[0].Message.Content
	}

	return &Result{
		Output: output,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CallError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &CallError{Status: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("openai call: %w", err)
}
