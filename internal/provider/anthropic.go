package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicCaller speaks the Anthropic messages API. The SDK attaches the
// credential and versioning headers; Config.Endpoint overrides the base URL.
type AnthropicCaller struct{}

func (c *AnthropicCaller) Invoke(ctx context.Context, cfg Config, prompt, credential string) (*Result, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	opts := []option.RequestOption{option.WithAPIKey(credential)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Name),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, mapAnthropicError(err)
	}

	output := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			output += block.Text
		}
	}
	if output == "" {
		output = noOutputFallback
	}

	in := int(resp.Usage.InputTokens)
	out := int(resp.Usage.OutputTokens)

	return &Result{
		Output: output,
		Usage: &Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
	}, nil
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &CallError{Status: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return fmt.Errorf("anthropic call: %w", err)
}
