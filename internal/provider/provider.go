// Package provider turns a single "call this model with this prompt"
// request into the correct HTTP call for one of several provider kinds and
// normalizes the response. One outbound call per invoke, no retries; retry
// policy, if anyone ever wants one, belongs to the layer above.
package provider

import (
	"context"
	"errors"
	"fmt"
)

const (
	KindOpenAI    = "openai-compatible"
	KindAnthropic = "anthropic-compatible"
	KindLocal     = "local"
	KindGeneric   = "generic"
)

var (
	ErrMissingCredential = errors.New("provider credential is required")
	ErrMissingEndpoint   = errors.New("provider endpoint is required")
)

// CallError is a non-2xx response from the upstream API.
type CallError struct {
	Status int
	Body   string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider API error: %d %s", e.Status, e.Body)
}

// Config is the subset of a stored provider config the adapter needs.
// Name doubles as the model identifier sent upstream.
type Config struct {
	Name     string
	Kind     string
	Endpoint string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Result struct {
	Output string `json:"output"`
	Usage  *Usage `json:"usage,omitempty"`
}

// Caller performs exactly one outbound call for one provider kind.
type Caller interface {
	Invoke(ctx context.Context, cfg Config, prompt, credential string) (*Result, error)
}

// Registry dispatches an invoke to the caller for the config's kind.
// Unknown kinds fall through to the generic caller, matching the stored
// config being free-form text.
type Registry struct {
	callers map[string]Caller
	generic Caller
}

func NewRegistry() *Registry {
	generic := newHTTPCaller("", true)
	return &Registry{
		callers: map[string]Caller{
			KindOpenAI:    &OpenAICaller{},
			KindAnthropic: &AnthropicCaller{},
			KindLocal:     newHTTPCaller(defaultLocalEndpoint, false),
			KindGeneric:   generic,
		},
		generic: generic,
	}
}

func (r *Registry) Invoke(ctx context.Context, cfg Config, prompt, credential string) (*Result, error) {
	c, ok := r.callers[cfg.Kind]
	if !ok {
		c = r.generic
	}
	return c.Invoke(ctx, cfg, prompt, credential)
}

// Credentials are resolved once at process startup and handed to the
// orchestrator; the adapter never reads the environment itself.
type Credentials struct {
	OpenAI    string
	Anthropic string
}

// For returns the credential for a provider kind. Local and generic kinds
// carry no process-level credential.
func (c Credentials) For(kind string) string {
	switch kind {
	case KindOpenAI:
		return c.OpenAI
	case KindAnthropic:
		return c.Anthropic
	default:
		return ""
	}
}

// noOutputFallback is returned when a provider answers 2xx with no usable
// content, so a completed result row is never empty.
const noOutputFallback = "No response generated"
