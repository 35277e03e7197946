// Package llm sends completion requests to hosted language models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// sharedHTTPClient is used by all providers; a 5-minute timeout covers slow LLM responses.
var sharedHTTPClient = &http.Client{
	Timeout: 5 * time.Minute,
}

// defaultMaxTokens is the fallback when Request.MaxTokens is not set.
const defaultMaxTokens = 500

// DefaultModel is used when no provider:model string is configured.
const DefaultModel = "openai:gpt-4-1106-preview"

// ErrQuotaExceeded indicates the provider rejected the call with HTTP 429.
var ErrQuotaExceeded = errors.New("llm quota exceeded")

// Request holds the parameters for an LLM completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	// Model overrides the provider's configured model when non-empty.
	Model string
}

// Response holds the result of an LLM completion call.
type Response struct {
	Content string
	Model   string // actual model used, echoed back for meta
}

// Provider is the interface for LLM completion backends.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

type providerOptions struct {
	baseURL string
	client  *http.Client
}

// Option configures a provider.
type Option func(*providerOptions)

// WithBaseURL points the provider at a different API root, e.g. a proxy or
// an httptest server.
func WithBaseURL(u string) Option {
	return func(o *providerOptions) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *providerOptions) { o.client = c }
}

// NewProvider parses a "provider:model" string and returns the appropriate
// Provider authenticated with apiKey.
// Example: "openai:gpt-4-1106-preview" or "anthropic:claude-sonnet-4-6".
func NewProvider(providerModel, apiKey string, opts ...Option) (Provider, error) {
	name, model, err := ParseModel(providerModel)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key is empty (set %s)", name, KeyEnv(name))
	}
	o := providerOptions{client: sharedHTTPClient}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = sharedHTTPClient
	}
	switch name {
	case "openai":
		return newOpenAIProvider(model, apiKey, o), nil
	case "anthropic":
		return newAnthropicProvider(model, apiKey, o), nil
	}
	return nil, fmt.Errorf("unknown provider %q: supported providers are openai, anthropic", name)
}

// ParseModel splits a "provider:model" string.
func ParseModel(providerModel string) (provider, model string, err error) {
	parts := strings.SplitN(providerModel, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider:model (e.g. %s)", providerModel, DefaultModel)
	}
	switch parts[0] {
	case "openai", "anthropic":
	default:
		return "", "", fmt.Errorf("unknown provider %q: supported providers are openai, anthropic", parts[0])
	}
	return parts[0], parts[1], nil
}

// KeyEnv names the environment variable conventionally holding the API key
// for provider.
func KeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// truncate limits a string to maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
