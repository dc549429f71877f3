// Package llm provides chat-completion clients for the text-generation
// collaborators (summaries, meeting analysis, chat Q&A). Models are named
// "provider/model_name", e.g. "gemini/gemini-2.0-flash" or "openai/gpt-4o-mini".
package llm

import (
	"context"
	"fmt"
	"strings"
)

type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Factory builds a client for a provider/model pair. Injected so tests can
// substitute scripted clients.
type Factory func(provider, model string) (Client, error)

type Option func(*settings)

type settings struct {
	baseURL string
}

// WithBaseURL points the provider client at a non-default endpoint, mainly
// for httptest servers.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// ParseModel splits "provider/model_name" into its parts.
func ParseModel(model string) (provider, name string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

// NewClient builds a chat-completion client for the given provider.
func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	switch provider {
	case "openai":
		return newOpenAI(apiKey, model, s), nil
	case "anthropic":
		return newAnthropic(apiKey, model, s), nil
	case "gemini":
		return newGemini(apiKey, model, s)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}
