// Package ai abstracts the conversational model providers the AI
// assistant step can hand a correspondent to.
package ai

import (
	"context"
	"strings"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// Message roles as stored in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config carries the per-step provider settings resolved from the node.
type Config struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	SystemPrompt string
	Functions    []schema.AIFunction
}

// FunctionCall is a structured action the model chose instead of (or in
// addition to) a text reply. ID matches the configured function and is
// used to route the flow edge.
type FunctionCall struct {
	ID        string
	Arguments map[string]any
}

// Result is the normalized provider answer. Success is false when the
// provider failed in a way the flow should treat as "no reply"; Message
// then carries a short operator-readable reason.
type Result struct {
	Text         string
	FunctionCall *FunctionCall
	Success      bool
	Message      string
}

// Provider produces one assistant reply for a conversation window.
type Provider interface {
	Name() string
	Converse(ctx context.Context, cfg Config, history []Message) (*Result, error)
}

// Registry maps provider names to implementations.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry with the given providers installed.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// Get returns the provider for a config name. DeepSeek runs through the
// OpenAI-compatible provider.
func (r *Registry) Get(name string) (Provider, error) {
	key := strings.ToLower(name)
	if key == "" || key == "deepseek" {
		key = "openai"
	}
	p, ok := r.providers[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown ai provider %q", name)
	}
	return p, nil
}
