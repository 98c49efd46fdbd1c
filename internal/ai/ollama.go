package ai

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider talks to a local or self-hosted Ollama server. Tool
// declarations are not forwarded; function routing is only available on
// the OpenAI-compatible providers.
type OllamaProvider struct {
	httpClient *http.Client
}

// NewOllamaProvider creates the provider.
func NewOllamaProvider() *OllamaProvider {
	return &OllamaProvider{httpClient: http.DefaultClient}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Converse(ctx context.Context, cfg Config, history []Message) (*Result, error) {
	if cfg.Model == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "ollama step is missing a model name")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "invalid ollama base url %q", baseURL).WithCause(err)
	}
	client := api.NewClient(u, p.httpClient)

	messages := make([]api.Message, 0, len(history)+1)
	if cfg.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: RoleSystem, Content: cfg.SystemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, api.Message{Role: msg.Role, Content: msg.Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    cfg.Model,
		Messages: messages,
		Stream:   &stream,
	}

	var reply strings.Builder
	err = client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector, "ollama chat failed: %v", err).WithCause(err)
	}

	text := strings.TrimSpace(reply.String())
	if text == "" {
		return &Result{Success: false, Message: "model returned an empty reply"}, nil
	}
	return &Result{Text: text, Success: true}, nil
}
