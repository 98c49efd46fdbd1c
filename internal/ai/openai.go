package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

const deepseekBaseURL = "https://api.deepseek.com"

// OpenAIProvider serves OpenAI and any OpenAI-compatible API. DeepSeek
// is the same wire protocol with a different base URL, so it routes
// here too.
type OpenAIProvider struct{}

// NewOpenAIProvider creates the provider.
func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Converse(ctx context.Context, cfg Config, history []Message) (*Result, error) {
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "ai assistant step is missing an api key")
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if baseURL := resolveBaseURL(cfg); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: buildMessages(cfg, history),
	}
	if tools := buildTools(cfg.Functions); len(tools) > 0 {
		params.Tools = tools
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector, "chat completion failed: %v", err).WithCause(err)
	}
	if len(completion.Choices) == 0 {
		return &Result{Success: false, Message: "provider returned no choices"}, nil
	}

	choice := completion.Choices[0].Message
	result := &Result{
		Text:    strings.TrimSpace(choice.Content),
		Success: true,
	}
	if len(choice.ToolCalls) > 0 {
		call := choice.ToolCalls[0]
		args := map[string]any{}
		if call.Function.Arguments != "" {
			// Malformed arguments still route the call, just without data.
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		}
		result.FunctionCall = &FunctionCall{
			ID:        call.Function.Name,
			Arguments: args,
		}
	}
	return result, nil
}

func resolveBaseURL(cfg Config) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	if strings.EqualFold(cfg.Provider, "deepseek") {
		return deepseekBaseURL
	}
	return ""
}

func buildMessages(cfg Config, history []Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(cfg.SystemPrompt))
	}
	for _, msg := range history {
		switch msg.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}

// buildTools converts configured flow functions into tool declarations.
// The function ID doubles as the tool name so the returned call can be
// routed straight to the matching flow edge.
func buildTools(functions []schema.AIFunction) []openai.ChatCompletionToolParam {
	if len(functions) == 0 {
		return nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(functions))
	for _, fn := range functions {
		params := openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
		if len(fn.Parameters) > 0 {
			var decoded map[string]any
			if err := json.Unmarshal(fn.Parameters, &decoded); err == nil {
				params = decoded
			}
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        fn.ID,
				Description: openai.String(fn.Description),
				Parameters:  params,
			},
		})
	}
	return tools
}
