package steps

import (
	"context"
	"log/slog"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/ai"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/channel"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// AssistantHandler drives the AI handoff step. A persistent handoff
// arms the session's aiTransfer flag on first visit; every later
// inbound event is routed back here by the engine's AI gate. A
// one-shot step converses immediately: the model's free-text reply is
// delivered and ends the turn, while a function call routes along the
// edge whose sourceHandle equals the function ID.
type AssistantHandler struct {
	providers *ai.Registry
	history   ai.HistoryStore
	channels  *channel.SessionRegistry
	logger    *slog.Logger
}

// NewAssistantHandler creates the aiAssistant handler.
func NewAssistantHandler(providers *ai.Registry, history ai.HistoryStore, channels *channel.SessionRegistry, logger *slog.Logger) *AssistantHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssistantHandler{providers: providers, history: history, channels: channels, logger: logger}
}

func (h *AssistantHandler) Kind() schema.NodeType { return schema.NodeAIAssistant }

func (h *AssistantHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.AIAssistantData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}

	// First visit to a persistent handoff node: arm the transfer and
	// stop. The next inbound event converses through the AI gate.
	if data.AssignedToAI && !turn.Session.InAITransfer() {
		logging.LogWith(ctx, h.logger).Info("conversation handed off to ai", "node", turn.Node.ID)
		node := turn.Node
		return Outcome{
			Stay: true,
			Patch: &session.Patch{
				AITransfer: session.SetAITransfer(&schema.AITransfer{Active: true, Node: node}),
			},
		}, nil
	}

	return h.converse(ctx, turn, data)
}

func (h *AssistantHandler) converse(ctx context.Context, turn *Turn, data schema.AIAssistantData) (Outcome, error) {
	provider, err := h.providers.Get(data.Provider)
	if err != nil {
		return stay(), err
	}

	if turn.Event.Text != "" && h.history != nil {
		if err := h.history.Append(ctx, turn.Event.TenantID, turn.Event.Correspondent,
			ai.Message{Role: ai.RoleUser, Content: turn.Event.Text}); err != nil {
			logging.LogWith(ctx, h.logger).Warn("failed to record inbound message in history", "error", err)
		}
	}

	window := data.HistoryWindow
	if window <= 0 {
		window = ai.DefaultHistoryWindow
	}
	var history []ai.Message
	if h.history != nil {
		history, err = h.history.Recent(ctx, turn.Event.TenantID, turn.Event.Correspondent, window)
		if err != nil {
			logging.LogWith(ctx, h.logger).Warn("failed to load conversation history", "error", err)
		}
	}
	if len(history) == 0 && turn.Event.Text != "" {
		history = []ai.Message{{Role: ai.RoleUser, Content: turn.Event.Text}}
	}

	result, err := provider.Converse(ctx, ai.Config{
		Provider:     data.Provider,
		Model:        data.Model,
		APIKey:       data.APIKey,
		BaseURL:      data.BaseURL,
		SystemPrompt: data.SystemPrompt,
		Functions:    data.Functions,
	}, history)
	if err != nil {
		return stay(), err
	}
	if !result.Success {
		logging.LogWith(ctx, h.logger).Warn("ai provider returned no usable reply",
			"node", turn.Node.ID, "reason", result.Message)
		return stay(), nil
	}

	if result.FunctionCall != nil {
		return h.routeFunctionCall(ctx, turn, result.FunctionCall)
	}
	return h.deliverReply(ctx, turn, result.Text)
}

// routeFunctionCall follows the edge bound to the function ID and hands
// the call arguments to the downstream step as variables.
func (h *AssistantHandler) routeFunctionCall(ctx context.Context, turn *Turn, call *ai.FunctionCall) (Outcome, error) {
	edge := turn.Graph.EdgeFromHandle(turn.Node.ID, call.ID)
	if edge == nil {
		return stay(), schema.NewErrorf(schema.ErrCodeGraph, "ai node %s has no edge for function %q",
			turn.Node.ID, call.ID).WithNode(turn.Node.ID)
	}

	out := Outcome{Advance: true, NextNodeID: edge.Target}
	if len(call.Arguments) > 0 {
		out.Patch = &session.Patch{Variables: call.Arguments}
	}
	logging.LogWith(ctx, h.logger).Info("ai function call routed",
		"node", turn.Node.ID, "function", call.ID, "target", edge.Target)
	return out, nil
}

func (h *AssistantHandler) deliverReply(ctx context.Context, turn *Turn, text string) (Outcome, error) {
	if text == "" {
		return stay(), nil
	}

	adapter, ok := h.channels.Get(turn.Event.TenantID, turn.Event.ChannelID)
	if !ok {
		return stay(), schema.NewErrorf(schema.ErrCodeConnector, "no live channel for tenant %s channel %s",
			turn.Event.TenantID, turn.Event.ChannelID).WithNode(turn.Node.ID)
	}
	if _, err := adapter.Send(ctx, turn.Event.Correspondent, text); err != nil {
		return stay(), schema.NewErrorf(schema.ErrCodeConnector, "ai reply delivery failed: %v", err).
			WithNode(turn.Node.ID).WithCause(err)
	}
	if h.history != nil {
		if err := h.history.Append(ctx, turn.Event.TenantID, turn.Event.Correspondent,
			ai.Message{Role: ai.RoleAssistant, Content: text}); err != nil {
			logging.LogWith(ctx, h.logger).Warn("failed to record ai reply in history", "error", err)
		}
	}
	return stay(), nil
}
