package steps

import (
	"context"
	"log/slog"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/ai"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/channel"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// MessageHandler delivers a templated message to the correspondent and
// records it in conversation history.
type MessageHandler struct {
	channels *channel.SessionRegistry
	history  ai.HistoryStore
	logger   *slog.Logger
}

// NewMessageHandler creates the sendMessage handler.
func NewMessageHandler(channels *channel.SessionRegistry, history ai.HistoryStore, logger *slog.Logger) *MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHandler{channels: channels, history: history, logger: logger}
}

func (h *MessageHandler) Kind() schema.NodeType { return schema.NodeSendMessage }

func (h *MessageHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.SendMessageData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}
	if data.Message == "" {
		logging.LogWith(ctx, h.logger).Warn("send message step has empty message", "node", turn.Node.ID)
		return stay(), nil
	}

	adapter, ok := h.channels.Get(turn.Event.TenantID, turn.Event.ChannelID)
	if !ok {
		return stay(), schema.NewErrorf(schema.ErrCodeConnector, "no live channel for tenant %s channel %s",
			turn.Event.TenantID, turn.Event.ChannelID).WithNode(turn.Node.ID)
	}

	msgID, err := adapter.Send(ctx, turn.Event.Correspondent, data.Message)
	if err != nil {
		return stay(), schema.NewErrorf(schema.ErrCodeConnector, "message delivery failed: %v", err).
			WithNode(turn.Node.ID).WithCause(err)
	}

	if h.history != nil {
		if err := h.history.Append(ctx, turn.Event.TenantID, turn.Event.Correspondent,
			ai.Message{Role: ai.RoleAssistant, Content: data.Message}); err != nil {
			logging.LogWith(ctx, h.logger).Warn("failed to record outbound message in history", "error", err)
		}
	}

	logging.LogWith(ctx, h.logger).Debug("message delivered", "node", turn.Node.ID, "message_id", msgID)
	return Outcome{Advance: data.MoveToNextNode}, nil
}
