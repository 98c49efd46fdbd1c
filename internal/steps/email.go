package steps

import (
	"context"
	"log/slog"
	"strings"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/connectors"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// EmailHandler sends a templated email. To accepts a comma-separated
// recipient list.
type EmailHandler struct {
	sender connectors.EmailSender
	logger *slog.Logger
}

// NewEmailHandler creates the email handler.
func NewEmailHandler(sender connectors.EmailSender, logger *slog.Logger) *EmailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailHandler{sender: sender, logger: logger}
}

func (h *EmailHandler) Kind() schema.NodeType { return schema.NodeEmail }

func (h *EmailHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.EmailData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}
	if h.sender == nil {
		return stay(), schema.NewError(schema.ErrCodeConfig, "email sender is not configured").
			WithNode(turn.Node.ID)
	}

	var recipients []string
	for _, to := range strings.Split(data.To, ",") {
		if to = strings.TrimSpace(to); to != "" {
			recipients = append(recipients, to)
		}
	}
	if len(recipients) == 0 {
		return stay(), schema.NewError(schema.ErrCodeConfig, "email step has no recipients").
			WithNode(turn.Node.ID)
	}

	err := h.sender.Send(ctx, connectors.EmailMessage{
		To:      recipients,
		Subject: data.Subject,
		Body:    data.Body,
	})
	if err != nil {
		return stay(), err
	}

	logging.LogWith(ctx, h.logger).Debug("email sent", "node", turn.Node.ID, "recipients", len(recipients))
	return Outcome{Advance: data.MoveToNextNode}, nil
}
