package steps

import (
	"context"
	"log/slog"
	"time"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// SuppressHandler arms the disabled gate: all automatic processing for
// the conversation stops until now + hours + minutes. Terminal for the
// turn; the gate itself re-opens by timestamp, no step runs to clear it.
type SuppressHandler struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewSuppressHandler creates the disableAutoReply handler.
func NewSuppressHandler(logger *slog.Logger) *SuppressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SuppressHandler{logger: logger, now: time.Now}
}

func (h *SuppressHandler) Kind() schema.NodeType { return schema.NodeDisableAutoReply }

func (h *SuppressHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.DisableAutoReplyData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}

	window := time.Duration(data.Hours)*time.Hour + time.Duration(data.Minutes)*time.Minute
	if window <= 0 {
		logging.LogWith(ctx, h.logger).Warn("suppress step has no duration, skipping", "node", turn.Node.ID)
		return stay(), nil
	}

	until := h.now().Add(window).UTC()
	logging.LogWith(ctx, h.logger).Info("auto reply suppressed", "node", turn.Node.ID, "until", until)

	return Outcome{
		Stay: true,
		Patch: &session.Patch{
			DisableChat: session.SetDisableChat(&schema.DisableChat{Timestamp: until}),
		},
	}, nil
}
