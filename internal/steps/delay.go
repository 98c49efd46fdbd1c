package steps

import (
	"context"
	"log/slog"
	"time"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// MaxDelay caps a delay step so a tenant cannot park a turn's goroutine
// for hours.
const MaxDelay = 5 * time.Minute

// DelayHandler suspends the current turn for the configured seconds.
// Only this turn's goroutine sleeps; other correspondents are unaffected.
type DelayHandler struct {
	logger *slog.Logger
}

// NewDelayHandler creates the delay handler.
func NewDelayHandler(logger *slog.Logger) *DelayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DelayHandler{logger: logger}
}

func (h *DelayHandler) Kind() schema.NodeType { return schema.NodeDelay }

func (h *DelayHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.DelayData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}

	wait := time.Duration(data.Seconds) * time.Second
	if wait > MaxDelay {
		logging.LogWith(ctx, h.logger).Warn("delay capped", "node", turn.Node.ID,
			"requested", wait.String(), "cap", MaxDelay.String())
		wait = MaxDelay
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return stay(), ctx.Err()
		}
	}

	return Outcome{Advance: data.MoveToNextNode}, nil
}
