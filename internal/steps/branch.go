package steps

import (
	"context"
	"log/slog"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/conditions"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// BranchHandler evaluates the node's ordered condition list against the
// inbound text (or the substituted compare value) and routes along the
// matched condition's edge, falling back to the edge tagged "default".
type BranchHandler struct {
	matcher *conditions.Matcher
	logger  *slog.Logger
}

// NewBranchHandler creates the condition handler.
func NewBranchHandler(matcher *conditions.Matcher, logger *slog.Logger) *BranchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BranchHandler{matcher: matcher, logger: logger}
}

func (h *BranchHandler) Kind() schema.NodeType { return schema.NodeCondition }

func (h *BranchHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.ConditionData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}

	// Compare arrives pre-substituted by the template resolver; when
	// set it replaces the raw inbound text as the left operand.
	input := turn.Event.Text
	if data.Compare != "" {
		input = data.Compare
	}

	handle := schema.DefaultHandle
	if matched := h.matcher.Match(ctx, data.Conditions, input, turn.Scope); matched != nil {
		handle = matched.TargetNodeID
	}

	edge := turn.Graph.EdgeFromHandle(turn.Node.ID, handle)
	if edge == nil && handle != schema.DefaultHandle {
		logging.LogWith(ctx, h.logger).Warn("matched condition has no bound edge, trying default",
			"node", turn.Node.ID, "handle", handle)
		edge = turn.Graph.EdgeFromHandle(turn.Node.ID, schema.DefaultHandle)
	}
	if edge == nil {
		return stay(), schema.NewErrorf(schema.ErrCodeGraph, "branch node %s has no edge for handle %q",
			turn.Node.ID, handle).WithNode(turn.Node.ID)
	}

	return Outcome{Advance: data.MoveToNextNode, NextNodeID: edge.Target}, nil
}
