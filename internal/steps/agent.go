package steps

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// Agent is one human operator eligible for handoff.
type Agent struct {
	ID   string
	Name string
}

// AgentDirectory lists the active human agents for a tenant.
type AgentDirectory interface {
	ActiveAgents(ctx context.Context, tenantID string) ([]Agent, error)
}

// Variables recorded on the session when a conversation is assigned.
const (
	VarAssignedAgentID   = "assignedAgentId"
	VarAssignedAgentName = "assignedAgentName"
)

// AssignAgentHandler routes the conversation to a human operator: a
// specific agent when configured, otherwise a uniform random pick over
// the tenant's active agents.
type AssignAgentHandler struct {
	agents AgentDirectory
	logger *slog.Logger
	pick   func(n int) int
}

// NewAssignAgentHandler creates the assignAgent handler.
func NewAssignAgentHandler(agents AgentDirectory, logger *slog.Logger) *AssignAgentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssignAgentHandler{agents: agents, logger: logger, pick: rand.Intn}
}

func (h *AssignAgentHandler) Kind() schema.NodeType { return schema.NodeAssignAgent }

func (h *AssignAgentHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.AssignAgentData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}
	if h.agents == nil {
		return stay(), schema.NewError(schema.ErrCodeConfig, "agent directory is not configured").
			WithNode(turn.Node.ID)
	}

	agents, err := h.agents.ActiveAgents(ctx, turn.Event.TenantID)
	if err != nil {
		return stay(), schema.NewErrorf(schema.ErrCodeStore, "failed to list agents: %v", err).
			WithNode(turn.Node.ID).WithCause(err)
	}
	if len(agents) == 0 {
		logging.LogWith(ctx, h.logger).Warn("no active agents to assign", "node", turn.Node.ID)
		return stay(), nil
	}

	var chosen *Agent
	if data.AgentID != "" {
		for i := range agents {
			if agents[i].ID == data.AgentID {
				chosen = &agents[i]
				break
			}
		}
		if chosen == nil {
			logging.LogWith(ctx, h.logger).Warn("configured agent not active, picking at random",
				"node", turn.Node.ID, "agent_id", data.AgentID)
		}
	}
	if chosen == nil {
		chosen = &agents[h.pick(len(agents))]
	}

	logging.LogWith(ctx, h.logger).Info("conversation assigned to agent",
		"node", turn.Node.ID, "agent_id", chosen.ID)

	return Outcome{
		Advance: data.MoveToNextNode,
		Patch: &session.Patch{
			Variables: map[string]any{
				VarAssignedAgentID:   chosen.ID,
				VarAssignedAgentName: chosen.Name,
			},
		},
	}, nil
}
