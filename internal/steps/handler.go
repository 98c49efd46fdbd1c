// Package steps implements the per-node-kind execution handlers a flow
// engine dispatches to.
package steps

import (
	"context"
	"encoding/json"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// Turn is the per-dispatch execution context handed to a handler. Node
// is the live graph node; Data is its config bag with template
// placeholders already resolved against Scope. Handlers must not mutate
// Session directly: state changes travel back in the Outcome's patch.
type Turn struct {
	Flow    *schema.Flow
	Graph   *schema.FlowGraph
	Node    *schema.Node
	Data    json.RawMessage
	Session *schema.Session
	Event   *schema.InboundEvent
	Scope   map[string]any
}

// Decode unmarshals the turn's resolved config into a kind-specific
// struct.
func (t *Turn) Decode(out any) error {
	data := t.Data
	if len(data) == 0 {
		data = t.Node.Data
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "node %s: malformed %s config: %s",
			t.Node.ID, t.Node.Type, err.Error()).WithNode(t.Node.ID).WithCause(err)
	}
	return nil
}

// Outcome is a handler's verdict on the turn. After a successful
// dispatch the engine moves the session position along the node's first
// outgoing edge, or to NextNodeID when set; Stay holds the current
// position instead (terminal steps, failed side effects). Advance true
// means the engine immediately dispatches the new position without
// waiting for the next inbound event.
type Outcome struct {
	Advance    bool
	NextNodeID string
	Stay       bool
	Patch      *session.Patch
}

// Handler executes one node kind.
type Handler interface {
	Kind() schema.NodeType
	Handle(ctx context.Context, turn *Turn) (Outcome, error)
}

// stay ends the turn without moving the session position.
func stay() Outcome {
	return Outcome{Stay: true}
}
