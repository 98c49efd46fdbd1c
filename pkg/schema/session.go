package schema

import "time"

// DisableChat suppresses all automatic processing for a conversation
// until the timestamp elapses.
type DisableChat struct {
	Timestamp time.Time `json:"timestamp"`
}

// AITransfer marks a conversation as handed off to an AI assistant.
// While active, inbound text bypasses the normal graph position and is
// routed to the assistant bound to Node.
type AITransfer struct {
	Active bool  `json:"active"`
	Node   *Node `json:"node,omitempty"`
}

// Session is the durable per-conversation execution state: one row per
// (tenant, flow, correspondent). Node is a denormalized snapshot of the
// current position, re-synced against the live graph by ID on every load.
type Session struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	FlowID        string         `json:"flow_id"`
	Correspondent string         `json:"correspondent"`
	Node          *Node          `json:"node,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	DisableChat   *DisableChat   `json:"disable_chat,omitempty"`
	AITransfer    *AITransfer    `json:"ai_transfer,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Disabled reports whether the disabled gate is closed at the given time.
func (s *Session) Disabled(now time.Time) bool {
	return s.DisableChat != nil && s.DisableChat.Timestamp.After(now)
}

// InAITransfer reports whether the conversation is in an active AI handoff.
func (s *Session) InAITransfer() bool {
	return s.AITransfer != nil && s.AITransfer.Active && s.AITransfer.Node != nil
}

// InboundEvent is one message or webhook delivery arriving on a channel.
// Payload carries values lifted from the raw event body; they are merged
// into the session's variable scope for the turn.
type InboundEvent struct {
	TenantID      string         `json:"tenant_id"`
	ChannelID     string         `json:"channel_id"`
	Correspondent string         `json:"correspondent"`
	DisplayName   string         `json:"display_name,omitempty"`
	Text          string         `json:"text,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	ReceivedAt    time.Time      `json:"received_at"`
}

// Reserved variable names always present in a turn's scope.
const (
	VarCorrespondent = "phone"
	VarDisplayName   = "name"
	VarLastMessage   = "lastMessage"
)
