package schema

import "encoding/json"

// InitialNodeID is the reserved ID of the entry marker node. Every graph
// has exactly one; the session's first position is the target of the edge
// leaving it.
const InitialNodeID = "initialNode"

// DefaultHandle tags the fallback edge out of a branching node.
const DefaultHandle = "default"

// NodeType enumerates the kinds of steps in a flow graph.
type NodeType string

const (
	NodeSendMessage      NodeType = "sendMessage"
	NodeCondition        NodeType = "condition"
	NodeSaveData         NodeType = "saveData"
	NodeDisableAutoReply NodeType = "disableAutoReply"
	NodeRequest          NodeType = "request"
	NodeDelay            NodeType = "delay"
	NodeGoogleSheets     NodeType = "googleSheets"
	NodeEmail            NodeType = "email"
	NodeAssignAgent      NodeType = "assignAgent"
	NodeAIAssistant      NodeType = "aiAssistant"
	NodeSQLQuery         NodeType = "sqlQuery"
)

// Node is one step in a flow graph. Data is the kind-specific config bag;
// it may contain {{{variable}}} placeholders and the common moveToNextNode
// flag that controls automatic continuation.
type Node struct {
	ID   string          `json:"id"`
	Type NodeType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Edge is a directed connection between two nodes. SourceHandle
// disambiguates multiple outgoing edges from a branching node: a condition
// target ID, an AI function ID, or the literal "default".
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// FlowGraph is a tenant-authored directed graph of conversational steps.
// Immutable per turn: loaded fresh for each inbound event.
type FlowGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given ID, or nil.
func (g *FlowGraph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// FirstEdgeFrom returns the first edge whose source is the given node, or nil.
func (g *FlowGraph) FirstEdgeFrom(source string) *Edge {
	for i := range g.Edges {
		if g.Edges[i].Source == source {
			return &g.Edges[i]
		}
	}
	return nil
}

// EdgeFromHandle returns the edge leaving source tagged with the given
// handle, or nil.
func (g *FlowGraph) EdgeFromHandle(source, handle string) *Edge {
	for i := range g.Edges {
		if g.Edges[i].Source == source && g.Edges[i].SourceHandle == handle {
			return &g.Edges[i]
		}
	}
	return nil
}

// InitialTarget resolves the ID of the first real step: the target of the
// edge leaving the initial marker node.
func (g *FlowGraph) InitialTarget() (string, error) {
	if g.NodeByID(InitialNodeID) == nil {
		return "", NewErrorf(ErrCodeGraph, "graph has no %q node", InitialNodeID)
	}
	edge := g.FirstEdgeFrom(InitialNodeID)
	if edge == nil {
		return "", NewErrorf(ErrCodeGraph, "no edge leaving %q", InitialNodeID)
	}
	if g.NodeByID(edge.Target) == nil {
		return "", NewErrorf(ErrCodeGraph, "initial edge targets missing node %q", edge.Target)
	}
	return edge.Target, nil
}

// Flow is a deployed graph bound to a tenant and channel.
type Flow struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ChannelID     string    `json:"channel_id"`
	Name          string    `json:"name,omitempty"`
	Graph         FlowGraph `json:"graph"`
	Active        bool      `json:"active"`
	ExternalOnly  bool      `json:"external_only,omitempty"`  // triggered by external events, not inbound chat
}
