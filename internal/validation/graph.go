package validation

import (
	"encoding/json"
	"fmt"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// checkGraph performs structural analysis the JSON Schema cannot
// express: entry point, referential integrity, handle bindings, and
// reachability (BFS from the initial node).
func checkGraph(g *schema.FlowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		id := g.Nodes[i].ID
		if nodeIDs[id] {
			result.AddError(fmt.Sprintf("/nodes/%s", id), schema.ErrCodeGraph,
				fmt.Sprintf("duplicate node id %q", id))
		}
		nodeIDs[id] = true
	}

	if !nodeIDs[schema.InitialNodeID] {
		result.AddError("/nodes", schema.ErrCodeGraph,
			fmt.Sprintf("graph has no %q node", schema.InitialNodeID))
	} else if g.FirstEdgeFrom(schema.InitialNodeID) == nil {
		result.AddError("/edges", schema.ErrCodeGraph,
			fmt.Sprintf("no edge leaving %q", schema.InitialNodeID))
	}

	adjacency := make(map[string][]string, len(g.Nodes))
	for i := range g.Edges {
		e := &g.Edges[i]
		path := fmt.Sprintf("/edges/%d", i)
		if !nodeIDs[e.Source] {
			result.AddError(path, schema.ErrCodeGraph,
				fmt.Sprintf("edge source %q is not a node", e.Source))
			continue
		}
		if !nodeIDs[e.Target] {
			result.AddError(path, schema.ErrCodeGraph,
				fmt.Sprintf("edge target %q is not a node", e.Target))
			continue
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	checkBranchHandles(g, result)

	if result.Valid() {
		checkReachability(g, adjacency, result)
	}

	return result
}

// checkBranchHandles verifies every condition target and every declared
// AI function has a bound outgoing edge. Unbound handles route to the
// default edge at runtime, so these are warnings.
func checkBranchHandles(g *schema.FlowGraph, result *schema.ValidationResult) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		path := fmt.Sprintf("/nodes/%s", node.ID)

		switch node.Type {
		case schema.NodeCondition:
			var data schema.ConditionData
			if json.Unmarshal(node.Data, &data) != nil {
				continue // schema stage already reported malformed config
			}
			for _, cond := range data.Conditions {
				if g.EdgeFromHandle(node.ID, cond.TargetNodeID) == nil {
					result.AddWarning(path, schema.ErrCodeGraph,
						fmt.Sprintf("condition handle %q has no outgoing edge", cond.TargetNodeID))
				}
			}
			if g.EdgeFromHandle(node.ID, schema.DefaultHandle) == nil {
				result.AddWarning(path, schema.ErrCodeGraph,
					"condition node has no default edge; unmatched input will stall")
			}

		case schema.NodeAIAssistant:
			var data schema.AIAssistantData
			if json.Unmarshal(node.Data, &data) != nil {
				continue
			}
			for _, fn := range data.Functions {
				if g.EdgeFromHandle(node.ID, fn.ID) == nil {
					result.AddWarning(path, schema.ErrCodeGraph,
						fmt.Sprintf("function %q has no outgoing edge", fn.ID))
				}
			}
		}
	}
}

// checkReachability warns about nodes a session can never visit.
func checkReachability(g *schema.FlowGraph, adjacency map[string][]string, result *schema.ValidationResult) {
	reachable := map[string]bool{schema.InitialNodeID: true}
	queue := []string{schema.InitialNodeID}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[node] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i := range g.Nodes {
		if !reachable[g.Nodes[i].ID] {
			result.AddWarning(fmt.Sprintf("/nodes/%s", g.Nodes[i].ID), schema.ErrCodeGraph,
				fmt.Sprintf("node %q is unreachable from the entry point", g.Nodes[i].ID))
		}
	}
}
