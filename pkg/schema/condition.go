package schema

// ConditionType enumerates the predicate kinds a branch step can evaluate.
type ConditionType string

const (
	CondTextExact     ConditionType = "text_exact"
	CondTextContains  ConditionType = "text_contains"
	CondTextStarts    ConditionType = "text_starts"
	CondTextEnds      ConditionType = "text_ends"
	CondNumberEqual   ConditionType = "number_equal"
	CondNumberGreater ConditionType = "number_greater"
	CondNumberLess    ConditionType = "number_less"
	CondNumberBetween ConditionType = "number_between" // Value is "min,max", both inclusive
	CondExpression    ConditionType = "expression"     // Value is a CEL expression over {text, number}
)

// Condition is one typed predicate in a branch step. Conditions are
// evaluated in declaration order; the first satisfied condition wins.
// TargetNodeID names the sourceHandle of the edge to follow on match.
type Condition struct {
	Type          ConditionType `json:"type"`
	Value         string        `json:"value"`
	CaseSensitive bool          `json:"caseSensitive,omitempty"`
	TargetNodeID  string        `json:"targetNodeId"`
}
