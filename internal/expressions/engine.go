package expressions

import "context"

// Engine evaluates expressions against a turn's variable scope.
// Three implementations: Expr (template fallback logic), CEL (branch
// conditions), GoJQ (connector response reshaping).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
