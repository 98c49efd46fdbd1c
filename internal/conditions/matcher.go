// Package conditions evaluates branch predicates against inbound text.
package conditions

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/expressions"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// Matcher evaluates an ordered condition list against an input string.
// Matching is fail-closed on the condition level: a predicate that
// cannot be evaluated (non-numeric input against a numeric type, a CEL
// expression that does not compile) is treated as not matched and the
// next condition is tried.
type Matcher struct {
	cel    expressions.Engine
	logger *slog.Logger
}

// NewMatcher creates a Matcher. The cel engine backs the "expression"
// condition kind and may be nil, in which case expression conditions
// never match.
func NewMatcher(cel expressions.Engine, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{cel: cel, logger: logger}
}

// Match returns the first condition satisfied by input, or nil when none
// match. vars is exposed to "expression" conditions as the vars binding.
func (m *Matcher) Match(ctx context.Context, conds []schema.Condition, input string, vars map[string]any) *schema.Condition {
	for i := range conds {
		if m.matches(ctx, &conds[i], input, vars) {
			return &conds[i]
		}
	}
	return nil
}

func (m *Matcher) matches(ctx context.Context, c *schema.Condition, input string, vars map[string]any) bool {
	switch c.Type {
	case schema.CondTextExact:
		a, b := fold(input, c.CaseSensitive), fold(c.Value, c.CaseSensitive)
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	case schema.CondTextContains:
		return strings.Contains(fold(input, c.CaseSensitive), fold(c.Value, c.CaseSensitive))
	case schema.CondTextStarts:
		return strings.HasPrefix(fold(input, c.CaseSensitive), fold(c.Value, c.CaseSensitive))
	case schema.CondTextEnds:
		return strings.HasSuffix(fold(input, c.CaseSensitive), fold(c.Value, c.CaseSensitive))
	case schema.CondNumberEqual, schema.CondNumberGreater, schema.CondNumberLess:
		return m.matchNumber(c, input)
	case schema.CondNumberBetween:
		return m.matchBetween(c, input)
	case schema.CondExpression:
		return m.matchExpression(ctx, c, input, vars)
	default:
		m.logger.Warn("unknown condition type skipped", "type", string(c.Type))
		return false
	}
}

func (m *Matcher) matchNumber(c *schema.Condition, input string) bool {
	n, ok := parseNumber(input)
	if !ok {
		return false
	}
	ref, ok := parseNumber(c.Value)
	if !ok {
		m.logger.Warn("numeric condition has non-numeric reference value", "value", c.Value)
		return false
	}
	switch c.Type {
	case schema.CondNumberEqual:
		return n == ref
	case schema.CondNumberGreater:
		return n > ref
	case schema.CondNumberLess:
		return n < ref
	}
	return false
}

// matchBetween parses a "min,max" reference, both bounds inclusive.
func (m *Matcher) matchBetween(c *schema.Condition, input string) bool {
	n, ok := parseNumber(input)
	if !ok {
		return false
	}
	lo, hi, ok := parseRange(c.Value)
	if !ok {
		m.logger.Warn("between condition has malformed range", "value", c.Value)
		return false
	}
	return n >= lo && n <= hi
}

func (m *Matcher) matchExpression(ctx context.Context, c *schema.Condition, input string, vars map[string]any) bool {
	if m.cel == nil {
		return false
	}
	data := map[string]any{"text": input}
	if n, ok := parseNumber(input); ok {
		data["number"] = n
	}
	if vars != nil {
		data["vars"] = vars
	}
	out, err := m.cel.Evaluate(ctx, c.Value, data)
	if err != nil {
		m.logger.Warn("expression condition failed, treating as no match",
			"expression", c.Value, "error", err.Error())
		return false
	}
	matched, _ := out.(bool)
	return matched
}

func fold(s string, caseSensitive bool) string {
	if caseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseRange(s string) (lo, hi float64, ok bool) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, okLo := parseNumber(parts[0])
	hi, okHi := parseNumber(parts[1])
	if !okLo || !okHi || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
