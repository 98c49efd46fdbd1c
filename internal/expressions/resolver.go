package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Resolver replaces {{{...}}} placeholders inside arbitrary nested values
// against a variable scope. A placeholder holding a plain dotted/indexed
// path ("customer.emails[0]") is resolved by direct lookup; anything else
// falls back to the expression engine with the scope's keys as bindings.
// Resolution is fail-soft: a placeholder that cannot be resolved keeps its
// original text, so the resolver is safe to call with a stale or partial
// scope at every step.
type Resolver struct {
	fallback Engine
}

// NewResolver creates a Resolver with the given expression fallback.
// A nil fallback disables expression evaluation; unresolvable
// placeholders are then always kept verbatim.
func NewResolver(fallback Engine) *Resolver {
	return &Resolver{fallback: fallback}
}

const (
	openMarker  = "{{{"
	closeMarker = "}}}"
)

var plainPathRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(?:\.[A-Za-z0-9_$]+|\[[0-9]+\])*$`)

// Resolve walks the value, preserving structure: maps and slices recurse,
// strings are interpolated, everything else passes through untouched.
func (r *Resolver) Resolve(ctx context.Context, value any, scope map[string]any) any {
	switch v := value.(type) {
	case string:
		return r.resolveString(ctx, v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = r.Resolve(ctx, item, scope)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.Resolve(ctx, item, scope)
		}
		return out
	default:
		return v
	}
}

// ResolveRaw resolves placeholders inside a JSON config blob. Malformed
// JSON is returned unchanged.
func (r *Resolver) ResolveRaw(ctx context.Context, raw json.RawMessage, scope map[string]any) json.RawMessage {
	if len(raw) == 0 || !strings.Contains(string(raw), openMarker) {
		return raw
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return raw
	}
	resolved := r.Resolve(ctx, value, scope)
	out, err := json.Marshal(resolved)
	if err != nil {
		return raw
	}
	return out
}

// resolveString interpolates all placeholders in s. When the entire string
// is a single placeholder the resolved value keeps its original type;
// embedded placeholders are stringified in place.
func (r *Resolver) resolveString(ctx context.Context, s string, scope map[string]any) any {
	if !strings.Contains(s, openMarker) {
		return s
	}

	// Whole-string single placeholder: preserve the value's type.
	if strings.HasPrefix(s, openMarker) && strings.HasSuffix(s, closeMarker) {
		inner := s[len(openMarker) : len(s)-len(closeMarker)]
		if !strings.Contains(inner, openMarker) && !strings.Contains(inner, closeMarker) {
			if val, ok := r.resolveToken(ctx, inner, scope); ok {
				return val
			}
			return s
		}
	}

	var result strings.Builder
	result.Grow(len(s))
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], openMarker)
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}
		result.WriteString(s[i : i+idx])
		start := i + idx + len(openMarker)
		end := strings.Index(s[start:], closeMarker)
		if end == -1 {
			// Unterminated marker: keep the rest verbatim.
			result.WriteString(s[i+idx:])
			break
		}
		end += start

		token := s[i+idx : end+len(closeMarker)]
		if val, ok := r.resolveToken(ctx, s[start:end], scope); ok {
			result.WriteString(stringify(val))
		} else {
			result.WriteString(token)
		}
		i = end + len(closeMarker)
	}
	return result.String()
}

// resolveToken resolves one placeholder body. Plain paths are looked up
// directly; anything else goes through the expression fallback. The
// second return reports whether resolution succeeded.
func (r *Resolver) resolveToken(ctx context.Context, body string, scope map[string]any) (any, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false
	}

	if plainPathRe.MatchString(body) {
		return LookupPath(scope, body)
	}

	if r.fallback == nil {
		return nil, false
	}
	val, err := r.fallback.Evaluate(ctx, body, scope)
	if err != nil || val == nil {
		return nil, false
	}
	return val, true
}

// LookupPath resolves a dotted/indexed path ("a.b[0].c") against nested
// maps and slices. The second return is false when any segment is missing.
func LookupPath(root map[string]any, path string) (any, bool) {
	var current any = root
	for _, seg := range splitPath(path) {
		if seg.index >= 0 {
			list, ok := current.([]any)
			if !ok || seg.index >= len(list) {
				return nil, false
			}
			current = list[seg.index]
			continue
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg.key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

type pathSegment struct {
	key   string
	index int // -1 for map keys
}

// splitPath breaks "a.b[0].c" into [a b 0 c] segments.
func splitPath(path string) []pathSegment {
	var segs []pathSegment
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(part, '[')
			if open == -1 {
				if part != "" {
					segs = append(segs, pathSegment{key: part, index: -1})
				}
				break
			}
			if open > 0 {
				segs = append(segs, pathSegment{key: part[:open], index: -1})
			}
			closeIdx := strings.IndexByte(part[open:], ']')
			if closeIdx == -1 {
				break
			}
			idx, err := strconv.Atoi(part[open+1 : open+closeIdx])
			if err != nil {
				idx = -1
			}
			segs = append(segs, pathSegment{index: idx})
			part = part[open+closeIdx+1:]
			if part == "" {
				break
			}
		}
	}
	return segs
}

// stringify converts a resolved value to its inline string representation.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
