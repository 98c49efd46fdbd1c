package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() map[string]any {
	return map[string]any{
		"phone":       "+15551234567",
		"name":        "Dana",
		"lastMessage": "2",
		"order": map[string]any{
			"id":    float64(91),
			"items": []any{"soap", "towel"},
			"paid":  true,
		},
	}
}

func TestResolvePlainPath(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	got := r.Resolve(ctx, "Hello {{{name}}}, order {{{order.id}}} is ready", testScope())
	assert.Equal(t, "Hello Dana, order 91 is ready", got)
}

func TestResolveNestedIndexedPath(t *testing.T) {
	r := NewResolver(nil)

	got := r.Resolve(context.Background(), "first item: {{{order.items[0]}}}", testScope())
	assert.Equal(t, "first item: soap", got)
}

func TestResolveWholeStringPreservesType(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	assert.Equal(t, float64(91), r.Resolve(ctx, "{{{order.id}}}", testScope()))
	assert.Equal(t, true, r.Resolve(ctx, "{{{order.paid}}}", testScope()))
	assert.Equal(t, []any{"soap", "towel"}, r.Resolve(ctx, "{{{order.items}}}", testScope()))
}

func TestResolveMissingPathKeepsOriginal(t *testing.T) {
	r := NewResolver(nil)

	original := "Hi {{{customer.email}}}"
	got := r.Resolve(context.Background(), original, testScope())
	assert.Equal(t, original, got)
}

func TestResolveDeepStructure(t *testing.T) {
	r := NewResolver(nil)

	input := map[string]any{
		"to":      "{{{phone}}}",
		"body":    map[string]any{"text": "Hi {{{name}}}"},
		"retries": float64(3),
		"tags":    []any{"{{{order.items[1]}}}", "static"},
	}
	got := r.Resolve(context.Background(), input, testScope())

	want := map[string]any{
		"to":      "+15551234567",
		"body":    map[string]any{"text": "Hi Dana"},
		"retries": float64(3),
		"tags":    []any{"towel", "static"},
	}
	assert.Equal(t, want, got)
}

func TestResolveExpressionFallback(t *testing.T) {
	r := NewResolver(NewExprEngine())
	ctx := context.Background()

	got := r.Resolve(ctx, "total: {{{order.id * 2}}}", testScope())
	assert.Equal(t, "total: 182", got)

	got = r.Resolve(ctx, `{{{name + " / " + phone}}}`, testScope())
	assert.Equal(t, "Dana / +15551234567", got)
}

func TestResolveExpressionFailureKeepsOriginal(t *testing.T) {
	r := NewResolver(NewExprEngine())

	original := "{{{1 +}}}"
	got := r.Resolve(context.Background(), original, testScope())
	assert.Equal(t, original, got)
}

func TestResolveUnterminatedMarkerKeptVerbatim(t *testing.T) {
	r := NewResolver(nil)

	original := "hello {{{name"
	got := r.Resolve(context.Background(), original, testScope())
	assert.Equal(t, original, got)
}

func TestResolveIdempotent(t *testing.T) {
	r := NewResolver(NewExprEngine())
	ctx := context.Background()
	scope := testScope()

	inputs := []any{
		"Hello {{{name}}}",
		"missing {{{nope.deep}}} stays",
		map[string]any{"a": "{{{order.id}}}", "b": []any{"{{{phone}}}"}},
	}
	for _, in := range inputs {
		once := r.Resolve(ctx, in, scope)
		twice := r.Resolve(ctx, once, scope)
		assert.Equal(t, once, twice)
	}
}

func TestResolveRaw(t *testing.T) {
	r := NewResolver(nil)

	raw := json.RawMessage(`{"message":"Hi {{{name}}}","count":"{{{order.id}}}"}`)
	got := r.ResolveRaw(context.Background(), raw, testScope())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.Equal(t, "Hi Dana", decoded["message"])
	assert.Equal(t, float64(91), decoded["count"])
}

func TestResolveRawMalformedPassthrough(t *testing.T) {
	r := NewResolver(nil)

	raw := json.RawMessage(`{"broken": {{{`)
	got := r.ResolveRaw(context.Background(), raw, testScope())
	assert.Equal(t, raw, got)
}

func TestLookupPath(t *testing.T) {
	scope := testScope()

	val, ok := LookupPath(scope, "order.items[1]")
	require.True(t, ok)
	assert.Equal(t, "towel", val)

	_, ok = LookupPath(scope, "order.items[9]")
	assert.False(t, ok)

	_, ok = LookupPath(scope, "order.id.deeper")
	assert.False(t, ok)
}
