package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextIDs_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TenantID(ctx))
	assert.Empty(t, FlowID(ctx))
	assert.Empty(t, Correspondent(ctx))

	ctx = WithIDs(ctx, "t1", "f1", "+15550001")
	assert.Equal(t, "t1", TenantID(ctx))
	assert.Equal(t, "f1", FlowID(ctx))
	assert.Equal(t, "+15550001", Correspondent(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithIDs(context.Background(), "tenant-a", "flow-1", "+15550002")
	logger.InfoContext(ctx, "turn started")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"tenant_id":"tenant-a"`)
	assert.Contains(t, out, `"flow_id":"flow-1"`)
	assert.Contains(t, out, `"correspondent":"+15550002"`)
}

func TestLogWith_SkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithTenantID(context.Background(), "tenant-b")
	LogWith(ctx, base).Info("only tenant")

	out := buf.String()
	assert.Contains(t, out, `"tenant_id":"tenant-b"`)
	assert.NotContains(t, out, "flow_id")
	assert.NotContains(t, out, "correspondent")
}
