package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/validation"
)

const validFlowJSON = `{
  "id": "f1", "tenant_id": "t1", "channel_id": "c1", "active": true,
  "graph": {
    "nodes": [
      {"id": "initialNode"},
      {"id": "greet", "type": "sendMessage", "data": {"message": "hi"}}
    ],
    "edges": [{"source": "initialNode", "target": "greet"}]
  }
}`

const brokenFlowJSON = `{
  "id": "f2", "tenant_id": "t1", "channel_id": "c1", "active": true,
  "graph": {
    "nodes": [{"id": "greet", "type": "sendMessage", "data": {"message": "hi"}}],
    "edges": []
  }
}`

func newSource(t *testing.T, dir string) *fileFlowSource {
	t.Helper()
	validator, err := validation.NewFlowValidator()
	require.NoError(t, err)
	return newFileFlowSource(dir, validator, slog.Default())
}

func TestFileFlowSourceLoadsValidFlows(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f1.json"), []byte(validFlowJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	src := newSource(t, dir)
	require.NoError(t, src.Load())

	flows, err := src.ActiveFlows(context.Background(), "t1", "c1")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "f1", flows[0].ID)

	flows, err = src.ActiveFlows(context.Background(), "t1", "other")
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestFileFlowSourceDropsInvalidFlows(t *testing.T) {
	dir := t.TempDir()
	// Missing entry node fails graph validation.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f2.json"), []byte(brokenFlowJSON), 0o644))

	src := newSource(t, dir)
	require.NoError(t, src.Load())

	flows, err := src.ActiveFlows(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestFileFlowSourceMissingDir(t *testing.T) {
	src := newSource(t, filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, src.Load())
}

func TestStaticAgentDirectory(t *testing.T) {
	dir := newStaticAgentDirectory(map[string][]AgentEntry{
		"t1": {{ID: "a1", Name: "Sam"}},
	})

	agents, err := dir.ActiveAgents(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "Sam", agents[0].Name)

	agents, err = dir.ActiveAgents(context.Background(), "t2")
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("FLOWD_LISTEN_ADDR", ":9999")
	t.Setenv("FLOWD_POOL_SIZE", "7")

	cfg := loadConfig()
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 7, cfg.PoolSize)
}
