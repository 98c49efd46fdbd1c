package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/steps"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/validation"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// fileFlowSource serves flows from a directory of JSON files, loaded at
// startup and reloadable on SIGHUP. Each file holds one schema.Flow.
type fileFlowSource struct {
	dir       string
	validator *validation.FlowValidator
	logger    *slog.Logger

	mu    sync.RWMutex
	flows map[string][]*schema.Flow // keyed by tenant/channel
}

func newFileFlowSource(dir string, validator *validation.FlowValidator, logger *slog.Logger) *fileFlowSource {
	return &fileFlowSource{
		dir:       dir,
		validator: validator,
		logger:    logger,
		flows:     make(map[string][]*schema.Flow),
	}
}

// Load reads every *.json file in the directory. Validation issues are
// logged; warnings keep the flow deployable, errors drop it.
func (s *fileFlowSource) Load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("flows directory does not exist", "dir", s.dir)
			return nil
		}
		return fmt.Errorf("read flows dir: %w", err)
	}

	loaded := make(map[string][]*schema.Flow)
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error("failed to read flow file", "path", path, "error", err.Error())
			continue
		}

		var flow schema.Flow
		if err := json.Unmarshal(data, &flow); err != nil {
			s.logger.Error("malformed flow file", "path", path, "error", err.Error())
			continue
		}

		result := s.validator.Validate(&flow)
		for _, warn := range result.Warnings {
			s.logger.Warn("flow validation warning",
				"flow_id", flow.ID, "path", warn.Path, "message", warn.Message)
		}
		if !result.Valid() {
			for _, issue := range result.Errors {
				s.logger.Error("flow validation error",
					"flow_id", flow.ID, "path", issue.Path, "message", issue.Message)
			}
			continue
		}

		key := flow.TenantID + "/" + flow.ChannelID
		loaded[key] = append(loaded[key], &flow)
		count++
	}

	s.mu.Lock()
	s.flows = loaded
	s.mu.Unlock()

	s.logger.Info("flows loaded", "count", count, "dir", s.dir)
	return nil
}

// ActiveFlows satisfies engine.FlowSource.
func (s *fileFlowSource) ActiveFlows(ctx context.Context, tenantID, channelID string) ([]*schema.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flows[tenantID+"/"+channelID], nil
}

// staticAgentDirectory serves the human-handoff step from the agents
// section of settings.json.
type staticAgentDirectory struct {
	agents map[string][]steps.Agent
}

func newStaticAgentDirectory(cfg map[string][]AgentEntry) *staticAgentDirectory {
	agents := make(map[string][]steps.Agent, len(cfg))
	for tenant, entries := range cfg {
		for _, e := range entries {
			agents[tenant] = append(agents[tenant], steps.Agent{ID: e.ID, Name: e.Name})
		}
	}
	return &staticAgentDirectory{agents: agents}
}

func (d *staticAgentDirectory) ActiveAgents(ctx context.Context, tenantID string) ([]steps.Agent, error) {
	return d.agents[tenantID], nil
}
