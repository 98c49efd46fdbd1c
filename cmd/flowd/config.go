package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all flowd server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	FlowsDir   string `json:"flows_dir"`
	RedisURL   string `json:"redis_url"`
	LogLevel   string `json:"log_level"`
	PoolSize   int    `json:"pool_size"`
	MaxSteps   int    `json:"max_steps"`
	PacingMS   int    `json:"pacing_ms"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
	EmailFrom    string `json:"email_from"`

	SendGridAPIKey string `json:"sendgrid_api_key"`

	SheetsCredentialsFile string `json:"sheets_credentials_file"`

	// Agents available for the human-handoff step, per tenant.
	Agents map[string][]AgentEntry `json:"agents"`
}

// AgentEntry is one human agent in the static directory.
type AgentEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		DBPath:     filepath.Join(flowdDir(), "sessions.db"),
		FlowsDir:   filepath.Join(flowdDir(), "flows"),
		LogLevel:   "info",
		PoolSize:   64,
	}
}

func flowdDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowd"
	}
	return filepath.Join(home, ".flowd")
}

func settingsPath() string {
	return filepath.Join(flowdDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLOWD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWD_FLOWS_DIR"); v != "" {
		cfg.FlowsDir = v
	}
	if v := os.Getenv("FLOWD_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("FLOWD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWD_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("FLOWD_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := os.Getenv("FLOWD_PACING_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PacingMS = n
		}
	}
	if v := os.Getenv("FLOWD_SENDGRID_API_KEY"); v != "" {
		cfg.SendGridAPIKey = v
	}

	return cfg
}
