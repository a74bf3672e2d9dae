package main

import (
	"os"
	"path/filepath"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/TIZ36/chatflow/internal/tools"
)

// Config holds all chatflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath             string               `json:"db_path"`
	LogLevel           string               `json:"log_level"`
	MaxConcurrentNodes int                  `json:"max_concurrent_nodes"`
	DefaultNodeTimeout string               `json:"default_node_timeout"`
	ExecutionRetention string               `json:"execution_retention"`
	Scheduler          bool                 `json:"scheduler"`
	OpenAIAPIKey       string               `json:"openai_api_key"`
	OpenAIBaseURL      string               `json:"openai_base_url"`
	DefaultModel       string               `json:"default_model"`
	MCPServers         []tools.ServerConfig `json:"mcp_servers"`
}

func defaultConfig() Config {
	return Config{
		DBPath:             filepath.Join(chatflowDir(), "chatflow.db"),
		LogLevel:           "info",
		MaxConcurrentNodes: 5,
		DefaultNodeTimeout: "5m",
		ExecutionRetention: "1h",
	}
}

func chatflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatflow"
	}
	return filepath.Join(home, ".chatflow")
}

func settingsPath() string {
	return filepath.Join(chatflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CHATFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHATFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHATFLOW_MAX_CONCURRENT_NODES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentNodes = n
		}
	}
	if v := os.Getenv("CHATFLOW_DEFAULT_NODE_TIMEOUT"); v != "" {
		cfg.DefaultNodeTimeout = v
	}
	if v := os.Getenv("CHATFLOW_EXECUTION_RETENTION"); v != "" {
		cfg.ExecutionRetention = v
	}
	if v := os.Getenv("CHATFLOW_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}
	if v := os.Getenv("CHATFLOW_OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("CHATFLOW_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("CHATFLOW_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}

	return cfg
}
