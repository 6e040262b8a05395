package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load loads config from the default locations: ./config.yaml, then
// ~/.nanoagent/config.yaml, layered with a .env file and environment
// overrides. A missing config file is not an error — defaults apply.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: failed to get home directory: %w", err)
	}
	return load("", filepath.Join(home, ".nanoagent"))
}

// LoadFromFile loads config from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return load(path, "")
}

func load(configFile, extraSearchDir string) (*Config, error) {
	// godotenv.Load does NOT overwrite existing env vars, so a real
	// environment always wins over the .env file.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if extraSearchDir != "" {
			v.AddConfigPath(extraSearchDir)
		}
	}

	bindSpecEnvKeys(v)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode into struct: %w", err)
	}

	expandWorkspacePath(cfg)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.name", "nanoagent")
	v.SetDefault("agent.workspace", "~/.nanoagent/workspace")
	v.SetDefault("agent.provider", "openai")
	v.SetDefault("agent.model", "gpt-4o")
	v.SetDefault("agent.maxTokens", 4096)
	v.SetDefault("agent.temperature", 0.7)
	v.SetDefault("agent.maxIterations", 20)
	v.SetDefault("agent.compactionMaxTokens", 150_000)
	v.SetDefault("agent.compactionThreshold", 0.8)
	v.SetDefault("agent.keepRecentTokens", 20_000)
	v.SetDefault("agent.heartbeatCron", "@every 30m")
	v.SetDefault("agent.memoryRetentionDays", 30)

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
}

// bindSpecEnvKeys binds the exact environment variable names spec §7 names
// to their config paths. No env key replacer is set, so AutomaticEnv alone
// would look up agent.name as AGENT.NAME; every supported name, including
// ones that look mechanically derived (AGENT_NAME, AGENT_MODEL), is
// therefore bound explicitly.
func bindSpecEnvKeys(v *viper.Viper) {
	binds := map[string]string{
		"agent.name":                "AGENT_NAME",
		"agent.workspace":           "AGENT_WORKSPACE",
		"agent.provider":            "LLM_PROVIDER",
		"agent.model":               "AGENT_MODEL",
		"agent.maxIterations":       "MAX_ITERATIONS",
		"agent.compactionMaxTokens": "COMPACTION_MAX_TOKENS",
		"agent.compactionThreshold": "COMPACTION_THRESHOLD",
		"agent.keepRecentTokens":    "KEEP_RECENT_TOKENS",
		"agent.heartbeatCron":       "HEARTBEAT_CRON",
		"agent.memoryRetentionDays": "MEMORY_RETENTION_DAYS",

		"providers.openai.apiKey":     "OPENAI_API_KEY",
		"providers.anthropic.apiKey":  "ANTHROPIC_API_KEY",
		"providers.deepseek.apiKey":   "DEEPSEEK_API_KEY",
		"providers.moonshot.apiKey":   "MOONSHOT_API_KEY",
		"providers.zhipu.apiKey":      "ZHIPUAI_API_KEY",
		"providers.dashscope.apiKey":  "DASHSCOPE_API_KEY",
		"providers.groq.apiKey":       "GROQ_API_KEY",
		"providers.xai.apiKey":        "XAI_API_KEY",
		"providers.mistral.apiKey":    "MISTRAL_API_KEY",
		"providers.cohere.apiKey":     "COHERE_API_KEY",
		"providers.openrouter.apiKey": "OPENROUTER_API_KEY",
		"providers.aihubmix.apiKey":   "AIHUBMIX_API_KEY",
		"providers.custom.apiKey":     "CUSTOM_API_KEY",
	}
	for path, env := range binds {
		_ = v.BindEnv(path, env)
	}
}

// expandWorkspacePath expands a leading ~ in the workspace path.
func expandWorkspacePath(cfg *Config) {
	ws := cfg.Agent.Workspace
	if len(ws) >= 2 && ws[0] == '~' && ws[1] == '/' {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.Agent.Workspace = filepath.Join(home, ws[2:])
		}
	}
}
