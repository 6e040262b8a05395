package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nanoagent/runtime/internal/agent"
	"github.com/nanoagent/runtime/internal/bus"
	"github.com/nanoagent/runtime/internal/channels"
	"github.com/nanoagent/runtime/internal/compactor"
	"github.com/nanoagent/runtime/internal/config"
	"github.com/nanoagent/runtime/internal/cron"
	"github.com/nanoagent/runtime/internal/dispatch"
	"github.com/nanoagent/runtime/internal/durable"
	"github.com/nanoagent/runtime/internal/heartbeat"
	"github.com/nanoagent/runtime/internal/memory"
	"github.com/nanoagent/runtime/internal/providers"
	"github.com/nanoagent/runtime/internal/session"
	"github.com/nanoagent/runtime/internal/singleton"
	"github.com/nanoagent/runtime/internal/tools"
)

// runtime holds every component wired together from one resolved Config. It
// is the cmd-layer's assembly point — nothing in internal/ depends on it.
type runtime struct {
	cfg *config.Config

	durableStore *durable.Store
	memoryStore  *memory.Store
	sessions     *session.Manager
	provider     providers.Provider
	toolRegistry *tools.Registry
	msgBus       *bus.MessageBus
	channels     *channels.Manager
	cronSvc      *cron.Service
	loop         *agent.Loop
	controller   *singleton.Controller
	dispatcher   *dispatch.Dispatcher
	heartbeatSvc *heartbeat.Service
}

func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// buildRuntime resolves cfg and constructs every component, but does not
// start anything (no goroutines, no listeners) — that's the caller's job.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	ws := cfg.Agent.Workspace

	durableStore, err := durable.Open(filepath.Join(ws, "durable.db"))
	if err != nil {
		return nil, fmt.Errorf("runtime: failed to open durable store: %w", err)
	}

	memStore := memory.NewStore(ws)
	sessions := session.NewManager(filepath.Join(ws, "sessions"))

	provider, err := resolveProvider(cfg)
	if err != nil {
		durableStore.Close()
		return nil, err
	}

	msgBus := bus.NewMessageBus(0)
	chMgr := channels.NewManager(msgBus)
	cronSvc := cron.NewService(filepath.Join(ws, "cron.json"), msgBus)

	toolRegistry := buildToolRegistry(cfg, ws, memStore, msgBus, cronSvc)

	comp := compactor.New(provider, sessions, cfg.Agent.Model).
		WithBudget(cfg.Agent.CompactionMaxTokens, cfg.Agent.CompactionThreshold, cfg.Agent.KeepRecentTokens)

	ctxBuilder := agent.NewContextBuilder(ws, cfg.Agent.Name, memStore, sessions)

	loop := agent.New(agent.Config{
		Provider:               provider,
		Sessions:               sessions,
		Tools:                  toolRegistry,
		Compactor:              comp,
		ContextBuilder:         ctxBuilder,
		Durable:                durableStore,
		Model:                  cfg.Agent.Model,
		MaxTokens:              cfg.Agent.MaxTokens,
		Temperature:            cfg.Agent.Temperature,
		MaxIterations:          cfg.Agent.MaxIterations,
		KeepLastAssistantTurns: agent.DefaultKeepLastAssistantTurns,
		Workspace:              ws,
	})

	controller := singleton.New()
	dispatcher := dispatch.New(chMgr, loop, controller)

	heartbeatSvc := heartbeat.NewService(heartbeat.Config{
		Provider:      provider,
		Model:         cfg.Agent.Model,
		Memory:        memStore,
		Durable:       durableStore,
		RetentionDays: cfg.Agent.MemoryRetentionDays,
	})

	return &runtime{
		cfg:          cfg,
		durableStore: durableStore,
		memoryStore:  memStore,
		sessions:     sessions,
		provider:     provider,
		toolRegistry: toolRegistry,
		msgBus:       msgBus,
		channels:     chMgr,
		cronSvc:      cronSvc,
		loop:         loop,
		controller:   controller,
		dispatcher:   dispatcher,
		heartbeatSvc: heartbeatSvc,
	}, nil
}

func resolveProvider(cfg *config.Config) (providers.Provider, error) {
	name := cfg.Agent.Provider
	pc := providerConfigFor(cfg, name)
	return providers.Resolve(name, pc)
}

func providerConfigFor(cfg *config.Config, name string) providers.ProviderConfig {
	var pc config.ProviderConfig
	switch name {
	case "openai":
		pc = cfg.Providers.OpenAI
	case "anthropic":
		pc = cfg.Providers.Anthropic
	case "deepseek":
		pc = cfg.Providers.DeepSeek
	case "moonshot":
		pc = cfg.Providers.Moonshot
	case "zhipu":
		pc = cfg.Providers.Zhipu
	case "dashscope":
		pc = cfg.Providers.DashScope
	case "groq":
		pc = cfg.Providers.Groq
	case "xai":
		pc = cfg.Providers.XAI
	case "mistral":
		pc = cfg.Providers.Mistral
	case "cohere":
		pc = cfg.Providers.Cohere
	case "openrouter":
		pc = cfg.Providers.OpenRouter
	case "aihubmix":
		pc = cfg.Providers.AiHubMix
	default:
		pc = cfg.Providers.Custom
	}
	return providers.ProviderConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel}
}

func buildToolRegistry(cfg *config.Config, ws string, mem *memory.Store, msgBus *bus.MessageBus, cronSvc *cron.Service) *tools.Registry {
	reg := tools.NewRegistry()

	reg.Register(tools.NewReadFileTool(ws))
	reg.Register(tools.NewWriteFileTool(ws))
	reg.Register(tools.NewEditFileTool(ws))
	reg.Register(tools.NewListDirTool(ws))
	reg.Register(tools.NewFindFilesTool())
	reg.Register(tools.NewGrepTool())
	reg.Register(tools.NewRunShellTool(ws))
	reg.Register(tools.NewWebGetTool())
	reg.Register(tools.NewSendMessageTool(msgBus))
	reg.Register(tools.NewRememberTool(mem))
	reg.Register(tools.NewManageCronTool(cron.ToolAdapter{Service: cronSvc}))
	reg.Register(tools.NewDelegateTaskTool())

	return applyToolFilter(reg, cfg.Tools)
}

func applyToolFilter(reg *tools.Registry, cfg config.ToolsConfig) *tools.Registry {
	if len(cfg.Enabled) == 0 && len(cfg.Disabled) == 0 {
		return reg
	}
	filtered := tools.NewRegistry()
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		disabled[name] = true
	}
	allowed := make(map[string]bool, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		allowed[name] = true
	}
	for _, def := range reg.Definitions() {
		name := def.Function.Name
		if disabled[name] {
			continue
		}
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		t, ok := reg.Get(name)
		if !ok {
			continue
		}
		filtered.Register(t)
	}
	return filtered
}

// registerChannels adds every channel whose required credentials are set in
// config. A channel with an empty token/secret is treated as not configured
// rather than as an error, so a bare config file only wires the channels the
// operator actually filled in.
func (r *runtime) registerChannels() error {
	ch := r.cfg.Channels
	candidates := []struct {
		name      string
		configure bool
		cfg       any
	}{
		{"telegram", ch.Telegram.Token != "", ch.Telegram},
		{"discord", ch.Discord.Token != "", ch.Discord},
		{"slack", ch.Slack.BotToken != "", ch.Slack},
		{"whatsapp", ch.WhatsApp.AccessToken != "", ch.WhatsApp},
		{"feishu", ch.Feishu.AppID != "", ch.Feishu},
		{"dingtalk", ch.DingTalk.ClientID != "", ch.DingTalk},
		{"qq", ch.QQ.AppID != "", ch.QQ},
		{"email", ch.Email.IMAPServer != "", ch.Email},
		{"mochat", ch.Mochat.URL != "", ch.Mochat},
	}
	for _, c := range candidates {
		if !c.configure {
			continue
		}
		data, err := json.Marshal(c.cfg)
		if err != nil {
			return fmt.Errorf("runtime: marshal %s config: %w", c.name, err)
		}
		if err := r.channels.AddChannel(c.name, data); err != nil {
			return fmt.Errorf("runtime: add channel %s: %w", c.name, err)
		}
	}
	return nil
}

// connectMCP connects every configured MCP server and registers its tools
// into the runtime's tool registry. Returns the connected clients so the
// caller can Close them on shutdown.
func (r *runtime) connectMCP(ctx context.Context) ([]*tools.MCPClient, error) {
	if len(r.cfg.MCP) == 0 {
		return nil, nil
	}
	configs := make(map[string]tools.MCPServerConfig, len(r.cfg.MCP))
	for name, c := range r.cfg.MCP {
		configs[name] = tools.MCPServerConfig{
			Command:     c.Command,
			Args:        c.Args,
			Env:         c.Env,
			URL:         c.URL,
			ToolTimeout: c.ToolTimeout,
		}
	}
	return tools.ConnectMCPServers(ctx, configs, r.toolRegistry)
}
