package config

// Config is the top-level configuration, unmarshaled by viper from
// config.yaml/config.json plus environment overrides.
type Config struct {
	Agent     AgentConfig                `mapstructure:"agent"`
	Providers ProvidersConfig            `mapstructure:"providers"`
	Tools     ToolsConfig                `mapstructure:"tools"`
	Channels  ChannelsConfig             `mapstructure:"channels"`
	Gateway   GatewayConfig              `mapstructure:"gateway"`
	MCP       map[string]MCPServerConfig `mapstructure:"mcp"`
}

// AgentConfig holds the single agent's identity and runtime tunables —
// every field here corresponds to one of spec §7's configuration keys.
type AgentConfig struct {
	Name      string `mapstructure:"name"`      // AGENT_NAME
	Workspace string `mapstructure:"workspace"` // AGENT_WORKSPACE

	Provider string `mapstructure:"provider"` // LLM_PROVIDER: which ProvidersConfig entry to use
	Model    string `mapstructure:"model"`    // AGENT_MODEL

	MaxTokens     int     `mapstructure:"maxTokens"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxIterations int     `mapstructure:"maxIterations"` // MAX_ITERATIONS

	CompactionMaxTokens  int     `mapstructure:"compactionMaxTokens"`  // COMPACTION_MAX_TOKENS
	CompactionThreshold  float64 `mapstructure:"compactionThreshold"`  // COMPACTION_THRESHOLD
	KeepRecentTokens     int     `mapstructure:"keepRecentTokens"`     // KEEP_RECENT_TOKENS

	HeartbeatCron        string `mapstructure:"heartbeatCron"`        // HEARTBEAT_CRON
	MemoryRetentionDays  int    `mapstructure:"memoryRetentionDays"`  // MEMORY_RETENTION_DAYS

	SystemPromptFile string `mapstructure:"systemPromptFile"`
}

// ProvidersConfig holds API keys and settings for LLM providers.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `mapstructure:"openai"`
	Anthropic  ProviderConfig `mapstructure:"anthropic"`
	DeepSeek   ProviderConfig `mapstructure:"deepseek"`
	Moonshot   ProviderConfig `mapstructure:"moonshot"`
	Zhipu      ProviderConfig `mapstructure:"zhipu"`
	DashScope  ProviderConfig `mapstructure:"dashscope"`
	Groq       ProviderConfig `mapstructure:"groq"`
	XAI        ProviderConfig `mapstructure:"xai"`
	Mistral    ProviderConfig `mapstructure:"mistral"`
	Cohere     ProviderConfig `mapstructure:"cohere"`
	OpenRouter ProviderConfig `mapstructure:"openrouter"`
	AiHubMix   ProviderConfig `mapstructure:"aihubmix"`
	Custom     ProviderConfig `mapstructure:"custom"`
}

type ProviderConfig struct {
	APIKey       string            `mapstructure:"apiKey"`
	BaseURL      string            `mapstructure:"baseUrl"`
	DefaultModel string            `mapstructure:"defaultModel"`
	ExtraHeaders map[string]string `mapstructure:"extraHeaders"`
}

type ToolsConfig struct {
	Enabled  []string `mapstructure:"enabled"`
	Disabled []string `mapstructure:"disabled"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Slack    SlackConfig    `mapstructure:"slack"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Feishu   FeishuConfig   `mapstructure:"feishu"`
	DingTalk DingTalkConfig `mapstructure:"dingtalk"`
	QQ       QQConfig       `mapstructure:"qq"`
	Email    EmailConfig    `mapstructure:"email"`
	Mochat   MochatConfig   `mapstructure:"mochat"`
}

// Every channel config below carries both mapstructure tags (for viper's
// file+env decode) and matching json tags (cmd/nanoagent re-marshals these
// structs to the json.RawMessage each channel's own factory unmarshals).
type TelegramConfig struct {
	Token        string   `mapstructure:"token" json:"token"`
	AllowedUsers []string `mapstructure:"allowedUsers" json:"allowedUsers"`
}

type DiscordConfig struct {
	Token        string   `mapstructure:"token" json:"token"`
	AllowedUsers []string `mapstructure:"allowedUsers" json:"allowedUsers"`
}

type SlackConfig struct {
	BotToken     string   `mapstructure:"botToken" json:"botToken"`
	AppToken     string   `mapstructure:"appToken" json:"appToken"`
	AllowedUsers []string `mapstructure:"allowedUsers" json:"allowedUsers"`
}

type WhatsAppConfig struct {
	AccessToken   string   `mapstructure:"accessToken" json:"accessToken"`
	PhoneNumberID string   `mapstructure:"phoneNumberId" json:"phoneNumberId"`
	VerifyToken   string   `mapstructure:"verifyToken" json:"verifyToken"`
	WebhookPort   int      `mapstructure:"webhookPort" json:"webhookPort"`
	AllowedUsers  []string `mapstructure:"allowedUsers" json:"allowedUsers"`
}

type FeishuConfig struct {
	AppID        string   `mapstructure:"appId" json:"appId"`
	AppSecret    string   `mapstructure:"appSecret" json:"appSecret"`
	WebhookPort  int      `mapstructure:"webhookPort" json:"webhookPort"`
	AllowedUsers []string `mapstructure:"allowedUsers" json:"allowedUsers"`
}

type DingTalkConfig struct {
	ClientID     string   `mapstructure:"clientId" json:"clientId"`
	ClientSecret string   `mapstructure:"clientSecret" json:"clientSecret"`
	WebhookPort  int      `mapstructure:"webhookPort" json:"webhookPort"`
	AllowedUsers []string `mapstructure:"allowedUsers" json:"allowedUsers"`
}

type QQConfig struct {
	AppID        string   `mapstructure:"appId" json:"appId"`
	Token        string   `mapstructure:"token" json:"token"`
	AppSecret    string   `mapstructure:"appSecret" json:"appSecret"`
	WebhookPort  int      `mapstructure:"webhookPort" json:"webhookPort"`
	AllowedUsers []string `mapstructure:"allowedUsers" json:"allowedUsers"`
}

type EmailConfig struct {
	IMAPServer   string   `mapstructure:"imapServer" json:"imapServer"`
	SMTPServer   string   `mapstructure:"smtpServer" json:"smtpServer"`
	Username     string   `mapstructure:"username" json:"username"`
	Password     string   `mapstructure:"password" json:"password"`
	AllowedUsers []string `mapstructure:"allowedUsers" json:"allowedUsers"`
}

type MochatConfig struct {
	URL          string   `mapstructure:"url" json:"url"`
	AllowedUsers []string `mapstructure:"allowedUsers" json:"allowedUsers"`
}

type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type MCPServerConfig struct {
	Command     string            `mapstructure:"command"`
	Args        []string          `mapstructure:"args"`
	Env         map[string]string `mapstructure:"env"`
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	ToolTimeout int               `mapstructure:"toolTimeout"` // seconds, default 30
}
