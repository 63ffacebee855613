package config

// Config is the root configuration for bella.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway,omitempty" toml:"gateway,omitempty"`
	Bot      BotConfig      `yaml:"bot,omitempty" toml:"bot,omitempty"`
	Plugins  PluginsConfig  `yaml:"plugins,omitempty" toml:"plugins,omitempty"`
	AI       AIConfig       `yaml:"ai,omitempty" toml:"ai,omitempty"`
	Channels ChannelsConfig `yaml:"channels,omitempty" toml:"channels,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty" toml:"store,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty" toml:"logging,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int      `yaml:"port,omitempty" toml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty" toml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty" toml:"customBindHost,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty" toml:"allowedOrigins,omitempty"`
}

// BotConfig controls dispatch behavior.
type BotConfig struct {
	Name    string `yaml:"name,omitempty" toml:"name,omitempty"`
	Creator string `yaml:"creator,omitempty" toml:"creator,omitempty"`
	Prefix  string `yaml:"prefix,omitempty" toml:"prefix,omitempty"`
	Persona string `yaml:"persona,omitempty" toml:"persona,omitempty"` // overrides the built-in fallback persona
}

// PluginsConfig controls plugin discovery.
type PluginsConfig struct {
	Dir      string                    `yaml:"dir,omitempty" toml:"dir,omitempty"`
	Watch    bool                      `yaml:"watch,omitempty" toml:"watch,omitempty"`
	Settings map[string]map[string]any `yaml:"settings,omitempty" toml:"settings,omitempty"` // plugin id -> setup config
}

// AIConfig selects the completion provider used by the fallback stage.
type AIConfig struct {
	Provider    string   `yaml:"provider,omitempty" toml:"provider,omitempty"` // "gemini" | "openai" | "anthropic" | "ollama"
	Model       string   `yaml:"model,omitempty" toml:"model,omitempty"`
	APIKey      string   `yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	Endpoint    string   `yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
	Fallbacks   []string `yaml:"fallbacks,omitempty" toml:"fallbacks,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty" toml:"maxTokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty" toml:"temperature,omitempty"`

	// Extra providers keyed by name, tried in Fallbacks order.
	Providers map[string]ProviderEntry `yaml:"providers,omitempty" toml:"providers,omitempty"`
}

// ProviderEntry configures one additional completion provider.
type ProviderEntry struct {
	Kind     string `yaml:"kind" toml:"kind"`
	Model    string `yaml:"model" toml:"model"`
	APIKey   string `yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
}

// ChannelsConfig defines transport-specific settings.
type ChannelsConfig struct {
	Web      WebConfig       `yaml:"web,omitempty" toml:"web,omitempty"`
	IRC      *IRCConfig      `yaml:"irc,omitempty" toml:"irc,omitempty"`
	WhatsApp *WhatsAppConfig `yaml:"whatsapp,omitempty" toml:"whatsapp,omitempty"`
}

// WebConfig controls the browser chat channel.
type WebConfig struct {
	Disabled bool `yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server" toml:"server"`
	Port     int      `yaml:"port,omitempty" toml:"port,omitempty"`
	Nick     string   `yaml:"nick" toml:"nick"`
	Password string   `yaml:"password,omitempty" toml:"password,omitempty"`
	Channels []string `yaml:"channels" toml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty" toml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty" toml:"sasl,omitempty"`
	Owner    string   `yaml:"owner,omitempty" toml:"owner,omitempty"` // nick treated as admin

	// MentionOnly drops channel messages that do not mention the bot nick.
	MentionOnly bool `yaml:"mentionOnly,omitempty" toml:"mentionOnly,omitempty"`
}

// WhatsAppConfig configures the WhatsApp Cloud API channel.
type WhatsAppConfig struct {
	PhoneNumberID string   `yaml:"phoneNumberId" toml:"phoneNumberId"`
	AccessToken   string   `yaml:"accessToken" toml:"accessToken"`
	VerifyToken   string   `yaml:"verifyToken" toml:"verifyToken"`
	AppSecret     string   `yaml:"appSecret,omitempty" toml:"appSecret,omitempty"` // checks X-Hub-Signature-256 when set
	APIBase       string   `yaml:"apiBase,omitempty" toml:"apiBase,omitempty"`
	Admins        []string `yaml:"admins,omitempty" toml:"admins,omitempty"` // sender ids treated as admin
}

// StoreConfig controls persistence.
type StoreConfig struct {
	Path string `yaml:"path,omitempty" toml:"path,omitempty"` // empty = <home>/data/bella.db
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty" toml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty" toml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty" toml:"consoleStyle,omitempty"` // "pretty" | "json"
}
