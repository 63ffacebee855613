package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.AI.APIKey = expandEnvVars(cfg.AI.APIKey)
	for name, p := range cfg.AI.Providers {
		p.APIKey = expandEnvVars(p.APIKey)
		cfg.AI.Providers[name] = p
	}
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
	if wa := cfg.Channels.WhatsApp; wa != nil {
		wa.AccessToken = expandEnvVars(wa.AccessToken)
		wa.VerifyToken = expandEnvVars(wa.VerifyToken)
		wa.AppSecret = expandEnvVars(wa.AppSecret)
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func unmarshal(path string, data []byte, v any) error {
	if isTOML(path) {
		return toml.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

func marshal(path string, v any) ([]byte, error) {
	if isTOML(path) {
		return toml.Marshal(v)
	}
	return yaml.Marshal(v)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := unmarshal(path, data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := unmarshal(path, data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to the config file in its own format.
func SaveRaw(path string, raw map[string]any) error {
	data, err := marshal(path, raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Bot.Name == "" {
		cfg.Bot.Name = d.Bot.Name
	}
	if cfg.Bot.Creator == "" {
		cfg.Bot.Creator = d.Bot.Creator
	}
	if cfg.Bot.Prefix == "" {
		cfg.Bot.Prefix = d.Bot.Prefix
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = d.AI.Provider
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = d.AI.MaxTokens
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if wa := cfg.Channels.WhatsApp; wa != nil && wa.APIBase == "" {
		wa.APIBase = "https://graph.facebook.com/v19.0"
	}
	if irc := cfg.Channels.IRC; irc != nil && irc.Port == 0 {
		if irc.UseTLS {
			irc.Port = 6697
		} else {
			irc.Port = 6667
		}
	}
}

// applyEnvOverrides reads BELLA_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BELLA_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("BELLA_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("BELLA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("BELLA_PLUGINS_DIR"); v != "" {
		cfg.Plugins.Dir = v
	}
	if v := os.Getenv("BELLA_BOT_PREFIX"); v != "" {
		cfg.Bot.Prefix = v
	}
	if v := os.Getenv("BELLA_AI_PROVIDER"); v != "" {
		cfg.AI.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("BELLA_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("BELLA_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("BELLA_WHATSAPP_TOKEN"); v != "" && cfg.Channels.WhatsApp != nil {
		cfg.Channels.WhatsApp.AccessToken = v
	}
}
