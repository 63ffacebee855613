package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 3000,
			Bind: "loopback",
		},
		Bot: BotConfig{
			Name:    "Bella",
			Creator: "Tomii",
			Prefix:  "/",
		},
		AI: AIConfig{
			Provider:  "gemini",
			Model:     "gemini-1.5-flash",
			MaxTokens: 1024,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
