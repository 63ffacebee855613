package config

import (
	"fmt"
	"slices"
	"unicode/utf8"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Providers the fallback stage can be wired to.
var validProviders = []string{"gemini", "openai", "anthropic", "ollama", "none"}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind is custom",
		})
	}

	// The dispatcher compares the prefix against the first rune of the message.
	if cfg.Bot.Prefix != "" && utf8.RuneCountInString(cfg.Bot.Prefix) != 1 {
		issues = append(issues, ValidationIssue{
			Path:    "bot.prefix",
			Message: fmt.Sprintf("must be a single character, got %q", cfg.Bot.Prefix),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	issues = append(issues, validateAI(&cfg.AI)...)

	if cfg.Channels.IRC != nil {
		irc := cfg.Channels.IRC
		if irc.Server == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.irc.server",
				Message: "server is required",
			})
		}
		if irc.Nick == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.irc.nick",
				Message: "nick is required",
			})
		}
		if irc.Port < 0 || irc.Port > 65535 {
			issues = append(issues, ValidationIssue{
				Path:    "channels.irc.port",
				Message: fmt.Sprintf("port must be 0-65535, got %d", irc.Port),
			})
		}
		if irc.SASL && irc.Password == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.irc.sasl",
				Message: "SASL requires a password to be set",
			})
		}
	}

	if wa := cfg.Channels.WhatsApp; wa != nil {
		if wa.PhoneNumberID == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.whatsapp.phoneNumberId",
				Message: "phone number id is required",
			})
		}
		if wa.AccessToken == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.whatsapp.accessToken",
				Message: "access token is required",
			})
		}
		if wa.VerifyToken == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.whatsapp.verifyToken",
				Message: "verify token is required for webhook registration",
			})
		}
	}

	return issues
}

func validateAI(ai *AIConfig) []ValidationIssue {
	var issues []ValidationIssue

	if ai.Provider != "" && !slices.Contains(validProviders, ai.Provider) {
		issues = append(issues, ValidationIssue{
			Path:    "ai.provider",
			Message: fmt.Sprintf("must be one of %v, got %q", validProviders, ai.Provider),
		})
	}
	if ai.Provider != "" && ai.Provider != "none" && ai.Model == "" {
		issues = append(issues, ValidationIssue{
			Path:    "ai.model",
			Message: "required when a provider is set",
		})
	}
	if ai.Temperature != nil && (*ai.Temperature < 0 || *ai.Temperature > 2) {
		issues = append(issues, ValidationIssue{
			Path:    "ai.temperature",
			Message: fmt.Sprintf("must be between 0 and 2, got %g", *ai.Temperature),
		})
	}

	for name, p := range ai.Providers {
		if !slices.Contains(validProviders[:4], p.Kind) {
			issues = append(issues, ValidationIssue{
				Path:    "ai.providers." + name + ".kind",
				Message: fmt.Sprintf("must be one of %v, got %q", validProviders[:4], p.Kind),
			})
		}
	}
	for _, fb := range ai.Fallbacks {
		if _, ok := ai.Providers[fb]; !ok && fb != ai.Provider {
			issues = append(issues, ValidationIssue{
				Path:    "ai.fallbacks",
				Message: fmt.Sprintf("unknown provider %q", fb),
			})
		}
	}

	return issues
}
