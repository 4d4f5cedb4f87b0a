package provider

import (
	"fmt"

	"github.com/claude-mem/worker/pkg/config"
	"github.com/claude-mem/worker/pkg/session"
)

const defaultMaxConcurrentCLICalls = 4

// Resolve builds the primary provider and, if configured, its fallback
// from settings and credentials.
func Resolve(settings *config.Settings, creds *config.Credentials) (primary session.Provider, fallback session.Provider, err error) {
	primary, err = build(settings.Provider, settings, creds)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve primary provider %q: %w", settings.Provider, err)
	}

	fallbackName := fallbackFor(settings.Provider)
	if fallbackName == "" {
		return primary, nil, nil
	}
	fallback, ferr := build(fallbackName, settings, creds)
	if ferr != nil {
		// A missing fallback isn't fatal — the agent loop just won't have
		// one to invoke on error.
		return primary, nil, nil
	}
	return primary, fallback, nil
}

func build(name string, settings *config.Settings, creds *config.Credentials) (session.Provider, error) {
	switch name {
	case "claude":
		if settings.ClaudeAuthMethod == "api" {
			if creds.AnthropicAPIKey == "" {
				return nil, fmt.Errorf("claude auth method %q selected but no Anthropic API key configured", settings.ClaudeAuthMethod)
			}
			return NewClaudeAPI(creds.AnthropicAPIKey, ""), nil
		}
		return NewClaudeCLI("", "", creds.AnthropicAPIKey, defaultMaxConcurrentCLICalls)
	case "gemini":
		if creds.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but no API key configured")
		}
		return NewGemini(creds.GeminiAPIKey), nil
	case "openrouter":
		if creds.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter provider selected but no API key configured")
		}
		return NewOpenRouter(creds.OpenRouterAPIKey, "anthropic/claude-3.5-haiku"), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// fallbackFor returns the default fallback provider name for primary, or
// "" if none is defined. Claude falls back to Gemini when available;
// REST-based providers have no further fallback configured by default.
func fallbackFor(primary string) string {
	if primary == "claude" {
		return "gemini"
	}
	return ""
}
