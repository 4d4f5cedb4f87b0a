package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Credentials holds the provider API keys loaded from the managed .env
// credential file. Never sourced from the ambient process environment: a
// single explicit file path, not auto-discovery.
type Credentials struct {
	AnthropicAPIKey  string
	GeminiAPIKey     string
	OpenRouterAPIKey string
}

// LoadCredentials reads KEY=VALUE lines (with '#' comments and optional
// quoting) from path, exactly as godotenv parses a .env file — the same
// loader and call shape as cmd/tarsy/main.go uses for its own .env. A
// missing file yields empty credentials, not an error: the system may run
// with CLI-based auth that needs no stored key.
func LoadCredentials(path string) (*Credentials, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Credentials{}, nil
	}

	env, err := godotenv.Read(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	return &Credentials{
		AnthropicAPIKey:  env["ANTHROPIC_API_KEY"],
		GeminiAPIKey:     env["GEMINI_API_KEY"],
		OpenRouterAPIKey: env["OPENROUTER_API_KEY"],
	}, nil
}
