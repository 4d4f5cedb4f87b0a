package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitialize_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, "claude", cfg.Settings.Provider)
	require.Equal(t, 4317, cfg.Settings.WorkerPort)
	require.Equal(t, 2, cfg.Settings.MaxConcurrentAgents)
	require.Equal(t, "engineering", cfg.Settings.Mode)
}

func TestInitialize_SettingsFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "settings.json"), map[string]string{
		"CLAUDE_MEM_PROVIDER":    "gemini",
		"CLAUDE_MEM_WORKER_PORT": "9191",
	})

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, "gemini", cfg.Settings.Provider)
	require.Equal(t, 9191, cfg.Settings.WorkerPort)
}

func TestInitialize_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "settings.json"), map[string]string{
		"CLAUDE_MEM_PROVIDER": "gemini",
	})
	t.Setenv("CLAUDE_MEM_PROVIDER", "openrouter")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, "openrouter", cfg.Settings.Provider)
}

func TestInitialize_MigratesLegacyNestedEnvShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	legacy := map[string]any{
		"env": map[string]string{
			"CLAUDE_MEM_PROVIDER": "gemini",
			"CLAUDE_MEM_MODE":     "research",
		},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, "gemini", cfg.Settings.Provider)
	require.Equal(t, "research", cfg.Settings.Mode)

	// One-time write-back: the file on disk is now flat, not nested.
	rewritten, err := os.ReadFile(path)
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(rewritten, &flat))
	require.Equal(t, "gemini", flat["CLAUDE_MEM_PROVIDER"])
	_, hasEnvWrapper := flat["env"]
	require.False(t, hasEnvWrapper)
}

func TestInitialize_RejectsInvalidProvider(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "settings.json"), map[string]string{
		"CLAUDE_MEM_PROVIDER": "not-a-real-provider",
	})

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func writeJSON(t *testing.T, path string, m map[string]string) {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
