package config

// defaultSettingsMap returns the built-in defaults for every recognized
// CLAUDE_MEM_* key, as flat strings — the same representation the settings
// file and environment overrides use, so all three sources merge uniformly.
func defaultSettingsMap(dataDir string) map[string]string {
	return map[string]string{
		"CLAUDE_MEM_DATA_DIR": dataDir,

		"CLAUDE_MEM_PROVIDER":           "claude",
		"CLAUDE_MEM_CLAUDE_AUTH_METHOD": "cli",

		"CLAUDE_MEM_GEMINI_MODEL":                 "gemini-2.0-flash",
		"CLAUDE_MEM_GEMINI_RATE_LIMITING_ENABLED": "true",

		"CLAUDE_MEM_WORKER_HOST": "127.0.0.1",
		"CLAUDE_MEM_WORKER_PORT": "4317",

		"CLAUDE_MEM_SKIP_TOOLS": "",

		"CLAUDE_MEM_CONTEXT_TOTAL_OBSERVATIONS":     "40",
		"CLAUDE_MEM_CONTEXT_SESSION_COUNT":          "5",
		"CLAUDE_MEM_CONTEXT_FULL_OBSERVATION_COUNT": "8",
		"CLAUDE_MEM_CONTEXT_SHOW_LEGEND":            "true",
		"CLAUDE_MEM_CONTEXT_SHOW_ECONOMICS":         "true",
		"CLAUDE_MEM_CONTEXT_SHOW_PREVIOUS":          "true",

		"CLAUDE_MEM_MAX_CONCURRENT_AGENTS": "2",

		"CLAUDE_MEM_MODE": "engineering",

		"CLAUDE_MEM_CHROMA_MODE": "embedded",
		"CLAUDE_MEM_CHROMA_HOST": "127.0.0.1",
		"CLAUDE_MEM_CHROMA_PORT": "8200",
		"CLAUDE_MEM_CHROMA_SSL":  "false",

		"CLAUDE_MEM_EXCLUDED_PROJECTS": "",

		// Not in spec's "recognized options" table, but every other queue
		// tunable there is settings-driven and these resolve Open Questions
		// 1 and 2 (DESIGN.md) — exposed the same way, not hardcoded.
		"CLAUDE_MEM_QUEUE_RETRY_CEILING":        "5",
		"CLAUDE_MEM_QUEUE_STALE_THRESHOLD_SECS": "180",
		"CLAUDE_MEM_QUEUE_STALE_SWEEP_INTERVAL": "60",

		// Also settings-driven rather than hardcoded, for the same reason:
		// how long an agent loop waits for the next message before winding
		// its session down.
		"CLAUDE_MEM_SESSION_IDLE_TIMEOUT_SECS": "180",
	}
}
