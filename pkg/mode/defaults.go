package mode

import (
	"os"
	"path/filepath"
)

// DefaultModeName is CLAUDE_MEM_MODE's built-in default.
const DefaultModeName = "engineering"

// defaultModeJSON is the built-in "engineering" mode, written to disk on
// first run the same way config.Initialize seeds settings.json: present so
// the worker has a usable mode without requiring the operator to author
// one first, but fully overridable by editing or replacing the file.
const defaultModeJSON = `{
  "name": "engineering",
  "prompts": {
    "init": "You are observing a software engineering session. Extract durable, reusable knowledge as it happens; do not narrate routine steps.",
    "observation": "Given this tool call and its result, emit zero or more <observation> elements describing anything worth remembering: a gotcha, a pattern, a convention, or an architecture decision. Emit <skip reason=\"...\"/> if nothing is worth keeping.",
    "summary": "Summarize this session: what was requested, what was investigated, what was learned, what was completed, and what remains."
  },
  "observation_types": [
    {"id": "discovery", "label": "Discovery", "emoji": "🔍", "work_emoji": "🔧"},
    {"id": "gotcha", "label": "Gotcha", "emoji": "⚠️", "work_emoji": "🔧"},
    {"id": "decision", "label": "Decision", "emoji": "🧭", "work_emoji": "🔧"},
    {"id": "pattern", "label": "Pattern", "emoji": "🧩", "work_emoji": "🔧"}
  ],
  "observation_concepts": [
    {"id": "gotcha", "label": "Gotcha"},
    {"id": "pattern", "label": "Pattern"},
    {"id": "convention", "label": "Convention"},
    {"id": "architecture-decision", "label": "Architecture decision"},
    {"id": "how-it-works", "label": "How it works"}
  ]
}
`

// EnsureDefaultModeFile writes modes/engineering.json into dir if it does
// not already exist. Called once at startup; never overwrites an
// operator-edited file.
func EnsureDefaultModeFile(dir string) error {
	path := filepath.Join(dir, DefaultModeName+".json")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultModeJSON), 0o644)
}
