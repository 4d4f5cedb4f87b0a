// Package provider implements the uniform provider adapter interface:
// Claude via the local CLI, Gemini and OpenRouter via REST.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/claude-mem/worker/pkg/config"
	"github.com/claude-mem/worker/pkg/session"
)

// maxPromptBytes bounds what gets shelled out to the CLI; a caller-supplied
// tool response larger than this is truncated rather than rejected outright.
const maxPromptBytes = 200_000

const claudeTurnTimeout = 90 * time.Second

// windowsTimeoutMultiplier accounts for the heavier process-spawn cost
// observed launching subprocesses through cmd.exe on Windows.
const windowsTimeoutMultiplier = 1.5

// ambientAPIKeyEnvVar is stripped from the subprocess environment so a
// credential meant for the operator's own interactive `claude` sessions
// never silently bills that account for an internal extraction turn.
const ambientAPIKeyEnvVar = "ANTHROPIC_API_KEY"

// ClaudeCLI drives the local `claude` binary in print mode, one subprocess
// per turn. Concurrency is capped with a semaphore and guarded by a circuit
// breaker, both ported from thebtf-engram's sdk-processor.go.
type ClaudeCLI struct {
	binaryPath string
	model      string
	apiKey     string
	sem        chan struct{}
	breaker    *CircuitBreaker
}

// NewClaudeCLI resolves the claude binary (explicit path, else $PATH) and
// builds the adapter. maxConcurrent bounds simultaneous subprocesses. apiKey
// is the claude-mem-managed credential, re-injected into the subprocess
// environment in place of whatever ambient key the parent process has; an
// empty apiKey leaves the subprocess to fall back to an OAuth token, if any.
func NewClaudeCLI(binaryPath, model, apiKey string, maxConcurrent int) (*ClaudeCLI, error) {
	path := binaryPath
	if path == "" {
		resolved, err := exec.LookPath("claude")
		if err != nil {
			return nil, fmt.Errorf("claude CLI not found in PATH and no explicit path configured: %w", err)
		}
		path = resolved
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("claude CLI not found at %s: %w", path, err)
	}

	return &ClaudeCLI{
		binaryPath: path,
		model:      model,
		apiKey:     apiKey,
		sem:        make(chan struct{}, maxConcurrent),
		breaker:    NewCircuitBreaker(5, 60),
	}, nil
}

func (c *ClaudeCLI) Name() string { return "claude" }

// RunTurn shells out to `claude --print` with the conversation history
// flattened into one prompt. Claude assigns its own session id implicitly;
// this adapter has no session-resume flag wired (each turn is stateless
// from the CLI's point of view, with history replayed explicitly), so
// ProviderResult.MemorySessionID is always empty here — pkg/session/agent.go
// synthesizes an id instead for this adapter too, matching the non-Claude
// path.
func (c *ClaudeCLI) RunTurn(ctx context.Context, history []session.Turn, settings *config.Settings) (session.ProviderResult, error) {
	if !c.breaker.Allow() {
		return session.ProviderResult{}, fmt.Errorf("claude CLI circuit breaker open (state=%s)", c.breaker.State())
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return session.ProviderResult{}, ctx.Err()
	}

	prompt := sanitizePrompt(flattenHistory(history))
	out, err := c.invoke(ctx, prompt)
	if err != nil {
		c.breaker.RecordFailure()
		return session.ProviderResult{}, err
	}
	c.breaker.RecordSuccess()
	return session.ProviderResult{Text: strings.TrimSpace(out)}, nil
}

func (c *ClaudeCLI) invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, turnTimeout())
	defer cancel()

	args := []string{"--print", "--strict-mcp-config", "--disable-slash-commands", "--model", modelOrDefault(c.model), "-p", prompt}
	cmd := c.buildCmd(ctx, args) // #nosec G204 -- binaryPath is operator-configured, prompt is internally built
	cmd.Dir = os.TempDir()       // run outside any project dir so the turn never re-triggers our own hooks
	cmd.Env = c.buildEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("claude CLI failed: %w (stderr: %s)", err, stderr.String())
	}
	return stdout.String(), nil
}

// buildCmd dispatches directly to binaryPath, except on Windows when the
// path contains spaces or carries a .cmd suffix, where it must be launched
// through the shell interpreter for quoting/extension resolution to work.
func (c *ClaudeCLI) buildCmd(ctx context.Context, args []string) *exec.Cmd {
	if runtime.GOOS == "windows" && (strings.Contains(c.binaryPath, " ") || strings.HasSuffix(strings.ToLower(c.binaryPath), ".cmd")) {
		shellArgs := append([]string{"/d", "/c", c.binaryPath}, args...)
		return exec.CommandContext(ctx, "cmd.exe", shellArgs...) // #nosec G204 -- binaryPath is operator-configured
	}
	return exec.CommandContext(ctx, c.binaryPath, args...) // #nosec G204 -- binaryPath is operator-configured
}

// buildEnv inherits the parent process environment, strips the ambient
// Anthropic API key so the subprocess never bills the wrong account, and
// re-injects the claude-mem-managed key only if one is configured — leaving
// an OAuth token already present in the environment untouched otherwise.
func (c *ClaudeCLI) buildEnv() []string {
	ambient := os.Environ()
	env := make([]string, 0, len(ambient)+2)
	for _, kv := range ambient {
		if strings.HasPrefix(kv, ambientAPIKeyEnvVar+"=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "CLAUDE_MEM_INTERNAL=1")
	if c.apiKey != "" {
		env = append(env, ambientAPIKeyEnvVar+"="+c.apiKey)
	}
	return env
}

// turnTimeout applies the Windows multiplier to the base per-turn timeout.
func turnTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return time.Duration(float64(claudeTurnTimeout) * windowsTimeoutMultiplier)
	}
	return claudeTurnTimeout
}

func modelOrDefault(model string) string {
	if model == "" {
		return "haiku"
	}
	return model
}

// ShouldFallBack classifies errors worth retrying against a fallback
// provider: anything that looks like unavailability or overload, not a
// prompt-content problem that would fail identically elsewhere.
func (c *ClaudeCLI) ShouldFallBack(err error) bool {
	return ClassifyFallback(err)
}

func flattenHistory(history []session.Turn) string {
	var b strings.Builder
	for _, turn := range history {
		b.WriteString(strings.ToUpper(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n\n")
	}
	s := b.String()
	if len(s) > maxPromptBytes {
		s = s[len(s)-maxPromptBytes:]
	}
	return s
}

// sanitizePrompt strips NUL bytes, which cannot be carried in a process
// argument, from the prompt embedded in the -p argument; all other
// characters pass through unchanged.
func sanitizePrompt(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		return r
	}, s)
}
