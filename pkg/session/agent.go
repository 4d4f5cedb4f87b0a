package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/claude-mem/worker/pkg/config"
	"github.com/claude-mem/worker/pkg/models"
	"github.com/claude-mem/worker/pkg/queue"
	"github.com/claude-mem/worker/pkg/store"
)

// ProviderResult is one provider turn's output.
type ProviderResult struct {
	Text            string
	InputTokens     int
	OutputTokens    int
	MemorySessionID string // set when the provider itself assigns the session id; the current adapters leave it empty
}

// Provider is the uniform adapter interface every LLM backend implements.
type Provider interface {
	Name() string
	RunTurn(ctx context.Context, history []Turn, settings *config.Settings) (ProviderResult, error)
	// ShouldFallBack classifies whether err warrants invoking a fallback
	// provider rather than failing the turn outright.
	ShouldFallBack(err error) bool
}

// ResponseProcessor parses a provider reply, stores the result, mirrors it
// into the vector store, and confirms the originating pending message.
type ResponseProcessor interface {
	ProcessObservation(ctx context.Context, messageID int64, memorySessionID, project, replyText string, promptNumber, discoveryTokens int) (stored bool, err error)
	ProcessSummary(ctx context.Context, messageID int64, memorySessionID, project, replyText string, promptNumber, discoveryTokens int) (stored bool, err error)
}

// ErrUnrecoverable marks an agent-loop error that should mark the session
// failed on abort, rather than leaving it active for a later completion
// hook to finalize.
var ErrUnrecoverable = errors.New("session: unrecoverable error")

// Deps bundles everything BuildAgentLoop needs beyond the ActiveSession
// itself.
type Deps struct {
	Store                     *store.Store
	Settings                  *config.Settings
	IdleTimeout               time.Duration
	RetryCeiling              int
	Provider                  Provider
	Fallback                  Provider // nil if no fallback configured
	Processor                 ResponseProcessor
	SynthesizeMemorySessionID func(contentSessionID string) string
}

// BuildAgentLoop returns an AgentLoopFunc closing over deps, suitable for
// registration with a Registry.
func BuildAgentLoop(deps Deps) AgentLoopFunc {
	return func(ctx context.Context, sess *ActiveSession) {
		runAgentLoop(ctx, sess, deps)
	}
}

func runAgentLoop(ctx context.Context, sess *ActiveSession, deps Deps) {
	if err := ensureMemorySessionID(ctx, sess, deps); err != nil {
		slog.Error("agent loop: cannot establish memory session id, failing hard",
			"session_db_id", sess.SessionDBID, "err", err)
		_ = deps.Store.MarkSessionFailed(ctx, sess.SessionDBID)
		return
	}

	sess.appendTurn(Turn{Role: "user", Text: buildInitialPrompt(sess)})

	it := queue.NewIterator(deps.Store, sess.SessionDBID, deps.IdleTimeout)
	it.SetWake(sess.wake)
	unrecoverable := false

	for {
		res := it.Next(ctx)
		switch {
		case res.Err != nil:
			// Context canceled: either hook-initiated completion or abort.
			// Only mark failed if this goroutine itself flagged an
			// unrecoverable error before the cancel took effect.
			if unrecoverable {
				_ = deps.Store.MarkSessionFailed(ctx, sess.SessionDBID)
			}
			return
		case res.Idle:
			_ = deps.Store.MarkSessionCompleted(ctx, sess.SessionDBID)
			return
		}

		msg := res.Message
		sess.addProcessing(msg.ID)

		if err := handleMessage(ctx, sess, msg, deps); err != nil {
			slog.Error("agent loop: message handling failed", "message_id", msg.ID, "err", err)
			if errors.Is(err, ErrUnrecoverable) {
				unrecoverable = true
				sess.Cancel()
			}
		}

		sess.removeProcessing(msg.ID)
	}
}

func ensureMemorySessionID(ctx context.Context, sess *ActiveSession, deps Deps) error {
	if sess.MemorySessionID != "" {
		return nil
	}
	existing, err := deps.Store.GetSessionByID(ctx, sess.SessionDBID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if existing.MemorySessionID != nil && *existing.MemorySessionID != "" {
		sess.MemorySessionID = *existing.MemorySessionID
		return nil
	}

	// Every provider gets an id synthesized up front so observations have
	// somewhere to go; a provider that reports its own id in
	// ProviderResult.MemorySessionID replaces it in handleMessage.
	synthesized := deps.SynthesizeMemorySessionID(sess.ContentSessionID)
	if err := deps.Store.RegisterMemorySessionID(ctx, sess.SessionDBID, synthesized); err != nil {
		return fmt.Errorf("register synthesized memory session id: %w", err)
	}
	sess.MemorySessionID = synthesized
	return nil
}

func buildInitialPrompt(sess *ActiveSession) string {
	if sess.LastPromptNumber == 0 {
		return fmt.Sprintf("New session for project %s. Initial request: %s", sess.Project, sess.UserPrompt)
	}
	return fmt.Sprintf("Continuing session for project %s.", sess.Project)
}

func handleMessage(ctx context.Context, sess *ActiveSession, msg *models.PendingMessage, deps Deps) error {
	if sess.MemorySessionID == "" {
		return fmt.Errorf("%w: no memory_session_id for session %d", ErrUnrecoverable, sess.SessionDBID)
	}

	prompt := buildMessagePrompt(msg)
	sess.appendTurn(Turn{Role: "user", Text: prompt})

	result, err := callWithFallback(ctx, sess, deps)
	if err != nil {
		// Neither provider nor fallback succeeded; the message stays
		// processing and stale recovery will retry it later.
		return fmt.Errorf("provider call failed: %w", err)
	}
	sess.addTokens(result.InputTokens, result.OutputTokens)

	if result.MemorySessionID != "" && sess.MemorySessionID != result.MemorySessionID {
		if err := deps.Store.RegisterMemorySessionID(ctx, sess.SessionDBID, result.MemorySessionID); err != nil {
			return fmt.Errorf("register provider-assigned memory session id: %w", err)
		}
		sess.MemorySessionID = result.MemorySessionID
	}

	if result.Text == "" {
		slog.Warn("empty provider reply, leaving message for stale recovery", "message_id", msg.ID)
		return nil
	}
	sess.appendTurn(Turn{Role: "assistant", Text: result.Text})

	discoveryTokens := result.InputTokens + result.OutputTokens
	var stored bool
	switch msg.MessageType {
	case models.MessageTypeObservation:
		stored, err = deps.Processor.ProcessObservation(ctx, msg.ID, sess.MemorySessionID, sess.Project, result.Text, msg.PromptNumber, discoveryTokens)
	case models.MessageTypeSummarize:
		stored, err = deps.Processor.ProcessSummary(ctx, msg.ID, sess.MemorySessionID, sess.Project, result.Text, msg.PromptNumber, discoveryTokens)
	default:
		return fmt.Errorf("unknown pending message type %q", msg.MessageType)
	}
	if err != nil {
		return fmt.Errorf("process reply: %w", err)
	}
	if !stored {
		slog.Warn("reply could not be parsed into a storable record, leaving for stale recovery", "message_id", msg.ID)
	}
	return nil
}

func buildMessagePrompt(msg *models.PendingMessage) string {
	if msg.MessageType == models.MessageTypeSummarize {
		return fmt.Sprintf("Summarize the session so far. Last assistant message:\n%s", msg.LastAssistantMessage)
	}
	return fmt.Sprintf("Tool call observed.\nTool: %s\nInput: %s\nResponse: %s\nCWD: %s",
		msg.ToolName, msg.ToolInput, msg.ToolResponse, msg.CWD)
}

func callWithFallback(ctx context.Context, sess *ActiveSession, deps Deps) (ProviderResult, error) {
	result, err := deps.Provider.RunTurn(ctx, sess.history(), deps.Settings)
	if err == nil {
		return result, nil
	}
	if deps.Fallback == nil || !deps.Provider.ShouldFallBack(err) {
		return ProviderResult{}, err
	}
	slog.Warn("provider call failed, invoking fallback", "provider", deps.Provider.Name(), "fallback", deps.Fallback.Name(), "err", err)
	return deps.Fallback.RunTurn(ctx, sess.history(), deps.Settings)
}
