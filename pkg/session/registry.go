package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AgentLoopFunc runs one session's agent loop until completion or abort.
// The registry invokes it in its own goroutine; it must return once ctx is
// canceled.
type AgentLoopFunc func(ctx context.Context, sess *ActiveSession)

// Registry is the process-wide session_db_id → ActiveSession map, admitting
// new sessions under a max-concurrent-agents cap.
type Registry struct {
	mu            sync.Mutex
	sessions      map[int64]*ActiveSession
	maxConcurrent int
	runAgentLoop  AgentLoopFunc
}

// NewRegistry builds a registry admitting at most maxConcurrent sessions at
// once.
func NewRegistry(maxConcurrent int, runAgentLoop AgentLoopFunc) *Registry {
	return &Registry{
		sessions:      make(map[int64]*ActiveSession),
		maxConcurrent: maxConcurrent,
		runAgentLoop:  runAgentLoop,
	}
}

// GetOrStart returns the existing ActiveSession for sessionDBID, or admits
// and starts one. When the cap is reached, the oldest idle session is
// wound down first; if every active session is busy, the new one is
// refused.
func (r *Registry) GetOrStart(ctx context.Context, sessionDBID int64, contentSessionID, project, userPrompt string) (*ActiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[sessionDBID]; ok {
		return sess, nil
	}

	if len(r.sessions) >= r.maxConcurrent {
		victim := r.oldestIdleLocked()
		if victim == nil {
			return nil, fmt.Errorf("session registry at capacity (%d active, max %d) and no idle session to evict", len(r.sessions), r.maxConcurrent)
		}
		slog.Info("winding down oldest idle session to admit new one",
			"evicted_session_db_id", victim.SessionDBID, "new_session_db_id", sessionDBID)
		victim.Cancel()
		delete(r.sessions, victim.SessionDBID)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &ActiveSession{
		SessionDBID:      sessionDBID,
		ContentSessionID: contentSessionID,
		Project:          project,
		UserPrompt:       userPrompt,
		StartTime:        time.Now(),
		cancel:           cancel,
		done:             make(chan struct{}),
		wake:             make(chan struct{}, 1),
	}
	r.sessions[sessionDBID] = sess

	go func() {
		defer close(sess.done)
		r.runAgentLoop(sessCtx, sess)
		r.mu.Lock()
		delete(r.sessions, sessionDBID)
		r.mu.Unlock()
	}()

	return sess, nil
}

// Get returns the ActiveSession for sessionDBID, if currently active.
func (r *Registry) Get(sessionDBID int64) (*ActiveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionDBID]
	return sess, ok
}

// Nudge wakes sessionDBID's queue iterator early, if it's currently active.
// A session not currently tracked (already idle-wound-down, or never
// started) is a no-op: its next GetOrStart will pick up queued work anyway.
func (r *Registry) Nudge(sessionDBID int64) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionDBID]
	r.mu.Unlock()
	if ok {
		sess.Nudge()
	}
}

// oldestIdleLocked returns the idle session with the earliest StartTime, or
// nil if none is idle. Callers must hold r.mu.
func (r *Registry) oldestIdleLocked() *ActiveSession {
	var oldest *ActiveSession
	for _, sess := range r.sessions {
		if !sess.IsIdle() {
			continue
		}
		if oldest == nil || sess.StartTime.Before(oldest.StartTime) {
			oldest = sess
		}
	}
	return oldest
}

// Len reports how many sessions are currently active.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ShutdownAll cancels every active session and waits for its goroutine to
// return, used on worker process shutdown.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	sessions := make([]*ActiveSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sess.Cancel()
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		<-sess.done
	}
}
