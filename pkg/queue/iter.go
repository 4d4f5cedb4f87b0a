// Package queue provides the blocking per-session iterator agent loops
// consume from, honoring an idle-timeout contract, layered over the
// durable claim-confirm SQL in pkg/store.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/claude-mem/worker/pkg/models"
	"github.com/claude-mem/worker/pkg/store"
)

const (
	pollInterval   = 200 * time.Millisecond
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Result is what Next returns: exactly one of Message, Idle, or Err is set.
type Result struct {
	Message *models.PendingMessage
	Idle    bool
	Err     error
}

// Iterator blocks a session's agent loop until a message is claimable, the
// idle timeout elapses, or ctx is canceled (the caller's abort signal).
type Iterator struct {
	db          *store.Store
	sessionDBID int64
	idleTimeout time.Duration
	wake        <-chan struct{}
}

// NewIterator builds an iterator over one session's pending messages.
func NewIterator(db *store.Store, sessionDBID int64, idleTimeout time.Duration) *Iterator {
	return &Iterator{db: db, sessionDBID: sessionDBID, idleTimeout: idleTimeout}
}

// SetWake installs a channel the poll loop also selects on, so a caller can
// cut short the pollInterval wait (e.g. a subagent-complete notification)
// instead of waiting out the remaining sleep. A nil channel (the default)
// never fires and leaves polling on its normal cadence.
func (it *Iterator) SetWake(wake <-chan struct{}) {
	it.wake = wake
}

// Next blocks until it can return a claimed message, an idle timeout, or
// ctx.Err() on abort. On a claim error it backs off exponentially (capped
// at maxBackoff) before retrying; an abort during backoff returns promptly
// instead of waiting out the remaining sleep.
func (it *Iterator) Next(ctx context.Context) Result {
	deadline := time.Now().Add(it.idleTimeout)
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return Result{Err: ctx.Err()}
		}

		msg, err := it.db.ClaimNextForSession(ctx, it.sessionDBID)
		switch {
		case err == nil:
			return Result{Message: msg}
		case errors.Is(err, store.ErrNotFound):
			if time.Now().After(deadline) {
				return Result{Idle: true}
			}
			if !it.sleepOrAbortOrWake(ctx, pollInterval) {
				return Result{Err: ctx.Err()}
			}
		default:
			if !sleepOrAbort(ctx, backoff) {
				return Result{Err: ctx.Err()}
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// sleepOrAbort sleeps for d, returning false early if ctx is canceled
// first.
func sleepOrAbort(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sleepOrAbortOrWake is sleepOrAbort plus a third wake channel that ends the
// sleep early without counting as an abort.
func (it *Iterator) sleepOrAbortOrWake(ctx context.Context, d time.Duration) bool {
	if it.wake == nil {
		return sleepOrAbort(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-it.wake:
		return true
	}
}
