package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/claude-mem/worker/pkg/store"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "claude-mem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIterator_ReturnsMessageAssoonAsClaimable(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)

	sessID, err := db.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)
	_, err = db.EnqueueObservation(ctx, sessID, "content-1", "Read", "{}", "{}", "/tmp", 1)
	require.NoError(t, err)

	it := NewIterator(db, sessID, 200*time.Millisecond)
	res := it.Next(ctx)
	require.NoError(t, res.Err)
	require.False(t, res.Idle)
	require.NotNil(t, res.Message)
}

func TestIterator_TimesOutWhenQueueStaysEmpty(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)

	sessID, err := db.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)

	it := NewIterator(db, sessID, 50*time.Millisecond)
	res := it.Next(ctx)
	require.NoError(t, res.Err)
	require.True(t, res.Idle)
	require.Nil(t, res.Message)
}

func TestIterator_WakeCutsShortThePollInterval(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)

	sessID, err := db.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)

	it := NewIterator(db, sessID, 5*time.Second)
	wake := make(chan struct{}, 1)
	it.SetWake(wake)

	done := make(chan Result, 1)
	go func() { done <- it.Next(ctx) }()

	// Enqueue and nudge only after the iterator has had time to enter its
	// poll sleep, so the wake channel - not the idle timeout - is what
	// produces the claim.
	time.Sleep(20 * time.Millisecond)
	_, err = db.EnqueueObservation(ctx, sessID, "content-1", "Read", "{}", "{}", "/tmp", 1)
	require.NoError(t, err)
	wake <- struct{}{}

	select {
	case res := <-done:
		require.NoError(t, res.Err)
		require.False(t, res.Idle)
		require.NotNil(t, res.Message)
	case <-time.After(1 * time.Second):
		t.Fatal("wake did not cut short the poll sleep in time")
	}
}

func TestIterator_AbortReturnsPromptly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	db := openTestStore(t)

	sessID, err := db.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)

	it := NewIterator(db, sessID, 10*time.Second)
	cancel()

	start := time.Now()
	res := it.Next(ctx)
	require.Error(t, res.Err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}
