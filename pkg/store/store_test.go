package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/claude-mem/worker/pkg/models"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claude-mem.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RunsMigrationsIdempotently(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claude-mem.db")

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Re-opening the same file must re-apply cleanly: every migration
	// probes live schema state rather than trusting schema_versions alone.
	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	var version int
	require.NoError(t, s2.DB().QueryRowContext(ctx, `SELECT MAX(version) FROM schema_versions`).Scan(&version))
	require.Equal(t, 5, version)
}

func TestOpen_RecoversFromLeftoverRebuildTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claude-mem.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)

	// Simulate a crash mid-rebuild: a stray pending_messages_new table and
	// a schema_versions row removed as if the crash happened just before
	// the commit that records migration 3.
	_, err = s.DB().ExecContext(ctx, `CREATE TABLE pending_messages_new (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `DELETE FROM schema_versions WHERE version = 3`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	var hasCheck int
	err = s2.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='pending_messages_new'`,
	).Scan(&hasCheck)
	require.NoError(t, err)
	require.Equal(t, 0, hasCheck, "leftover rebuild table must be cleared before rebuilding again")
}

func TestCreateSession_IsIdempotentGetOrCreate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id1, err := s.CreateSession(ctx, "content-1", "proj-a", "do the thing", nil)
	require.NoError(t, err)

	id2, err := s.CreateSession(ctx, "content-1", "", "ignored on repeat call", nil)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	sess, err := s.GetSessionByID(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "proj-a", sess.Project, "backfill must not clobber an already-set project")
}

func TestRegisterMemorySessionID_DistinctFromContentSessionID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)

	err = s.RegisterMemorySessionID(ctx, id, "content-1")
	require.Error(t, err, "memory session id must never equal content session id")
}

func TestRegisterMemorySessionID_CascadesToChildren(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)
	require.NoError(t, s.RegisterMemorySessionID(ctx, id, "mem-v1"))

	_, err = s.StoreObservation(ctx, &models.Observation{
		MemorySessionID: "mem-v1", Project: "proj-a", Type: "discovery", Title: "t",
		ContentHash: "abc123",
	})
	require.NoError(t, err)

	require.NoError(t, s.RegisterMemorySessionID(ctx, id, "mem-v2"))

	obs, err := s.ListObservationsForSession(ctx, "mem-v2")
	require.NoError(t, err)
	require.Len(t, obs, 1, "ON UPDATE CASCADE must retarget observations to the new memory session id")
}

func TestStoreObservation_DedupesWithinWindow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)
	require.NoError(t, s.RegisterMemorySessionID(ctx, id, "mem-1"))

	obs := &models.Observation{MemorySessionID: "mem-1", Project: "proj-a", Type: "discovery", Title: "t", ContentHash: "same-hash"}
	first, err := s.StoreObservation(ctx, obs)
	require.NoError(t, err)
	require.NotZero(t, first)

	second, err := s.StoreObservation(ctx, obs)
	require.NoError(t, err)
	require.Zero(t, second, "duplicate content hash within the dedup window must be skipped, not stored")

	all, err := s.ListObservationsForSession(ctx, "mem-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAppendPrompt_RejectsDuplicatePromptNumber(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)

	_, err = s.AppendPrompt(ctx, "content-1", 1, "first prompt")
	require.NoError(t, err)

	_, err = s.AppendPrompt(ctx, "content-1", 1, "collides")
	require.ErrorIs(t, err, ErrDuplicatePrompt)
}

func TestQueue_ClaimIsLinearizable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sessID, err := s.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)

	_, err = s.EnqueueObservation(ctx, sessID, "content-1", "Read", "{}", "{}", "/tmp", 1)
	require.NoError(t, err)

	msg, err := s.ClaimNextForSession(ctx, sessID)
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, msg.Status)
	require.Equal(t, 1, msg.RetryCount, "a first successful claim must increment retry_count from 0")

	// The queue is now empty of pending work: a second claim must report
	// ErrNotFound rather than returning the same message twice.
	_, err = s.ClaimNextForSession(ctx, sessID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_ConfirmClearsPayload(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sessID, err := s.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)
	msgID, err := s.EnqueueObservation(ctx, sessID, "content-1", "Read", `{"path":"a"}`, `{"ok":true}`, "/tmp", 1)
	require.NoError(t, err)

	_, err = s.ClaimNextForSession(ctx, sessID)
	require.NoError(t, err)

	require.NoError(t, s.Confirm(ctx, msgID))

	var status string
	var toolInput, toolResponse *string
	err = s.DB().QueryRowContext(ctx,
		`SELECT status, tool_input, tool_response FROM pending_messages WHERE id = ?`, msgID,
	).Scan(&status, &toolInput, &toolResponse)
	require.NoError(t, err)
	require.Equal(t, "processed", status)
	require.Nil(t, toolInput)
	require.Nil(t, toolResponse)
}

func TestQueue_FailRetriesThenTerminates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sessID, err := s.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)
	msgID, err := s.EnqueueObservation(ctx, sessID, "content-1", "Read", "{}", "{}", "/tmp", 1)
	require.NoError(t, err)

	const ceiling = 2
	for i := 0; i < ceiling; i++ {
		_, err := s.ClaimNextForSession(ctx, sessID)
		require.NoError(t, err)
		require.NoError(t, s.Fail(ctx, msgID, ceiling))
	}

	msg, err := s.ClaimNextForSession(ctx, sessID)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, msgID, ceiling))

	var status string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT status FROM pending_messages WHERE id = ?`, msgID).Scan(&status))
	require.Equal(t, "failed", status)
	_ = msg
}

func TestQueue_RecoverStaleRequeuesOrphans(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sessID, err := s.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)
	msgID, err := s.EnqueueObservation(ctx, sessID, "content-1", "Read", "{}", "{}", "/tmp", 1)
	require.NoError(t, err)

	_, err = s.ClaimNextForSession(ctx, sessID)
	require.NoError(t, err)

	// Simulate the claim happening long enough ago to count as orphaned.
	_, err = s.DB().ExecContext(ctx,
		`UPDATE pending_messages SET started_processing_at_epoch = started_processing_at_epoch - 10000 WHERE id = ?`, msgID)
	require.NoError(t, err)

	recovered, err := s.RecoverStale(ctx, 180, 5)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	var status string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT status FROM pending_messages WHERE id = ?`, msgID).Scan(&status))
	require.Equal(t, "pending", status, "an orphaned processing row must become claimable again")
}

func TestHealth_ReportsQueueDepth(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sessID, err := s.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)
	_, err = s.EnqueueObservation(ctx, sessID, "content-1", "Read", "{}", "{}", "/tmp", 1)
	require.NoError(t, err)

	hs, err := s.Health(ctx)
	require.NoError(t, err)
	require.True(t, hs.Reachable)
	require.Equal(t, 1, hs.PendingCount)
	require.NotNil(t, hs.OldestPendingAge)
}
