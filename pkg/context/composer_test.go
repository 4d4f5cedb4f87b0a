package context

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/claude-mem/worker/pkg/mode"
	"github.com/claude-mem/worker/pkg/models"
	"github.com/claude-mem/worker/pkg/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claude-mem.db")
	s, err := store.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func engineeringMode() *mode.Mode {
	return &mode.Mode{
		Name: "engineering",
		ObservationTypes: []mode.ObservationType{
			{ID: "decision", Label: "Decision"},
			{ID: "discovery", Label: "Discovery"},
		},
	}
}

func TestComposeWithNoDataReturnsEmptyBlock(t *testing.T) {
	st := openTestStore(t)
	c := New(st, engineeringMode())

	doc, err := c.Compose(context.Background(), Options{
		Projects:          []string{"proj-a"},
		TotalObservations: 10,
		SessionCount:      3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, doc)
}

func TestComposeRendersStoredObservations(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	c := New(st, engineeringMode())

	sessID, err := st.CreateSession(ctx, "content-1", "proj-a", "do the thing", nil)
	require.NoError(t, err)
	require.NoError(t, st.RegisterMemorySessionID(ctx, sessID, "mem-1"))

	_, err = st.StoreObservation(ctx, &models.Observation{
		MemorySessionID: "mem-1",
		Project:         "proj-a",
		Type:            "decision",
		Title:           "Picked SQLite",
		Narrative:       "Chose SQLite for the relational store.",
		ContentHash:     "hash-1",
	})
	require.NoError(t, err)

	doc, err := c.Compose(ctx, Options{
		Projects:             []string{"proj-a"},
		TotalObservations:    40,
		SessionCount:         5,
		FullObservationCount: 8,
	})
	require.NoError(t, err)
	require.Contains(t, doc, "Picked SQLite")
}

func TestComposeFiltersObservationsOutsideModeVocabulary(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	c := New(st, engineeringMode())

	sessID, err := st.CreateSession(ctx, "content-1", "proj-a", "prompt", nil)
	require.NoError(t, err)
	require.NoError(t, st.RegisterMemorySessionID(ctx, sessID, "mem-1"))

	_, err = st.StoreObservation(ctx, &models.Observation{
		MemorySessionID: "mem-1",
		Project:         "proj-a",
		Type:            "not-in-vocabulary",
		Title:           "Should be filtered out",
		ContentHash:     "hash-2",
	})
	require.NoError(t, err)

	doc, err := c.Compose(ctx, Options{
		Projects:          []string{"proj-a"},
		TotalObservations: 40,
		SessionCount:      5,
	})
	require.NoError(t, err)
	require.NotContains(t, doc, "Should be filtered out")
}
