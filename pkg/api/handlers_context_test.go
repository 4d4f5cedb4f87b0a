package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-mem/worker/pkg/models"
)

func TestHandleContextInjectReturnsMarkdownForEmptyProject(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/context/inject?project=proj-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.NotEmpty(t, rec.Body.String())
}

func TestHandleContextRecentRequiresProject(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/context/recent", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleContextRecentReturnsStoredObservations(t *testing.T) {
	srv := newTestServer(t)
	ctx := srv.baseCtx

	sessID, err := srv.Store.CreateSession(ctx, "c1", "proj-a", "prompt", nil)
	require.NoError(t, err)
	require.NoError(t, srv.Store.RegisterMemorySessionID(ctx, sessID, "mem-1"))
	_, err = srv.Store.StoreObservation(ctx, &models.Observation{
		MemorySessionID: "mem-1", Project: "proj-a", Type: "decision",
		Title: "did a thing", ContentHash: "h1",
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodGet, "/api/context/recent?project=proj-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "did a thing")
}

func TestHandleSearchObservationsRequiresQuery(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/search/observations", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchObservationsFindsMirroredObservation(t *testing.T) {
	srv := newTestServer(t)
	ctx := srv.baseCtx

	obs := &models.Observation{ID: 1, Project: "proj-a", Title: "switched to sqlite", Narrative: "storage decision"}
	srv.Mirror.SyncObservation(ctx, obs)

	rec := doJSON(t, srv, http.MethodGet, "/api/search/observations?project=proj-a&query=sqlite", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Results)
}

func TestHandleLogsRejectsPathTraversal(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, os.MkdirAll(srv.logDir, 0o755))
	rec := doJSON(t, srv, http.MethodGet, "/api/logs?file=../../etc/passwd", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleLogsTailsFile(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, os.MkdirAll(srv.logDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srv.logDir, "worker.log"), []byte("line1\nline2\nline3\n"), 0o644))

	rec := doJSON(t, srv, http.MethodGet, "/api/logs?file=worker.log&tail=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"line2", "line3"}, body.Lines)
}

func TestHandleLogsReturns404ForMissingFile(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, os.MkdirAll(srv.logDir, 0o755))
	rec := doJSON(t, srv, http.MethodGet, "/api/logs?file=nope.log", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
