package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealthAlwaysReportsHealthy(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestHandleReadyReflectsMarkReady(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv.MarkReady()
	rec = doJSON(t, srv, http.MethodGet, "/api/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatsRequiresProject(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatsReturnsCounts(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/stats?project=proj-a", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "proj-a", body.Project)
	assert.Equal(t, 0, body.ObservationCount)
}
