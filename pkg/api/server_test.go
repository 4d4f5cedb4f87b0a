package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/claude-mem/worker/pkg/config"
	claudecontext "github.com/claude-mem/worker/pkg/context"
	"github.com/claude-mem/worker/pkg/mode"
	"github.com/claude-mem/worker/pkg/session"
	"github.com/claude-mem/worker/pkg/store"
	"github.com/claude-mem/worker/pkg/vector"
)

// noopAgentLoop just blocks until canceled, standing in for a real provider
// loop in handler tests that only exercise the HTTP surface.
func noopAgentLoop(ctx context.Context, sess *session.ActiveSession) {
	<-ctx.Done()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.Open(ctx, filepath.Join(dir, "claude-mem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mirror, err := vector.Open(ctx, filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mirror.Close() })

	m := &mode.Mode{Name: "engineering", ObservationTypes: []mode.ObservationType{{ID: "decision"}, {ID: "discovery"}}}
	composer := claudecontext.New(st, m)
	registry := session.NewRegistry(2, noopAgentLoop)

	settings := &config.Settings{
		ExcludedProjects:            []string{"scratch"},
		ContextTotalObservations:    40,
		ContextSessionCount:         5,
		ContextFullObservationCount: 8,
		ContextShowLegend:           true,
		ContextShowEconomics:        true,
		ContextShowPrevious:         true,
	}

	return New(ctx, st, mirror, composer, registry, m, settings, filepath.Join(dir, "logs"))
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.eng.ServeHTTP(rec, req)
	return rec
}
