package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSessionInitRejectsExcludedProject(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/init",
		`{"content_session_id":"c1","project":"scratch","prompt":"hi"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleSessionInitCreatesSessionAndAdmitsToRegistry(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/init",
		`{"content_session_id":"c1","project":"proj-a","prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body sessionInitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotZero(t, body.SessionDBID)

	_, ok := srv.Registry.Get(body.SessionDBID)
	assert.True(t, ok, "session must be admitted into the registry")
}

func TestHandleSessionInitIsIdempotentForSameContentSessionID(t *testing.T) {
	srv := newTestServer(t)
	first := doJSON(t, srv, http.MethodPost, "/api/sessions/init",
		`{"content_session_id":"c1","project":"proj-a","prompt":"hi"}`)
	second := doJSON(t, srv, http.MethodPost, "/api/sessions/init",
		`{"content_session_id":"c1","project":"proj-a","prompt":"second prompt"}`)

	var b1, b2 sessionInitResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &b1))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b2))
	assert.Equal(t, b1.SessionDBID, b2.SessionDBID)
}

func TestHandleSessionObservationSkipsTrivialTool(t *testing.T) {
	srv := newTestServer(t)
	initRec := doJSON(t, srv, http.MethodPost, "/api/sessions/init",
		`{"content_session_id":"c1","project":"proj-a","prompt":"hi"}`)
	require.Equal(t, http.StatusOK, initRec.Code)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/observations",
		`{"content_session_id":"c1","tool_name":"TodoWrite","tool_input":"{}","tool_response":"{}"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.MessageID, "skip-listed tools must never be enqueued")
}

func TestHandleSessionObservationEnqueuesMeaningfulCall(t *testing.T) {
	srv := newTestServer(t)
	initRec := doJSON(t, srv, http.MethodPost, "/api/sessions/init",
		`{"content_session_id":"c1","project":"proj-a","prompt":"hi"}`)
	require.Equal(t, http.StatusOK, initRec.Code)

	longOutput := `{\"result\":\"applied a substantial change across several functions in the target file without issue\"}`
	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/observations",
		`{"content_session_id":"c1","tool_name":"Edit","tool_input":"{\"file\":\"x.go\"}","tool_response":`+`"`+longOutput+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotZero(t, body.MessageID)
}

func TestHandleSessionCompleteWaitsForDrainedQueue(t *testing.T) {
	srv := newTestServer(t)
	initRec := doJSON(t, srv, http.MethodPost, "/api/sessions/init",
		`{"content_session_id":"c1","project":"proj-a","prompt":"hi"}`)
	require.Equal(t, http.StatusOK, initRec.Code)
	var init sessionInitResponse
	require.NoError(t, json.Unmarshal(initRec.Body.Bytes(), &init))

	doJSON(t, srv, http.MethodPost, "/api/sessions/observations",
		`{"content_session_id":"c1","tool_name":"Bash","tool_input":"run","tool_response":"a sufficiently long output string to clear the trivial filter"}`)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/complete", `{"content_session_id":"c1"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code, "pending work must block completion")

	// Drain the only pending message directly via the store, then retry.
	msg, err := srv.Store.ClaimNextForSession(context.Background(), init.SessionDBID)
	require.NoError(t, err)
	require.NoError(t, srv.Store.Confirm(context.Background(), msg.ID))

	rec = doJSON(t, srv, http.MethodPost, "/api/sessions/complete", `{"content_session_id":"c1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, ok := srv.Registry.Get(init.SessionDBID)
	assert.False(t, ok, "completion must cancel the active session out of the registry")
}

func TestHandleSubagentCompleteNudgesActiveSession(t *testing.T) {
	srv := newTestServer(t)
	initRec := doJSON(t, srv, http.MethodPost, "/api/sessions/init",
		`{"content_session_id":"c1","project":"proj-a","prompt":"hi"}`)
	require.Equal(t, http.StatusOK, initRec.Code)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/subagent-complete", `{"content_session_id":"c1"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
