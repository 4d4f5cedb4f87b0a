package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleStreamDeliversPublishedEvent(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.eng.ServeHTTP(rec, req)
		close(done)
	}()

	// Give handleStream time to subscribe before publishing, then let the
	// event reach the client before ending the connection.
	require.Eventually(t, func() bool {
		srv.Broadcaster.mu.Lock()
		n := len(srv.Broadcaster.subscribers)
		srv.Broadcaster.mu.Unlock()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	srv.Broadcaster.Publish(Event{Type: "new_observation", TimestampMS: 42})
	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "new_observation")
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not return after client context cancellation")
	}

	assert.Contains(t, rec.Body.String(), "event: message")
	assert.Contains(t, rec.Body.String(), "new_observation")
}
