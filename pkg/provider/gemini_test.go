package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-mem/worker/pkg/session"
)

func TestToGeminiContentsMapsAssistantRoleToModel(t *testing.T) {
	history := []session.Turn{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
	}
	contents := toGeminiContents(history)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "hello", contents[1].Parts[0].Text)
}

func TestEstimateTokenSplitIs70_30(t *testing.T) {
	in, out := estimateTokenSplit(400)
	assert.Equal(t, 100, in+out)
	assert.Equal(t, 30, out)
	assert.Equal(t, 70, in)
}

func TestGeminiWaitForRateLimitSkipsUnknownModel(t *testing.T) {
	g := NewGemini("key")
	start := time.Now()
	err := g.waitForRateLimit(context.Background(), "not-a-real-model")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestGeminiWaitForRateLimitFirstCallDoesNotWait(t *testing.T) {
	g := NewGemini("key")
	start := time.Now()
	require.NoError(t, g.waitForRateLimit(context.Background(), "gemini-pro"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.WithinDuration(t, time.Now(), g.lastRequestTime, 50*time.Millisecond,
		"an unthrottled first call must record its reservation as now, not some stale offset")
}

func TestGeminiWaitForRateLimitThrottlesImmediateSecondCall(t *testing.T) {
	g := NewGemini("key")
	require.NoError(t, g.waitForRateLimit(context.Background(), "gemini-2.0-flash-lite")) // 30 rpm, ~2s interval

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := g.waitForRateLimit(ctx, "gemini-2.0-flash-lite")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "an immediate second call must actually be throttled, not pass straight through")
}

func TestGeminiWaitForRateLimitHonoursContextCancellation(t *testing.T) {
	g := NewGemini("key")
	require.NoError(t, g.waitForRateLimit(context.Background(), "gemini-pro"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.waitForRateLimit(ctx, "gemini-pro")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
