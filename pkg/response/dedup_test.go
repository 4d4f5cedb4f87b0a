package response

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldSkipTool(t *testing.T) {
	assert.True(t, ShouldSkipTool("TodoWrite"))
	assert.True(t, ShouldSkipTool("Glob"))
	assert.False(t, ShouldSkipTool("Edit"))
	assert.False(t, ShouldSkipTool("Bash"))
}

func TestShouldSkipTrivialOperation(t *testing.T) {
	assert.True(t, ShouldSkipTrivialOperation("Bash", "ls", "short"), "short output is always trivial")
	assert.True(t, ShouldSkipTrivialOperation("Bash", "cat missing", "no such file or directory, retry later please"))
	assert.True(t, ShouldSkipTrivialOperation("Read", "x.go", "[]"))
	assert.False(t, ShouldSkipTrivialOperation("Edit", "x.go", "applied a 40-line diff across three functions in the file without issue"))
}

func TestHashRequestStableAndTruncatesOutput(t *testing.T) {
	longOutput := make([]byte, 2000)
	for i := range longOutput {
		longOutput[i] = 'a'
	}
	tailDiffers := make([]byte, 2000)
	copy(tailDiffers, longOutput)
	tailDiffers[1999] = 'b'

	h1 := HashRequest("Bash", "echo hi", string(longOutput))
	h2 := HashRequest("Bash", "echo hi", string(longOutput))
	h3 := HashRequest("Bash", "echo hi", string(tailDiffers))

	assert.Equal(t, h1, h2, "hashing the same input twice must be stable")
	assert.Equal(t, h1, h3, "only the first 1000 output chars are hashed, so a tail-only difference must collide")
	assert.Len(t, h1, 16)
}

func TestRequestDeduplicatorTTL(t *testing.T) {
	d := NewRequestDeduplicator(1, 10)
	hash := HashRequest("Bash", "echo hi", "some reasonably long output text here")

	assert.False(t, d.IsDuplicate(hash))
	d.Record(hash)
	assert.True(t, d.IsDuplicate(hash))

	time.Sleep(1100 * time.Millisecond)
	assert.False(t, d.IsDuplicate(hash), "entry must expire once the TTL window has passed")
}

func TestRequestDeduplicatorEvictsExpiredAtCapacity(t *testing.T) {
	d := NewRequestDeduplicator(1, 2)
	d.Record("old-1")
	d.Record("old-2")
	time.Sleep(1100 * time.Millisecond)

	d.Record("new-1")

	assert.False(t, d.IsDuplicate("old-1"), "expired entries must be evicted once capacity is hit")
	assert.True(t, d.IsDuplicate("new-1"))
}
