package response

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// skipTools are tools whose observations are rarely worth an LLM call:
// internal bookkeeping, plain directory listings, and interactive prompts
// with no code insight (grounded on thebtf-engram's shouldSkipTool table).
var skipTools = map[string]bool{
	"TodoWrite":       true,
	"Task":            true,
	"TaskOutput":      true,
	"Glob":            true,
	"ListDir":         true,
	"LS":              true,
	"KillShell":       true,
	"AskUserQuestion": true,
	"EnterPlanMode":   true,
	"ExitPlanMode":    true,
}

// ShouldSkipTool reports whether a tool invocation is never worth queuing
// for observation extraction at all.
func ShouldSkipTool(toolName string) bool {
	return skipTools[toolName]
}

const minMeaningfulOutputChars = 50

var trivialOutputMarkers = []string{
	"no matches found", "file not found", "directory not found",
	"permission denied", "command not found", "no such file", "is a directory",
	"[]", "{}",
}

// ShouldSkipTrivialOperation is a cheap pre-filter applied before spending a
// provider call on an observation: very short or clearly-empty/error
// output is never worth extracting from.
func ShouldSkipTrivialOperation(toolName, inputStr, outputStr string) bool {
	if len(outputStr) < minMeaningfulOutputChars {
		return true
	}
	lowerOutput := strings.ToLower(outputStr)
	for _, marker := range trivialOutputMarkers {
		if outputStr == marker || strings.Contains(lowerOutput, marker) {
			return true
		}
	}
	return false
}

// RequestDeduplicator suppresses a second provider call for an
// indistinguishable request within a TTL window — a pre-filter distinct
// from the stored-observation content-hash dedup in pkg/store, applied
// before any provider call is made at all.
type RequestDeduplicator struct {
	mu      sync.Mutex
	seen    map[string]int64
	ttlSecs int64
	maxSize int
}

// NewRequestDeduplicator builds a deduplicator with the given TTL and a cap
// on how many hashes it retains before evicting expired entries.
func NewRequestDeduplicator(ttlSecs int64, maxSize int) *RequestDeduplicator {
	return &RequestDeduplicator{seen: make(map[string]int64), ttlSecs: ttlSecs, maxSize: maxSize}
}

// HashRequest derives the dedup key from a tool invocation, truncating the
// output to its first 1000 characters so a huge response doesn't dominate
// the hash input.
func HashRequest(toolName, input, output string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte(input))
	if len(output) > 1000 {
		output = output[:1000]
	}
	h.Write([]byte(output))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// IsDuplicate reports whether hash was recorded within the TTL window.
func (d *RequestDeduplicator) IsDuplicate(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts, ok := d.seen[hash]
	return ok && time.Now().Unix()-ts < d.ttlSecs
}

// Record marks hash as seen now, evicting expired entries first if the
// table is at capacity.
func (d *RequestDeduplicator) Record(hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().Unix()
	if len(d.seen) >= d.maxSize {
		threshold := now - d.ttlSecs
		for k, ts := range d.seen {
			if ts < threshold {
				delete(d.seen, k)
			}
		}
	}
	d.seen[hash] = now
}
