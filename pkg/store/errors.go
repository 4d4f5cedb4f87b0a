package store

import "errors"

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicatePrompt is returned by AppendPrompt on a unique-constraint
// violation of (content_session_id, prompt_number): this operation fails
// outright on a repeat, it never retries or merges.
var ErrDuplicatePrompt = errors.New("store: duplicate prompt number for session")
