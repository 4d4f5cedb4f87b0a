package response

import "strings"

// maxPromptChars caps how much tool input/output gets embedded in a
// provider prompt; anything longer is truncated from the middle so both
// the start and end — usually the most informative parts of a diff or
// stack trace — survive.
const maxPromptChars = 20_000

// Sanitize strips NUL bytes (which corrupt CLI argument passing and
// encoding/xml parsing alike) and truncates oversized text before it's
// embedded in a prompt.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		return r
	}, s)

	if len(s) <= maxPromptChars {
		return s
	}
	half := maxPromptChars / 2
	return s[:half] + "\n...[truncated]...\n" + s[len(s)-half:]
}
