package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/claude-mem/worker/pkg/models"
)

// AppendPrompt records one raw user prompt. It fails with ErrDuplicatePrompt
// on a (content_session_id, prompt_number) unique violation rather than
// silently overwriting or retrying: a repeated prompt number is a caller
// bug, not a condition to paper over.
func (s *Store) AppendPrompt(ctx context.Context, contentSessionID string, promptNumber int, promptText string) (int64, error) {
	res, err := s.DB().ExecContext(ctx, `
		INSERT INTO user_prompts (content_session_id, prompt_number, prompt_text, created_at_epoch)
		VALUES (?, ?, ?, ?)`,
		contentSessionID, promptNumber, promptText, time.Now().Unix(),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return 0, fmt.Errorf("%w: session=%s prompt=%d", ErrDuplicatePrompt, contentSessionID, promptNumber)
		}
		return 0, fmt.Errorf("insert prompt: %w", err)
	}
	return res.LastInsertId()
}

// ListPromptsForSession returns every prompt recorded for a content
// session, in order.
func (s *Store) ListPromptsForSession(ctx context.Context, contentSessionID string) ([]*models.UserPrompt, error) {
	rows, err := s.DB().QueryContext(ctx, `
		SELECT id, content_session_id, prompt_number, prompt_text, created_at_epoch
		FROM user_prompts WHERE content_session_id = ? ORDER BY prompt_number ASC`, contentSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.UserPrompt
	for rows.Next() {
		var p models.UserPrompt
		if err := rows.Scan(&p.ID, &p.ContentSessionID, &p.PromptNumber, &p.PromptText, &p.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// isUniqueConstraintErr reports whether err is a SQLite UNIQUE constraint
// violation. go-sqlite3 (wazero-backed) surfaces these as plain errors
// whose text names the constraint, so a substring match is the stable
// cross-driver-version way to detect them.
func isUniqueConstraintErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
