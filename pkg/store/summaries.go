package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/claude-mem/worker/pkg/models"
)

// StoreSummary inserts a session summary. Unlike observations, summaries
// are never deduplicated — a session may legitimately be summarized more
// than once as work continues.
func (s *Store) StoreSummary(ctx context.Context, sum *models.SessionSummary) (int64, error) {
	filesRead, err := json.Marshal(sum.FilesRead)
	if err != nil {
		return 0, err
	}
	filesEdited, err := json.Marshal(sum.FilesEdited)
	if err != nil {
		return 0, err
	}

	scope := sum.Scope
	if scope == "" {
		scope = models.ScopeProject
	}
	res, err := s.DB().ExecContext(ctx, `
		INSERT INTO session_summaries (
			memory_session_id, project, scope, request, investigated, learned, completed,
			next_steps, files_read, files_edited, notes, prompt_number, discovery_tokens, created_at_epoch
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.MemorySessionID, sum.Project, scope, sum.Request, sum.Investigated, sum.Learned, sum.Completed,
		sum.NextSteps, string(filesRead), string(filesEdited), sum.Notes, sum.PromptNumber, sum.DiscoveryTokens,
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert summary: %w", err)
	}
	return res.LastInsertId()
}

// LatestSummaryForSession returns the most recently stored summary for a
// session, or ErrNotFound if none exists.
func (s *Store) LatestSummaryForSession(ctx context.Context, memorySessionID string) (*models.SessionSummary, error) {
	row := s.DB().QueryRowContext(ctx,
		summarySelectCols+` WHERE memory_session_id = ? ORDER BY id DESC LIMIT 1`, memorySessionID)
	return scanSummary(row)
}

// ListSummariesForProject returns the most recent summaries for a project
// across sessions, newest first, capped at limit.
func (s *Store) ListSummariesForProject(ctx context.Context, project string, limit int) ([]*models.SessionSummary, error) {
	rows, err := s.DB().QueryContext(ctx,
		summarySelectCols+` WHERE project = ? ORDER BY created_at_epoch DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SessionSummary
	for rows.Next() {
		sum, err := scanSummaryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListSummariesForProjects returns the most recent summaries across any of
// projects, newest first, capped at limit — the multi-project form used
// when composing context for a worktree's project list.
func (s *Store) ListSummariesForProjects(ctx context.Context, projects []string, limit int) ([]*models.SessionSummary, error) {
	if len(projects) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(projects))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(projects)+1)
	for _, p := range projects {
		args = append(args, p)
	}
	args = append(args, limit)

	query := summarySelectCols + fmt.Sprintf(` WHERE project IN (%s) ORDER BY created_at_epoch DESC LIMIT ?`, placeholders)
	rows, err := s.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SessionSummary
	for rows.Next() {
		sum, err := scanSummaryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SummariesAroundID is the session_summaries analogue of
// ObservationsAroundID, for a timeline anchor that resolved to a summary
// document rather than an observation.
func (s *Store) SummariesAroundID(ctx context.Context, project string, anchorID int64, before, after int) ([]*models.SessionSummary, error) {
	earlier, err := s.DB().QueryContext(ctx, summarySelectCols+`
		WHERE project = ? AND id <= ? ORDER BY id DESC LIMIT ?`, project, anchorID, before)
	if err != nil {
		return nil, err
	}
	defer earlier.Close()
	var earlierSums []*models.SessionSummary
	for earlier.Next() {
		sum, err := scanSummaryRow(earlier)
		if err != nil {
			return nil, err
		}
		earlierSums = append(earlierSums, sum)
	}
	if err := earlier.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(earlierSums)-1; i < j; i, j = i+1, j-1 {
		earlierSums[i], earlierSums[j] = earlierSums[j], earlierSums[i]
	}

	later, err := s.DB().QueryContext(ctx, summarySelectCols+`
		WHERE project = ? AND id > ? ORDER BY id ASC LIMIT ?`, project, anchorID, after)
	if err != nil {
		return nil, err
	}
	defer later.Close()
	var laterSums []*models.SessionSummary
	for later.Next() {
		sum, err := scanSummaryRow(later)
		if err != nil {
			return nil, err
		}
		laterSums = append(laterSums, sum)
	}
	if err := later.Err(); err != nil {
		return nil, err
	}

	return append(earlierSums, laterSums...), nil
}

const summarySelectCols = `
SELECT id, memory_session_id, project, scope, request, investigated, learned, completed,
       next_steps, files_read, files_edited, notes, prompt_number, discovery_tokens, created_at_epoch
FROM session_summaries`

func scanSummary(row rowScanner) (*models.SessionSummary, error) {
	return scanSummaryRow(row)
}

func scanSummaryRow(row rowScanner) (*models.SessionSummary, error) {
	var sum models.SessionSummary
	var filesRead, filesEdited string
	err := row.Scan(
		&sum.ID, &sum.MemorySessionID, &sum.Project, &sum.Scope, &sum.Request, &sum.Investigated, &sum.Learned,
		&sum.Completed, &sum.NextSteps, &filesRead, &filesEdited, &sum.Notes, &sum.PromptNumber,
		&sum.DiscoveryTokens, &sum.CreatedAtEpoch,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	if err := json.Unmarshal([]byte(filesRead), &sum.FilesRead); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(filesEdited), &sum.FilesEdited); err != nil {
		return nil, err
	}
	return &sum, nil
}
