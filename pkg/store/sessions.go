package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/claude-mem/worker/pkg/models"
)

// CreateSession is an idempotent get-or-create keyed on content_session_id:
// a second call for the same content session returns the existing row,
// backfilling project/custom_title only where they were previously empty
// rather than overwriting them.
func (s *Store) CreateSession(ctx context.Context, contentSessionID, project, userPrompt string, customTitle *string) (int64, error) {
	db := s.DB()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var existingProject string
	var existingTitle sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, project, custom_title FROM sessions WHERE content_session_id = ?`,
		contentSessionID,
	).Scan(&id, &existingProject, &existingTitle)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().Unix()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (content_session_id, project, user_prompt, custom_title, started_at_epoch, status)
			VALUES (?, ?, ?, ?, ?, 'active')`,
			contentSessionID, project, userPrompt, customTitle, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert session: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return id, nil
	case err != nil:
		return 0, fmt.Errorf("lookup session: %w", err)
	}

	if existingProject == "" && project != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET project = ? WHERE id = ?`, project, id); err != nil {
			return 0, fmt.Errorf("backfill project: %w", err)
		}
	}
	if !existingTitle.Valid && customTitle != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET custom_title = ? WHERE id = ?`, *customTitle, id); err != nil {
			return 0, fmt.Errorf("backfill custom_title: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// RegisterMemorySessionID sets a session's provider-side session id.
// observations and session_summaries reference sessions.memory_session_id
// with ON UPDATE CASCADE, so this single statement retargets rows of those
// two tables written under an earlier id; pending_messages and user_prompts
// key on other session columns and are not affected.
func (s *Store) RegisterMemorySessionID(ctx context.Context, sessionDBID int64, memorySessionID string) error {
	res, err := s.DB().ExecContext(ctx,
		`UPDATE sessions SET memory_session_id = ? WHERE id = ?`, memorySessionID, sessionDBID)
	if err != nil {
		return fmt.Errorf("register memory session id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: session %d", ErrNotFound, sessionDBID)
	}
	return nil
}

// GetSessionByContentID looks up a session by its editor-assigned id.
func (s *Store) GetSessionByContentID(ctx context.Context, contentSessionID string) (*models.Session, error) {
	row := s.DB().QueryRowContext(ctx, sessionSelectCols+` WHERE content_session_id = ?`, contentSessionID)
	return scanSession(row)
}

// GetSessionByID looks up a session by its internal primary key.
func (s *Store) GetSessionByID(ctx context.Context, id int64) (*models.Session, error) {
	row := s.DB().QueryRowContext(ctx, sessionSelectCols+` WHERE id = ?`, id)
	return scanSession(row)
}

// IncrementPromptCounter bumps a session's prompt_counter and returns the
// new value, used to assign prompt_number for observations and summaries.
func (s *Store) IncrementPromptCounter(ctx context.Context, sessionDBID int64) (int, error) {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET prompt_counter = prompt_counter + 1 WHERE id = ?`, sessionDBID); err != nil {
		return 0, err
	}
	var counter int
	if err := tx.QueryRowContext(ctx, `SELECT prompt_counter FROM sessions WHERE id = ?`, sessionDBID).Scan(&counter); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return counter, nil
}

// MarkSessionCompleted transitions a session to completed and stamps
// completed_at_epoch.
func (s *Store) MarkSessionCompleted(ctx context.Context, sessionDBID int64) error {
	return s.markSessionTerminal(ctx, sessionDBID, models.SessionCompleted)
}

// MarkSessionFailed transitions a session to failed and stamps
// completed_at_epoch.
func (s *Store) MarkSessionFailed(ctx context.Context, sessionDBID int64) error {
	return s.markSessionTerminal(ctx, sessionDBID, models.SessionFailed)
}

func (s *Store) markSessionTerminal(ctx context.Context, sessionDBID int64, status models.SessionStatus) error {
	_, err := s.DB().ExecContext(ctx,
		`UPDATE sessions SET status = ?, completed_at_epoch = ? WHERE id = ?`,
		status, time.Now().Unix(), sessionDBID,
	)
	return err
}

const sessionSelectCols = `
SELECT id, content_session_id, memory_session_id, project, user_prompt, custom_title,
       started_at_epoch, completed_at_epoch, status, worker_port, prompt_counter
FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var memoryID, customTitle sql.NullString
	var completedAt sql.NullInt64
	err := row.Scan(
		&sess.ID, &sess.ContentSessionID, &memoryID, &sess.Project, &sess.UserPrompt, &customTitle,
		&sess.StartedAtEpoch, &completedAt, &sess.Status, &sess.WorkerPort, &sess.PromptCounter,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if memoryID.Valid {
		sess.MemorySessionID = &memoryID.String
	}
	if customTitle.Valid {
		sess.CustomTitle = &customTitle.String
	}
	if completedAt.Valid {
		sess.CompletedAtEpoch = &completedAt.Int64
	}
	return &sess, nil
}
