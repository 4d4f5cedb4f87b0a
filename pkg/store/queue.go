package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/claude-mem/worker/pkg/models"
)

// EnqueueObservation adds a pending_messages row for an observation-typed
// tool invocation.
func (s *Store) EnqueueObservation(ctx context.Context, sessionDBID int64, contentSessionID, toolName, toolInput, toolResponse, cwd string, promptNumber int) (int64, error) {
	return s.enqueue(ctx, sessionDBID, contentSessionID, models.MessageTypeObservation, toolName, toolInput, toolResponse, cwd, "", promptNumber)
}

// EnqueueSummarize adds a pending_messages row requesting a session
// summary, carrying the last assistant message the summary should ground
// on rather than a tool call.
func (s *Store) EnqueueSummarize(ctx context.Context, sessionDBID int64, contentSessionID, lastAssistantMessage string, promptNumber int) (int64, error) {
	return s.enqueue(ctx, sessionDBID, contentSessionID, models.MessageTypeSummarize, "", "", "", "", lastAssistantMessage, promptNumber)
}

func (s *Store) enqueue(ctx context.Context, sessionDBID int64, contentSessionID string, msgType models.PendingMessageType, toolName, toolInput, toolResponse, cwd, lastAssistantMessage string, promptNumber int) (int64, error) {
	res, err := s.DB().ExecContext(ctx, `
		INSERT INTO pending_messages (
			session_db_id, content_session_id, message_type, tool_name, tool_input, tool_response,
			cwd, last_assistant_message, prompt_number, status, retry_count, created_at_epoch
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?)`,
		sessionDBID, contentSessionID, msgType, toolName, toolInput, toolResponse, cwd, lastAssistantMessage,
		promptNumber, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	return res.LastInsertId()
}

// ClaimNextForSession atomically transitions the oldest pending message for
// a session to processing and returns it. The UPDATE ... WHERE status =
// 'pending' followed by a rows-affected check is what makes two concurrent
// claimers unable to both win the same row; ErrNotFound means the
// session's queue is currently empty.
func (s *Store) ClaimNextForSession(ctx context.Context, sessionDBID int64) (*models.PendingMessage, error) {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM pending_messages
		WHERE session_db_id = ? AND status = 'pending'
		ORDER BY id ASC LIMIT 1`, sessionDBID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select next pending: %w", err)
	}

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `
		UPDATE pending_messages SET status = 'processing', started_processing_at_epoch = ?, retry_count = retry_count + 1
		WHERE id = ? AND status = 'pending'`, now, id)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Another claimer won the race between our SELECT and UPDATE.
		return nil, ErrNotFound
	}

	msg, err := scanPendingMessage(tx.QueryRowContext(ctx, pendingMessageSelectCols+` WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ConfirmInTx marks a pending message processed within an existing
// transaction, letting a caller commit the confirm atomically with
// whatever the message produced (observation rows, a summary row), so a
// crash between store and confirm always leaves the message claimable
// again rather than silently lost.
func ConfirmInTx(ctx context.Context, tx *sql.Tx, messageID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pending_messages SET status = 'processed', completed_at_epoch = ?,
			tool_input = NULL, tool_response = NULL
		WHERE id = ? AND status = 'processing'`, time.Now().Unix(), messageID)
	return err
}

// Confirm marks a pending message processed in its own transaction, for
// callers that have no further writes to bundle with it.
func (s *Store) Confirm(ctx context.Context, messageID int64) error {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := ConfirmInTx(ctx, tx, messageID); err != nil {
		return err
	}
	return tx.Commit()
}

// Fail marks a pending message failed or, if it has retries remaining
// under retryCeiling, pending again for another claim attempt.
func (s *Store) Fail(ctx context.Context, messageID int64, retryCeiling int) error {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var retryCount int
	if err := tx.QueryRowContext(ctx, `SELECT retry_count FROM pending_messages WHERE id = ?`, messageID).Scan(&retryCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	// retry_count was already incremented by the claim that started this
	// attempt, so it is compared against the ceiling as-is.
	if retryCount > retryCeiling {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_messages SET status = 'failed', retry_count = ?, failed_at_epoch = ?
			WHERE id = ?`, retryCount, time.Now().Unix(), messageID); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_messages SET status = 'pending', retry_count = ?, started_processing_at_epoch = NULL
			WHERE id = ?`, retryCount, messageID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecoverStale resets messages stuck in processing past staleThresholdSecs
// back to pending (or failed, if their retry ceiling is already exhausted).
// This recovers from an agent process that crashed mid-turn and never
// called Confirm or Fail; it is driven by started_processing_at_epoch, not
// a separate heartbeat column, since a claimed message has no in-between
// progress to report.
func (s *Store) RecoverStale(ctx context.Context, staleThresholdSecs int64, retryCeiling int) (int, error) {
	cutoff := time.Now().Unix() - staleThresholdSecs

	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, retry_count FROM pending_messages
		WHERE status = 'processing' AND started_processing_at_epoch IS NOT NULL
		AND started_processing_at_epoch < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	type stale struct {
		id         int64
		retryCount int
	}
	var toRecover []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.id, &st.retryCount); err != nil {
			rows.Close()
			return 0, err
		}
		toRecover = append(toRecover, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	now := time.Now().Unix()
	for _, st := range toRecover {
		newRetryCount := st.retryCount + 1
		if newRetryCount > retryCeiling {
			if _, err := tx.ExecContext(ctx, `
				UPDATE pending_messages SET status = 'failed', retry_count = ?, failed_at_epoch = ?
				WHERE id = ?`, newRetryCount, now, st.id); err != nil {
				return 0, err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_messages SET status = 'pending', retry_count = ?, started_processing_at_epoch = NULL
			WHERE id = ?`, newRetryCount, st.id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(toRecover), nil
}

// PendingCountForSession returns how many messages are pending or
// processing for a session, used to decide whether an idle agent loop
// should keep waiting or wind down.
func (s *Store) PendingCountForSession(ctx context.Context, sessionDBID int64) (int, error) {
	var count int
	err := s.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_messages
		WHERE session_db_id = ? AND status IN ('pending', 'processing')`, sessionDBID,
	).Scan(&count)
	return count, err
}

const pendingMessageSelectCols = `
SELECT id, session_db_id, content_session_id, message_type, tool_name, tool_input, tool_response,
       cwd, last_assistant_message, prompt_number, status, retry_count, created_at_epoch,
       started_processing_at_epoch, completed_at_epoch, failed_at_epoch
FROM pending_messages`

func scanPendingMessage(row rowScanner) (*models.PendingMessage, error) {
	var m models.PendingMessage
	var toolInput, toolResponse sql.NullString
	var startedAt, completedAt, failedAt sql.NullInt64
	err := row.Scan(
		&m.ID, &m.SessionDBID, &m.ContentSessionID, &m.MessageType, &m.ToolName, &toolInput, &toolResponse,
		&m.CWD, &m.LastAssistantMessage, &m.PromptNumber, &m.Status, &m.RetryCount, &m.CreatedAtEpoch,
		&startedAt, &completedAt, &failedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending message: %w", err)
	}
	m.ToolInput = toolInput.String
	m.ToolResponse = toolResponse.String
	if startedAt.Valid {
		m.StartedProcessingEpoch = &startedAt.Int64
	}
	if completedAt.Valid {
		m.CompletedAtEpoch = &completedAt.Int64
	}
	if failedAt.Valid {
		m.FailedAtEpoch = &failedAt.Int64
	}
	return &m, nil
}
