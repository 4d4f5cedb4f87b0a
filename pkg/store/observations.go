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

// dedupWindowSecs is the content-hash dedup window: a second observation
// with the same content_hash for the same session within this window is
// dropped rather than stored again.
const dedupWindowSecs = 30

// StoreObservation inserts one observation, skipping it (returning 0, nil)
// if an observation with the same content hash for the same session was
// created within the dedup window.
func (s *Store) StoreObservation(ctx context.Context, obs *models.Observation) (int64, error) {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := storeObservationTx(ctx, tx, obs)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// StoreObservations stores a batch atomically: either every observation in
// the batch lands (dedup skips excluded), or none do.
func (s *Store) StoreObservations(ctx context.Context, obs []*models.Observation) ([]int64, error) {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, 0, len(obs))
	for _, o := range obs {
		id, err := storeObservationTx(ctx, tx, o)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func storeObservationTx(ctx context.Context, tx *sql.Tx, obs *models.Observation) (int64, error) {
	var dupCount int
	cutoff := time.Now().Unix() - dedupWindowSecs
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM observations
		WHERE memory_session_id = ? AND content_hash = ? AND created_at_epoch >= ?`,
		obs.MemorySessionID, obs.ContentHash, cutoff,
	).Scan(&dupCount)
	if err != nil {
		return 0, fmt.Errorf("dedup check: %w", err)
	}
	if dupCount > 0 {
		return 0, nil
	}

	facts, err := json.Marshal(obs.Facts)
	if err != nil {
		return 0, err
	}
	concepts, err := json.Marshal(obs.Concepts)
	if err != nil {
		return 0, err
	}
	filesRead, err := json.Marshal(obs.FilesRead)
	if err != nil {
		return 0, err
	}
	filesModified, err := json.Marshal(obs.FilesModified)
	if err != nil {
		return 0, err
	}

	scope := obs.Scope
	if scope == "" {
		scope = models.ScopeProject
	}
	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO observations (
			memory_session_id, project, scope, type, title, subtitle, facts, narrative,
			concepts, files_read, files_modified, prompt_number, discovery_tokens,
			content_hash, created_at_epoch
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.MemorySessionID, obs.Project, scope, obs.Type, obs.Title, obs.Subtitle, string(facts), obs.Narrative,
		string(concepts), string(filesRead), string(filesModified), obs.PromptNumber, obs.DiscoveryTokens,
		obs.ContentHash, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert observation: %w", err)
	}
	return res.LastInsertId()
}

// ListObservationsForSession returns every observation for a memory
// session, oldest first.
func (s *Store) ListObservationsForSession(ctx context.Context, memorySessionID string) ([]*models.Observation, error) {
	rows, err := s.DB().QueryContext(ctx, observationSelectCols+` WHERE memory_session_id = ? ORDER BY id ASC`, memorySessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ListObservationsForProject returns the most recent observations for a
// project across sessions, newest first, capped at limit.
func (s *Store) ListObservationsForProject(ctx context.Context, project string, limit int) ([]*models.Observation, error) {
	rows, err := s.DB().QueryContext(ctx,
		observationSelectCols+` WHERE project = ? ORDER BY created_at_epoch DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ListObservationsForComposition returns the most recent observations
// visible to context composition for any of projects: those matching one
// of the given projects, plus every scope='global' observation regardless
// of project, newest first, capped at limit.
func (s *Store) ListObservationsForComposition(ctx context.Context, projects []string, limit int) ([]*models.Observation, error) {
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

	query := observationSelectCols + fmt.Sprintf(
		` WHERE project IN (%s) OR scope = 'global' ORDER BY created_at_epoch DESC LIMIT ?`, placeholders)
	rows, err := s.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ObservationsAroundID returns the window of observations in id order
// surrounding anchorID within project: up to `before` rows with id <=
// anchorID (oldest first) followed by up to `after` rows with id > anchorID.
// Used by the timeline-by-query endpoint to widen a vector search hit into
// its surrounding context.
func (s *Store) ObservationsAroundID(ctx context.Context, project string, anchorID int64, before, after int) ([]*models.Observation, error) {
	earlier, err := s.DB().QueryContext(ctx, observationSelectCols+`
		WHERE project = ? AND id <= ? ORDER BY id DESC LIMIT ?`, project, anchorID, before)
	if err != nil {
		return nil, err
	}
	defer earlier.Close()
	earlierObs, err := scanObservations(earlier)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(earlierObs)-1; i < j; i, j = i+1, j-1 {
		earlierObs[i], earlierObs[j] = earlierObs[j], earlierObs[i]
	}

	later, err := s.DB().QueryContext(ctx, observationSelectCols+`
		WHERE project = ? AND id > ? ORDER BY id ASC LIMIT ?`, project, anchorID, after)
	if err != nil {
		return nil, err
	}
	defer later.Close()
	laterObs, err := scanObservations(later)
	if err != nil {
		return nil, err
	}

	return append(earlierObs, laterObs...), nil
}

// CountObservationsForProject returns how many observations are stored for
// project, for the /api/stats aggregate.
func (s *Store) CountObservationsForProject(ctx context.Context, project string) (int, error) {
	var n int
	err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM observations WHERE project = ?`, project).Scan(&n)
	return n, err
}

// RecordRetrieval bumps retrieval_count and last_retrieved_at_epoch for the
// given observations — the ranking signal feeding the context composer's
// recency/frequency blend.
func (s *Store) RecordRetrieval(ctx context.Context, observationIDs []int64) error {
	if len(observationIDs) == 0 {
		return nil
	}
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE observations SET retrieval_count = retrieval_count + 1, last_retrieved_at_epoch = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range observationIDs {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const observationSelectCols = `
SELECT id, memory_session_id, project, scope, type, title, subtitle, facts, narrative,
       concepts, files_read, files_modified, prompt_number, discovery_tokens, content_hash,
       created_at_epoch, importance_score, retrieval_count, last_retrieved_at_epoch
FROM observations`

func scanObservations(rows *sql.Rows) ([]*models.Observation, error) {
	var out []*models.Observation
	for rows.Next() {
		var o models.Observation
		var facts, concepts, filesRead, filesModified string
		var lastRetrieved sql.NullInt64
		err := rows.Scan(
			&o.ID, &o.MemorySessionID, &o.Project, &o.Scope, &o.Type, &o.Title, &o.Subtitle, &facts, &o.Narrative,
			&concepts, &filesRead, &filesModified, &o.PromptNumber, &o.DiscoveryTokens, &o.ContentHash,
			&o.CreatedAtEpoch, &o.ImportanceScore, &o.RetrievalCount, &lastRetrieved,
		)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if err := json.Unmarshal([]byte(facts), &o.Facts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(concepts), &o.Concepts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(filesRead), &o.FilesRead); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(filesModified), &o.FilesModified); err != nil {
			return nil, err
		}
		if lastRetrieved.Valid {
			o.LastRetrievedAtEpoch = &lastRetrieved.Int64
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
