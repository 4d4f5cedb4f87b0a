package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// migration is one numbered, idempotent schema step. Required migrations
// abort worker startup on failure; non-required ones (FTS5) degrade
// gracefully when the extension is unavailable.
type migration struct {
	version  int
	name     string
	required bool
	apply    func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "core_tables", true, migrateCoreTables},
	{2, "concept_weights", true, migrateConceptWeights},
	{3, "pending_messages_enum_checks", true, migratePendingMessagesEnumChecks},
	{4, "observation_scope_and_ranking_columns", true, migrateObservationScopeColumns},
	{5, "fts5_search", false, migrateFTS5},
}

// RunMigrations applies every migration not yet recorded in schema_versions,
// each in its own transaction, each probing live schema state before acting
// so a crash mid-migration (leaving a `<table>_new` table behind, or a
// missing version row despite an already-altered table) is safe to retry.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		applied, err := versionApplied(ctx, db, m.version)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := m.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			if !m.required {
				slog.Warn("optional migration degraded, continuing without it",
					"version", m.version, "name", m.name, "err", err)
				continue
			}
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().Unix(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		slog.Info("applied migration", "version", m.version, "name", m.name)
	}

	return nil
}

func versionApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_versions WHERE version = ?", version).Scan(&count)
	return count > 0, err
}

func migrateCoreTables(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range splitStatements(sessionsDDL + observationsDDL + sessionSummariesDDL + userPromptsDDL + pendingMessagesDDL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", truncateForError(stmt), err)
		}
	}
	return nil
}

func migrateConceptWeights(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range splitStatements(conceptWeightsDDL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	now := time.Now().Unix()
	for concept, weight := range seedConceptWeights {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO concept_weights (concept, weight, updated_at) VALUES (?, ?, ?)`,
			concept, weight, now,
		); err != nil {
			return err
		}
	}
	return nil
}

// seedConceptWeights primes the ranking tie-breaker with the default
// engineering mode's vocabulary; an operator adding a custom mode's
// concepts can INSERT additional rows without touching this migration.
var seedConceptWeights = map[string]float64{
	"architecture-decision": 1.5,
	"gotcha":                1.3,
	"pattern":               1.1,
	"convention":            1.0,
	"how-it-works":          0.8,
}

// migratePendingMessagesEnumChecks adds CHECK constraints on message_type
// and status. SQLite cannot ALTER an existing column's constraints, so this
// rebuilds the table under a `_new` name, including clearing any
// partially-built `_new` table a prior crash may have left behind.
func migratePendingMessagesEnumChecks(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS pending_messages_new"); err != nil {
		return err
	}

	hasChecks, err := tableDefinitionContains(ctx, tx, "pending_messages", "CHECK (status IN")
	if err != nil {
		return err
	}
	if hasChecks {
		return nil
	}

	if _, err := tx.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, pendingMessagesWithCheckDDL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pending_messages_new
		SELECT id, session_db_id, content_session_id, message_type, tool_name,
		       tool_input, tool_response, cwd, last_assistant_message, prompt_number,
		       status, retry_count, created_at_epoch, started_processing_at_epoch,
		       completed_at_epoch, failed_at_epoch
		FROM pending_messages`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE pending_messages"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE pending_messages_new RENAME TO pending_messages"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return err
	}
	for _, stmt := range splitStatements(`
		CREATE INDEX IF NOT EXISTS idx_pending_session_status ON pending_messages(session_db_id, status, id);
		CREATE INDEX IF NOT EXISTS idx_pending_status_started ON pending_messages(status, started_processing_at_epoch);`) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateObservationScopeColumns adds the cross-project scope and ranking
// columns. Plain ADD COLUMN is expressible here, but the migration still
// probes live state first so re-running after a crash between the ALTER
// and the schema_versions commit is a no-op, not an error.
func migrateObservationScopeColumns(ctx context.Context, tx *sql.Tx) error {
	obsHasScope, err := columnExists(ctx, tx, "observations", "scope")
	if err != nil {
		return err
	}
	if !obsHasScope {
		for _, stmt := range []string{
			"ALTER TABLE observations ADD COLUMN scope TEXT NOT NULL DEFAULT 'project'",
			"ALTER TABLE observations ADD COLUMN importance_score REAL NOT NULL DEFAULT 0",
			"ALTER TABLE observations ADD COLUMN retrieval_count INTEGER NOT NULL DEFAULT 0",
			"ALTER TABLE observations ADD COLUMN last_retrieved_at_epoch INTEGER",
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
	}

	summaryHasScope, err := columnExists(ctx, tx, "session_summaries", "scope")
	if err != nil {
		return err
	}
	if !summaryHasScope {
		if _, err := tx.ExecContext(ctx, "ALTER TABLE session_summaries ADD COLUMN scope TEXT NOT NULL DEFAULT 'project'"); err != nil {
			return err
		}
	}
	return nil
}

func migrateFTS5(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range splitStatements(observationsFTSDDL + userPromptsFTSDDL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("fts5 unavailable or failed: %w", err)
		}
	}
	return nil
}

// columnExists probes live schema state via PRAGMA table_info rather than
// trusting schema_versions alone.
func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func tableDefinitionContains(ctx context.Context, tx *sql.Tx, table, substr string) (bool, error) {
	var def string
	err := tx.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("table %s does not exist", table)
	}
	if err != nil {
		return false, err
	}
	return strings.Contains(def, substr), nil
}

// splitStatements splits a block of DDL into individual statements on
// semicolon boundaries, except inside trigger bodies: a BEGIN keeps
// accumulating fragments (re-joined with ";") until its matching END, so a
// multi-statement trigger body is never cut into invalid partial statements.
func splitStatements(ddl string) []string {
	raw := strings.Split(ddl, ";")
	out := make([]string, 0, len(raw))
	var pending strings.Builder
	open := 0

	flush := func() {
		stmt := strings.TrimSpace(pending.String())
		if stmt != "" {
			out = append(out, stmt)
		}
		pending.Reset()
		open = 0
	}

	for _, part := range raw {
		if pending.Len() > 0 {
			pending.WriteString(";")
		}
		pending.WriteString(part)
		upper := strings.ToUpper(part)
		open += strings.Count(upper, "BEGIN") - strings.Count(upper, "END")
		if open <= 0 {
			flush()
		}
	}
	flush()

	return out
}

func truncateForError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
