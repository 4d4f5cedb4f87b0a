// Package vector maintains a best-effort sqlite-vec mirror of observation
// and summary text: a separate connection holding per-project vec0 virtual
// tables that the relational store's writes fan out into after they
// commit. Mirror failures never fail the write they shadow.
package vector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/claude-mem/worker/pkg/models"
)

// Dimensions matches the fixed-width embedding this mirror stores. A real
// deployment would swap GenerateEmbedding for a model-backed call without
// touching the schema, provided it keeps producing this width.
const Dimensions = 384

// DocType distinguishes what kind of row a mirrored vector describes.
type DocType string

const (
	DocObservation DocType = "observation"
	DocSummary     DocType = "summary"
	DocPrompt      DocType = "prompt"
)

// Mirror owns a dedicated sqlite-vec connection, independent from the
// relational store's *sql.DB so a vector-store outage or reconnect never
// blocks the relational write path.
type Mirror struct {
	mu   sync.Mutex // guards reconnect: close old handle before opening new
	db   *sql.DB
	path string
}

// Open creates (if necessary) the vector database file and registers the
// sqlite-vec extension via the ncruces blank import, the pattern GoKitt's
// store package uses.
func Open(ctx context.Context, path string) (*Mirror, error) {
	db, err := openConn(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Mirror{db: db, path: path}, nil
}

func openConn(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply wal: %w", err)
	}
	return db, nil
}

// Reconnect closes the current handle and reopens it, used after a
// detected corruption or extension-load failure. The old handle is always
// closed first so a failed reopen never leaks a connection.
func (m *Mirror) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		_ = m.db.Close()
		m.db = nil
	}
	db, err := openConn(ctx, m.path)
	if err != nil {
		return err
	}
	m.db = db
	return nil
}

func (m *Mirror) conn() *sql.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

// Close closes the underlying connection.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// collectionName derives the per-project vec0 table name; projects are kept
// in separate virtual tables so a query never has to filter cross-project
// rows out of a single ANN scan.
func collectionName(project string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, project)
	if sanitized == "" {
		sanitized = "default"
	}
	return "cm__" + sanitized
}

// ensureCollection creates the project's vec0 table if it doesn't exist.
// Called lazily on first write rather than eagerly for every known project.
func (m *Mirror) ensureCollection(ctx context.Context, project string) error {
	ddl := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			doc_id TEXT PRIMARY KEY,
			embedding float[%d],
			sqlite_id INTEGER,
			doc_type TEXT,
			scope TEXT
		)`, collectionName(project), Dimensions)
	_, err := m.conn().ExecContext(ctx, ddl)
	return err
}

// SyncObservation mirrors one observation's narrative text into its
// project's vec0 collection. Failures are logged and swallowed: the vector
// mirror degrades gracefully and is never a dependency the write path
// blocks on.
func (m *Mirror) SyncObservation(ctx context.Context, obs *models.Observation) {
	if err := m.syncObservation(ctx, obs); err != nil {
		slog.Warn("vector mirror sync failed", "observation_id", obs.ID, "err", err)
	}
}

func (m *Mirror) syncObservation(ctx context.Context, obs *models.Observation) error {
	text := obs.Title + "\n" + obs.Subtitle + "\n" + obs.Narrative + "\n" + strings.Join(obs.Facts, "\n")
	docID := fmt.Sprintf("observation:%d", obs.ID)
	return m.upsertDoc(ctx, obs.Project, docID, DocObservation, obs.Scope, obs.ID, text)
}

// SyncSummary mirrors one session summary's narrative text into its
// project's vec0 collection, the same best-effort fire-and-forget shape as
// SyncObservation.
func (m *Mirror) SyncSummary(ctx context.Context, sum *models.SessionSummary) {
	if err := m.syncSummary(ctx, sum); err != nil {
		slog.Warn("vector mirror sync failed", "summary_id", sum.ID, "err", err)
	}
}

func (m *Mirror) syncSummary(ctx context.Context, sum *models.SessionSummary) error {
	text := sum.Request + "\n" + sum.Investigated + "\n" + sum.Learned + "\n" +
		sum.Completed + "\n" + sum.NextSteps + "\n" + sum.Notes
	docID := fmt.Sprintf("summary:%d", sum.ID)
	return m.upsertDoc(ctx, sum.Project, docID, DocSummary, sum.Scope, sum.ID, text)
}

// SyncPrompt mirrors one raw user prompt into its project's vec0
// collection so /api/context/search can surface the prompt that triggered
// a run of observations, not just the observations themselves.
func (m *Mirror) SyncPrompt(ctx context.Context, project string, promptID int64, scope models.ObservationScope, text string) {
	if err := m.syncPrompt(ctx, project, promptID, scope, text); err != nil {
		slog.Warn("vector mirror sync failed", "prompt_id", promptID, "err", err)
	}
}

func (m *Mirror) syncPrompt(ctx context.Context, project string, promptID int64, scope models.ObservationScope, text string) error {
	docID := fmt.Sprintf("prompt:%d", promptID)
	return m.upsertDoc(ctx, project, docID, DocPrompt, scope, promptID, text)
}

// upsertDoc embeds text and writes it into project's vec0 collection under
// docID, creating the collection on first write.
func (m *Mirror) upsertDoc(ctx context.Context, project, docID string, docType DocType, scope models.ObservationScope, sqliteID int64, text string) error {
	if err := m.ensureCollection(ctx, project); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	vec := GenerateEmbedding(text)
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}

	table := collectionName(project)
	_, err = m.conn().ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (doc_id, embedding, sqlite_id, doc_type, scope)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (doc_id) DO UPDATE SET embedding = excluded.embedding`, table),
		docID, blob, sqliteID, string(docType), string(scope),
	)
	return err
}

// DeleteObservation removes an observation's mirrored vector, for the rare
// case a stored observation is later retracted.
func (m *Mirror) DeleteObservation(ctx context.Context, project string, observationID int64) {
	table := collectionName(project)
	docID := fmt.Sprintf("observation:%d", observationID)
	if _, err := m.conn().ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE doc_id = ?`, table), docID); err != nil {
		slog.Warn("vector mirror delete failed", "observation_id", observationID, "err", err)
	}
}

// SearchResult is one nearest-neighbor hit against a project's collection.
type SearchResult struct {
	DocID    string
	SqliteID int64
	DocType  DocType
	Distance float64
}

// Search returns the k nearest observations/summaries to queryText within a
// project's collection, ordered by ascending distance.
func (m *Mirror) Search(ctx context.Context, project, queryText string, k int) ([]SearchResult, error) {
	table := collectionName(project)
	vec := GenerateEmbedding(queryText)
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := m.conn().QueryContext(ctx, fmt.Sprintf(`
		SELECT doc_id, sqlite_id, doc_type, distance
		FROM %s WHERE embedding MATCH ? AND k = ?
		ORDER BY distance ASC`, table), blob, k)
	if err != nil {
		return nil, fmt.Errorf("ann search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var docType string
		if err := rows.Scan(&r.DocID, &r.SqliteID, &docType, &r.Distance); err != nil {
			return nil, err
		}
		r.DocType = DocType(docType)
		out = append(out, r)
	}
	return out, rows.Err()
}
