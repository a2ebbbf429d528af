package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/startupai/intake/internal/models"
	"github.com/startupai/intake/internal/session"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool, which
	// is also what makes ApplyTurn's read-modify-write safe: two turns for the
	// same session can never interleave inside a transaction.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mustJSON marshals v, falling back to the given literal on error.
func mustJSON(v any, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}

// --- Sessions ---

const sessionColumns = `id, owner_id, status, current_stage, stage_progress, overall_progress, history, brief, applied_messages, version, summary, workflow_job_id, project_id, created_at, updated_at`

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	if sess.Status == "" {
		sess.Status = models.SessionStatusActive
	}
	if sess.CurrentStage == 0 {
		sess.CurrentStage = 1
	}
	if sess.Brief == nil {
		sess.Brief = models.Brief{}
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, status, current_stage, stage_progress, overall_progress, history, brief, applied_messages, version, workflow_job_id, project_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, string(sess.Status), sess.CurrentStage,
		sess.StageProgress, sess.OverallProgress,
		mustJSON(sess.History, "[]"), mustJSON(sess.Brief, "{}"),
		mustJSON(sess.AppliedMessages, "[]"), sess.Version,
		sess.WorkflowJobID, sess.ProjectID, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// scanSession scans one session row from any row scanner.
func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	sess := &models.Session{}
	var status, history, brief, applied string
	var summary sql.NullString

	err := row.Scan(&sess.ID, &sess.OwnerID, &status, &sess.CurrentStage,
		&sess.StageProgress, &sess.OverallProgress, &history, &brief, &applied,
		&sess.Version, &summary, &sess.WorkflowJobID, &sess.ProjectID,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sess.Status = models.SessionStatus(status)
	if err := json.Unmarshal([]byte(history), &sess.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if err := json.Unmarshal([]byte(brief), &sess.Brief); err != nil {
		return nil, fmt.Errorf("decode brief: %w", err)
	}
	if err := json.Unmarshal([]byte(applied), &sess.AppliedMessages); err != nil {
		return nil, fmt.Errorf("decode applied messages: %w", err)
	}
	if summary.Valid && summary.String != "" {
		sess.Summary = &models.CompletionSummary{}
		if err := json.Unmarshal([]byte(summary.String), sess.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	return sess, nil
}

func (s *SQLiteStore) getSession(ctx context.Context, q queryer, id string) (*models.Session, error) {
	sess, err := scanSession(q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// queryer abstracts *sql.DB and *sql.Tx for reads.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.getSession(ctx, s.db, id)
}

func (s *SQLiteStore) GetOwnedSession(ctx context.Context, id, ownerID string) (*models.Session, error) {
	sess, err := s.getSession(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, fmt.Errorf("session %s: %w", id, ErrUnauthorized)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var conditions []string
	var args []any

	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ExpireSession transitions an active session to expired. Terminal sessions
// are left untouched.
func (s *SQLiteStore) ExpireSession(ctx context.Context, id, ownerID string) error {
	sess, err := s.GetOwnedSession(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("session %s: %w", id, ErrSessionEnded)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.SessionStatusExpired), time.Now().UTC(), id, string(models.SessionStatusActive),
	)
	if err != nil {
		return fmt.Errorf("expire session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionEnded)
	}
	return nil
}

// annotateSessionJob records the workflow job and project ids on the session
// row after a successful handoff. Runs inside the completing transaction.
func annotateSessionJob(ctx context.Context, tx *sql.Tx, sessionID, workflowJobID, projectID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sessions SET workflow_job_id = ?, project_id = ?, updated_at = ? WHERE id = ?`,
		workflowJobID, projectID, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("annotate session job: %w", err)
	}
	return nil
}

// --- Turn protocol ---

// ApplyTurn executes the whole turn protocol as one atomic transaction:
// ownership check, optimistic-concurrency guard, idempotency guard, history
// append, brief merge, stage transition, completion detection, version bump.
// When the turn completes the session the completion queue item is created in
// the same transaction, so a session can never complete without its handoff
// item and never produces more than one.
func (s *SQLiteStore) ApplyTurn(ctx context.Context, params ApplyTurnParams) (*ApplyTurnResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.getSession(ctx, tx, params.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != params.OwnerID {
		return nil, fmt.Errorf("session %s: %w", params.SessionID, ErrUnauthorized)
	}

	// Optimistic-concurrency guard: a caller holding a stale version must
	// refetch and retry. No mutation.
	if params.ExpectedVersion != nil && *params.ExpectedVersion != sess.Version {
		return &ApplyTurnResult{Outcome: OutcomeVersionConflict, Session: sess}, nil
	}

	// Idempotency guard: retried deliveries return the current snapshot
	// untouched.
	if sess.HasApplied(params.MessageID) {
		return &ApplyTurnResult{Outcome: OutcomeDuplicate, Session: sess}, nil
	}

	if sess.Status.Terminal() {
		return nil, fmt.Errorf("session %s: %w", params.SessionID, ErrSessionEnded)
	}

	prevVersion := sess.Version
	applied := session.Apply(sess, session.Input{
		MessageID:        params.MessageID,
		UserMessage:      params.UserMessage,
		AssistantMessage: params.AssistantMessage,
		Assessment:       params.Assessment,
	})

	result, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status=?, current_stage=?, stage_progress=?, overall_progress=?, history=?, brief=?, applied_messages=?, version=?, summary=?, updated_at=?
		WHERE id=? AND version=?`,
		string(sess.Status), sess.CurrentStage, sess.StageProgress, sess.OverallProgress,
		mustJSON(sess.History, "[]"), mustJSON(sess.Brief, "{}"),
		mustJSON(sess.AppliedMessages, "[]"), sess.Version,
		summaryJSON(sess.Summary), sess.UpdatedAt,
		sess.ID, prevVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("session %s: concurrent modification", sess.ID)
	}

	res := &ApplyTurnResult{
		Outcome:       OutcomeCommitted,
		Session:       sess,
		StageAdvanced: applied.StageAdvanced,
		Completed:     applied.Completed,
	}

	if applied.Completed {
		itemID, err := insertQueueItem(ctx, tx, sess)
		if err != nil {
			return nil, err
		}
		res.QueueItemID = itemID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

func summaryJSON(summary *models.CompletionSummary) any {
	if summary == nil {
		return nil
	}
	return mustJSON(summary, "{}")
}
