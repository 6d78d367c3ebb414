package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"scriptagent/internal/domain"
)

// SQLiteStore persists task runs, notes and the security audit log.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.AuditLogger = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) SaveTaskRun(ctx context.Context, rec domain.TaskRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO task_runs (id, task, candidate, status, stage, error_kind, error, snapshot, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Task, rec.Candidate, string(rec.Status), string(rec.Stage), rec.ErrorKind, rec.Error,
		string(rec.Snapshot), int64(rec.Duration), rec.CreatedAt,
	)
	return err
}

// ListTaskRuns returns the most recent runs first.
func (s *SQLiteStore) ListTaskRuns(ctx context.Context, limit int) ([]domain.TaskRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, candidate, status, stage, error_kind, error, snapshot, duration_ns, created_at
		 FROM task_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.TaskRecord
	for rows.Next() {
		var (
			r                                 domain.TaskRecord
			task, cand, stage, kind, msg, snp sql.NullString
			status                            string
			dur                               int64
		)
		if err := rows.Scan(&r.ID, &task, &cand, &status, &stage, &kind, &msg, &snp, &dur, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Task, r.Candidate = task.String, cand.String
		r.Status, r.Stage = domain.TaskStatus(status), domain.Stage(stage.String)
		r.ErrorKind, r.Error = kind.String, msg.String
		if snp.String != "" {
			r.Snapshot = json.RawMessage(snp.String)
		}
		r.Duration = time.Duration(dur)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveNotes stores notes in one transaction. Content is stored as JSON so
// numbers and booleans keep their type.
func (s *SQLiteStore) SaveNotes(ctx context.Context, notes []domain.NoteRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, n := range notes {
		content, err := json.Marshal(n.Content)
		if err != nil {
			return fmt.Errorf("encode note content: %w", err)
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notes (task_id, content, label, created_at) VALUES (?, ?, ?, ?)`,
			n.TaskID, string(content), n.Label, n.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListNotes returns notes oldest first. label filters when non-empty.
func (s *SQLiteStore) ListNotes(ctx context.Context, label string, limit int) ([]domain.NoteRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, task_id, content, label, created_at FROM notes`
	args := []any{}
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.NoteRecord
	for rows.Next() {
		var (
			n           domain.NoteRecord
			taskID, lbl sql.NullString
			content     string
		)
		if err := rows.Scan(&n.ID, &taskID, &content, &lbl, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.TaskID, n.Label = taskID.String, lbl.String
		if err := json.Unmarshal([]byte(content), &n.Content); err != nil {
			n.Content = content
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, task_id, pattern, snippet, result, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Action, entry.TaskID, entry.Pattern, entry.Snippet, entry.Result, entry.Details,
	)
	return err
}

// CountAudit returns the number of audit entries per result.
func (s *SQLiteStore) CountAudit(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT result, COUNT(*) FROM audit_log GROUP BY result`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var result sql.NullString
		var n int
		if err := rows.Scan(&result, &n); err != nil {
			return nil, err
		}
		counts[result.String] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
