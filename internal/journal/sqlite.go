package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tira-io/tirad/internal/model"

	_ "modernc.org/sqlite"
)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS entries (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    user_name  TEXT NOT NULL,
    task_id    TEXT NOT NULL DEFAULT '',
    dataset    TEXT NOT NULL DEFAULT '',
    run_id     TEXT NOT NULL DEFAULT '',
    job        TEXT NOT NULL DEFAULT '',
    outcome    TEXT NOT NULL,
    error      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
)`

const createEntriesUserIndex = `CREATE INDEX IF NOT EXISTS entries_user ON entries (user_name, created_at)`

const entryColumns = `id, kind, user_name, task_id, dataset, run_id, job, outcome, error, created_at`

// Compile-time interface satisfaction check.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens the SQLite database at dbPath and runs migrations.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createEntriesTable, createEntriesUserIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteJournal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Record appends e, assigning an id and timestamp when unset.
func (j *SQLiteJournal) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.User, e.TaskID, e.Dataset, e.RunID, e.Job, e.Outcome, e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (j *SQLiteJournal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("journal entry %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// List returns a page of entries ordered by created_at DESC, optionally
// restricted to one user, along with the total count matching the filter.
func (j *SQLiteJournal) List(ctx context.Context, user string, limit, offset int) ([]*Entry, int, error) {
	tx, err := j.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	where, args := "", []any{}
	if user != "" {
		where, args = " WHERE user_name = ?", append(args, user)
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate entries: %w", err)
	}

	return entries, total, nil
}

// Stats counts entries by kind and by outcome.
func (j *SQLiteJournal) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		CountByKind:    make(map[string]int),
		CountByOutcome: make(map[string]int),
	}

	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}
	if err := j.countBy(ctx, "kind", stats.CountByKind); err != nil {
		return nil, err
	}
	if err := j.countBy(ctx, "outcome", stats.CountByOutcome); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills dst with row counts grouped by column. column is always a
// constant from this file.
func (j *SQLiteJournal) countBy(ctx context.Context, column string, dst map[string]int) error {
	rows, err := j.db.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM entries GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		dst[key] = n
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	e := &Entry{}
	err := sc.Scan(&e.ID, &e.Kind, &e.User, &e.TaskID, &e.Dataset, &e.RunID,
		&e.Job, &e.Outcome, &e.Error, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}
