package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteBackend stores session logs in a single SQLite table, ordered by a
// per-session sequence column. history_sessions holds the next sequence per
// session so numbers are not reused after a trim or clear.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = &SQLiteBackend{}

func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite history: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteBackend{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN with WAL, a busy timeout and immediate
// transactions so concurrent appends never deadlock on lock upgrades.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite history: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path), nil
}

func (s *SQLiteBackend) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history_entries (
			session_key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			entry TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (session_key, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS history_sessions (
			session_key TEXT PRIMARY KEY,
			next_seq INTEGER NOT NULL
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite history: migrate")
		}
	}
	return nil
}

func (s *SQLiteBackend) Range(ctx context.Context, key string, limit int) ([]string, int64, error) {
	next, err := s.nextSeq(ctx, s.db, key)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		return []string{}, next, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, entry FROM (
			SELECT seq, entry FROM history_entries
			WHERE session_key = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, key, limit)
	if err != nil {
		return nil, 0, errors.Wrap(err, "sqlite history: range")
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	first := next
	for rows.Next() {
		var (
			seq   int64
			entry string
		)
		if err := rows.Scan(&seq, &entry); err != nil {
			return nil, 0, errors.Wrap(err, "sqlite history: scan")
		}
		if len(out) == 0 {
			first = seq
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "sqlite history: rows")
	}
	return out, first, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nextSeq falls back to MAX(seq)+1 for sessions written before
// history_sessions existed.
func (s *SQLiteBackend) nextSeq(ctx context.Context, q querier, key string) (int64, error) {
	var next int64
	err := q.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT next_seq FROM history_sessions WHERE session_key = ?), 0),
			COALESCE((SELECT MAX(seq) + 1 FROM history_entries WHERE session_key = ?), 0)
		)
	`, key, key).Scan(&next)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite history: next seq")
	}
	return next, nil
}

func (s *SQLiteBackend) Push(ctx context.Context, key string, entries ...string) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite history: begin")
	}
	defer func() { _ = tx.Rollback() }()

	next, err := s.nextSeq(ctx, tx, key)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history_entries(session_key, seq, entry, created_at_ms) VALUES(?, ?, ?, ?)`,
			key, next+int64(i), e, now,
		); err != nil {
			return errors.Wrap(err, "sqlite history: insert")
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history_sessions(session_key, next_seq) VALUES(?, ?)
		ON CONFLICT(session_key) DO UPDATE SET next_seq = excluded.next_seq
	`, key, next+int64(len(entries))); err != nil {
		return errors.Wrap(err, "sqlite history: bump seq")
	}
	return errors.Wrap(tx.Commit(), "sqlite history: commit")
}

func (s *SQLiteBackend) Trim(ctx context.Context, key string, limit int) error {
	if limit <= 0 {
		return s.Delete(ctx, key)
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM history_entries
		WHERE session_key = ?
		AND seq NOT IN (
			SELECT seq FROM history_entries
			WHERE session_key = ?
			ORDER BY seq DESC
			LIMIT ?
		)
	`, key, key, limit)
	return errors.Wrap(err, "sqlite history: trim")
}

// Delete drops the entries but keeps the session's sequence counter.
func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history_entries WHERE session_key = ?`, key)
	return errors.Wrap(err, "sqlite history: delete")
}

func (s *SQLiteBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
