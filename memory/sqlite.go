package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/logging"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	session_id   TEXT PRIMARY KEY,
	history      TEXT NOT NULL,
	last_updated INTEGER NOT NULL,
	size_kb      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_last_updated ON conversations(last_updated);
`

// busyRetries bounds optimistic retries when another connection holds the
// write lock.
const busyRetries = 5

// SQLiteStore is a durable ConversationStore backed by a single SQLite file.
// Each session is one row holding its JSON-encoded history.
type SQLiteStore struct {
	db     *sql.DB
	locks  *keyedMutex
	opts   Options
	logger logging.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, optFns ...func(o *Options)) (*SQLiteStore, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Immediate transactions take the write lock up front so two appends to
	// the same row cannot both read the old history.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, locks: newKeyedMutex(), opts: opts, logger: logging.OrNoOp(opts.Logger)}, nil
}

// Append adds msg to the session inside one transaction, then prunes.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg core.Message) error {
	if sessionID == "" {
		return core.Errorf(core.KindValidation, "memory.append", "session id is required")
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = s.appendTx(ctx, sessionID, msg)
		if err == nil || !isConflict(err) {
			break
		}
		s.logger.Debug("memory.append.busy", "session_id", sessionID, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	if err != nil {
		return err
	}

	if err := s.prune(ctx, sessionID); err != nil {
		// the append itself is committed; retention catches up next time
		s.logger.Warn("memory.prune.error", "session_id", sessionID, "error", err.Error())
	}
	return nil
}

func (s *SQLiteStore) appendTx(ctx context.Context, sessionID string, msg core.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	sess := core.NewSession(sessionID)
	var history string
	err = tx.QueryRowContext(ctx, `SELECT history FROM conversations WHERE session_id = ?`, sessionID).Scan(&history)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	default:
		if err := json.Unmarshal([]byte(history), &sess.Messages); err != nil {
			return core.NewError(core.KindValidation, "memory.append", fmt.Errorf("decode history of %s: %w", sessionID, err))
		}
	}

	raw, err := sess.Append(msg)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO conversations (session_id, history, last_updated, size_kb)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		history = excluded.history,
		last_updated = excluded.last_updated,
		size_kb = excluded.size_kb`,
		sessionID, string(raw), sess.Updated.UnixNano(), fmt.Sprintf("%.2f", sess.SizeKB),
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// prune applies the retention policy, sparing current.
func (s *SQLiteStore) prune(ctx context.Context, current string) error {
	if s.opts.MaxSessions <= 0 && s.opts.MaxStorageMB <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx, `SELECT session_id, last_updated, LENGTH(history) FROM conversations`)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	var infos []sessionInfo
	for rows.Next() {
		var (
			info    sessionInfo
			updated int64
			size    int64
		)
		if err := rows.Scan(&info.ID, &updated, &size); err != nil {
			rows.Close()
			return fmt.Errorf("scan session: %w", err)
		}
		info.Updated = time.Unix(0, updated)
		info.SizeKB = float64(size) / 1024
		infos = append(infos, info)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close rows: %w", err)
	}

	p := s.opts.plan(infos, current)
	victims := p.all()
	if len(victims) == 0 {
		return nil
	}
	for _, id := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("evict %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prune: %w", err)
	}
	logPlan(s.logger, p)
	return nil
}

// Recent returns a page of the session's history in chronological order.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, limit, offset int) ([]core.Message, error) {
	msgs, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return core.PageMessages(msgs, limit, offset), nil
}

func (s *SQLiteStore) load(ctx context.Context, sessionID string) ([]core.Message, error) {
	var history string
	err := s.db.QueryRowContext(ctx, `SELECT history FROM conversations WHERE session_id = ?`, sessionID).Scan(&history)
	if errors.Is(err, sql.ErrNoRows) {
		return []core.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var msgs []core.Message
	if err := json.Unmarshal([]byte(history), &msgs); err != nil {
		return nil, core.NewError(core.KindValidation, "memory.load", fmt.Errorf("decode history of %s: %w", sessionID, err))
	}
	return msgs, nil
}

// ContextString renders the full history as a transcript.
func (s *SQLiteStore) ContextString(ctx context.Context, sessionID string) (string, error) {
	msgs, err := s.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return RenderTranscript(msgs), nil
}

// Stats reports session count and total stored history size.
func (s *SQLiteStore) Stats(ctx context.Context) (core.StoreStats, error) {
	var (
		st    core.StoreStats
		bytes int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(LENGTH(history)), 0) FROM conversations`).Scan(&st.Sessions, &bytes)
	if err != nil {
		return core.StoreStats{}, fmt.Errorf("store stats: %w", err)
	}
	st.SizeKB = float64(bytes) / 1024
	return st, nil
}

// SessionIDs lists stored sessions, most recently updated first.
func (s *SQLiteStore) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM conversations ORDER BY last_updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConflict reports SQLite lock contention, which is safe to retry.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
