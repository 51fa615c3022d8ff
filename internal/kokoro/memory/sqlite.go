package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/kokoro/internal/kokoro/store"
)

// SQLiteStore implements Store on top of the kokoro SQLite database.
type SQLiteStore struct {
	db     *store.Store
	limits Limits
	now    func() time.Time
	logger *slog.Logger
}

// NewSQLiteStore wraps an opened store.Store. The migrations that create the
// memory tables must have been applied (store.Open guarantees this). A nil now
// means time.Now; a nil logger means slog.Default().
func NewSQLiteStore(db *store.Store, limits Limits, now func() time.Time, logger *slog.Logger) *SQLiteStore {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, limits: limits.withDefaults(), now: now, logger: logger}
}

// Backend implements Store.
func (s *SQLiteStore) Backend() string { return "sqlite" }

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- chat -------------------------------------------------------------------

// AppendChat implements Store.
func (s *SQLiteStore) AppendChat(ctx context.Context, role Role, content string) (ChatMessage, error) {
	if !role.Valid() {
		return ChatMessage{}, fmt.Errorf("memory sqlite: append chat: invalid role %q", role)
	}
	now := s.now()
	var msg ChatMessage
	var ts int64
	err := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO chat_messages (ts, role, content) VALUES (?, ?, ?)
		RETURNING id, ts, role, content`,
		toMillis(now), string(role), content,
	).Scan(&msg.ID, &ts, &msg.Role, &msg.Content)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("memory sqlite: append chat: %w", err)
	}
	msg.TS = fromMillis(ts)

	if err := s.enforceRetention(ctx, "chat_messages", s.limits.ChatMessages); err != nil {
		return msg, err
	}
	return msg, nil
}

// RecentChat implements Store.
func (s *SQLiteStore) RecentChat(ctx context.Context, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, ts, role, content FROM (
			SELECT id, ts, role, content FROM chat_messages ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: recent chat: %w", err)
	}
	return scanChat(rows)
}

// ChatAfter implements Store.
func (s *SQLiteStore) ChatAfter(ctx context.Context, afterID int64, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = s.limits.ChatMessages
	}
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, ts, role, content FROM chat_messages
		WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: chat after %d: %w", afterID, err)
	}
	return scanChat(rows)
}

func scanChat(rows *sql.Rows) ([]ChatMessage, error) {
	defer rows.Close()
	var out []ChatMessage
	for rows.Next() {
		var (
			m  ChatMessage
			ts int64
		)
		if err := rows.Scan(&m.ID, &ts, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("memory sqlite: scan chat: %w", err)
		}
		m.TS = fromMillis(ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: iterate chat: %w", err)
	}
	return out, nil
}

// --- notes ------------------------------------------------------------------

// UpsertNote implements Store.
func (s *SQLiteStore) UpsertNote(ctx context.Context, kind, content string) (Note, error) {
	kind, content = normalizeKind(kind), strings.TrimSpace(content)
	if content == "" {
		return Note{}, fmt.Errorf("memory sqlite: upsert note: empty content")
	}
	now := toMillis(s.now())
	row := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO memory_notes (kind, content, created_ts, updated_ts) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, content) DO UPDATE SET updated_ts = excluded.updated_ts
		RETURNING id, kind, content, created_ts, updated_ts`,
		kind, content, now, now)
	n, err := scanNote(row)
	if err != nil {
		return Note{}, fmt.Errorf("memory sqlite: upsert note: %w", err)
	}
	if err := s.enforceRetention(ctx, "memory_notes", s.limits.Notes); err != nil {
		return n, err
	}
	return n, nil
}

// UpdateNote implements Store.
func (s *SQLiteStore) UpdateNote(ctx context.Context, id int64, content string) (Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Note{}, fmt.Errorf("memory sqlite: update note %d: empty content", id)
	}
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return Note{}, fmt.Errorf("memory sqlite: update note %d: begin: %w", id, err)
	}
	defer tx.Rollback()

	var kind string
	err = tx.QueryRowContext(ctx, `SELECT kind FROM memory_notes WHERE id = ?`, id).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("memory sqlite: update note %d: %w", id, err)
	}

	now := toMillis(s.now())
	var otherID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM memory_notes WHERE kind = ? AND content = ? AND id != ?`,
		kind, content, id).Scan(&otherID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_notes SET content = ?, updated_ts = ? WHERE id = ?`,
			content, now, id); err != nil {
			return Note{}, fmt.Errorf("memory sqlite: update note %d: %w", id, err)
		}
		otherID = id
	case err != nil:
		return Note{}, fmt.Errorf("memory sqlite: update note %d: collision check: %w", id, err)
	default:
		// Merge into the row that already holds this content.
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_notes SET updated_ts = ? WHERE id = ?`, now, otherID); err != nil {
			return Note{}, fmt.Errorf("memory sqlite: merge note %d into %d: %w", id, otherID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_notes WHERE id = ?`, id); err != nil {
			return Note{}, fmt.Errorf("memory sqlite: merge note %d into %d: %w", id, otherID, err)
		}
		s.logger.Debug("memory sqlite: merged duplicate note", "from_id", id, "into_id", otherID)
	}

	n, err := scanNote(tx.QueryRowContext(ctx,
		`SELECT id, kind, content, created_ts, updated_ts FROM memory_notes WHERE id = ?`, otherID))
	if err != nil {
		return Note{}, fmt.Errorf("memory sqlite: reload note %d: %w", otherID, err)
	}
	if err := tx.Commit(); err != nil {
		return Note{}, fmt.Errorf("memory sqlite: update note %d: commit: %w", id, err)
	}
	return n, nil
}

// DeleteNote implements Store.
func (s *SQLiteStore) DeleteNote(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "memory_notes", id)
}

// ListNotes implements Store.
func (s *SQLiteStore) ListNotes(ctx context.Context, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, kind, content, created_ts, updated_ts FROM memory_notes
		ORDER BY updated_ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: list notes: %w", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("memory sqlite: list notes: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: list notes: %w", err)
	}
	return out, nil
}

// ClearNotes implements Store.
func (s *SQLiteStore) ClearNotes(ctx context.Context) (int, error) {
	return s.clear(ctx, "memory_notes")
}

// --- facts ------------------------------------------------------------------

// UpsertFact implements Store.
func (s *SQLiteStore) UpsertFact(ctx context.Context, f Fact) (Fact, error) {
	key := strings.TrimSpace(f.Key)
	if key == "" {
		return Fact{}, fmt.Errorf("memory sqlite: upsert fact: empty key")
	}
	now := toMillis(s.now())
	row := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO memory_facts (kind, key, value, created_ts, updated_ts) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind       = excluded.kind,
			value      = excluded.value,
			updated_ts = excluded.updated_ts
		RETURNING id, kind, key, value, created_ts, updated_ts`,
		normalizeKind(f.Kind), key, strings.TrimSpace(f.Value), now, now)
	out, err := scanFact(row)
	if err != nil {
		return Fact{}, fmt.Errorf("memory sqlite: upsert fact %q: %w", key, err)
	}
	if err := s.enforceRetention(ctx, "memory_facts", s.limits.Facts); err != nil {
		return out, err
	}
	return out, nil
}

// GetFact implements Store.
func (s *SQLiteStore) GetFact(ctx context.Context, key string) (Fact, error) {
	f, err := scanFact(s.db.DB().QueryRowContext(ctx, `
		SELECT id, kind, key, value, created_ts, updated_ts FROM memory_facts WHERE key = ?`,
		strings.TrimSpace(key)))
	if errors.Is(err, sql.ErrNoRows) {
		return Fact{}, ErrNotFound
	}
	if err != nil {
		return Fact{}, fmt.Errorf("memory sqlite: get fact %q: %w", key, err)
	}
	return f, nil
}

// DeleteFact implements Store.
func (s *SQLiteStore) DeleteFact(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "memory_facts", id)
}

// ListFacts implements Store.
func (s *SQLiteStore) ListFacts(ctx context.Context, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, kind, key, value, created_ts, updated_ts FROM memory_facts
		ORDER BY updated_ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: list facts: %w", err)
	}
	defer rows.Close()
	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("memory sqlite: list facts: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: list facts: %w", err)
	}
	return out, nil
}

// ClearFacts implements Store.
func (s *SQLiteStore) ClearFacts(ctx context.Context) (int, error) {
	return s.clear(ctx, "memory_facts")
}

// --- daily stats ------------------------------------------------------------

// DailyStats implements Store.
func (s *SQLiteStore) DailyStats(ctx context.Context, date string) (DailyStats, error) {
	st := DailyStats{Date: date}
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT proactive_count, ignore_count FROM daily_stats WHERE date = ?`, date,
	).Scan(&st.ProactiveCount, &st.IgnoreCount)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return DailyStats{}, fmt.Errorf("memory sqlite: daily stats %s: %w", date, err)
	}
	return st, nil
}

// IncrementProactive implements Store.
func (s *SQLiteStore) IncrementProactive(ctx context.Context, date string) (DailyStats, error) {
	return s.incrementDaily(ctx, date, "proactive_count")
}

// IncrementIgnore implements Store.
func (s *SQLiteStore) IncrementIgnore(ctx context.Context, date string) (DailyStats, error) {
	return s.incrementDaily(ctx, date, "ignore_count")
}

func (s *SQLiteStore) incrementDaily(ctx context.Context, date, column string) (DailyStats, error) {
	st := DailyStats{Date: date}
	err := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO daily_stats (date, `+column+`) VALUES (?, 1)
		ON CONFLICT(date) DO UPDATE SET `+column+` = `+column+` + 1
		RETURNING proactive_count, ignore_count`, date,
	).Scan(&st.ProactiveCount, &st.IgnoreCount)
	if err != nil {
		return DailyStats{}, fmt.Errorf("memory sqlite: increment %s for %s: %w", column, date, err)
	}
	return st, nil
}

// --- kv ---------------------------------------------------------------------

// GetKV implements Store.
func (s *SQLiteStore) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.DB().QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("memory sqlite: get kv %q: %w", key, err)
	}
	return value, nil
}

// SetKV implements Store.
func (s *SQLiteStore) SetKV(ctx context.Context, key, value string) error {
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_ts = excluded.updated_ts`,
		key, value, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("memory sqlite: set kv %q: %w", key, err)
	}
	return nil
}

// DeleteKV implements Store. Deleting a missing key is not an error.
func (s *SQLiteStore) DeleteKV(ctx context.Context, key string) error {
	if _, err := s.db.DB().ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("memory sqlite: delete kv %q: %w", key, err)
	}
	return nil
}

// --- helpers ----------------------------------------------------------------

// enforceRetention deletes every row with id <= maxID-limit once the table
// holds more than limit rows.
func (s *SQLiteStore) enforceRetention(ctx context.Context, table string, limit int) error {
	var count int
	var maxID sql.NullInt64
	if err := s.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(id) FROM `+table).Scan(&count, &maxID); err != nil {
		return fmt.Errorf("memory sqlite: retention %s: %w", table, err)
	}
	if count <= limit || !maxID.Valid {
		return nil
	}
	res, err := s.db.DB().ExecContext(ctx, `DELETE FROM `+table+` WHERE id <= ?`, maxID.Int64-int64(limit))
	if err != nil {
		return fmt.Errorf("memory sqlite: retention %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("memory sqlite: retention trimmed rows", "table", table, "deleted", n, "limit", limit)
	}
	return nil
}

func (s *SQLiteStore) deleteByID(ctx context.Context, table string, id int64) error {
	res, err := s.db.DB().ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("memory sqlite: delete %s %d: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) clear(ctx context.Context, table string) (int, error) {
	res, err := s.db.DB().ExecContext(ctx, `DELETE FROM `+table)
	if err != nil {
		return 0, fmt.Errorf("memory sqlite: clear %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(r rowScanner) (Note, error) {
	var (
		n                Note
		created, updated int64
	)
	if err := r.Scan(&n.ID, &n.Kind, &n.Content, &created, &updated); err != nil {
		return Note{}, err
	}
	n.CreatedAt, n.UpdatedAt = fromMillis(created), fromMillis(updated)
	return n, nil
}

func scanFact(r rowScanner) (Fact, error) {
	var (
		f                Fact
		created, updated int64
	)
	if err := r.Scan(&f.ID, &f.Kind, &f.Key, &f.Value, &created, &updated); err != nil {
		return Fact{}, err
	}
	f.CreatedAt, f.UpdatedAt = fromMillis(created), fromMillis(updated)
	return f, nil
}

func normalizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return KindNote
	}
	return kind
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)
