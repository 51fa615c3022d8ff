// Package memory implements kokoro's durable memory: the chat log, notes,
// keyed facts, daily proactive counters and key/value settings, plus the
// relevance ranker and the rolling conversation summary built on top of them.
//
// Two interchangeable backends implement Store: SQLite (primary) and a single
// JSON document (fallback). Open picks one with a capability probe so callers
// never branch on which backend is active.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row addressed by id or key does not exist.
var ErrNotFound = errors.New("memory: not found")

// ErrPersistenceUnavailable marks a primary-backend initialisation failure.
// It is never fatal: Open logs it and continues with the fallback backend.
var ErrPersistenceUnavailable = errors.New("memory: primary persistence unavailable")

// ErrSensitiveContent is returned when a write is refused because the text
// looks like it carries a credential.
var ErrSensitiveContent = errors.New("memory: content looks sensitive")

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Note kinds used by the ranker's kind bias. Kinds are free-form strings;
// these are the ones the rest of the system produces.
const (
	KindNote       = "note"
	KindProfile    = "profile"
	KindPreference = "preference"
	KindProject    = "project"
)

// ChatMessage is one persisted turn of the chat log.
type ChatMessage struct {
	ID      int64
	TS      time.Time
	Role    Role
	Content string
}

// Note is a free-form memory, unique on (Kind, Content).
type Note struct {
	ID        int64
	Kind      string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fact is a keyed memory, unique on Key.
type Fact struct {
	ID        int64
	Kind      string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DailyStats holds the proactive throttling counters of one calendar day.
type DailyStats struct {
	Date           string `json:"date"`
	ProactiveCount int    `json:"proactive_count"`
	IgnoreCount    int    `json:"ignore_count"`
}

// Limits bounds the number of retained rows per table.
type Limits struct {
	ChatMessages int
	Notes        int
	Facts        int
}

// DefaultLimits returns the documented retention limits.
func DefaultLimits() Limits {
	return Limits{ChatMessages: 2000, Notes: 400, Facts: 400}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.ChatMessages <= 0 {
		l.ChatMessages = d.ChatMessages
	}
	if l.Notes <= 0 {
		l.Notes = d.Notes
	}
	if l.Facts <= 0 {
		l.Facts = d.Facts
	}
	return l
}

// Store is the persistence API shared by every backend.
// Implementations must be safe for concurrent use.
type Store interface {
	// AppendChat persists one chat turn and enforces chat retention.
	AppendChat(ctx context.Context, role Role, content string) (ChatMessage, error)
	// RecentChat returns up to limit newest messages in chronological order.
	RecentChat(ctx context.Context, limit int) ([]ChatMessage, error)
	// ChatAfter returns up to limit messages with id > afterID, oldest first.
	ChatAfter(ctx context.Context, afterID int64, limit int) ([]ChatMessage, error)

	// UpsertNote inserts (kind, content) or bumps UpdatedAt of the existing row.
	UpsertNote(ctx context.Context, kind, content string) (Note, error)
	// UpdateNote rewrites the content of note id. When the new content
	// collides with another note of the same kind, the two are merged into
	// the existing row and id is deleted.
	UpdateNote(ctx context.Context, id int64, content string) (Note, error)
	DeleteNote(ctx context.Context, id int64) error
	// ListNotes returns up to limit notes, most recently updated first.
	// limit <= 0 returns all notes.
	ListNotes(ctx context.Context, limit int) ([]Note, error)
	ClearNotes(ctx context.Context) (int, error)

	// UpsertFact inserts f or overwrites Kind/Value/UpdatedAt of the row with
	// the same Key.
	UpsertFact(ctx context.Context, f Fact) (Fact, error)
	GetFact(ctx context.Context, key string) (Fact, error)
	DeleteFact(ctx context.Context, id int64) error
	// ListFacts returns up to limit facts, most recently updated first.
	ListFacts(ctx context.Context, limit int) ([]Fact, error)
	ClearFacts(ctx context.Context) (int, error)

	// DailyStats returns the counters for date (YYYY-MM-DD); a day without a
	// row reads as zero.
	DailyStats(ctx context.Context, date string) (DailyStats, error)
	IncrementProactive(ctx context.Context, date string) (DailyStats, error)
	IncrementIgnore(ctx context.Context, date string) (DailyStats, error)

	// GetKV returns ErrNotFound when key is unset.
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
	DeleteKV(ctx context.Context, key string) error

	// Backend names the active implementation ("sqlite" or "json").
	Backend() string
	Close() error
}

// DateKey formats t as the calendar-day key used by DailyStats.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
