package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultFlushDelay is how long JSONStore coalesces writes before touching disk.
const DefaultFlushDelay = 400 * time.Millisecond

const jsonDocVersion = 1

// jsonDoc is the on-disk layout of the fallback store. Timestamps are Unix
// milliseconds, matching the SQLite columns.
type jsonDoc struct {
	Version int                  `json:"version"`
	NextIDs jsonNextIDs          `json:"next_ids"`
	Chat    []jsonChat           `json:"chat"`
	Notes   []jsonNote           `json:"notes"`
	Facts   []jsonFact           `json:"facts"`
	Daily   map[string]jsonDaily `json:"daily"`
	KV      map[string]jsonKV    `json:"kv"`
}

type jsonNextIDs struct {
	Chat int64 `json:"chat"`
	Note int64 `json:"note"`
	Fact int64 `json:"fact"`
}

type jsonChat struct {
	ID      int64  `json:"id"`
	TS      int64  `json:"ts"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonNote struct {
	ID      int64  `json:"id"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
	Created int64  `json:"created_ts"`
	Updated int64  `json:"updated_ts"`
}

type jsonFact struct {
	ID      int64  `json:"id"`
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Created int64  `json:"created_ts"`
	Updated int64  `json:"updated_ts"`
}

type jsonDaily struct {
	Proactive int `json:"proactive_count"`
	Ignore    int `json:"ignore_count"`
}

type jsonKV struct {
	Value   string `json:"value"`
	Updated int64  `json:"updated_ts"`
}

func newJSONDoc() *jsonDoc {
	return &jsonDoc{
		Version: jsonDocVersion,
		NextIDs: jsonNextIDs{Chat: 1, Note: 1, Fact: 1},
		Daily:   make(map[string]jsonDaily),
		KV:      make(map[string]jsonKV),
	}
}

// JSONStore implements Store as a single JSON document held in memory and
// written back to disk after a short debounce. All mutations that land within
// one flush window produce a single write.
type JSONStore struct {
	path       string
	limits     Limits
	now        func() time.Time
	logger     *slog.Logger
	flushDelay time.Duration

	mu     sync.Mutex
	doc    *jsonDoc
	dirty  bool
	timer  *time.Timer
	closed bool
}

// OpenJSONStore loads path (creating an empty document when it does not exist)
// and returns a ready store. A document that cannot be parsed is moved aside
// to "<path>.corrupt-<unix ms>" and replaced by an empty one.
func OpenJSONStore(path string, limits Limits, now func() time.Time, flushDelay time.Duration, logger *slog.Logger) (*JSONStore, error) {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("memory json: create directory %s: %w", dir, err)
		}
	}

	s := &JSONStore{
		path:       path,
		limits:     limits.withDefaults(),
		now:        now,
		logger:     logger,
		flushDelay: flushDelay,
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

func (s *JSONStore) load() (*jsonDoc, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return newJSONDoc(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory json: read %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return newJSONDoc(), nil
	}

	doc := newJSONDoc()
	if err := json.Unmarshal(data, doc); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().UnixMilli())
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return nil, fmt.Errorf("memory json: parse %s: %w (move aside failed: %v)", s.path, err, rerr)
		}
		s.logger.Warn("memory json: corrupt document moved aside", "path", s.path, "moved_to", aside, "err", err)
		return newJSONDoc(), nil
	}
	if doc.Daily == nil {
		doc.Daily = make(map[string]jsonDaily)
	}
	if doc.KV == nil {
		doc.KV = make(map[string]jsonKV)
	}
	doc.repairCounters()
	return doc, nil
}

// repairCounters keeps next ids above every stored id so a hand-edited or
// partially written document never reissues an id.
func (d *jsonDoc) repairCounters() {
	for _, m := range d.Chat {
		if m.ID >= d.NextIDs.Chat {
			d.NextIDs.Chat = m.ID + 1
		}
	}
	for _, n := range d.Notes {
		if n.ID >= d.NextIDs.Note {
			d.NextIDs.Note = n.ID + 1
		}
	}
	for _, f := range d.Facts {
		if f.ID >= d.NextIDs.Fact {
			d.NextIDs.Fact = f.ID + 1
		}
	}
	if d.NextIDs.Chat < 1 {
		d.NextIDs.Chat = 1
	}
	if d.NextIDs.Note < 1 {
		d.NextIDs.Note = 1
	}
	if d.NextIDs.Fact < 1 {
		d.NextIDs.Fact = 1
	}
}

// Backend implements Store.
func (s *JSONStore) Backend() string { return "json" }

// Path returns the document location.
func (s *JSONStore) Path() string { return s.path }

// markDirtyLocked schedules a coalesced flush. Caller holds s.mu.
func (s *JSONStore) markDirtyLocked() {
	s.dirty = true
	if s.closed || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.flushDelay, func() {
		if err := s.Flush(); err != nil {
			s.logger.Warn("memory json: debounced flush failed", "path", s.path, "err", err)
		}
	})
}

// Flush writes pending changes to disk immediately.
func (s *JSONStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *JSONStore) flushLocked() error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty {
		return nil
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("memory json: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("memory json: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("memory json: replace %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// Close flushes pending writes. Further mutations are kept in memory only.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.flushLocked()
}

// --- chat -------------------------------------------------------------------

// AppendChat implements Store.
func (s *JSONStore) AppendChat(_ context.Context, role Role, content string) (ChatMessage, error) {
	if !role.Valid() {
		return ChatMessage{}, fmt.Errorf("memory json: append chat: invalid role %q", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m := jsonChat{ID: s.doc.NextIDs.Chat, TS: toMillis(s.now()), Role: string(role), Content: content}
	s.doc.NextIDs.Chat++
	s.doc.Chat = append(s.doc.Chat, m)
	s.doc.Chat = retainChat(s.doc.Chat, s.limits.ChatMessages)
	s.markDirtyLocked()
	return m.toMessage(), nil
}

// RecentChat implements Store.
func (s *JSONStore) RecentChat(_ context.Context, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.doc.Chat
	if len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]ChatMessage, 0, len(src))
	for _, m := range src {
		out = append(out, m.toMessage())
	}
	return out, nil
}

// ChatAfter implements Store.
func (s *JSONStore) ChatAfter(_ context.Context, afterID int64, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = s.limits.ChatMessages
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ChatMessage
	for _, m := range s.doc.Chat {
		if m.ID <= afterID {
			continue
		}
		out = append(out, m.toMessage())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m jsonChat) toMessage() ChatMessage {
	return ChatMessage{ID: m.ID, TS: fromMillis(m.TS), Role: Role(m.Role), Content: m.Content}
}

// --- notes ------------------------------------------------------------------

// UpsertNote implements Store.
func (s *JSONStore) UpsertNote(_ context.Context, kind, content string) (Note, error) {
	kind, content = normalizeKind(kind), strings.TrimSpace(content)
	if content == "" {
		return Note{}, fmt.Errorf("memory json: upsert note: empty content")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := toMillis(s.now())
	for i := range s.doc.Notes {
		n := &s.doc.Notes[i]
		if n.Kind == kind && n.Content == content {
			n.Updated = now
			s.markDirtyLocked()
			return n.toNote(), nil
		}
	}
	n := jsonNote{ID: s.doc.NextIDs.Note, Kind: kind, Content: content, Created: now, Updated: now}
	s.doc.NextIDs.Note++
	s.doc.Notes = append(s.doc.Notes, n)
	s.doc.Notes = retainNotes(s.doc.Notes, s.limits.Notes)
	s.markDirtyLocked()
	return n.toNote(), nil
}

// UpdateNote implements Store.
func (s *JSONStore) UpdateNote(_ context.Context, id int64, content string) (Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Note{}, fmt.Errorf("memory json: update note %d: empty content", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.doc.Notes {
		if s.doc.Notes[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Note{}, ErrNotFound
	}
	kind := s.doc.Notes[idx].Kind
	now := toMillis(s.now())

	for i := range s.doc.Notes {
		other := &s.doc.Notes[i]
		if i == idx || other.Kind != kind || other.Content != content {
			continue
		}
		other.Updated = now
		merged := other.toNote()
		s.doc.Notes = append(s.doc.Notes[:idx], s.doc.Notes[idx+1:]...)
		s.markDirtyLocked()
		s.logger.Debug("memory json: merged duplicate note", "from_id", id, "into_id", merged.ID)
		return merged, nil
	}

	n := &s.doc.Notes[idx]
	n.Content = content
	n.Updated = now
	s.markDirtyLocked()
	return n.toNote(), nil
}

// DeleteNote implements Store.
func (s *JSONStore) DeleteNote(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Notes {
		if s.doc.Notes[i].ID == id {
			s.doc.Notes = append(s.doc.Notes[:i], s.doc.Notes[i+1:]...)
			s.markDirtyLocked()
			return nil
		}
	}
	return ErrNotFound
}

// ListNotes implements Store.
func (s *JSONStore) ListNotes(_ context.Context, limit int) ([]Note, error) {
	s.mu.Lock()
	out := make([]Note, 0, len(s.doc.Notes))
	for _, n := range s.doc.Notes {
		out = append(out, n.toNote())
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClearNotes implements Store.
func (s *JSONStore) ClearNotes(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.doc.Notes)
	s.doc.Notes = nil
	s.markDirtyLocked()
	return n, nil
}

func (n jsonNote) toNote() Note {
	return Note{ID: n.ID, Kind: n.Kind, Content: n.Content, CreatedAt: fromMillis(n.Created), UpdatedAt: fromMillis(n.Updated)}
}

// --- facts ------------------------------------------------------------------

// UpsertFact implements Store.
func (s *JSONStore) UpsertFact(_ context.Context, f Fact) (Fact, error) {
	key := strings.TrimSpace(f.Key)
	if key == "" {
		return Fact{}, fmt.Errorf("memory json: upsert fact: empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := toMillis(s.now())
	kind, value := normalizeKind(f.Kind), strings.TrimSpace(f.Value)
	for i := range s.doc.Facts {
		existing := &s.doc.Facts[i]
		if existing.Key == key {
			existing.Kind = kind
			existing.Value = value
			existing.Updated = now
			s.markDirtyLocked()
			return existing.toFact(), nil
		}
	}
	nf := jsonFact{ID: s.doc.NextIDs.Fact, Kind: kind, Key: key, Value: value, Created: now, Updated: now}
	s.doc.NextIDs.Fact++
	s.doc.Facts = append(s.doc.Facts, nf)
	s.doc.Facts = retainFacts(s.doc.Facts, s.limits.Facts)
	s.markDirtyLocked()
	return nf.toFact(), nil
}

// GetFact implements Store.
func (s *JSONStore) GetFact(_ context.Context, key string) (Fact, error) {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.doc.Facts {
		if f.Key == key {
			return f.toFact(), nil
		}
	}
	return Fact{}, ErrNotFound
}

// DeleteFact implements Store.
func (s *JSONStore) DeleteFact(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Facts {
		if s.doc.Facts[i].ID == id {
			s.doc.Facts = append(s.doc.Facts[:i], s.doc.Facts[i+1:]...)
			s.markDirtyLocked()
			return nil
		}
	}
	return ErrNotFound
}

// ListFacts implements Store.
func (s *JSONStore) ListFacts(_ context.Context, limit int) ([]Fact, error) {
	s.mu.Lock()
	out := make([]Fact, 0, len(s.doc.Facts))
	for _, f := range s.doc.Facts {
		out = append(out, f.toFact())
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClearFacts implements Store.
func (s *JSONStore) ClearFacts(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.doc.Facts)
	s.doc.Facts = nil
	s.markDirtyLocked()
	return n, nil
}

func (f jsonFact) toFact() Fact {
	return Fact{ID: f.ID, Kind: f.Kind, Key: f.Key, Value: f.Value, CreatedAt: fromMillis(f.Created), UpdatedAt: fromMillis(f.Updated)}
}

// --- daily stats ------------------------------------------------------------

// DailyStats implements Store.
func (s *JSONStore) DailyStats(_ context.Context, date string) (DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.doc.Daily[date]
	return DailyStats{Date: date, ProactiveCount: d.Proactive, IgnoreCount: d.Ignore}, nil
}

// IncrementProactive implements Store.
func (s *JSONStore) IncrementProactive(_ context.Context, date string) (DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.doc.Daily[date]
	d.Proactive++
	s.doc.Daily[date] = d
	s.markDirtyLocked()
	return DailyStats{Date: date, ProactiveCount: d.Proactive, IgnoreCount: d.Ignore}, nil
}

// IncrementIgnore implements Store.
func (s *JSONStore) IncrementIgnore(_ context.Context, date string) (DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.doc.Daily[date]
	d.Ignore++
	s.doc.Daily[date] = d
	s.markDirtyLocked()
	return DailyStats{Date: date, ProactiveCount: d.Proactive, IgnoreCount: d.Ignore}, nil
}

// --- kv ---------------------------------------------------------------------

// GetKV implements Store.
func (s *JSONStore) GetKV(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc.KV[key]
	if !ok {
		return "", ErrNotFound
	}
	return v.Value, nil
}

// SetKV implements Store.
func (s *JSONStore) SetKV(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.KV[key] = jsonKV{Value: value, Updated: toMillis(s.now())}
	s.markDirtyLocked()
	return nil
}

// DeleteKV implements Store.
func (s *JSONStore) DeleteKV(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.KV[key]; ok {
		delete(s.doc.KV, key)
		s.markDirtyLocked()
	}
	return nil
}

// --- retention --------------------------------------------------------------

// Rows are kept in ascending id order, so retention drops a prefix: every row
// with id <= maxID-limit.

func retainChat(rows []jsonChat, limit int) []jsonChat {
	if len(rows) <= limit {
		return rows
	}
	cut := rows[len(rows)-1].ID - int64(limit)
	i := 0
	for i < len(rows) && rows[i].ID <= cut {
		i++
	}
	return append(rows[:0:0], rows[i:]...)
}

func retainNotes(rows []jsonNote, limit int) []jsonNote {
	if len(rows) <= limit {
		return rows
	}
	cut := rows[len(rows)-1].ID - int64(limit)
	kept := rows[:0:0]
	for _, r := range rows {
		if r.ID > cut {
			kept = append(kept, r)
		}
	}
	return kept
}

func retainFacts(rows []jsonFact, limit int) []jsonFact {
	if len(rows) <= limit {
		return rows
	}
	cut := rows[len(rows)-1].ID - int64(limit)
	kept := rows[:0:0]
	for _, r := range rows {
		if r.ID > cut {
			kept = append(kept, r)
		}
	}
	return kept
}

var _ Store = (*JSONStore)(nil)
