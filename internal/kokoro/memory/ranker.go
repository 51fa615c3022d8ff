package memory

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// RankParams holds the relevance scoring constants.
type RankParams struct {
	MaxTokens      int     `yaml:"max_tokens"`
	NoteTokenCap   float64 `yaml:"note_token_cap"`
	FactTokenCap   float64 `yaml:"fact_token_cap"`
	ProfileBias    float64 `yaml:"profile_bias"`
	PreferenceBias float64 `yaml:"preference_bias"`
	RecencyMax     float64 `yaml:"recency_max"`
	RecencyPerDay  float64 `yaml:"recency_per_day"`
	MinScore       float64 `yaml:"min_score"`
}

// DefaultRankParams returns the stock scoring constants.
func DefaultRankParams() RankParams {
	return RankParams{
		MaxTokens:      12,
		NoteTokenCap:   8,
		FactTokenCap:   9,
		ProfileBias:    2.2,
		PreferenceBias: 1.2,
		RecencyMax:     1.4,
		RecencyPerDay:  0.08,
		MinScore:       0.5,
	}
}

// Source says which table a Candidate came from.
type Source string

const (
	SourceNote Source = "note"
	SourceFact Source = "fact"
)

// Candidate is a note or fact being ranked against a query.
type Candidate struct {
	// ID is unique across sources, e.g. "n12" or "f3".
	ID        string
	Source    Source
	Kind      string
	Text      string
	UpdatedAt time.Time
	Score     float64

	Note *Note
	Fact *Fact
}

// NoteCandidates converts notes into ranking candidates.
func NoteCandidates(notes []Note) []Candidate {
	out := make([]Candidate, 0, len(notes))
	for i := range notes {
		n := notes[i]
		out = append(out, Candidate{
			ID:        "n" + strconv.FormatInt(n.ID, 10),
			Source:    SourceNote,
			Kind:      n.Kind,
			Text:      n.Content,
			UpdatedAt: n.UpdatedAt,
			Note:      &n,
		})
	}
	return out
}

// FactCandidates converts facts into ranking candidates. The searchable text
// is "key: value".
func FactCandidates(facts []Fact) []Candidate {
	out := make([]Candidate, 0, len(facts))
	for i := range facts {
		f := facts[i]
		out = append(out, Candidate{
			ID:        "f" + strconv.FormatInt(f.ID, 10),
			Source:    SourceFact,
			Kind:      f.Kind,
			Text:      f.Key + ": " + f.Value,
			UpdatedAt: f.UpdatedAt,
			Fact:      &f,
		})
	}
	return out
}

// Tokenize extracts the query terms used for matching: lower-cased Latin
// word runs (letters, digits, '_', '.', '/', '-') and CJK runs, each at
// least two characters long, de-duplicated, longest first and capped at
// maxTokens (<= 0 means 12).
func Tokenize(query string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultRankParams().MaxTokens
	}
	query = strings.ToLower(query)

	seen := make(map[string]struct{})
	var tokens []string
	emit := func(run []rune) {
		if len(run) < 2 {
			return
		}
		tok := string(run)
		if _, dup := seen[tok]; dup {
			return
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	var run []rune
	runCJK := false
	for _, r := range query {
		switch {
		case isCJK(r):
			if !runCJK {
				emit(run)
				run = run[:0]
				runCJK = true
			}
			run = append(run, r)
		case isWordRune(r):
			if runCJK {
				emit(run)
				run = run[:0]
				runCJK = false
			}
			run = append(run, r)
		default:
			emit(run)
			run = run[:0]
		}
	}
	emit(run)

	sort.SliceStable(tokens, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(tokens[i]), utf8.RuneCountInString(tokens[j])
		if li != lj {
			return li > lj
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}
	return tokens
}

func isWordRune(r rune) bool {
	if r < utf8.RuneSelf {
		return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '_' || r == '.' || r == '/' || r == '-'
	}
	return unicode.In(r, unicode.Latin) || unicode.IsDigit(r)
}

// isCJK reports whether r is a Han, Kana or Hangul code point.
func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Score computes the relevance of c for tokens at time now. A candidate that
// matches no token scores 0 regardless of kind or age.
func (p RankParams) Score(tokens []string, c Candidate, now time.Time) float64 {
	capPerToken := p.NoteTokenCap
	if c.Source == SourceFact {
		capPerToken = p.FactTokenCap
	}
	text := strings.ToLower(c.Text)

	var score float64
	hits := 0
	for _, tok := range tokens {
		if !strings.Contains(text, tok) {
			continue
		}
		hits++
		w := float64(utf8.RuneCountInString(tok))
		score += min(capPerToken, max(1, w))
	}
	if hits == 0 {
		return 0
	}

	switch strings.ToLower(c.Kind) {
	case KindProfile:
		score += p.ProfileBias
	case KindPreference, KindProject:
		score += p.PreferenceBias
	}

	ageDays := now.Sub(c.UpdatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	score += max(0, p.RecencyMax-ageDays*p.RecencyPerDay)
	return score
}

// Reranker is an optional second pass that reorders first-pass candidates.
// It returns candidate IDs, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, limit int) ([]string, error)
}

// Ranker selects the notes and facts most relevant to a query.
type Ranker struct {
	Params RankParams
	// Reranker is consulted after the keyword pass when non-nil.
	Reranker Reranker
	// RerankTimeout bounds a single rerank call. Zero means 4s.
	RerankTimeout time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// NewRanker returns a Ranker with default parameters and no reranker.
func NewRanker() *Ranker {
	return &Ranker{Params: DefaultRankParams()}
}

// Rank orders candidates by relevance to query and returns at most limit of
// them. Candidates scoring above MinScore are kept, ordered by score then by
// recency. When the query has no usable tokens or nothing scores, the most
// recently updated candidates are returned instead.
func (r *Ranker) Rank(ctx context.Context, query string, candidates []Candidate, limit int) []Candidate {
	if len(candidates) == 0 || limit == 0 {
		return nil
	}
	if limit < 0 {
		limit = len(candidates)
	}
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	params := r.Params
	if params == (RankParams{}) {
		params = DefaultRankParams()
	}

	tokens := Tokenize(query, params.MaxTokens)
	var kept []Candidate
	if len(tokens) > 0 {
		for _, c := range candidates {
			c.Score = params.Score(tokens, c, now)
			if c.Score > params.MinScore {
				kept = append(kept, c)
			}
		}
	}
	if len(kept) == 0 {
		return byRecency(candidates, limit)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].UpdatedAt.After(kept[j].UpdatedAt)
	})
	if len(kept) > limit {
		kept = kept[:limit]
	}

	if r.Reranker == nil || len(kept) < 2 {
		return kept
	}
	return r.rerank(ctx, query, kept, limit)
}

// rerank applies the delegate pass. Any failure keeps the first-pass order.
func (r *Ranker) rerank(ctx context.Context, query string, kept []Candidate, limit int) []Candidate {
	timeout := r.RerankTimeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ids, err := r.Reranker.Rerank(ctx, query, kept, limit)
	if err != nil {
		logger.Debug("memory: rerank failed, keeping keyword order", "err", err)
		return kept
	}

	byID := make(map[string]Candidate, len(kept))
	for _, c := range kept {
		byID[c.ID] = c
	}
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			continue
		}
		delete(byID, id)
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		logger.Debug("memory: rerank returned no known ids, keeping keyword order", "returned", len(ids))
		return kept
	}
	return out
}

func byRecency(candidates []Candidate, limit int) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = 0
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
