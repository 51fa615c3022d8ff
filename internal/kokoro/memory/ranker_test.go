package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"lowercases and dedupes", "Go go GO tests", []string{"tests", "go"}},
		{"keeps path characters", "open ~/notes/todo.md", []string{"/notes/todo.md", "open"}},
		{"drops single characters", "a b c de", []string{"de"}},
		{"splits cjk from latin", "明天的会议meeting", []string{"meeting", "明天的会议"}},
		{"empty", "  !! ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.query, 0)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}
}

func TestTokenize_CapsAtMaxTokens(t *testing.T) {
	q := "aa bb cc dd ee ff gg hh ii jj kk ll mm nn oo"
	if got := Tokenize(q, 0); len(got) != 12 {
		t.Errorf("expected 12 tokens, got %d", len(got))
	}
	if got := Tokenize("alpha beta gamma", 2); len(got) != 2 || got[0] != "alpha" && got[0] != "gamma" {
		t.Errorf("Tokenize with cap 2 = %v", got)
	}
}

func TestRankParams_Score(t *testing.T) {
	p := DefaultRankParams()
	now := time.UnixMilli(1_760_000_000_000)

	note := Candidate{Source: SourceNote, Kind: KindNote, Text: "Prefers Kubernetes deployments", UpdatedAt: now}
	// "kubernetes" (10 runes) caps at 8 for notes; fresh recency adds 1.4.
	if got := p.Score([]string{"kubernetes"}, note, now); math.Abs(got-9.4) > 1e-9 {
		t.Errorf("note score = %v, want 9.4", got)
	}

	fact := Candidate{Source: SourceFact, Kind: KindProfile, Text: "user.city: kyoto", UpdatedAt: now.Add(-10 * 24 * time.Hour)}
	// "kyoto" = 5, profile bias 2.2, recency 1.4-0.8 = 0.6.
	if got := p.Score([]string{"kyoto"}, fact, now); math.Abs(got-7.8) > 1e-9 {
		t.Errorf("fact score = %v, want 7.8", got)
	}

	longFact := Candidate{Source: SourceFact, Kind: KindNote, Text: "favourite: strawberries", UpdatedAt: now.Add(-365 * 24 * time.Hour)}
	// "strawberries" (12 runes) caps at 9 for facts; stale recency is 0.
	if got := p.Score([]string{"strawberries"}, longFact, now); math.Abs(got-9) > 1e-9 {
		t.Errorf("long fact score = %v, want 9", got)
	}

	if got := p.Score([]string{"python"}, note, now); got != 0 {
		t.Errorf("non-matching candidate should score 0, got %v", got)
	}
}

func rankIDs(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

func TestRanker_RankOrdersByScoreThenRecency(t *testing.T) {
	now := time.UnixMilli(1_760_000_000_000)
	r := &Ranker{Params: DefaultRankParams(), Now: func() time.Time { return now }}

	cands := []Candidate{
		{ID: "n1", Source: SourceNote, Kind: KindNote, Text: "tea ceremony notes", UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: "n2", Source: SourceNote, Kind: KindPreference, Text: "likes green tea", UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: "n3", Source: SourceNote, Kind: KindNote, Text: "unrelated groceries", UpdatedAt: now},
		{ID: "n4", Source: SourceNote, Kind: KindNote, Text: "more tea", UpdatedAt: now.Add(-time.Hour)},
	}
	got := rankIDs(r.Rank(context.Background(), "tea", cands, 10))
	// n2 has the kind bias; n4 is fresher than n1; n3 does not match.
	if diff := cmp.Diff([]string{"n2", "n4", "n1"}, got); diff != "" {
		t.Errorf("Rank mismatch (-want +got):\n%s", diff)
	}
}

func TestRanker_FallsBackToRecency(t *testing.T) {
	now := time.UnixMilli(1_760_000_000_000)
	r := &Ranker{Params: DefaultRankParams(), Now: func() time.Time { return now }}
	cands := []Candidate{
		{ID: "n1", Text: "alpha", UpdatedAt: now.Add(-3 * time.Hour)},
		{ID: "n2", Text: "beta", UpdatedAt: now.Add(-1 * time.Hour)},
		{ID: "n3", Text: "gamma", UpdatedAt: now.Add(-2 * time.Hour)},
	}

	for _, q := range []string{"", "zeta omega"} {
		got := rankIDs(r.Rank(context.Background(), q, cands, 2))
		if diff := cmp.Diff([]string{"n2", "n3"}, got); diff != "" {
			t.Errorf("Rank(%q) mismatch (-want +got):\n%s", q, diff)
		}
	}
}

type stubReranker struct {
	ids []string
	err error
	got []string
}

func (s *stubReranker) Rerank(_ context.Context, _ string, cands []Candidate, _ int) ([]string, error) {
	s.got = rankIDs(cands)
	return s.ids, s.err
}

func TestRanker_RerankAcceptsOnlyKnownIDs(t *testing.T) {
	now := time.UnixMilli(1_760_000_000_000)
	cands := []Candidate{
		{ID: "n1", Text: "tea one", UpdatedAt: now},
		{ID: "n2", Text: "tea two", UpdatedAt: now.Add(-time.Hour)},
		{ID: "n3", Text: "coffee", UpdatedAt: now},
	}
	stub := &stubReranker{ids: []string{"n9", "n2", "n3", "n2"}}
	r := &Ranker{Params: DefaultRankParams(), Reranker: stub, Now: func() time.Time { return now }}

	got := rankIDs(r.Rank(context.Background(), "tea", cands, 5))
	if diff := cmp.Diff([]string{"n2"}, got); diff != "" {
		t.Errorf("Rank mismatch (-want +got):\n%s", diff)
	}
	// The reranker only ever sees first-pass survivors.
	if diff := cmp.Diff([]string{"n1", "n2"}, stub.got); diff != "" {
		t.Errorf("reranker input mismatch (-want +got):\n%s", diff)
	}
}

func TestRanker_RerankFailureKeepsFirstPass(t *testing.T) {
	now := time.UnixMilli(1_760_000_000_000)
	cands := []Candidate{
		{ID: "n1", Text: "tea one", UpdatedAt: now},
		{ID: "n2", Text: "tea two", UpdatedAt: now.Add(-time.Hour)},
	}
	for name, stub := range map[string]*stubReranker{
		"error":       {err: errors.New("boom")},
		"unknown ids": {ids: []string{"x", "y"}},
	} {
		t.Run(name, func(t *testing.T) {
			r := &Ranker{Params: DefaultRankParams(), Reranker: stub, Now: func() time.Time { return now }}
			got := rankIDs(r.Rank(context.Background(), "tea", cands, 5))
			if diff := cmp.Diff([]string{"n1", "n2"}, got); diff != "" {
				t.Errorf("Rank mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCandidatesFromRows(t *testing.T) {
	notes := NoteCandidates([]Note{{ID: 7, Kind: KindProject, Content: "kokoro"}})
	facts := FactCandidates([]Fact{{ID: 3, Kind: KindProfile, Key: "user.name", Value: "Sam"}})
	if notes[0].ID != "n7" || notes[0].Note == nil || notes[0].Note.ID != 7 {
		t.Errorf("note candidate = %+v", notes[0])
	}
	if facts[0].ID != "f3" || facts[0].Text != "user.name: Sam" {
		t.Errorf("fact candidate = %+v", facts[0])
	}
}
