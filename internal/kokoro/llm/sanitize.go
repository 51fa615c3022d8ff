package llm

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Verdict says what Sanitize did to a reply.
type Verdict string

const (
	VerdictClean   Verdict = "clean"
	VerdictAck     Verdict = "ack_replaced"
	VerdictRepeat  Verdict = "repeat_replaced"
	VerdictRefusal Verdict = "empty_refused"
)

// SanitizeInput carries the context used to detect repeats and to seed the
// fallback phrase choice.
type SanitizeInput struct {
	UserText          string
	PreviousAssistant string
	// State is mixed into the fallback hash so the same user text in a
	// different companion state picks a different phrase.
	State string
}

// Sanitizer cleans model output before it is shown.
type Sanitizer struct {
	BannedPrefixes []string
	// Acks are low-information replies, compared after lower-casing and
	// stripping punctuation and spaces.
	Acks      []string
	Fallbacks []string
	Refusal   string
}

// DefaultSanitizer returns the stock phrase tables.
func DefaultSanitizer() *Sanitizer {
	return &Sanitizer{
		BannedPrefixes: []string{
			"As an AI language model,",
			"As an AI language model",
			"As an AI,",
			"作为一个AI语言模型，",
			"作为一个人工智能，",
		},
		Acks: []string{
			"ok", "okay", "sure", "got it", "noted", "understood", "alright", "yes", "mhm",
			"好的", "好", "嗯", "收到", "明白", "了解", "知道了",
		},
		Fallbacks: []string{
			"Tell me a bit more? I want to get this right.",
			"Hmm, let me think about that with you. What matters most here?",
			"I'm here. Want to walk me through it?",
			"Interesting. What made you think of that?",
			"Let's take it one step at a time. Where should we start?",
		},
		Refusal: "Sorry, I can't answer that right now.",
	}
}

var (
	blankRunPattern      = regexp.MustCompile(`\n{3,}`)
	trailingSpacePattern = regexp.MustCompile(`[ \t]+\n`)
)

// Normalize unifies line endings, strips trailing spaces and collapses runs
// of blank lines to one.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailingSpacePattern.ReplaceAllString(text, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Sanitize returns the text to show for a raw reply.
func (s *Sanitizer) Sanitize(raw string, in SanitizeInput) (string, Verdict) {
	text := s.stripBannedPrefix(Normalize(raw))
	if text == "" {
		return s.Refusal, VerdictRefusal
	}
	if s.isAck(text) {
		return s.fallback(in), VerdictAck
	}
	if prev := Normalize(in.PreviousAssistant); prev != "" && squash(prev) == squash(text) {
		return s.fallback(in), VerdictRepeat
	}
	return text, VerdictClean
}

func (s *Sanitizer) stripBannedPrefix(text string) string {
	for changed := true; changed; {
		changed = false
		for _, p := range s.BannedPrefixes {
			if p == "" || len(text) < len(p) || !strings.EqualFold(text[:len(p)], p) {
				continue
			}
			text = strings.TrimLeftFunc(text[len(p):], func(r rune) bool {
				return unicode.IsSpace(r) || r == ',' || r == '，'
			})
			changed = true
		}
	}
	return text
}

func (s *Sanitizer) isAck(text string) bool {
	sq := squash(text)
	if sq == "" {
		return true
	}
	for _, a := range s.Acks {
		if sq == squash(a) {
			return true
		}
	}
	return false
}

// fallback picks a phrase by a stable hash of the input and state.
func (s *Sanitizer) fallback(in SanitizeInput) string {
	if len(s.Fallbacks) == 0 {
		return s.Refusal
	}
	h := xxhash.Sum64String(in.UserText + "\x00" + in.State + "\x00" + in.PreviousAssistant)
	pick := s.Fallbacks[h%uint64(len(s.Fallbacks))]
	if squash(pick) == squash(in.PreviousAssistant) {
		pick = s.Fallbacks[(h+1)%uint64(len(s.Fallbacks))]
	}
	return pick
}

// squash lower-cases s and drops everything but letters and digits.
func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
