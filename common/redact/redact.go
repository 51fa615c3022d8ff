// Package redact provides helpers for stripping sensitive values from log
// output and for recognising secret-like text before it is persisted or sent
// to a model.
//
// # Threat model
//
// Secrets (API keys, passwords, access tokens) must never appear in:
//   - Log lines
//   - Memory notes, facts or the rolling conversation summary
//   - Prompts sent to delegate summarise/extract calls
//
// Detection is pattern based and best-effort. It errs toward false positives:
// suppressing a harmless memory is cheaper than persisting a credential.
package redact

import (
	"regexp"
	"strings"
	"unicode"
)

const placeholder = "[REDACTED]"

// keyPrefixPattern matches well-known credential formats by their prefix.
var keyPrefixPattern = regexp.MustCompile(`(?:` +
	`sk-(?:ant-|proj-)?[A-Za-z0-9_\-]{16,}` +
	`|AKIA[0-9A-Z]{16}` +
	`|gh[pousr]_[A-Za-z0-9]{20,}` +
	`|github_pat_[A-Za-z0-9_]{20,}` +
	`|xox[abprs]-[A-Za-z0-9\-]{10,}` +
	`|AIza[0-9A-Za-z_\-]{30,}` +
	`|-----BEGIN [A-Z ]*PRIVATE KEY-----` +
	`)`)

// keywordPattern matches words that announce a credential.
var keywordPattern = regexp.MustCompile(`(?i)(?:password|passwd|passcode|token|secret|api[\s_-]?key|private[\s_-]?key|密码|口令|令牌|密钥|秘钥)`)

// longTokenPattern matches opaque strings long enough to be a credential.
var longTokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-+/=.]{12,}`)

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].  Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(logLine, apiKey)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Sensitive reports whether s looks like it carries a secret: either a
// well-known key format, or a credential keyword together with a long opaque
// token containing at least one digit.
func Sensitive(s string) bool {
	if keyPrefixPattern.MatchString(s) {
		return true
	}
	if !keywordPattern.MatchString(s) {
		return false
	}
	for _, tok := range longTokenPattern.FindAllString(s, -1) {
		if hasDigit(tok) {
			return true
		}
	}
	return false
}

// Mask replaces the secret-looking parts of s with [REDACTED]. Known key
// formats are always masked; long opaque tokens are masked only when s also
// contains a credential keyword.
func Mask(s string) string {
	out := keyPrefixPattern.ReplaceAllString(s, placeholder)
	if !keywordPattern.MatchString(out) {
		return out
	}
	return longTokenPattern.ReplaceAllStringFunc(out, func(tok string) string {
		if hasDigit(tok) {
			return placeholder
		}
		return tok
	})
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
