// Package textnorm prepares free text before it is sent to a model or used
// as a search query.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Character limits shared by the batch jobs and the query path.
const (
	EmbeddingMaxChars     = 2000
	PromptFieldMaxChars   = 800
	CandidateDescMaxChars = 180
	ContextMaxChars       = 7000
)

var lower = cases.Lower(language.Portuguese)

// Clean NFC-normalizes s, trims surrounding whitespace and caps the result
// at maxChars runes. maxChars <= 0 disables the cap.
func Clean(s string, maxChars int) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	return Truncate(s, maxChars)
}

// Truncate caps s at maxChars runes without splitting a multi-byte rune.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

// Join concatenates parts with " | ". The result is blank when every part is.
func Join(parts ...string) string {
	blank := true
	trimmed := make([]string, len(parts))
	for i, p := range parts {
		trimmed[i] = strings.TrimSpace(p)
		if trimmed[i] != "" {
			blank = false
		}
	}
	if blank {
		return ""
	}
	return strings.Join(trimmed, " | ")
}

// SingleLine cleans s, folds newlines into spaces and caps it at maxChars.
func SingleLine(s string, maxChars int) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(norm.NFC.String(s))
	return Clean(s, maxChars)
}

// QueryTerms replaces punctuation with spaces so the question can be handed
// to a plain full-text query parser. Letters, digits, underscores and
// whitespace survive.
func QueryTerms(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	for _, r := range q {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) || unicode.IsMark(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(' ')
	}
	return strings.TrimSpace(b.String())
}

// Lower lower-cases s with Portuguese casing rules and trims it.
func Lower(s string) string {
	return strings.TrimSpace(lower.String(s))
}
