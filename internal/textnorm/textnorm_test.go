package textnorm

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"trims", "  hello  ", 0, "hello"},
		{"blank", " \n\t ", 10, ""},
		{"caps runes", "ação ação", 4, "ação"},
		{"no cap", "abc", 0, "abc"},
		{"shorter than cap", "abc", 10, "abc"},
		{"composes accents", "a\u0301", 0, "\u00e1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Clean(tt.in, tt.max))
		})
	}
}

func TestTruncate_NeverSplitsRunes(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("ç", 3000)
	got := Truncate(s, EmbeddingMaxChars)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, EmbeddingMaxChars, utf8.RuneCountInString(got))
}

func TestJoin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "software | 62010 | Acme", Join(" software ", "62010", "Acme"))
	assert.Equal(t, " | 62010 | Acme", Join("", "62010", "Acme"))
	assert.Equal(t, "", Join("", "  ", ""))
}

func TestSingleLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "line one line two", SingleLine("line one\nline two\n", 0))
	assert.Equal(t, "abc", SingleLine("abc\r\ndef", 3))
}

func TestQueryTerms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"quantas empresas qualificam?", "quantas empresas qualificam"},
		{"apoio à inovação, I&D!", "apoio à inovação  I D"},
		{"?!...", ""},
		{"snake_case 42", "snake_case 42"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, QueryTerms(tt.in))
		})
	}
}

func TestLower(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "como candidatar à inovação", Lower("  COMO Candidatar À INOVAÇÃO "))
}
