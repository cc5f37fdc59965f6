package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// CleanJSON strips markdown fences, extracts the outermost JSON object and
// closes delimiters left open by a truncated response.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	} else if start >= 0 {
		text = text[start:]
	}

	return repairTruncatedJSON(strings.TrimSpace(text))
}

// repairTruncatedJSON closes any unclosed brackets or braces.
func repairTruncatedJSON(text string) string {
	if len(text) == 0 {
		return text
	}

	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		text += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		text = strings.TrimRight(text, " \t\n\r,")
		text += string(stack[i])
	}
	return text
}

var unquotedKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

// DecodeJSON cleans text and unmarshals it into v. When the first attempt
// fails, bare object keys are quoted and decoding is retried once.
func DecodeJSON(text string, v any) error {
	cleaned := CleanJSON(text)
	if cleaned == "" {
		return eris.New("llm: empty JSON response")
	}
	err := json.Unmarshal([]byte(cleaned), v)
	if err == nil {
		return nil
	}
	repaired := unquotedKey.ReplaceAllString(cleaned, `$1"$2":`)
	if repaired == cleaned {
		return eris.Wrap(err, "llm: decode JSON")
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return eris.Wrap(err, "llm: decode repaired JSON")
	}
	return nil
}
