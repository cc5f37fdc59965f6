package responder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/sells-group/incentive-match/internal/model"
	"github.com/sells-group/incentive-match/internal/retrieval"
	"github.com/sells-group/incentive-match/internal/textnorm"
)

// SystemPrompt is the base instruction for every answer.
const SystemPrompt = "Responde de forma concisa e factual. Identifica o tipo de pergunta:" +
	" • 'quantos/quantas' → responde com números e percentagens." +
	" • 'quais/qual' → lista incentivos/empresas em bullets." +
	" • 'como' → dá passos claros; só menciona empresas se a pergunta as referir." +
	" Nunca inventes dados fora do contexto."

const emptyContextNote = "Não foram encontrados incentivos diretamente relevantes; dá orientação genérica."

// Style is the answer shape a question asks for.
type Style int

const (
	StyleGeneral Style = iota
	StyleCount
	StyleList
	StyleHowTo
)

func (s Style) String() string {
	switch s {
	case StyleCount:
		return "count"
	case StyleList:
		return "list"
	case StyleHowTo:
		return "howto"
	default:
		return "general"
	}
}

// Classify picks the Style of a parsed question.
func Classify(q retrieval.Question) Style {
	words := strings.FieldsFunc(q.Lower, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	has := func(set ...string) bool {
		for _, w := range words {
			for _, s := range set {
				if w == s {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("quantos", "quantas"):
		return StyleCount
	case has("quais", "qual"):
		return StyleList
	case q.HowTo:
		return StyleHowTo
	default:
		return StyleGeneral
	}
}

var styleHints = map[Style]string{
	StyleCount: " Esta pergunta pede contagens.",
	StyleList:  " Esta pergunta pede uma lista.",
	StyleHowTo: " Esta pergunta pede passos.",
}

// System returns the system instruction for style.
func System(style Style) string {
	return SystemPrompt + styleHints[style]
}

// Formatting returns the markdown layout instructions for q.
func Formatting(q retrieval.Question) string {
	var b strings.Builder
	if q.HowTo {
		b.WriteString("Inicia com '### Passos recomendados' (lista numerada, ≥3 passos).\n")
	}
	b.WriteString("Formata em Markdown. Para cada incentivo:\n" +
		"### Incentivo {incentive_id} — {titulo}\n\n" +
		"**Resumo curto:** frase concisa.\n\n" +
		"**Pontos-chave**\n- ponto 1\n- ponto 2\n\n")
	if !q.SkipCompanies() {
		b.WriteString("**Empresas elegíveis**\n1. **Nome** — CAE / justificativa\n\n")
	}
	b.WriteString("Omitir secções vazias.")
	return b.String()
}

// Meta summarizes the resolution for the model.
type Meta struct {
	K               int `json:"k"`
	NumContextItems int `json:"num_context_items"`
	MatchingCount   int `json:"matching_count"`
	TotalIncentives int `json:"total_incentives"`
	TotalCompanies  int `json:"total_companies"`
}

// UserPrompt renders the grounded user message. The serialized context is
// capped at maxContext runes.
func UserPrompt(question string, k int, res *model.Resolution, items []model.ContextItem, maxContext int) (string, error) {
	meta, err := encode(Meta{
		K:               k,
		NumContextItems: len(items),
		MatchingCount:   res.MatchCount,
		TotalIncentives: res.TotalIncentives,
		TotalCompanies:  res.TotalCompanies,
	})
	if err != nil {
		return "", err
	}

	contextJSON := "[]"
	note := ""
	if len(items) == 0 {
		note = emptyContextNote
	} else {
		raw, err := encode(items)
		if err != nil {
			return "", err
		}
		contextJSON = textnorm.Truncate(raw, maxContext)
	}

	q := retrieval.ParseQuestion(question)
	return fmt.Sprintf("Pergunta: %s\nMeta: %s\n%s\nInstruções de formatação: %s\nContexto JSON:\n%s",
		question, meta, note, Formatting(q), contextJSON), nil
}

func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
