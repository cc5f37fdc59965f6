// Package explain re-ranks the precomputed candidates of each incentive
// with a model and stores a short reason per selected company.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/incentive-match/internal/llm"
	"github.com/sells-group/incentive-match/internal/metrics"
	"github.com/sells-group/incentive-match/internal/model"
	"github.com/sells-group/incentive-match/internal/resilience"
	"github.com/sells-group/incentive-match/internal/textnorm"
	"github.com/sells-group/incentive-match/internal/usage"
)

const promptTemplate = `Contexto do incentivo:
Título: %s
Descrição: %s
Critérios (texto): %s
Eligibility (JSON): %s

Candidatos (top %d) — usa SEMPRE o campo 'id' para referenciar a empresa.
Campo RULE_PASS indica se cumpre as regras de elegibilidade (CAE + keywords obrigatórias).
%s

Tarefa:
1) Ordena objetivamente os candidatos privilegiando RULE_PASS = true. Se todos forem false, indica limitações e ordena mesmo assim.
2) Para os 5 primeiros, devolve ID e uma frase curta (razão objetiva). Não repitas o nome.
3) Responde apenas em JSON válido:
{
  "top5": [
    {"company_id": 123, "reason": "..." },
    {"company_id": 456, "reason": "..." }
  ]
}
`

// maxRanked caps how many entries of the model answer are read.
const maxRanked = 5

// Outcome is the result of refining one incentive.
type Outcome int

const (
	// OutcomeUpdated means ranks and explanations were rewritten.
	OutcomeUpdated Outcome = iota
	// OutcomeNoCandidates means the incentive has no match rows.
	OutcomeNoCandidates
	// OutcomeSkipped means the answer was unusable; nothing was written.
	OutcomeSkipped
	// OutcomeFailed means the model call or the write failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeNoCandidates:
		return "no_candidates"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Store is the part of the datastore the explainer uses.
type Store interface {
	ListExplainable(ctx context.Context) ([]model.Incentive, error)
	ListCandidates(ctx context.Context, incentiveID int64, limit int) ([]model.MatchCandidate, error)
	// ApplyRanks writes updates and moves the other matches of the
	// incentive behind them, atomically.
	ApplyRanks(ctx context.Context, incentiveID int64, updates []model.RankUpdate) error
}

// Config tunes the explainer.
type Config struct {
	TopK    int // candidates read per incentive
	MaxText int // rune cap per incentive field in the prompt
	Pace    time.Duration
	Retry   resilience.RetryConfig
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		TopK:    5,
		MaxText: textnorm.PromptFieldMaxChars,
		Pace:    50 * time.Millisecond,
		Retry:   resilience.ExplainRetryConfig(),
	}
}

// Stats counts outcomes over a Run.
type Stats struct {
	Total        int
	Updated      int
	NoCandidates int
	Skipped      int
	Failed       int
}

func (s *Stats) add(o Outcome) {
	switch o {
	case OutcomeUpdated:
		s.Updated++
	case OutcomeNoCandidates:
		s.NoCandidates++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

// Explainer rewrites rank and explanation of the best candidates.
type Explainer struct {
	store     Store
	completer llm.Completer
	recorder  usage.Recorder
	limiter   *rate.Limiter
	cfg       Config
}

// NewExplainer creates an Explainer. Zero config fields take the defaults.
func NewExplainer(st Store, completer llm.Completer, recorder usage.Recorder, cfg Config) *Explainer {
	d := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = d.TopK
	}
	if cfg.MaxText <= 0 {
		cfg.MaxText = d.MaxText
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = d.Retry
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("llm", usage.SourceExplainMatches)
	}
	if recorder == nil {
		recorder = usage.Discard{}
	}

	limit := rate.Inf
	if cfg.Pace > 0 {
		limit = rate.Every(cfg.Pace)
	}
	return &Explainer{
		store:     st,
		completer: completer,
		recorder:  recorder,
		limiter:   rate.NewLimiter(limit, 1),
		cfg:       cfg,
	}
}

// Run refines every incentive that has an embedding. Per-incentive failures
// are logged and counted; only listing errors and cancellation stop the run.
func (e *Explainer) Run(ctx context.Context) (Stats, error) {
	incs, err := e.store.ListExplainable(ctx)
	if err != nil {
		return Stats{}, eris.Wrap(err, "explain: list incentives")
	}

	log := zap.L().With(zap.String("job", usage.SourceExplainMatches))
	log.Info("incentives to explain", zap.Int("count", len(incs)))

	stats := Stats{Total: len(incs)}
	for _, inc := range incs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		cands, err := e.store.ListCandidates(ctx, inc.ID, e.cfg.TopK)
		var outcome Outcome
		if err != nil {
			outcome = OutcomeFailed
			err = eris.Wrap(err, "explain: list candidates")
		} else {
			outcome, err = e.Refine(ctx, inc, cands)
		}

		stats.add(outcome)
		metrics.RowsProcessed.WithLabelValues(usage.SourceExplainMatches, outcome.String()).Inc()

		fields := []zap.Field{
			zap.Int64("incentive_id", inc.ID),
			zap.String("title", textnorm.Truncate(inc.Title, 60)),
			zap.String("outcome", outcome.String()),
		}
		switch {
		case err != nil:
			log.Error("incentive not explained", append(fields, zap.Error(err))...)
		case outcome == OutcomeUpdated:
			log.Info("incentive explained", fields...)
		default:
			log.Warn("incentive not explained", fields...)
		}
	}

	log.Info("explain complete",
		zap.Int("total", stats.Total),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// Refine asks the model to order the offered candidates of inc and writes
// the surviving ranking in one transaction. Running it twice on the same
// input leaves the same rows.
func (e *Explainer) Refine(ctx context.Context, inc model.Incentive, cands []model.MatchCandidate) (Outcome, error) {
	if len(cands) == 0 {
		return OutcomeNoCandidates, nil
	}
	offered := Offered(cands, e.cfg.TopK)

	if err := e.limiter.Wait(ctx); err != nil {
		return OutcomeFailed, err
	}

	req := llm.Request{
		User:        e.Prompt(inc, offered),
		Temperature: 0,
		JSON:        true,
	}
	resp, err := resilience.DoVal(ctx, e.cfg.Retry, func(ctx context.Context) (*llm.Response, error) {
		return e.completer.Complete(ctx, req)
	})
	if err != nil {
		return OutcomeFailed, eris.Wrap(err, "explain: complete")
	}

	e.recorder.Record(ctx, model.UsageRecord{
		Source:           usage.SourceExplainMatches,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Metadata:         map[string]any{"incentive_id": inc.ID, "rows": len(offered)},
	})

	updates, err := Rank(resp.Text, offered)
	if err != nil {
		return OutcomeSkipped, err
	}
	if len(updates) == 0 {
		return OutcomeSkipped, nil
	}

	if err := e.store.ApplyRanks(ctx, inc.ID, updates); err != nil {
		return OutcomeFailed, eris.Wrap(err, "explain: apply ranks")
	}
	return OutcomeUpdated, nil
}

// Offered picks the candidates shown to the model: the compliant ones when
// any exist, else the first topK.
func Offered(cands []model.MatchCandidate, topK int) []model.MatchCandidate {
	var passed []model.MatchCandidate
	for _, c := range cands {
		if c.Compliant() {
			passed = append(passed, c)
		}
	}
	if len(passed) > 0 {
		return passed
	}
	if topK > 0 && len(cands) > topK {
		return cands[:topK]
	}
	return cands
}

// Prompt renders the ranking prompt for inc and the offered candidates.
func (e *Explainer) Prompt(inc model.Incentive, offered []model.MatchCandidate) string {
	rows := make([]string, len(offered))
	for i, c := range offered {
		rows[i] = FormatCandidate(i+1, c)
	}

	return fmt.Sprintf(promptTemplate,
		textnorm.Truncate(inc.Title, e.cfg.MaxText),
		textnorm.Truncate(inc.EffectiveDescription(), e.cfg.MaxText),
		textnorm.Truncate(inc.EligibilityCriteria, e.cfg.MaxText),
		eligibilityJSON(inc.Eligibility),
		min(e.cfg.TopK, len(offered)),
		strings.Join(rows, "\n"),
	)
}

// FormatCandidate renders one numbered candidate line.
func FormatCandidate(n int, c model.MatchCandidate) string {
	flag := "FALSE"
	if c.Compliant() {
		flag = "TRUE"
	}
	return fmt.Sprintf("%d. id=%d | RULE_PASS=%s | %s | CAE=%s | score=%.3f | %s",
		n, c.CompanyID, flag, c.CompanyName, c.CAELabel, c.Score,
		textnorm.SingleLine(c.TradeDescription, textnorm.CandidateDescMaxChars),
	)
}

func eligibilityJSON(elig *model.Eligibility) string {
	if elig == nil {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(elig); err != nil {
		return "{}"
	}
	return strings.TrimSpace(buf.String())
}

type rankedEntry struct {
	CompanyID json.RawMessage `json:"company_id"`
	Reason    string          `json:"reason"`
}

type rankedAnswer struct {
	Top5 []rankedEntry `json:"top5"`
}

// Rank validates a model answer against the offered candidates. Only the
// first five entries are read; ids that were not offered or repeat an
// earlier entry are dropped. Ranks run 1..K over what survives.
func Rank(text string, offered []model.MatchCandidate) ([]model.RankUpdate, error) {
	var ans rankedAnswer
	if err := llm.DecodeJSON(text, &ans); err != nil {
		return nil, eris.Wrap(err, "explain: parse answer")
	}

	names := make(map[int64]string, len(offered))
	for _, c := range offered {
		names[c.CompanyID] = c.CompanyName
	}

	entries := ans.Top5
	if len(entries) > maxRanked {
		entries = entries[:maxRanked]
	}

	seen := make(map[int64]bool, len(entries))
	var out []model.RankUpdate
	for _, entry := range entries {
		var id int64
		if err := json.Unmarshal(entry.CompanyID, &id); err != nil {
			continue
		}
		name, ok := names[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		explanation := name
		if reason := strings.TrimSpace(entry.Reason); reason != "" {
			explanation = name + " — " + reason
		}
		out = append(out, model.RankUpdate{
			CompanyID:   id,
			Rank:        len(out) + 1,
			Explanation: explanation,
		})
	}
	return out, nil
}
