// Package eligibility embeds incentives and extracts their structured
// eligibility document from the free-text criteria.
package eligibility

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/incentive-match/internal/llm"
	"github.com/sells-group/incentive-match/internal/metrics"
	"github.com/sells-group/incentive-match/internal/model"
	"github.com/sells-group/incentive-match/internal/textnorm"
	"github.com/sells-group/incentive-match/internal/usage"
)

// Prompt asks for the three eligibility lists.
const Prompt = `Extrai JSON estrito com campos:
- allowed_cae_labels: string[]
- keywords_required: string[]
- keywords_bonus: string[]
Apenas JSON válido na resposta.`

const schemaJSON = `{
	"type": "object",
	"properties": {
		"allowed_cae_labels": {"type": "array", "items": {"type": "string"}},
		"keywords_required":  {"type": "array", "items": {"type": "string"}},
		"keywords_bonus":     {"type": "array", "items": {"type": "string"}}
	}
}`

const (
	phaseEmbedding   = "embedding"
	phaseEligibility = "eligibility"
)

// Store is the part of the datastore the extractor uses.
type Store interface {
	IncentivesNeedingIngestion(ctx context.Context) ([]model.Incentive, error)
	UpdateIncentiveIngestion(ctx context.Context, id int64, vector []float32, elig *model.Eligibility) error
}

// Config tunes the extractor.
type Config struct {
	MaxChars  int
	Dimension int
	// Pace is the minimum spacing between model calls.
	Pace time.Duration
}

// Stats summarizes a Run.
type Stats struct {
	Total   int
	Updated int
	Failed  int
}

// Extractor produces the embedding and eligibility document of incentives.
type Extractor struct {
	store     Store
	embedder  llm.Embedder
	completer llm.Completer
	recorder  usage.Recorder
	limiter   *rate.Limiter
	schema    *gojsonschema.Schema
	cfg       Config
}

// NewExtractor creates an Extractor.
func NewExtractor(st Store, embedder llm.Embedder, completer llm.Completer, recorder usage.Recorder, cfg Config) (*Extractor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, eris.Wrap(err, "eligibility: compile schema")
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = textnorm.EmbeddingMaxChars
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	if recorder == nil {
		recorder = usage.Discard{}
	}

	limit := rate.Inf
	if cfg.Pace > 0 {
		limit = rate.Every(cfg.Pace)
	}
	return &Extractor{
		store:     st,
		embedder:  embedder,
		completer: completer,
		recorder:  recorder,
		limiter:   rate.NewLimiter(limit, 1),
		schema:    schema,
		cfg:       cfg,
	}, nil
}

// Run ingests every incentive missing an embedding or eligibility document.
// A row whose model call or write fails is logged and skipped.
func (e *Extractor) Run(ctx context.Context) (Stats, error) {
	incs, err := e.store.IncentivesNeedingIngestion(ctx)
	if err != nil {
		return Stats{}, eris.Wrap(err, "eligibility: list incentives")
	}
	incs = slices.DeleteFunc(incs, Ingested)

	log := zap.L().With(zap.String("job", usage.SourceEmbedIncentives))
	log.Info("incentives to ingest", zap.Int("count", len(incs)))

	stats := Stats{Total: len(incs)}
	for _, inc := range incs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		vec, elig, err := e.Extract(ctx, inc)
		if err == nil {
			err = e.store.UpdateIncentiveIngestion(ctx, inc.ID, vec, elig)
		}
		if err != nil {
			stats.Failed++
			metrics.RowsProcessed.WithLabelValues(usage.SourceEmbedIncentives, "failed").Inc()
			log.Error("incentive ingestion failed", zap.Int64("incentive_id", inc.ID), zap.Error(err))
			continue
		}
		stats.Updated++
		metrics.RowsProcessed.WithLabelValues(usage.SourceEmbedIncentives, "ok").Inc()
	}

	log.Info("incentive ingestion complete",
		zap.Int("updated", stats.Updated),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// Ingested reports whether inc has nothing left to extract: it is embedded
// and either has a document or has no criteria to extract one from.
func Ingested(inc model.Incentive) bool {
	if !inc.HasEmbedding {
		return false
	}
	return inc.Eligibility != nil || textnorm.Clean(inc.EligibilityCriteria, 0) == ""
}

// Extract returns the embedding and eligibility document of one incentive.
// Blank text yields a zero vector without a model call; blank criteria
// yield a nil document. Once a completion is made the document is never
// nil: unusable output becomes the empty document.
func (e *Extractor) Extract(ctx context.Context, inc model.Incentive) ([]float32, *model.Eligibility, error) {
	text := textnorm.Clean(textnorm.Join(inc.Title, inc.EffectiveDescription(), inc.EligibilityCriteria), e.cfg.MaxChars)
	criteria := textnorm.Clean(inc.EligibilityCriteria, e.cfg.MaxChars)

	vec := make([]float32, e.cfg.Dimension)
	if text != "" {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
		res, err := e.embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, nil, eris.Wrap(err, "eligibility: embed")
		}
		if len(res.Vectors) != 1 {
			return nil, nil, eris.Errorf("eligibility: got %d vectors for 1 text", len(res.Vectors))
		}
		e.record(ctx, inc.ID, phaseEmbedding, res.Model, res.Usage)
		vec = res.Vectors[0]
	}

	if criteria == "" {
		return vec, nil, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	resp, err := e.completer.Complete(ctx, llm.Request{
		User:        Prompt + "\n\n---\n" + criteria + "\n---",
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "eligibility: complete")
	}
	e.record(ctx, inc.ID, phaseEligibility, resp.Model, resp.Usage)

	elig, perr := e.Parse(resp.Text)
	if perr != nil {
		zap.L().Warn("eligibility output rejected",
			zap.Int64("incentive_id", inc.ID),
			zap.Error(perr),
		)
		return vec, model.EmptyEligibility(), nil
	}
	return vec, elig, nil
}

// Parse decodes and validates a model response.
func (e *Extractor) Parse(text string) (*model.Eligibility, error) {
	var doc any
	if err := llm.DecodeJSON(text, &doc); err != nil {
		return nil, err
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, eris.Wrap(err, "eligibility: validate")
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, d := range result.Errors() {
			msgs[i] = d.String()
		}
		return nil, eris.Errorf("eligibility: invalid document: %s", strings.Join(msgs, "; "))
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "eligibility: re-encode")
	}
	var elig model.Eligibility
	if err := json.Unmarshal(b, &elig); err != nil {
		return nil, eris.Wrap(err, "eligibility: decode document")
	}
	return elig.Normalize(), nil
}

func (e *Extractor) record(ctx context.Context, id int64, phase, modelName string, u llm.Usage) {
	e.recorder.Record(ctx, model.UsageRecord{
		Source:           usage.SourceEmbedIncentives,
		Model:            modelName,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		Metadata:         map[string]any{"incentive_id": id, "phase": phase},
	})
}
