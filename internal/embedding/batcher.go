// Package embedding fills in missing company embeddings in bounded batches.
package embedding

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incentive-match/internal/llm"
	"github.com/sells-group/incentive-match/internal/metrics"
	"github.com/sells-group/incentive-match/internal/model"
	"github.com/sells-group/incentive-match/internal/resilience"
	"github.com/sells-group/incentive-match/internal/store"
	"github.com/sells-group/incentive-match/internal/textnorm"
	"github.com/sells-group/incentive-match/internal/usage"
)

// Store is the part of the datastore the batcher uses.
type Store interface {
	ForEachUnembeddedCompany(ctx context.Context, pageSize int, fn func([]model.Company) error) error
	UpdateCompanyEmbeddings(ctx context.Context, updates []store.EmbeddingUpdate) error
}

// Config sizes the batches.
type Config struct {
	BatchSize  int // texts per embedding call
	CommitSize int // rows per write transaction
	PageSize   int // rows read per page
	MaxChars   int // rune cap per text
	Dimension  int // length of the zero vector used for blank texts
	Retry      resilience.RetryConfig
}

// DefaultConfig returns the production batch sizes.
func DefaultConfig() Config {
	return Config{
		BatchSize:  100,
		CommitSize: 500,
		PageSize:   2000,
		MaxChars:   textnorm.EmbeddingMaxChars,
		Dimension:  1536,
		Retry:      resilience.EmbeddingRetryConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.CommitSize <= 0 {
		c.CommitSize = d.CommitSize
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxChars <= 0 {
		c.MaxChars = d.MaxChars
	}
	if c.Dimension <= 0 {
		c.Dimension = d.Dimension
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = d.Retry
	}
	return c
}

// Batcher embeds every company that has no embedding yet.
type Batcher struct {
	store    Store
	embedder llm.Embedder
	recorder usage.Recorder
	cfg      Config
	log      *zap.Logger
}

// NewBatcher creates a Batcher.
func NewBatcher(st Store, embedder llm.Embedder, recorder usage.Recorder, cfg Config) *Batcher {
	if recorder == nil {
		recorder = usage.Discard{}
	}
	cfg = cfg.withDefaults()
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("openai", usage.SourceEmbedCompanies)
	}
	return &Batcher{
		store:    st,
		embedder: embedder,
		recorder: recorder,
		cfg:      cfg,
		log:      zap.L().With(zap.String("job", usage.SourceEmbedCompanies)),
	}
}

// Run embeds all pending companies and returns the number of rows written.
// Rows flushed before a failure stay committed, so a rerun resumes where
// this one stopped.
func (b *Batcher) Run(ctx context.Context) (int, error) {
	var (
		batch     []model.Company
		pending   []store.EmbeddingUpdate
		processed int
	)

	flush := func() error {
		for len(pending) > 0 {
			n := min(len(pending), b.cfg.CommitSize)
			if err := b.store.UpdateCompanyEmbeddings(ctx, pending[:n]); err != nil {
				return eris.Wrap(err, "embedding: flush")
			}
			pending = pending[n:]
			processed += n
			metrics.RowsProcessed.WithLabelValues(usage.SourceEmbedCompanies, "ok").Add(float64(n))
			b.log.Info("embeddings committed", zap.Int("rows", n), zap.Int("processed", processed))
		}
		pending = nil
		return nil
	}

	embed := func() error {
		updates, err := b.embedBatch(ctx, batch)
		if err != nil {
			return err
		}
		pending = append(pending, updates...)
		batch = batch[:0]
		return nil
	}

	err := b.store.ForEachUnembeddedCompany(ctx, b.cfg.PageSize, func(page []model.Company) error {
		for _, c := range page {
			batch = append(batch, c)
			if len(batch) < b.cfg.BatchSize {
				continue
			}
			if err := embed(); err != nil {
				return err
			}
			if len(pending) >= b.cfg.CommitSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return processed, err
	}

	if len(batch) > 0 {
		if err := embed(); err != nil {
			return processed, err
		}
	}
	if err := flush(); err != nil {
		return processed, err
	}

	b.log.Info("embedding run complete", zap.Int("processed", processed))
	return processed, nil
}

// Text builds the embedding input of a company.
func Text(c model.Company, maxChars int) string {
	return textnorm.Clean(textnorm.Join(c.TradeDescription, c.CAEPrimaryLabel, c.Name), maxChars)
}

// embedBatch embeds one batch. Blank texts are sent as a single space to
// keep positions aligned and come back as zero vectors.
func (b *Batcher) embedBatch(ctx context.Context, companies []model.Company) ([]store.EmbeddingUpdate, error) {
	texts := make([]string, len(companies))
	blank := make([]bool, len(companies))
	allBlank := true
	for i, c := range companies {
		texts[i] = Text(c, b.cfg.MaxChars)
		if strings.TrimSpace(texts[i]) == "" {
			texts[i] = " "
			blank[i] = true
		} else {
			allBlank = false
		}
	}

	updates := make([]store.EmbeddingUpdate, len(companies))
	for i, c := range companies {
		updates[i].ID = c.ID
	}

	if allBlank {
		for i := range updates {
			updates[i].Vector = make([]float32, b.cfg.Dimension)
		}
		return updates, nil
	}

	res, err := resilience.DoVal(ctx, b.cfg.Retry, func(ctx context.Context) (*llm.EmbedResult, error) {
		return b.embedder.Embed(ctx, texts)
	})
	if err != nil {
		return nil, eris.Wrap(err, "embedding: embed batch")
	}
	if len(res.Vectors) != len(texts) {
		return nil, eris.Errorf("embedding: got %d vectors for %d texts", len(res.Vectors), len(texts))
	}

	b.recorder.Record(ctx, model.UsageRecord{
		Source:           usage.SourceEmbedCompanies,
		Model:            res.Model,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		Metadata:         map[string]any{"batch_size": len(texts)},
	})

	for i := range updates {
		if blank[i] {
			updates[i].Vector = make([]float32, b.cfg.Dimension)
			continue
		}
		updates[i].Vector = res.Vectors[i]
	}
	return updates, nil
}
