// Package usage keeps the append-only log of model calls and their cost.
package usage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/incentive-match/internal/cost"
	"github.com/sells-group/incentive-match/internal/metrics"
	"github.com/sells-group/incentive-match/internal/model"
)

// Sources written by the components.
const (
	SourceEmbedCompanies  = "embed_companies"
	SourceEmbedIncentives = "embed_incentives"
	SourceExplainMatches  = "explain_matches"
	SourceChatStream      = "chat_stream"
)

// Recorder is the append contract handed to every component that calls a
// model. Implementations never fail the caller.
type Recorder interface {
	Record(ctx context.Context, rec model.UsageRecord)
}

// Sink persists usage rows.
type Sink interface {
	Append(ctx context.Context, rec model.UsageRecord) error
	Records(ctx context.Context) ([]model.UsageRecord, error)
	Close() error
}

// Ledger serializes appends to a Sink and prices each record.
type Ledger struct {
	mu   sync.Mutex
	sink Sink
	calc *cost.Calculator
	now  func() time.Time
}

// NewLedger creates a Ledger writing to sink.
func NewLedger(sink Sink, calc *cost.Calculator) *Ledger {
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	return &Ledger{sink: sink, calc: calc, now: time.Now}
}

// Record stamps, prices and appends rec. Failures are logged.
func (l *Ledger) Record(ctx context.Context, rec model.UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if rec.EstimatedCostUSD == 0 {
		rec.EstimatedCostUSD = l.calc.Estimate(rec.Model, rec.PromptTokens, rec.CompletionTokens)
	}

	zap.L().Debug("cost attribution",
		zap.String("source", rec.Source),
		zap.String("model", rec.Model),
		zap.Int("prompt_tokens", rec.PromptTokens),
		zap.Int("completion_tokens", rec.CompletionTokens),
		zap.Float64("estimated_cost_usd", rec.EstimatedCostUSD),
	)
	metrics.AddTokens(rec.Source, rec.PromptTokens, rec.CompletionTokens)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.sink.Append(ctx, rec); err != nil {
		zap.L().Warn("usage: append failed",
			zap.String("source", rec.Source),
			zap.Error(err),
		)
	}
}

// Records reads back every row from the sink.
func (l *Ledger) Records(ctx context.Context) ([]model.UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.Records(ctx)
}

// Close closes the underlying sink.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.Close()
}

// Discard is a Recorder that drops everything.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(context.Context, model.UsageRecord) {}
