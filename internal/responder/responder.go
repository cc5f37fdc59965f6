// Package responder streams grounded answers to free-text questions.
package responder

import (
	"context"
	"iter"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incentive-match/internal/llm"
	"github.com/sells-group/incentive-match/internal/metrics"
	"github.com/sells-group/incentive-match/internal/model"
	"github.com/sells-group/incentive-match/internal/retrieval"
	"github.com/sells-group/incentive-match/internal/textnorm"
	"github.com/sells-group/incentive-match/internal/usage"
)

// EndSentinel is the last chunk of every answer stream.
const EndSentinel = "[[END_STREAM]]"

// ErrorMessage replaces the answer when it could not be produced.
const ErrorMessage = "\n\n(ocorreu um erro a gerar a resposta)"

// Stream outcomes, also used as metric labels.
const (
	outcomeOK         = "ok"
	outcomeModelError = "model_error"
	outcomeError      = "error"
	outcomeAbandoned  = "abandoned"
)

// Resolver finds the context of a question.
type Resolver interface {
	Resolve(ctx context.Context, question string, limit int) (*model.Resolution, error)
	Contexts(ctx context.Context, res *model.Resolution) ([]model.ContextItem, error)
}

// Config holds sampling and prompt limits.
type Config struct {
	DefaultLimit    int
	Temperature     float64
	MaxTokens       int
	ContextMaxChars int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:    5,
		Temperature:     0.2,
		MaxTokens:       400,
		ContextMaxChars: textnorm.ContextMaxChars,
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id that is logged and stored with usage.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Responder answers questions from retrieved context.
type Responder struct {
	resolver  Resolver
	completer llm.Completer
	recorder  usage.Recorder
	cfg       Config
}

// New creates a Responder. Zero config fields take the defaults.
func New(resolver Resolver, completer llm.Completer, recorder usage.Recorder, cfg Config) *Responder {
	d := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = d.DefaultLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = d.ContextMaxChars
	}
	if recorder == nil {
		recorder = usage.Discard{}
	}
	return &Responder{resolver: resolver, completer: completer, recorder: recorder, cfg: cfg}
}

// Stream answers question as a sequence of text chunks. Whatever happens,
// the last chunk is EndSentinel and it is emitted once. A consumer may stop
// early by breaking out of the loop.
func (r *Responder) Stream(ctx context.Context, question string, limit int) iter.Seq[string] {
	return func(yield func(string) bool) {
		if limit <= 0 {
			limit = r.cfg.DefaultLimit
		}
		start := time.Now()
		log := zap.L().With(zap.String("request_id", RequestID(ctx)))

		metrics.StreamsActive.Inc()
		defer metrics.StreamsActive.Dec()

		stopped := false
		emit := func(s string) bool {
			if stopped {
				return false
			}
			if !yield(s) {
				stopped = true
			}
			return !stopped
		}

		produced, outcome, err := r.generate(ctx, question, limit, emit)
		switch {
		case stopped:
			outcome = outcomeAbandoned
		case err != nil:
			outcome = outcomeError
			log.Error("answer failed", zap.Error(err))
			if emit(ErrorMessage) {
				emit(EndSentinel)
			}
		default:
			if produced || emit("") {
				emit(EndSentinel)
			}
		}

		metrics.StreamOutcomes.WithLabelValues(outcome).Inc()
		log.Info("answer streamed",
			zap.String("outcome", outcome),
			zap.Bool("produced", produced),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// generate resolves context, prompts the model and forwards deltas. A
// panic anywhere in the pipeline is turned into an error.
func (r *Responder) generate(ctx context.Context, question string, limit int, emit func(string) bool) (produced bool, outcome string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("responder: panic: %v", p)
		}
	}()

	res, err := r.resolver.Resolve(ctx, question, limit)
	if err != nil {
		return false, outcomeError, eris.Wrap(err, "responder: resolve")
	}
	items, err := r.resolver.Contexts(ctx, res)
	if err != nil {
		return false, outcomeError, eris.Wrap(err, "responder: contexts")
	}

	user, err := UserPrompt(question, limit, res, items, r.cfg.ContextMaxChars)
	if err != nil {
		return false, outcomeError, eris.Wrap(err, "responder: prompt")
	}
	style := Classify(retrieval.ParseQuestion(question))

	req := llm.Request{
		System:      System(style),
		User:        user,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}

	outcome = outcomeOK
	for ev := range r.completer.Stream(ctx, req) {
		switch ev.Kind {
		case llm.EventDelta:
			if ev.Text == "" {
				continue
			}
			produced = true
			if !emit(ev.Text) {
				return produced, outcome, nil
			}
		case llm.EventCompleted:
			r.recorder.Record(ctx, model.UsageRecord{
				Source:           usage.SourceChatStream,
				Model:            ev.Model,
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
				Metadata: map[string]any{
					"request_id":        RequestID(ctx),
					"tier":              res.Tier,
					"style":             style.String(),
					"num_context_items": len(items),
				},
			})
		case llm.EventError:
			zap.L().Warn("model stream ended with error",
				zap.String("request_id", RequestID(ctx)),
				zap.Error(ev.Err),
			)
			return produced, outcomeModelError, nil
		}
	}
	return produced, outcome, nil
}
