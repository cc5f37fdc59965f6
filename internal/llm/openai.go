package llm

import (
	"context"
	"iter"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/metrics"
	"github.com/sells-group/incentive-match/internal/resilience"
	"github.com/sells-group/incentive-match/pkg/openai"
)

const providerOpenAI = "openai"

// OpenAIEmbedder embeds texts through the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.EmbeddingClient
	model  string
}

// NewOpenAIEmbedder wraps an embeddings client for model.
func NewOpenAIEmbedder(client openai.EmbeddingClient, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model}
}

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed returns one vector per text. Rate limits, 5xx responses and
// connection failures come back as *resilience.TransientError.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) (*EmbedResult, error) {
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{Model: e.model, Input: texts})
	metrics.ObserveCall(providerOpenAI, "embed", start, err)
	if err != nil {
		return nil, resilience.Classify(err, openai.StatusCode(err))
	}
	if len(resp.Data) != len(texts) {
		return nil, eris.Errorf("llm: embed: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	model := resp.Model
	if model == "" {
		model = e.model
	}
	return &EmbedResult{
		Vectors: vecs,
		Model:   model,
		Usage:   Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens},
	}, nil
}

// ChatClient is the subset of *openai.ChatClient the completer uses.
type ChatClient interface {
	Complete(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error)
	Stream(ctx context.Context, req openai.ChatRequest, onDelta func(ctx context.Context, text string) error) (*openai.ChatResponse, error)
	Model() string
}

// OpenAICompleter adapts an OpenAI chat client to Completer.
type OpenAICompleter struct {
	chat ChatClient
}

// NewOpenAICompleter wraps chat.
func NewOpenAICompleter(chat ChatClient) *OpenAICompleter {
	return &OpenAICompleter{chat: chat}
}

// Model returns the chat model name.
func (c *OpenAICompleter) Model() string { return c.chat.Model() }

// Complete runs a blocking completion.
func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.chat.Complete(ctx, toChatRequest(req))
	metrics.ObserveCall(providerOpenAI, "complete", start, err)
	if err != nil {
		return nil, resilience.Classify(err, openai.StatusCode(err))
	}
	return &Response{Text: resp.Content, Model: resp.Model, Usage: chatUsage(resp)}, nil
}

type chatResult struct {
	resp *openai.ChatResponse
	err  error
}

// Stream runs the completion in a goroutine and yields its deltas as they
// arrive. Stopping iteration early cancels the underlying request.
func (c *OpenAICompleter) Stream(ctx context.Context, req Request) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		start := time.Now()
		deltas := make(chan string)
		done := make(chan chatResult, 1)
		go func() {
			resp, err := c.chat.Stream(ctx, toChatRequest(req), func(ctx context.Context, text string) error {
				select {
				case deltas <- text:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			done <- chatResult{resp: resp, err: err}
		}()

		for {
			select {
			case text := <-deltas:
				if !yield(Event{Kind: EventDelta, Text: text}) {
					return
				}
			case res := <-done:
				metrics.ObserveCall(providerOpenAI, "stream", start, res.err)
				if res.err != nil {
					yield(Event{Kind: EventError, Err: resilience.Classify(res.err, openai.StatusCode(res.err))})
					return
				}
				yield(Event{Kind: EventCompleted, Model: res.resp.Model, Usage: chatUsage(res.resp)})
				return
			}
		}
	}
}

func toChatRequest(req Request) openai.ChatRequest {
	return openai.ChatRequest{
		System:      req.System,
		User:        req.User,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		JSON:        req.JSON,
	}
}

func chatUsage(resp *openai.ChatResponse) Usage {
	return Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
}
