package llm

import (
	"context"
	"iter"
	"time"

	"github.com/sells-group/incentive-match/internal/metrics"
	"github.com/sells-group/incentive-match/internal/resilience"
	"github.com/sells-group/incentive-match/pkg/anthropic"
)

const (
	providerAnthropic = "anthropic"

	// The Messages API requires max_tokens.
	defaultAnthropicMaxTokens = 1024

	jsonOnlyInstruction = "Responde apenas com um único objeto JSON válido, sem texto adicional."
)

// AnthropicCompleter adapts the Anthropic Messages client to Completer.
// The API has no JSON mode, so JSON requests get an extra system block.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter wraps client for model.
func NewAnthropicCompleter(client anthropic.Client, model string) *AnthropicCompleter {
	return &AnthropicCompleter{client: client, model: model}
}

// Model returns the Anthropic model name.
func (c *AnthropicCompleter) Model() string { return c.model }

// Complete runs a blocking completion.
func (c *AnthropicCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.client.CreateMessage(ctx, c.toMessageRequest(req))
	metrics.ObserveCall(providerAnthropic, "complete", start, err)
	if err != nil {
		return nil, resilience.Classify(err, anthropic.StatusCode(err))
	}
	return &Response{Text: resp.Text(), Model: c.modelOf(resp), Usage: messageUsage(resp)}, nil
}

// Stream yields text deltas from a streamed message.
func (c *AnthropicCompleter) Stream(ctx context.Context, req Request) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		start := time.Now()
		stream := c.client.StreamMessage(ctx, c.toMessageRequest(req))
		defer stream.Close() //nolint:errcheck

		for stream.Next() {
			if !yield(Event{Kind: EventDelta, Text: stream.Delta()}) {
				return
			}
		}

		err := stream.Err()
		metrics.ObserveCall(providerAnthropic, "stream", start, err)
		if err != nil {
			yield(Event{Kind: EventError, Err: resilience.Classify(err, anthropic.StatusCode(err))})
			return
		}
		msg := stream.Message()
		yield(Event{Kind: EventCompleted, Model: c.modelOf(msg), Usage: messageUsage(msg)})
	}
}

func (c *AnthropicCompleter) toMessageRequest(req Request) anthropic.MessageRequest {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temp := req.Temperature

	out := anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: req.User}},
		Temperature: &temp,
	}
	if req.System != "" {
		out.System = append(out.System, anthropic.SystemBlock{Text: req.System})
	}
	if req.JSON {
		out.System = append(out.System, anthropic.SystemBlock{Text: jsonOnlyInstruction})
	}
	return out
}

func (c *AnthropicCompleter) modelOf(resp *anthropic.MessageResponse) string {
	if resp != nil && resp.Model != "" {
		return resp.Model
	}
	return c.model
}

func messageUsage(resp *anthropic.MessageResponse) Usage {
	if resp == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
}
