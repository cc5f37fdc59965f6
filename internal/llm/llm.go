// Package llm defines the model capabilities the pipeline depends on and
// adapts the OpenAI and Anthropic clients to them.
package llm

import (
	"context"
	"iter"
)

// Usage is the token consumption of one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// EmbedResult holds one vector per input, in input order.
type EmbedResult struct {
	Vectors [][]float32
	Model   string
	Usage   Usage
}

// Embedder turns texts into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (*EmbedResult, error)
	Model() string
}

// Request is a single-turn completion request.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a single JSON object.
	JSON bool
}

// Response is a finished completion.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// EventKind tags a streaming Event.
type EventKind int

const (
	// EventDelta carries a text fragment.
	EventDelta EventKind = iota
	// EventCompleted ends a successful stream and carries usage.
	EventCompleted
	// EventError ends a failed stream.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventCompleted:
		return "completed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one element of a completion stream. A stream yields any number
// of deltas followed by exactly one EventCompleted or EventError.
type Event struct {
	Kind  EventKind
	Text  string
	Model string
	Usage Usage
	Err   error
}

// Completer produces chat completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) iter.Seq[Event]
	Model() string
}
