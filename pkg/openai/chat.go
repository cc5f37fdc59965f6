package openai

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

const defaultChatModel = "gpt-4o-mini"

// ChatRequest is one chat completion call.
type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	JSON        bool
}

// ChatResponse is the completed text and its usage.
type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// ChatClient performs chat completions through langchaingo.
type ChatClient struct {
	llm   llms.Model
	model string
}

// NewChatClient builds a langchaingo OpenAI model for chat completions.
func NewChatClient(apiKey, model, baseURL string) (*ChatClient, error) {
	if model == "" {
		model = defaultChatModel
	}
	opts := []lcopenai.Option{
		lcopenai.WithToken(apiKey),
		lcopenai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(baseURL))
	}
	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "openai: init chat model")
	}
	return &ChatClient{llm: llm, model: model}, nil
}

// NewChatClientWithModel wraps an existing llms.Model.
func NewChatClientWithModel(llm llms.Model, model string) *ChatClient {
	return &ChatClient{llm: llm, model: model}
}

// Model returns the chat model name.
func (c *ChatClient) Model() string { return c.model }

// Complete runs a blocking completion.
func (c *ChatClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return c.generate(ctx, req, nil)
}

// Stream runs a completion, calling onDelta with each text fragment as it
// arrives. The returned response carries the full text and usage.
func (c *ChatClient) Stream(ctx context.Context, req ChatRequest, onDelta func(ctx context.Context, text string) error) (*ChatResponse, error) {
	return c.generate(ctx, req, onDelta)
}

func (c *ChatClient) generate(ctx context.Context, req ChatRequest, onDelta func(context.Context, string) error) (*ChatResponse, error) {
	var msgs []llms.MessageContent
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.User))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}
	if onDelta != nil {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onDelta(ctx, string(chunk))
		}))
	}

	resp, err := c.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return nil, &APIError{StatusCode: StatusCode(err), Err: eris.Wrap(err, "openai: chat completion")}
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: chat completion returned no choices")
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content: choice.Content,
		Model:   c.model,
		Usage: Usage{
			PromptTokens:     intInfo(choice.GenerationInfo, "PromptTokens"),
			CompletionTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
		},
	}, nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
