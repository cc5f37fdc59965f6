package llm

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/config"
	"github.com/sells-group/incentive-match/pkg/anthropic"
	"github.com/sells-group/incentive-match/pkg/openai"
)

// NewEmbedder builds the OpenAI embedder from config.
func NewEmbedder(cfg *config.Config) *OpenAIEmbedder {
	client := openai.NewEmbeddingClient(cfg.OpenAI.Key,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithModel(cfg.OpenAI.EmbeddingModel),
	)
	return NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel)
}

// NewCompleter builds the completion provider named by llm.provider.
func NewCompleter(cfg *config.Config) (Completer, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		chat, err := openai.NewChatClient(cfg.OpenAI.Key, cfg.OpenAI.ChatModel, cfg.OpenAI.BaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "llm: openai completer")
		}
		return NewOpenAICompleter(chat), nil
	case "anthropic":
		return NewAnthropicCompleter(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model), nil
	default:
		return nil, eris.Errorf("llm: unsupported provider %q", cfg.LLM.Provider)
	}
}
