package llm

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/incentive-match/pkg/anthropic"
	"github.com/sells-group/incentive-match/pkg/openai"
)

// --- OpenAI Mocks ---

type mockEmbeddingClient struct {
	mock.Mock
}

func (m *mockEmbeddingClient) CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequest) (*openai.EmbeddingResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.EmbeddingResponse), args.Error(1)
}

type mockChatClient struct {
	mock.Mock
	chunks []string
}

func (m *mockChatClient) Complete(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.ChatResponse), args.Error(1)
}

func (m *mockChatClient) Stream(ctx context.Context, req openai.ChatRequest, onDelta func(context.Context, string) error) (*openai.ChatResponse, error) {
	args := m.Called(ctx, req)
	for _, c := range m.chunks {
		if err := onDelta(ctx, c); err != nil {
			return nil, err
		}
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.ChatResponse), args.Error(1)
}

func (m *mockChatClient) Model() string { return "gpt-4o-mini" }

// --- Anthropic Mocks ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func (m *mockAnthropicClient) StreamMessage(ctx context.Context, req anthropic.MessageRequest) anthropic.MessageStream {
	args := m.Called(ctx, req)
	return args.Get(0).(anthropic.MessageStream)
}

type fakeStream struct {
	deltas []string
	pos    int
	msg    *anthropic.MessageResponse
	err    error
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.deltas) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Delta() string                       { return s.deltas[s.pos-1] }
func (s *fakeStream) Message() *anthropic.MessageResponse { return s.msg }
func (s *fakeStream) Err() error                          { return s.err }
func (s *fakeStream) Close() error                        { s.closed = true; return nil }
