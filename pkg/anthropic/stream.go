package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/rotisserie/eris"
)

// MessageStream yields text deltas of a streamed message. After Next
// returns false, Message holds the accumulated response and usage.
type MessageStream interface {
	Next() bool
	Delta() string
	Message() *MessageResponse
	Err() error
	Close() error
}

func (c *sdkClient) StreamMessage(ctx context.Context, req MessageRequest) MessageStream {
	return &sdkMessageStream{stream: c.client.Messages.NewStreaming(ctx, toSDKParams(req))}
}

type sdkMessageStream struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	acc    sdk.Message
	delta  string
	err    error
}

func (s *sdkMessageStream) Next() bool {
	for s.err == nil && s.stream.Next() {
		event := s.stream.Current()
		if err := s.acc.Accumulate(event); err != nil {
			s.err = eris.Wrap(err, "anthropic: accumulate stream")
			return false
		}
		if ev, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			if d, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && d.Text != "" {
				s.delta = d.Text
				return true
			}
		}
	}
	return false
}

func (s *sdkMessageStream) Delta() string {
	return s.delta
}

func (s *sdkMessageStream) Message() *MessageResponse {
	return fromSDKMessage(&s.acc)
}

func (s *sdkMessageStream) Err() error {
	if s.err != nil {
		return s.err
	}
	if err := s.stream.Err(); err != nil {
		return wrapAPIError(err, "anthropic: stream message")
	}
	return nil
}

func (s *sdkMessageStream) Close() error {
	return s.stream.Close()
}
