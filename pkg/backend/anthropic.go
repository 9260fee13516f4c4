package backend

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/mira/pkg/stream"
)

// AnthropicAdapter implements Adapter over the Anthropic Messages API
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter creates a new Anthropic adapter
func NewAnthropicAdapter(apiKey string) *AnthropicAdapter {
	return &AnthropicAdapter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the adapter name
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// Generate streams a completion, normalizing Messages API events into
// Delta/Error/Done.
func (a *AnthropicAdapter) Generate(ctx context.Context, req Request) <-chan stream.Event {
	out := make(chan stream.Event, 32)

	go func() {
		defer close(out)

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(req.Model),
			Messages:  buildAnthropicMessages(req.Messages),
			MaxTokens: int64(req.MaxTokens),
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}
		if req.Temperature > 0 {
			params.Temperature = anthropic.Float(req.Temperature)
		}

		msgStream := a.client.Messages.NewStreaming(ctx, params)
		for msgStream.Next() {
			event := msgStream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					if !emit(ctx, out, stream.Delta(delta.Text)) {
						return
					}
				}
			}
		}

		if err := msgStream.Err(); err != nil {
			emit(ctx, out, stream.Errorf(stream.ErrCodeBackendError, "%s", err.Error()))
			emit(ctx, out, stream.Done())
			return
		}

		emit(ctx, out, stream.Done())
	}()

	return out
}

// buildAnthropicMessages converts neutral messages into Anthropic params.
// System messages are handled separately via params.System.
func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			out = append(out, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}
	return out
}
