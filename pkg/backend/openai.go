package backend

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harun/mira/pkg/stream"
)

// OpenAIAdapter implements Adapter over the OpenAI Chat Completions API
type OpenAIAdapter struct {
	client openai.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the adapter name
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Generate streams a chat completion, normalizing chunk deltas into
// Delta/Error/Done.
func (a *OpenAIAdapter) Generate(ctx context.Context, req Request) <-chan stream.Event {
	out := make(chan stream.Event, 32)

	go func() {
		defer close(out)

		messages := buildOpenAIMessages(req)

		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(req.Model),
			Messages: messages,
		}
		if req.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
		}
		if req.Temperature > 0 {
			params.Temperature = openai.Float(req.Temperature)
		}

		chunkStream := a.client.Chat.Completions.NewStreaming(ctx, params)
		for chunkStream.Next() {
			chunk := chunkStream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !emit(ctx, out, stream.Delta(choice.Delta.Content)) {
					return
				}
			}
		}

		if err := chunkStream.Err(); err != nil {
			emit(ctx, out, stream.Errorf(stream.ErrCodeBackendError, "%s", err.Error()))
			emit(ctx, out, stream.Done())
			return
		}

		emit(ctx, out, stream.Done())
	}()

	return out
}

// buildOpenAIMessages converts neutral messages into chat completion params.
func buildOpenAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	return messages
}
