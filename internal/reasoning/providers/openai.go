package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAIDefaultModel = openai.ChatModelGPT4o

// OpenAIDriver streams chat completions via the official SDK's
// server-sent-events client.
//
// No file in the retrieval pack exercises this exact package as a
// streaming client (the nearest in-pack example wraps the older
// sashabaranov/go-openai client non-streaming); this driver is built
// directly from the official SDK's documented streaming surface.
type OpenAIDriver struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIDriver(apiKey, defaultModel string) *OpenAIDriver {
	if defaultModel == "" {
		defaultModel = openAIDefaultModel
	}
	return &OpenAIDriver{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}
}

func (d *OpenAIDriver) Stream(ctx context.Context, system string, messages []Message, model string) (<-chan Chunk, error) {
	if model == "" {
		model = d.defaultModel
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	stream := d.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: msgs,
	})

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				select {
				case out <- Chunk{Content: text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Chunk{Err: fmt.Errorf("openai: stream: %w", err)}
		}
	}()

	return out, nil
}
