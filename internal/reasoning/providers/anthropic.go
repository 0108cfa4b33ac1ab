package providers

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultModel = "claude-sonnet-4-5"

// AnthropicDriver streams chat completions via the official SDK's
// server-sent-events client, forwarding text deltas only.
type AnthropicDriver struct {
	client       sdk.Client
	defaultModel string
	maxTokens    int64
}

func NewAnthropicDriver(apiKey, defaultModel string) *AnthropicDriver {
	if defaultModel == "" {
		defaultModel = anthropicDefaultModel
	}
	return &AnthropicDriver{
		client:       sdk.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
		maxTokens:    4096,
	}
}

func (d *AnthropicDriver) Stream(ctx context.Context, system string, messages []Message, model string) (<-chan Chunk, error) {
	if model == "" {
		model = d.defaultModel
	}

	var msgs []sdk.MessageParam
	for _, m := range messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		default:
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: d.maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	stream := d.client.Messages.NewStreaming(ctx, params)

	out := make(chan Chunk)
	go func() {
		defer close(out)
		message := sdk.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- Chunk{Err: fmt.Errorf("anthropic: accumulate event: %w", err)}
				return
			}

			delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if text := delta.Delta.Text; text != "" {
				select {
				case out <- Chunk{Content: text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Chunk{Err: fmt.Errorf("anthropic: stream: %w", err)}
		}
	}()

	return out, nil
}
