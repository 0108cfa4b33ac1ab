// Package reasoning implements the Agentic Reasoning Loop (C5): a
// bounded, tool-calling conversation with a streaming LLM provider.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostwarden/control-plane/internal/reasoning/providers"
	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Chunk is one increment of the loop's output stream: either a text
// fragment or a terminal error. The channel closes after either the
// loop terminates normally or an Err chunk is sent.
type Chunk struct {
	Text string
	Err  error
}

// Request is the public contract's parameter set: reason(user_input,
// provider?, model?, mode, history?) (§4.5).
type Request struct {
	UserInput string
	Provider  models.LLMProvider
	Model     string
	Mode      Mode
	OSHint    string
	History   []models.ChatMessage
}

// toolExecutor is the slice of *dispatcher.Dispatcher the engine needs.
type toolExecutor interface {
	Execute(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error)
}

// Engine drives the reasoning loop against whichever provider driver a
// request selects.
type Engine struct {
	Config     store.ConfigStore
	Dispatcher toolExecutor
	Drivers    map[models.LLMProvider]providers.Driver
}

func New(cfg store.ConfigStore, dispatcher toolExecutor, drivers map[models.LLMProvider]providers.Driver) *Engine {
	return &Engine{Config: cfg, Dispatcher: dispatcher, Drivers: drivers}
}

const maxConsecutiveToolFailures = 3

// Reason runs the step loop and returns a channel of output chunks. The
// channel is closed when the loop terminates or ctx is canceled.
func (e *Engine) Reason(ctx context.Context, req Request) (<-chan Chunk, error) {
	cfg, err := e.Config.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("reasoning: load config: %w", err)
	}

	provider := req.Provider
	if provider == "" {
		provider = cfg.DefaultLLMProvider
	}
	model := req.Model
	if model == "" {
		if pc, ok := cfg.LLMProviders[provider]; ok && pc.Model != "" {
			model = pc.Model
		} else {
			model = cfg.DefaultLLMModel
		}
	}

	driver, ok := e.Drivers[provider]
	if !ok {
		return nil, fmt.Errorf("reasoning: no driver registered for provider %q", provider)
	}

	out := make(chan Chunk)
	go e.run(ctx, req, driver, model, out)
	return out, nil
}

func (e *Engine) run(ctx context.Context, req Request, driver providers.Driver, model string, out chan<- Chunk) {
	defer close(out)

	system := systemPrompt(req.Mode, req.OSHint)
	messages := buildHistory(req.History, req.UserInput)

	maxSteps := req.Mode.maxSteps()
	consecutiveFailures := 0
	var lastFailedTool string

	for step := 0; step < maxSteps; step++ {
		fullContent, err := e.streamOneTurn(ctx, req.Mode, driver, system, messages, model, out)
		if err != nil {
			send(ctx, out, Chunk{Err: fmt.Errorf("reasoning: provider stream: %w", err)})
			return
		}

		messages = append(messages, providers.Message{Role: "assistant", Content: fullContent})

		call := extractToolCall(fullContent)

		if req.Mode == ModeAuditVerify {
			if call != nil && call.ResponseMsg != "" {
				send(ctx, out, Chunk{Text: fmt.Sprintf("[SYSTEM] ▶ %s\n", call.ResponseMsg)})
			} else if call == nil {
				send(ctx, out, Chunk{Text: fullContent})
			}
		}

		if call == nil || req.Mode.designOnly() {
			return
		}

		if req.Mode != ModeAuditVerify {
			send(ctx, out, Chunk{Text: fmt.Sprintf("\n\n[SYSTEM] Executing tool: %s...\n", call.Name)})
		}

		result, err := e.Dispatcher.Execute(ctx, call.Name, call.Args)
		if err != nil {
			if call.Name == lastFailedTool {
				consecutiveFailures++
			} else {
				consecutiveFailures = 1
				lastFailedTool = call.Name
			}
			if consecutiveFailures >= maxConsecutiveToolFailures {
				send(ctx, out, Chunk{Text: fmt.Sprintf("\n[SYSTEM] Tool %q failed %d times in a row, stopping.\n", call.Name, consecutiveFailures)})
				return
			}

			errMsg := err.Error()
			feedback := errMsg + "\n\nCRITICAL: Analyze the validation/syntax error above and immediately attempt to fix it by calling the tool again with corrected parameters. Do NOT just report the error to the user."
			messages = append(messages, providers.Message{Role: "user", Content: feedback})
			send(ctx, out, Chunk{Text: fmt.Sprintf("\n[SYSTEM] Error: %s. Attempting self-correction...\n", errMsg)})
			continue
		}

		consecutiveFailures = 0
		lastFailedTool = ""

		payload, marshalErr := json.Marshal(map[string]interface{}{"tool": call.Name, "args": call.Args, "result": result})
		if marshalErr != nil {
			log.Warn().Err(marshalErr).Str("tool", call.Name).Msg("reasoning: failed to marshal tool call payload")
		} else {
			send(ctx, out, Chunk{Text: fmt.Sprintf("\n[MCP_TOOL_CALL]%s[/MCP_TOOL_CALL]\n", payload)})
		}

		resultJSON, _ := json.Marshal(result)
		messages = append(messages, providers.Message{Role: "user", Content: followUpFeedback(req.Mode, call.Name, string(resultJSON))})
	}

	send(ctx, out, Chunk{Text: "\n[SYSTEM] Maximum tool execution steps reached, stopping.\n"})
}

// streamOneTurn drains one provider streaming call, forwarding chunks
// to the caller unless the mode demands buffering (audit_verify).
func (e *Engine) streamOneTurn(ctx context.Context, mode Mode, driver providers.Driver, system string, messages []providers.Message, model string, out chan<- Chunk) (string, error) {
	stream, err := driver.Stream(ctx, system, messages, model)
	if err != nil {
		return "", err
	}

	var full string
	for chunk := range stream {
		if chunk.Err != nil {
			return full, chunk.Err
		}
		full += chunk.Content
		if mode != ModeAuditVerify {
			send(ctx, out, Chunk{Text: chunk.Content})
		}
	}
	return full, nil
}

// followUpFeedback builds the synthetic user turn fed back after a
// successful tool call, with a mode-specific closing instruction.
func followUpFeedback(mode Mode, toolName, resultJSON string) string {
	base := fmt.Sprintf("TOOL RESULT (%s): %s\n\n", toolName, resultJSON)
	switch mode {
	case ModeAuditRead:
		return base + "Now return the security findings from this content as a pure JSON array, with no markdown fencing and no other text."
	case ModeAuditVerify:
		return base + "Analyze this result. Call another tool if more verification is needed; otherwise write your conclusion and end with a trailing [AUDIT_RESULT:...] tag."
	default:
		return base + "Summarize the key takeaway from this result concisely. Omit generic recommendations unless asked."
	}
}

func buildHistory(history []models.ChatMessage, userInput string) []providers.Message {
	var out []providers.Message
	if len(history) > 0 {
		for _, m := range history[:len(history)-1] {
			if m.Role == models.RoleUser || m.Role == models.RoleAssistant {
				out = append(out, providers.Message{Role: string(m.Role), Content: m.Content})
			}
		}
	}
	out = append(out, providers.Message{Role: "user", Content: userInput})
	return out
}

func send(ctx context.Context, out chan<- Chunk, c Chunk) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}
