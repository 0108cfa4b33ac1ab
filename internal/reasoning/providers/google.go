package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	googleDefaultModel = "gemini-1.5-pro"
	googleAPIBase      = "https://generativelanguage.googleapis.com/v1beta"
)

// GoogleDriver streams chat completions against the Gemini
// streamGenerateContent endpoint directly over HTTP. No vetted Go GenAI
// SDK appears anywhere in the retrieval pack, so this follows the same
// raw-HTTP-plus-SSE shape the reference implementation's genai chat
// session uses, translated to Go's net/http.
type GoogleDriver struct {
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

func NewGoogleDriver(apiKey, defaultModel string) *GoogleDriver {
	if defaultModel == "" {
		defaultModel = googleDefaultModel
	}
	return &GoogleDriver{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googleSystemInstruction struct {
	Parts []googlePart `json:"parts"`
}

type googleRequest struct {
	Contents          []googleContent          `json:"contents"`
	SystemInstruction *googleSystemInstruction `json:"system_instruction,omitempty"`
}

type googleStreamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (d *GoogleDriver) Stream(ctx context.Context, system string, messages []Message, model string) (<-chan Chunk, error) {
	if model == "" {
		model = d.defaultModel
	}

	req := googleRequest{}
	if system != "" {
		req.SystemInstruction = &googleSystemInstruction{Parts: []googlePart{{Text: system}}}
	}
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		req.Contents = append(req.Contents, googleContent{Role: role, Parts: []googlePart{{Text: m.Content}}})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", googleAPIBase, model, d.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("google: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("google: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("google: unexpected status %d", resp.StatusCode)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			var chunk googleStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			for _, cand := range chunk.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					select {
					case out <- Chunk{Content: part.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Chunk{Err: fmt.Errorf("google: read stream: %w", err)}
		}
	}()

	return out, nil
}
