// Package local implements the assistant Provider against a self-hosted
// Ollama server.
//
// It uses Ollama's /api/chat endpoint in streaming mode, which returns one
// JSON object per line:
//
//	{"message":{"role":"assistant","content":"Hel"},"done":false}
//	{"message":{"role":"assistant","content":"lo"},"done":false}
//	{"done":true}
package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/personifai/personifai/internal/assistant"
	"github.com/personifai/personifai/internal/config"
)

// Provider streams replies from a local Ollama chat endpoint.
type Provider struct {
	*assistant.Memory
	endpoint    string
	model       string
	temperature float32
	client      *http.Client
}

// New creates a new local assistant provider from config.
func New(cfg config.AssistantConfig) *Provider {
	model := cfg.Local.LLMModel
	if model == "" {
		model = "llama3"
	}
	return &Provider{
		Memory:      assistant.NewMemory(),
		endpoint:    cfg.Local.LLMEndpoint,
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Name returns the backend identifier.
func (p *Provider) Name() string { return "local" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Stream sends prompt on the thread and streams the reply.
func (p *Provider) Stream(ctx context.Context, threadID, prompt string) (<-chan assistant.Event, error) {
	instructions, history, err := p.History(threadID)
	if err != nil {
		return nil, err
	}

	messages := []chatMessage{{Role: "system", Content: instructions}}
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	bodyBytes, err := json.Marshal(chatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   true,
		Options:  map[string]any{"temperature": p.temperature},
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local LLM request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("local LLM failed (status %d): %s", resp.StatusCode, respBody)
	}

	events := make(chan assistant.Event, 32)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		send := func(ev assistant.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var reply strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk chatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				slog.Debug("skipping malformed ollama line", "error", err)
				continue
			}
			if chunk.Error != "" {
				send(assistant.StreamComplete{Err: fmt.Errorf("local LLM: %s", chunk.Error)})
				return
			}
			if chunk.Message.Content != "" {
				reply.WriteString(chunk.Message.Content)
				if !send(assistant.ContentChunk{Text: chunk.Message.Content}) {
					return
				}
			}
			if chunk.Done {
				p.Append(threadID, prompt, reply.String())
				send(assistant.StreamComplete{})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(assistant.StreamComplete{Err: fmt.Errorf("reading local LLM stream: %w", err)})
			return
		}
		send(assistant.StreamComplete{Err: fmt.Errorf("local LLM stream ended without done")})
	}()
	return events, nil
}

// Close is a no-op for the local provider.
func (p *Provider) Close() error { return nil }
