// Package openai implements the assistant Provider using OpenAI-compatible
// streaming chat completions.
//
// Chat completions are stateless, so assistants and threads are kept in
// process and the thread history is replayed on every request.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/personifai/personifai/internal/assistant"
	"github.com/personifai/personifai/internal/config"
	"github.com/personifai/personifai/internal/openaiclient"
)

var tracer = otel.Tracer("github.com/personifai/personifai/internal/assistant/openai")

// Provider streams replies from an OpenAI-compatible chat endpoint.
type Provider struct {
	*assistant.Memory
	client      *openai.Client
	model       string
	temperature float32
}

// New creates a new OpenAI assistant provider from config.
func New(cfg config.AssistantConfig) *Provider {
	return NewWithClient(openaiclient.New(cfg.OpenAI), cfg.Model, cfg.Temperature)
}

// NewWithClient creates a provider around an existing client.
func NewWithClient(client *openai.Client, model string, temperature float32) *Provider {
	return &Provider{
		Memory:      assistant.NewMemory(),
		client:      client,
		model:       model,
		temperature: temperature,
	}
}

// Name returns the backend identifier.
func (p *Provider) Name() string { return "openai" }

// Stream sends prompt on the thread and streams the reply.
func (p *Provider) Stream(ctx context.Context, threadID, prompt string) (<-chan assistant.Event, error) {
	instructions, history, err := p.History(threadID)
	if err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: instructions,
	})
	for _, turn := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	ctx, span := tracer.Start(ctx, "assistant stream")
	span.SetAttributes(
		attribute.String("assistant.model", p.model),
		attribute.Int("assistant.history_turns", len(history)),
	)

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
		Stream:      true,
	})
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, fmt.Errorf("starting chat stream: %w", err)
	}

	events := make(chan assistant.Event, 32)
	go func() {
		defer span.End()
		defer close(events)
		defer stream.Close()

		send := func(ev assistant.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var reply strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				p.Append(threadID, prompt, reply.String())
				span.SetAttributes(attribute.Int("assistant.reply_bytes", reply.Len()))
				send(assistant.StreamComplete{})
				return
			}
			if err != nil {
				span.RecordError(err)
				slog.Warn("chat stream failed", "thread_id", threadID, "error", err)
				send(assistant.StreamComplete{Err: fmt.Errorf("receiving chat stream: %w", err)})
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				reply.WriteString(choice.Delta.Content)
				if !send(assistant.ContentChunk{Text: choice.Delta.Content}) {
					return
				}
			}
		}
	}()
	return events, nil
}

// Close is a no-op for the OpenAI provider.
func (p *Provider) Close() error { return nil }
