// Package openai implements the Transcriber using OpenAI's Audio
// Transcription API (Whisper / gpt-4o-transcribe).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/personifai/personifai/internal/config"
	"github.com/personifai/personifai/internal/openaiclient"
	"github.com/personifai/personifai/internal/transcriber"
)

// Transcriber uses the OpenAI transcription endpoint.
type Transcriber struct {
	client *openai.Client
	model  string
}

// New creates a new OpenAI transcriber from config.
func New(cfg config.TranscriberConfig) *Transcriber {
	return NewWithClient(openaiclient.New(cfg.OpenAI), cfg.Model)
}

// NewWithClient creates a transcriber around an existing client.
func NewWithClient(client *openai.Client, model string) *Transcriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &Transcriber{client: client, model: model}
}

// Name returns the backend identifier.
func (t *Transcriber) Name() string { return "openai" }

// Transcribe sends audio to the OpenAI Transcription API.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string, opts transcriber.Opts) (*transcriber.Result, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "audio" + transcriber.ExtFromContentType(contentType),
		Reader:   bytes.NewReader(audio),
		Prompt:   opts.Prompt,
		Language: opts.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}

	lang := transcriber.NormalizeLanguage(resp.Language)
	slog.Debug("transcription complete", "text_length", len(resp.Text), "language", lang)
	return &transcriber.Result{
		Text:     resp.Text,
		Language: lang,
	}, nil
}

// Close is a no-op for the OpenAI transcriber.
func (t *Transcriber) Close() error { return nil }
