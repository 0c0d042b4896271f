// Package openai implements the TTS Synthesizer using OpenAI's speech endpoint.
package openai

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/personifai/personifai/internal/config"
	"github.com/personifai/personifai/internal/openaiclient"
	"github.com/personifai/personifai/internal/tts"
)

// Synthesizer calls the /audio/speech endpoint and returns MP3 audio.
type Synthesizer struct {
	client *openai.Client
	model  string
	voice  string
}

// New creates a synthesizer from config.
func New(cfg config.OpenAITTS) *Synthesizer {
	return NewWithClient(openaiclient.New(cfg.OpenAIConfig), cfg.Model, cfg.Voice)
}

// NewWithClient creates a synthesizer around an existing client.
func NewWithClient(client *openai.Client, model, voice string) *Synthesizer {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &Synthesizer{client: client, model: model, voice: voice}
}

// Synthesize generates speech for text. opts.Voice overrides the configured voice;
// the model detects the language on its own.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text for synthesis")
	}
	voice := s.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("reading speech audio: %w", err)
	}
	return &tts.SynthesizeResult{
		Audio:       audio,
		ContentType: "audio/mpeg",
		Channels:    1,
	}, nil
}

// Close is a no-op.
func (s *Synthesizer) Close() error { return nil }
