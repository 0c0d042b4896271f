// Package tts defines the interface for text-to-speech synthesis.
//
// Each clean-text segment of an assistant reply is spoken as soon as the
// parser confirms it, so the first words play while the model is still
// generating the rest.
package tts

import "context"

// SynthesizeOpts controls synthesis behavior.
type SynthesizeOpts struct {
	// Language is the ISO-639-1 code (e.g., "en", "fr", "es") to select the voice.
	Language string

	// Voice overrides automatic language-based voice selection.
	Voice string
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Synthesize generates audio for the given text.
	Synthesize(ctx context.Context, text string, opts SynthesizeOpts) (*SynthesizeResult, error)

	// Close releases any resources held by the synthesizer.
	Close() error
}

// SynthesizeResult holds the output of TTS synthesis.
type SynthesizeResult struct {
	// Audio is the synthesized audio in a playable container.
	Audio []byte

	// ContentType is the MIME type of the audio (e.g., "audio/wav", "audio/mpeg").
	ContentType string

	// SampleRate is the audio sample rate in Hz (e.g., 22050), if known.
	SampleRate int

	// Channels is the number of audio channels (typically 1), if known.
	Channels int
}
