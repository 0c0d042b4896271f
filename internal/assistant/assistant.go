// Package assistant defines the interface for streaming chat assistants.
//
// An assistant is a persona (name + instructions) and a thread is one
// conversation with it. Replies stream back as a sequence of events that
// ends with a single StreamComplete. Two backends ship with personifai:
// OpenAI-compatible chat completions and a local Ollama server.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownThread is returned when a thread ID is not known to the backend,
// e.g. after a restart dropped in-process history.
var ErrUnknownThread = errors.New("unknown thread")

// ErrUnknownAssistant is returned when an assistant ID is not known to the backend.
var ErrUnknownAssistant = errors.New("unknown assistant")

// Spec describes an assistant to create.
type Spec struct {
	// Name is the persona's display name.
	Name string

	// Instructions is the full system prompt.
	Instructions string
}

// Assistant is a created persona.
type Assistant struct {
	ID           string
	Name         string
	Instructions string
}

// Thread is one conversation with an assistant.
type Thread struct {
	ID          string
	AssistantID string
}

// Event is a single item of a streamed reply. It is either a ContentChunk or
// a StreamComplete.
type Event interface {
	isEvent()
}

// ContentChunk carries the next piece of reply text.
type ContentChunk struct {
	Text string
}

// StreamComplete ends a stream. Err is nil when the reply finished normally.
type StreamComplete struct {
	Err error
}

func (ContentChunk) isEvent()   {}
func (StreamComplete) isEvent() {}

// Provider is the interface every assistant backend implements.
type Provider interface {
	// Name returns the backend identifier (e.g., "openai", "local").
	Name() string

	// CreateAssistant registers a persona.
	CreateAssistant(ctx context.Context, spec Spec) (*Assistant, error)

	// CreateThread starts an empty conversation with an assistant.
	CreateThread(ctx context.Context, assistantID string) (*Thread, error)

	// Stream sends prompt on the thread and streams the reply. The channel
	// delivers zero or more ContentChunk events followed by one
	// StreamComplete and is then closed. If ctx is cancelled the channel may
	// close without a StreamComplete. A reply that completes normally is
	// appended to the thread's history.
	Stream(ctx context.Context, threadID, prompt string) (<-chan Event, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Actions are the marker names personas are told about.
var Actions = []string{"JUMP", "WAVE", "SPIN", "NOD", "SHAKE", "DANCE", "BOW"}

// Instructions builds the system prompt for a persona. The description is
// expected to address the object in second person ("You are a ...").
func Instructions(name, personality, description, extra string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your name is %s.\n", name)
	if description != "" {
		sb.WriteString(strings.TrimSpace(description) + "\n")
	}
	if personality != "" {
		sb.WriteString("Personality: " + strings.TrimSpace(personality) + "\n")
	}
	sb.WriteString("\nYou are talking out loud with a friend. Keep replies short and conversational.\n")
	sb.WriteString("You have a body you can move. To act, write an action marker inline, exactly as shown, ")
	sb.WriteString("at the point in your reply where the action should happen: ")
	for i, a := range Actions {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("[[" + a + "]]")
	}
	sb.WriteString(".\nNever explain or read the markers aloud.\n")
	if extra != "" {
		sb.WriteString("\n" + strings.TrimSpace(extra) + "\n")
	}
	return sb.String()
}
