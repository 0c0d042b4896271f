// Package assistanttest provides an in-process assistant.Provider for tests.
package assistanttest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/personifai/personifai/internal/assistant"
)

// Scripted replies to every prompt with the next scripted chunk list. When
// the script runs out the last entry repeats. Err, if set, ends every
// stream with that error after the chunks.
type Scripted struct {
	*assistant.Memory

	mu      sync.Mutex
	replies [][]string
	prompts []string
	Err     error
}

// New returns a provider that streams replies in order.
func New(replies ...[]string) *Scripted {
	return &Scripted{Memory: assistant.NewMemory(), replies: replies}
}

// Name implements assistant.Provider.
func (s *Scripted) Name() string { return "scripted" }

// Prompts returns every prompt streamed so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Stream implements assistant.Provider.
func (s *Scripted) Stream(ctx context.Context, threadID, prompt string) (<-chan assistant.Event, error) {
	if _, _, err := s.History(threadID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	var chunks []string
	if n := len(s.prompts); n < len(s.replies) {
		chunks = s.replies[n]
	} else if len(s.replies) > 0 {
		chunks = s.replies[len(s.replies)-1]
	}
	s.prompts = append(s.prompts, prompt)
	streamErr := s.Err
	s.mu.Unlock()

	events := make(chan assistant.Event, len(chunks)+1)
	go func() {
		defer close(events)
		var reply string
		for _, c := range chunks {
			select {
			case events <- assistant.ContentChunk{Text: c}:
				reply += c
			case <-ctx.Done():
				return
			}
		}
		if streamErr == nil {
			s.Append(threadID, prompt, reply)
		}
		select {
		case events <- assistant.StreamComplete{Err: streamErr}:
		case <-ctx.Done():
		}
	}()
	return events, nil
}

// Close implements assistant.Provider.
func (s *Scripted) Close() error { return nil }

// Collect drains a stream and returns the concatenated reply text.
func Collect(ctx context.Context, events <-chan assistant.Event) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return sb.String(), errors.New("stream closed before completion")
			}
			switch e := ev.(type) {
			case assistant.ContentChunk:
				sb.WriteString(e.Text)
			case assistant.StreamComplete:
				return sb.String(), e.Err
			}
		}
	}
}
