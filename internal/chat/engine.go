// Package chat runs conversational turns: a prompt goes to the friend's
// assistant, the streamed reply is split into prose and action commands as
// it arrives, and each confirmed piece is handed to the caller and to the
// speech worker without waiting for the full reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/personifai/personifai/internal/assistant"
	"github.com/personifai/personifai/internal/friend"
	"github.com/personifai/personifai/internal/message"
	"github.com/personifai/personifai/internal/parser"
	"github.com/personifai/personifai/internal/transcriber"
	"github.com/personifai/personifai/internal/tts"
)

var tracer = otel.Tracer("github.com/personifai/personifai/internal/chat")

var (
	// ErrEmptyPrompt is returned for a blank prompt or transcript.
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrNoTranscriber is returned by ConverseAudio when speech input is not configured.
	ErrNoTranscriber = errors.New("speech input is not configured")
)

// Sink receives segments as soon as they are confirmed. Returning an error
// aborts the turn.
type Sink func(message.Segment) error

// Listener observes every segment of every turn.
type Listener interface {
	OnSegment(friendID, turnID string, seg message.Segment)
}

// Engine is the turn pipeline.
type Engine struct {
	friends   *friend.Service
	assistant assistant.Provider

	speech      *tts.Worker
	transcriber *transcriber.Worker
	sttTimeout  time.Duration
	listeners   []Listener
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithSpeech queues reply text on w for synthesis.
func WithSpeech(w *tts.Worker) Option {
	return func(e *Engine) { e.speech = w }
}

// WithTranscriber enables voice turns. timeout bounds the wait for a
// transcript, including time spent queued; zero means no bound.
func WithTranscriber(w *transcriber.Worker, timeout time.Duration) Option {
	return func(e *Engine) {
		e.transcriber = w
		e.sttTimeout = timeout
	}
}

// WithListener registers l for every segment.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// New creates an Engine.
func New(friends *friend.Service, provider assistant.Provider, opts ...Option) *Engine {
	e := &Engine{friends: friends, assistant: provider}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ConverseAudio transcribes audio and answers the transcript.
func (e *Engine) ConverseAudio(ctx context.Context, friendID string, audio []byte, contentType string, sink Sink) (*message.TurnResult, error) {
	if e.transcriber == nil {
		return nil, ErrNoTranscriber
	}
	if _, err := e.friends.Store().Get(friendID); err != nil {
		return nil, err
	}

	sttCtx := ctx
	if e.sttTimeout > 0 {
		var cancel context.CancelFunc
		sttCtx, cancel = context.WithTimeout(ctx, e.sttTimeout)
		defer cancel()
	}
	res, err := e.transcriber.Transcribe(sttCtx, audio, contentType, transcriber.Opts{})
	if err != nil {
		return nil, fmt.Errorf("transcribing: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	slog.Info("voice message transcribed", "friend_id", friendID, "text_length", len(text), "language", res.Language)

	result, err := e.Converse(ctx, friendID, text, sink)
	if result != nil {
		result.Transcript = text
	}
	return result, err
}

// Converse answers prompt as the friend. Every confirmed segment goes to
// sink (which may be nil) as it arrives; the final segment carries the
// normalized reply and every command. On error the returned result holds
// the segments emitted before the failure.
func (e *Engine) Converse(ctx context.Context, friendID, prompt string, sink Sink) (*message.TurnResult, error) {
	start := time.Now()
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	f, err := e.friends.Store().Get(friendID)
	if err != nil {
		return nil, err
	}

	// Ends the upstream stream when the turn stops early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	turnID := uuid.NewString()
	log := slog.With("friend_id", friendID, "turn_id", turnID)
	ctx, span := tracer.Start(ctx, "chat turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("friend.id", friendID),
		attribute.String("turn.id", turnID),
		attribute.String("assistant.backend", e.assistant.Name()),
	)

	events, err := e.stream(ctx, f, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	t := &turn{
		engine:   e,
		ctx:      ctx,
		friendID: friendID,
		result:   &message.TurnResult{TurnID: turnID, FriendID: friendID, Segments: []message.Segment{}},
		sink:     sink,
		parser:   parser.New(),
	}
	log.Info("turn started", "prompt_length", len(prompt))

	if err := t.consume(events); err != nil {
		t.result.Duration = time.Since(start)
		log.Error("turn failed", "error", err, "segments", len(t.result.Segments))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return t.result, err
	}

	t.result.Duration = time.Since(start)
	final := t.result.Final()
	span.SetAttributes(attribute.Int("turn.commands", len(final.Commands)))
	log.Info("turn complete", "duration", t.result.Duration,
		"segments", len(t.result.Segments), "commands", final.Commands)
	return t.result, nil
}

// stream starts the reply, re-provisioning the friend once if the backend
// no longer knows its thread.
func (e *Engine) stream(ctx context.Context, f *friend.Friend, prompt string) (<-chan assistant.Event, error) {
	events, err := e.assistant.Stream(ctx, f.ThreadID, prompt)
	if errors.Is(err, assistant.ErrUnknownThread) {
		slog.Warn("assistant thread lost, re-provisioning", "friend_id", f.ID, "thread_id", f.ThreadID)
		f, err = e.friends.Reprovision(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("re-provisioning friend: %w", err)
		}
		events, err = e.assistant.Stream(ctx, f.ThreadID, prompt)
	}
	if err != nil {
		return nil, fmt.Errorf("starting reply: %w", err)
	}
	return events, nil
}

// turn is the state of one reply being consumed.
type turn struct {
	engine   *Engine
	ctx      context.Context
	friendID string
	result   *message.TurnResult
	sink     Sink
	parser   *parser.Parser

	// speech accumulates prose until a sentence boundary.
	speech         strings.Builder
	speechCommands []string
}

func (t *turn) consume(events <-chan assistant.Event) error {
	for {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := t.ctx.Err(); err != nil {
					return err
				}
				return fmt.Errorf("reply stream ended without completing")
			}
			switch ev := ev.(type) {
			case assistant.ContentChunk:
				text, commands := t.parser.Parse(ev.Text)
				seg := message.Segment{CleanText: text, Commands: commands}
				if seg.Empty() {
					continue
				}
				if seg.Commands == nil {
					seg.Commands = []string{}
				}
				if err := t.emit(seg); err != nil {
					return err
				}
			case assistant.StreamComplete:
				if ev.Err != nil {
					return fmt.Errorf("reply stream: %w", ev.Err)
				}
				return t.finish()
			}
		}
	}
}

func (t *turn) finish() error {
	// Residual buffered text is only delivered in the final segment, so it
	// still needs speaking.
	t.speech.WriteString(t.parser.Pending())
	res := t.parser.Finalize()
	t.flushSpeech(true)
	return t.emit(message.Segment{
		CleanText: parser.Normalize(res.CleanText),
		Commands:  res.Commands,
		IsEnd:     true,
	})
}

func (t *turn) emit(seg message.Segment) error {
	t.result.Segments = append(t.result.Segments, seg)
	for _, l := range t.engine.listeners {
		l.OnSegment(t.friendID, t.result.TurnID, seg)
	}
	if !seg.IsEnd {
		t.speech.WriteString(seg.CleanText)
		t.speechCommands = append(t.speechCommands, seg.Commands...)
		t.flushSpeech(false)
	}
	if t.sink != nil {
		if err := t.sink(seg); err != nil {
			return fmt.Errorf("delivering segment: %w", err)
		}
	}
	return nil
}

// flushSpeech queues buffered prose up to the last sentence boundary, or all
// of it when force is set.
func (t *turn) flushSpeech(force bool) {
	if t.engine.speech == nil {
		return
	}
	buffered := t.speech.String()
	cut := len(buffered)
	if !force {
		cut = strings.LastIndexAny(buffered, ".!?") + 1
		if cut == 0 {
			return
		}
	}

	text := parser.Normalize(buffered[:cut])
	rest := buffered[cut:]
	t.speech.Reset()
	t.speech.WriteString(rest)

	seg := message.Segment{CleanText: text, Commands: t.speechCommands}
	t.speechCommands = nil
	if seg.Empty() {
		return
	}
	if seg.Commands == nil {
		seg.Commands = []string{}
	}
	err := t.engine.speech.Submit(t.ctx, tts.Request{FriendID: t.friendID, TurnID: t.result.TurnID, Segment: seg})
	if err != nil {
		slog.Warn("queueing speech failed", "friend_id", t.friendID, "turn_id", t.result.TurnID, "error", err)
	}
}
