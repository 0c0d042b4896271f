package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/personifai/personifai/internal/message"
)

// ErrWorkerClosed is returned by Worker.Submit after Close.
var ErrWorkerClosed = errors.New("tts worker closed")

// Request is a segment queued for speech.
type Request struct {
	// FriendID is the speaking friend.
	FriendID string

	// TurnID groups utterances of the same reply.
	TurnID string

	Segment message.Segment
}

// Utterance is the spoken form of a segment.
type Utterance struct {
	FriendID    string          `json:"friend_id"`
	TurnID      string          `json:"turn_id"`
	Segment     message.Segment `json:"segment"`
	Audio       []byte          `json:"audio"`
	ContentType string          `json:"content_type"`
}

// Worker speaks queued segments one at a time on a dedicated goroutine and
// publishes the audio in submission order.
type Worker struct {
	synth    Synthesizer
	language string
	requests chan Request
	results  chan Utterance

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker starts a worker with room for queueSize pending segments.
func NewWorker(synth Synthesizer, queueSize int, language string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		synth:    synth,
		language: language,
		requests: make(chan Request, queueSize),
		results:  make(chan Utterance, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	defer close(w.results)
	for req := range w.requests {
		text := strings.TrimSpace(req.Segment.CleanText)
		if text == "" {
			continue
		}
		res, err := w.synth.Synthesize(w.ctx, text, SynthesizeOpts{Language: w.language})
		if err != nil {
			slog.Warn("TTS synthesis failed, continuing without audio", "turn_id", req.TurnID, "error", err)
			continue
		}
		select {
		case w.results <- Utterance{
			FriendID:    req.FriendID,
			TurnID:      req.TurnID,
			Segment:     req.Segment,
			Audio:       res.Audio,
			ContentType: res.ContentType,
		}:
		case <-w.ctx.Done():
			return
		}
	}
}

// Submit queues a segment. It blocks while the queue is full and returns
// ctx's error if ctx ends first.
func (w *Worker) Submit(ctx context.Context, req Request) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWorkerClosed
	}
	select {
	case w.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results delivers utterances in submission order. The channel is closed
// once the worker has stopped.
func (w *Worker) Results() <-chan Utterance {
	return w.results
}

// Close stops accepting segments, waits for queued ones to be spoken and
// closes the synthesizer. Consumers must keep draining Results or cancel
// via Stop.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.requests)
	w.mu.Unlock()

	<-w.done
	return w.synth.Close()
}

// Stop aborts in-flight synthesis and closes the worker without waiting for
// queued segments.
func (w *Worker) Stop() error {
	w.cancel()
	return w.Close()
}
