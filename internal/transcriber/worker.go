package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type job struct {
	ctx         context.Context
	audio       []byte
	contentType string
	opts        Opts
	reply       chan jobResult
}

type jobResult struct {
	res *Result
	err error
}

// Worker drains a bounded queue of transcription jobs on one goroutine so
// that a single model instance is never driven concurrently.
type Worker struct {
	backend  Transcriber
	language string
	jobs     chan job

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWorker starts a worker with room for queueSize pending jobs. language
// is applied to jobs that do not set one.
func NewWorker(backend Transcriber, queueSize int, language string) *Worker {
	w := &Worker{
		backend:  backend,
		language: language,
		jobs:     make(chan job, queueSize),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for j := range w.jobs {
		if err := j.ctx.Err(); err != nil {
			j.reply <- jobResult{err: err}
			continue
		}
		start := time.Now()
		res, err := w.backend.Transcribe(j.ctx, j.audio, j.contentType, j.opts)
		if err != nil {
			slog.Warn("transcription failed", "backend", w.backend.Name(), "error", err)
		} else {
			slog.Debug("transcription complete", "backend", w.backend.Name(),
				"duration", time.Since(start), "text_length", len(res.Text))
		}
		j.reply <- jobResult{res: res, err: err}
	}
}

// Transcribe queues audio and waits for its transcription. It blocks while
// the queue is full and returns early when ctx is done.
func (w *Worker) Transcribe(ctx context.Context, audio []byte, contentType string, opts Opts) (*Result, error) {
	if opts.Language == "" {
		opts.Language = w.language
	}
	j := job{
		ctx:         ctx,
		audio:       audio,
		contentType: contentType,
		opts:        opts,
		reply:       make(chan jobResult, 1),
	}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil, ErrWorkerClosed
	}
	select {
	case w.jobs <- j:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return nil, fmt.Errorf("queueing transcription: %w", ctx.Err())
	}

	select {
	case r := <-j.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for transcription: %w", ctx.Err())
	}
}

// Close stops accepting jobs, finishes the queued ones and closes the backend.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	<-w.done
	return w.backend.Close()
}
