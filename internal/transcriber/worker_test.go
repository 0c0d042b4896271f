package transcriber

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTranscriber struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	closed  atomic.Bool
	fn      func(audio []byte, opts Opts) (*Result, error)
}

func (s *stubTranscriber) Name() string { return "stub" }

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, contentType string, opts Opts) (*Result, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return s.fn(audio, opts)
}

func (s *stubTranscriber) Close() error {
	s.closed.Store(true)
	return nil
}

func TestWorkerSerialisesJobs(t *testing.T) {
	stub := &stubTranscriber{fn: func(audio []byte, opts Opts) (*Result, error) {
		return &Result{Text: string(audio), Language: opts.Language}, nil
	}}
	w := NewWorker(stub, 2, "en")

	var wg sync.WaitGroup
	for _, word := range []string{"one", "two", "three", "four"} {
		wg.Add(1)
		go func(word string) {
			defer wg.Done()
			res, err := w.Transcribe(context.Background(), []byte(word), "audio/wav", Opts{})
			assert.NoError(t, err)
			assert.Equal(t, word, res.Text)
			assert.Equal(t, "en", res.Language)
		}(word)
	}
	wg.Wait()

	assert.EqualValues(t, 1, stub.maxSeen.Load())
	require.NoError(t, w.Close())
	assert.True(t, stub.closed.Load())

	_, err := w.Transcribe(context.Background(), []byte("late"), "audio/wav", Opts{})
	assert.ErrorIs(t, err, ErrWorkerClosed)
}

func TestWorkerPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	w := NewWorker(&stubTranscriber{fn: func([]byte, Opts) (*Result, error) { return nil, boom }}, 1, "")
	defer w.Close()

	_, err := w.Transcribe(context.Background(), []byte("x"), "audio/wav", Opts{})
	assert.ErrorIs(t, err, boom)
}

func TestWorkerHonoursContext(t *testing.T) {
	release := make(chan struct{})
	w := NewWorker(&stubTranscriber{fn: func([]byte, Opts) (*Result, error) {
		<-release
		return &Result{}, nil
	}}, 1, "")
	defer func() {
		close(release)
		w.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := w.Transcribe(ctx, []byte("x"), "audio/wav", Opts{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "en", NormalizeLanguage("English"))
	assert.Equal(t, "fr", NormalizeLanguage("FR"))
	assert.Equal(t, "klingon", NormalizeLanguage("Klingon"))
	assert.Equal(t, ".ogg", ExtFromContentType("audio/ogg; codecs=opus"))
	assert.Equal(t, ".wav", ExtFromContentType(""))
}
