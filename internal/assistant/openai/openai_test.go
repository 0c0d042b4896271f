package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personifai/personifai/internal/assistant"
	"github.com/personifai/personifai/internal/assistant/assistanttest"
)

func streamingServer(t *testing.T, chunks []string, requests chan<- openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if requests != nil {
			requests <- req
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"model":   req.Model,
				"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newProvider(t *testing.T, url string) *Provider {
	t.Helper()
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = url + "/v1"
	return NewWithClient(openai.NewClientWithConfig(cfg), "test-model", 0.5)
}

func TestStreamDeliversChunksAndRecordsHistory(t *testing.T) {
	requests := make(chan openai.ChatCompletionRequest, 2)
	srv := streamingServer(t, []string{"Hi ", "[[WA", "VE]] there"}, requests)
	defer srv.Close()

	p := newProvider(t, srv.URL)
	ctx := context.Background()

	a, err := p.CreateAssistant(ctx, assistant.Spec{Name: "Pod", Instructions: "You are a pod."})
	require.NoError(t, err)
	th, err := p.CreateThread(ctx, a.ID)
	require.NoError(t, err)

	events, err := p.Stream(ctx, th.ID, "hello")
	require.NoError(t, err)
	reply, err := assistanttest.Collect(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, "Hi [[WAVE]] there", reply)

	first := <-requests
	require.Len(t, first.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, first.Messages[0].Role)
	assert.Equal(t, "You are a pod.", first.Messages[0].Content)
	assert.Equal(t, "hello", first.Messages[1].Content)
	assert.True(t, first.Stream)

	events, err = p.Stream(ctx, th.ID, "again")
	require.NoError(t, err)
	_, err = assistanttest.Collect(ctx, events)
	require.NoError(t, err)

	second := <-requests
	require.Len(t, second.Messages, 4)
	assert.Equal(t, "assistant", second.Messages[2].Role)
	assert.Equal(t, "Hi [[WAVE]] there", second.Messages[2].Content)
	assert.Equal(t, "again", second.Messages[3].Content)
}

func TestStreamUnknownThread(t *testing.T) {
	p := newProvider(t, "http://127.0.0.1:1")
	_, err := p.Stream(context.Background(), "thread_missing", "hi")
	assert.ErrorIs(t, err, assistant.ErrUnknownThread)
}

func TestStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	ctx := context.Background()
	a, err := p.CreateAssistant(ctx, assistant.Spec{Name: "Pod"})
	require.NoError(t, err)
	th, err := p.CreateThread(ctx, a.ID)
	require.NoError(t, err)

	_, err = p.Stream(ctx, th.ID, "hi")
	assert.Error(t, err)
}
