package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/r3labs/sse/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personifai/personifai/internal/assistant/assistanttest"
	"github.com/personifai/personifai/internal/chat"
	"github.com/personifai/personifai/internal/config"
	"github.com/personifai/personifai/internal/friend"
	"github.com/personifai/personifai/internal/message"
	"github.com/personifai/personifai/internal/modeling"
	"github.com/personifai/personifai/internal/transcriber"
)

type stubModeler struct {
	glb string
	err error
}

func (m stubModeler) Generate(context.Context, string) (string, error) { return m.glb, m.err }

type stubTranscriber struct{}

func (stubTranscriber) Name() string { return "stub" }
func (stubTranscriber) Transcribe(context.Context, []byte, string, transcriber.Opts) (*transcriber.Result, error) {
	return &transcriber.Result{Text: "wave please", Language: "en"}, nil
}
func (stubTranscriber) Close() error { return nil }

type fixture struct {
	srv      *httptest.Server
	tr       *Transport
	hub      *Hub
	friends  *friend.Service
	provider *assistanttest.Scripted
	friendID string
}

func newFixture(t *testing.T, cfg config.HTTPConfig, modeler Modeler, opts ...chat.Option) *fixture {
	t.Helper()
	provider := assistanttest.New([]string{"Hi! [[WA", "VE]] Nice ", "to meet you."})
	store, err := friend.NewStore("")
	require.NoError(t, err)
	friends := friend.NewService(store, provider, nil, t.TempDir())
	t.Cleanup(friends.Close)

	f, err := friends.Create(context.Background(), friend.CreateRequest{ID: "mug", Name: "Mugsy", Image: []byte("x")})
	require.NoError(t, err)

	hub := NewHub()
	opts = append(opts, chat.WithListener(hub))
	tr := New(cfg, Deps{
		Friends: friends,
		Chat:    chat.New(friends, provider, opts...),
		Modeler: modeler,
		Events:  hub,
		Version: "test",
	})
	tr.SetReady(true)
	srv := httptest.NewServer(tr.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &fixture{srv: srv, tr: tr, hub: hub, friends: friends, provider: provider, friendID: f.ID}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func multipartBody(t *testing.T, fields map[string]string, fileField, contentType string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="upload"`)
		h.Set("Content-Type", contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthAndCORS(t *testing.T) {
	fx := newFixture(t, config.HTTPConfig{}, nil)

	resp, err := http.Get(fx.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, HealthResponse{Status: "ok", Version: "test"}, decode[HealthResponse](t, resp))

	req, _ := http.NewRequest(http.MethodOptions, fx.srv.URL+"/send-message", nil)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp2.StatusCode)
}

func TestChatParse(t *testing.T) {
	fx := newFixture(t, config.HTTPConfig{}, nil)
	resp := postJSON(t, fx.srv.URL+"/chat", message.ChatRequest{Prompt: "A [[X]] B [[Y]] C"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[message.ChatResponse](t, resp)
	assert.Equal(t, "A  B  C", got.CleanText)
	assert.Equal(t, []string{"X", "Y"}, got.Commands)
}

func TestSendMessage(t *testing.T) {
	fx := newFixture(t, config.HTTPConfig{}, nil)

	resp := postJSON(t, fx.srv.URL+"/send-message", message.SendMessageRequest{FriendID: fx.friendID, Message: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[message.SendMessageResponse](t, resp)
	assert.True(t, got.Success)
	assert.Equal(t, fx.friendID, got.FriendID)
	require.NotEmpty(t, got.Results)
	final := got.Results[len(got.Results)-1]
	assert.True(t, final.IsEnd)
	assert.Equal(t, "Hi!  Nice to meet you.", final.CleanText)
	assert.Equal(t, []string{"WAVE"}, final.Commands)

	resp = postJSON(t, fx.srv.URL+"/send-message", message.SendMessageRequest{FriendID: "ghost", Message: "hello"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, decode[message.SendMessageResponse](t, resp).Success)

	resp = postJSON(t, fx.srv.URL+"/send-message", message.SendMessageRequest{FriendID: fx.friendID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendVoiceMessage(t *testing.T) {
	stt := transcriber.NewWorker(stubTranscriber{}, 1, "en")
	defer stt.Close()
	fx := newFixture(t, config.HTTPConfig{}, nil, chat.WithTranscriber(stt, time.Second))

	body, ct := multipartBody(t, map[string]string{"friend_id": fx.friendID}, "audio", "audio/wav", []byte("RIFF"))
	resp, err := http.Post(fx.srv.URL+"/send-voice-message", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[message.SendMessageResponse](t, resp)
	assert.Equal(t, "wave please", got.TranscribedText)
	assert.Equal(t, []string{"wave please"}, fx.provider.Prompts())

	body, ct = multipartBody(t, map[string]string{"friend_id": fx.friendID}, "", "", nil)
	resp2, err := http.Post(fx.srv.URL+"/send-voice-message", ct, body)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

type slowTranscriber struct{ stubTranscriber }

func (slowTranscriber) Transcribe(ctx context.Context, _ []byte, _ string, _ transcriber.Opts) (*transcriber.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestVoiceTranscriptionTimeout(t *testing.T) {
	stt := transcriber.NewWorker(slowTranscriber{}, 1, "en")
	defer stt.Close()
	fx := newFixture(t, config.HTTPConfig{}, nil, chat.WithTranscriber(stt, 20*time.Millisecond))

	body, ct := multipartBody(t, map[string]string{"friend_id": fx.friendID}, "audio", "audio/wav", []byte("RIFF"))
	resp, err := http.Post(fx.srv.URL+"/send-voice-message", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Empty(t, fx.provider.Prompts())
}

func TestVoiceWithoutTranscriber(t *testing.T) {
	fx := newFixture(t, config.HTTPConfig{}, nil)
	body, ct := multipartBody(t, map[string]string{"friend_id": fx.friendID}, "audio", "audio/wav", []byte("RIFF"))
	resp, err := http.Post(fx.srv.URL+"/send-voice-message", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestCreateAndListFriends(t *testing.T) {
	fx := newFixture(t, config.HTTPConfig{}, nil)

	body, ct := multipartBody(t, map[string]string{"name": "Lumi", "personality": "shy", "image_id": "lamp"},
		"image", "image/png", []byte("png"))
	resp, err := http.Post(fx.srv.URL+"/create-friend", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decode[FriendResponse](t, resp)
	assert.True(t, created.Success)
	assert.Equal(t, "lamp", created.Friend.ID)
	assert.Equal(t, "Lumi", created.Friend.Name)

	body, ct = multipartBody(t, map[string]string{"name": "Lumi", "image_id": "lamp"}, "image", "image/png", []byte("png"))
	dup, err := http.Post(fx.srv.URL+"/create-friend", ct, body)
	require.NoError(t, err)
	defer dup.Body.Close()
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	body, ct = multipartBody(t, map[string]string{"name": "NoImage"}, "", "", nil)
	missing, err := http.Post(fx.srv.URL+"/create-friend", ct, body)
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)

	list, err := http.Get(fx.srv.URL + "/friends")
	require.NoError(t, err)
	defer list.Body.Close()
	friends := decode[FriendsResponse](t, list)
	require.Len(t, friends.Friends, 2)
	assert.Equal(t, fx.friendID, friends.Friends[0].ID)

	one, err := http.Get(fx.srv.URL + "/friends/lamp")
	require.NoError(t, err)
	defer one.Body.Close()
	assert.Equal(t, "Lumi", decode[FriendResponse](t, one).Friend.Name)

	none, err := http.Get(fx.srv.URL + "/friends/ghost")
	require.NoError(t, err)
	defer none.Body.Close()
	assert.Equal(t, http.StatusNotFound, none.StatusCode)
}

func TestGenerate3D(t *testing.T) {
	off := newFixture(t, config.HTTPConfig{}, nil)
	resp := postJSON(t, off.srv.URL+"/generate-3d", message.GenerateModelRequest{ImageURL: "https://img"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ok := newFixture(t, config.HTTPConfig{}, stubModeler{glb: "https://cdn/m.glb"})
	resp = postJSON(t, ok.srv.URL+"/generate-3d", message.GenerateModelRequest{ImageURL: "https://img"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://cdn/m.glb", decode[message.GenerateModelResponse](t, resp).GLBURL)

	resp = postJSON(t, ok.srv.URL+"/generate-3d", message.GenerateModelRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	failed := newFixture(t, config.HTTPConfig{}, stubModeler{err: modeling.ErrTaskFailed})
	resp = postJSON(t, failed.srv.URL+"/generate-3d", message.GenerateModelRequest{ImageURL: "https://img"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, modeling.ErrTaskFailed.Error(), decode[message.GenerateModelResponse](t, resp).Error)
}

func TestRateLimitAndReadiness(t *testing.T) {
	fx := newFixture(t, config.HTTPConfig{RateLimit: 0.001, RateBurst: 1}, nil)
	req := message.SendMessageRequest{FriendID: fx.friendID, Message: "hi"}

	assert.Equal(t, http.StatusOK, postJSON(t, fx.srv.URL+"/send-message", req).StatusCode)
	limited := postJSON(t, fx.srv.URL+"/send-message", req)
	assert.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
	assert.Equal(t, "1", limited.Header.Get("Retry-After"))

	fx.tr.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, postJSON(t, fx.srv.URL+"/send-message", req).StatusCode)
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.allow("1.2.3.4"))
	}

	l = newIPLimiter(1, 2)
	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "buckets are per client")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	var none proxies
	assert.Equal(t, "198.51.100.7", none.clientIP(r), "forwarded header ignored without trusted proxies")

	trusted := parseProxies([]string{"10.0.0.0/8", "198.51.100.7", "not-an-ip"})
	require.Len(t, trusted, 2)
	assert.Equal(t, "203.0.113.9", trusted.clientIP(r))

	r.Header.Set("X-Forwarded-For", "1.1.1.1, 203.0.113.9, 10.1.2.3")
	assert.Equal(t, "203.0.113.9", trusted.clientIP(r), "right-most untrusted hop")

	r.Header.Set("X-Forwarded-For", "10.1.2.3")
	assert.Equal(t, "10.1.2.3", trusted.clientIP(r), "all hops trusted")

	r.RemoteAddr = "192.0.2.50:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.50", trusted.clientIP(r), "untrusted peer")
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	fx := newFixture(t, config.HTTPConfig{RateLimit: 0.001, RateBurst: 1}, nil)
	body, err := json.Marshal(message.SendMessageRequest{FriendID: fx.friendID, Message: "hi"})
	require.NoError(t, err)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req, err := http.NewRequest(http.MethodPost, fx.srv.URL+"/send-message", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 429, 429, 429, 429}, codes)

	fx.tr.limiter.mu.Lock()
	defer fx.tr.limiter.mu.Unlock()
	assert.Len(t, fx.tr.limiter.clients, 1)
}

func TestWebSocketStreamsSegments(t *testing.T) {
	fx := newFixture(t, config.HTTPConfig{}, nil)
	url := "ws" + strings.TrimPrefix(fx.srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(message.SendMessageRequest{FriendID: fx.friendID, Message: "hi"}))
	var commands []string
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		require.Equal(t, FrameSegment, f.Type, f.Error)
		require.NotNil(t, f.Segment)
		if f.Segment.IsEnd {
			assert.Equal(t, "Hi!  Nice to meet you.", f.Segment.CleanText)
			break
		}
		commands = append(commands, f.Segment.Commands...)
	}
	assert.Equal(t, []string{"WAVE"}, commands)

	require.NoError(t, conn.WriteJSON(message.SendMessageRequest{FriendID: "ghost", Message: "hi"}))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "not found")
}

func TestEventsFeed(t *testing.T) {
	fx := newFixture(t, config.HTTPConfig{}, nil)

	resp, err := http.Get(fx.srv.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan *sse.Event, 16)
	client := sse.NewClient(fx.srv.URL + "/events")
	go func() {
		_ = client.SubscribeWithContext(ctx, fx.friendID, func(ev *sse.Event) {
			if len(ev.Data) > 0 {
				received <- ev
			}
		})
	}()

	seg := message.Segment{CleanText: "hello", Commands: []string{"NOD"}}
	var got *sse.Event
	require.Eventually(t, func() bool {
		fx.hub.OnSegment(fx.friendID, "turn-1", seg)
		select {
		case got = <-received:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, EventSegment, string(got.Event))
	var payload segmentEvent
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.Equal(t, fx.friendID, payload.FriendID)
	assert.Equal(t, "turn-1", payload.TurnID)
	assert.Equal(t, seg, payload.Segment)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(modeling.ErrTimeout))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(fmt.Errorf("transcribing: %w", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusBadRequest, statusFor(friend.ErrInvalid))
	assert.Equal(t, http.StatusBadGateway, statusFor(errors.New("upstream")))
}
