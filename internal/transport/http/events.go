package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/r3labs/sse/v2"

	"github.com/personifai/personifai/internal/message"
	"github.com/personifai/personifai/internal/tts"
)

// Event names on the SSE feed.
const (
	EventSegment   = "segment"
	EventUtterance = "utterance"
)

// Hub fans segments and utterances out to SSE subscribers. Each friend has
// its own stream, selected with ?stream={friend_id}; streams are created on
// first subscription.
type Hub struct {
	server *sse.Server
	once   sync.Once
}

// segmentEvent is the SSE payload for a parsed segment.
type segmentEvent struct {
	FriendID string          `json:"friend_id"`
	TurnID   string          `json:"turn_id"`
	Segment  message.Segment `json:"segment"`
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	s := sse.New()
	s.AutoStream = true
	s.AutoReplay = false
	return &Hub{server: s}
}

// OnSegment publishes a parsed segment to the friend's stream.
func (h *Hub) OnSegment(friendID, turnID string, seg message.Segment) {
	h.publish(friendID, EventSegment, segmentEvent{FriendID: friendID, TurnID: turnID, Segment: seg})
}

// PublishUtterance publishes synthesized speech to the friend's stream. The
// audio is base64 encoded by encoding/json.
func (h *Hub) PublishUtterance(u tts.Utterance) {
	h.publish(u.FriendID, EventUtterance, u)
}

func (h *Hub) publish(stream, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding sse event", "event", event, "error", err)
		return
	}
	h.server.Publish(stream, &sse.Event{Event: []byte(event), Data: data})
}

// ServeHTTP serves GET /events?stream={friend_id}.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "" {
		writeError(w, http.StatusBadRequest, errMissingStream)
		return
	}
	h.server.ServeHTTP(w, r)
}

// Close ends every stream.
func (h *Hub) Close() {
	h.once.Do(h.server.Close)
}
