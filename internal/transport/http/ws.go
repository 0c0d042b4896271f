package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/personifai/personifai/internal/message"
)

// Frame types sent to WebSocket clients.
const (
	FrameSegment = "segment"
	FrameError   = "error"
)

// Frame is one server-to-client WebSocket message. Clients send
// message.SendMessageRequest frames.
type Frame struct {
	Type     string           `json:"type"`
	FriendID string           `json:"friend_id,omitempty"`
	TurnID   string           `json:"turn_id,omitempty"`
	Segment  *message.Segment `json:"segment,omitempty"`
	Error    string           `json:"error,omitempty"`
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// handleWebSocket runs text turns over a WebSocket. Each incoming
// {friend_id, message} frame starts a turn; its segments are written back
// as they are parsed. Turns on one connection run one at a time.
//
// @Summary     Streaming chat
// @Description Upgrade to a WebSocket. Send {"friend_id","message"} frames; receive {"type":"segment"} frames
// @Description as the reply is parsed, the last with segment.is_end set, or {"type":"error"} frames.
// @Tags        chat
// @Success     101
// @Router      /ws [get]
func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := slog.With("remote", t.proxies.clientIP(r))
	log.Info("websocket connected")

	conn.SetReadLimit(t.cfg.MaxUploadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Pings and frames share the connection; gorilla allows one concurrent
	// writer, so every write goes through writes.
	writes := make(chan Frame, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		t.wsWriter(ctx, conn, writes)
	}()
	defer func() {
		close(writes)
		<-writerDone
	}()

	for {
		var req message.SendMessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", "error", err)
			}
			log.Info("websocket disconnected")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if !t.limiter.allow(t.proxies.clientIP(r)) {
			writes <- Frame{Type: FrameError, FriendID: req.FriendID, Error: "rate limit exceeded"}
			continue
		}

		sink := func(seg message.Segment) error {
			s := seg
			select {
			case writes <- Frame{Type: FrameSegment, FriendID: req.FriendID, Segment: &s}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		res, err := t.deps.Chat.Converse(ctx, req.FriendID, req.Message, sink)
		if err != nil {
			var turnID string
			if res != nil {
				turnID = res.TurnID
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			writes <- Frame{Type: FrameError, FriendID: req.FriendID, TurnID: turnID, Error: err.Error()}
		}
	}
}

func (t *Transport) wsWriter(ctx context.Context, conn *websocket.Conn, frames <-chan Frame) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(f); err != nil {
				slog.Debug("websocket write failed", "error", err)
				drain(frames)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				drain(frames)
				return
			}
		case <-ctx.Done():
			drain(frames)
			return
		}
	}
}

// drain discards frames until the channel is closed so senders never block.
func drain(frames <-chan Frame) {
	for range frames {
	}
}
