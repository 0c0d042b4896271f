package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/personifai/personifai/internal/chat"
	"github.com/personifai/personifai/internal/friend"
	"github.com/personifai/personifai/internal/message"
	"github.com/personifai/personifai/internal/modeling"
	"github.com/personifai/personifai/internal/parser"
)

var (
	errMissingStream = errors.New("stream query parameter is required")
	errModelingOff   = errors.New("3d generation is not configured")
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// FriendResponse wraps a single friend.
type FriendResponse struct {
	Success bool        `json:"success"`
	Friend  friend.View `json:"friend"`
}

// FriendsResponse lists friends.
type FriendsResponse struct {
	Success bool          `json:"success"`
	Friends []friend.View `json:"friends"`
}

// handleHealth reports liveness and the build version.
//
// @Summary     Health check
// @Tags        system
// @Produce     json
// @Success     200  {object}  HealthResponse
// @Router      /health [get]
func (t *Transport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: t.deps.Version})
}

// handleChat splits a complete text into prose and commands.
//
// @Summary     Parse action markers
// @Description Runs a complete reply through the marker parser. Useful for checking prompt output by hand.
// @Tags        chat
// @Accept      json
// @Produce     json
// @Param       request  body      message.ChatRequest  true  "Text to parse"
// @Success     200      {object}  message.ChatResponse
// @Failure     400      {object}  message.ErrorResponse
// @Router      /chat [post]
func (t *Transport) handleChat(w http.ResponseWriter, r *http.Request) {
	var req message.ChatRequest
	if err := decodeJSON(r, &req, t.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res := parser.ParseAll(req.Prompt)
	writeJSON(w, http.StatusOK, message.ChatResponse{CleanText: res.CleanText, Commands: res.Commands})
}

// handleCreateFriend personifies the object in an uploaded photo.
//
// @Summary     Create a friend
// @Description Profiles the photo, provisions an assistant and registers the friend.
// @Description When 3D generation is enabled a model is generated in the background.
// @Tags        friends
// @Accept      multipart/form-data
// @Produce     json
// @Param       image        formData  file    true   "Photo of the object"
// @Param       name         formData  string  false  "Name (derived from the photo when empty)"
// @Param       personality  formData  string  false  "Personality hints"
// @Param       image_id     formData  string  false  "Client-chosen friend ID"
// @Success     200  {object}  FriendResponse
// @Failure     400  {object}  message.ErrorResponse
// @Failure     409  {object}  message.ErrorResponse
// @Failure     500  {object}  message.ErrorResponse
// @Router      /create-friend [post]
func (t *Transport) handleCreateFriend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, t.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(t.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parsing form: %w", err))
		return
	}
	image, contentType, err := formFile(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	f, err := t.deps.Friends.Create(r.Context(), friend.CreateRequest{
		ID:          strings.TrimSpace(r.FormValue("image_id")),
		Name:        r.FormValue("name"),
		Personality: r.FormValue("personality"),
		Image:       image,
		ContentType: contentType,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, FriendResponse{Success: true, Friend: f.ToView()})
}

// handleSendMessage answers a text message.
//
// @Summary     Send a text message
// @Description The friend's reply is returned as the ordered list of parsed segments; the last has is_end set
// @Description and carries the whole normalized reply and every command.
// @Tags        chat
// @Accept      json
// @Produce     json
// @Param       request  body      message.SendMessageRequest  true  "Message"
// @Success     200      {object}  message.SendMessageResponse
// @Failure     400      {object}  message.SendMessageResponse
// @Failure     404      {object}  message.SendMessageResponse
// @Failure     502      {object}  message.SendMessageResponse
// @Router      /send-message [post]
func (t *Transport) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req message.SendMessageRequest
	if err := decodeJSON(r, &req, t.cfg.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, message.SendMessageResponse{Error: err.Error()})
		return
	}
	res, err := t.deps.Chat.Converse(r.Context(), req.FriendID, req.Message, nil)
	writeTurn(w, req.FriendID, res, err)
}

// handleSendVoiceMessage transcribes a recording and answers it.
//
// @Summary     Send a voice message
// @Tags        chat
// @Accept      multipart/form-data
// @Produce     json
// @Param       audio      formData  file    true  "Recorded audio"
// @Param       friend_id  formData  string  true  "Friend to talk to"
// @Success     200  {object}  message.SendMessageResponse
// @Failure     400  {object}  message.SendMessageResponse
// @Failure     404  {object}  message.SendMessageResponse
// @Failure     502  {object}  message.SendMessageResponse
// @Router      /send-voice-message [post]
func (t *Transport) handleSendVoiceMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, t.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(t.cfg.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, message.SendMessageResponse{Error: "parsing form: " + err.Error()})
		return
	}
	friendID := r.FormValue("friend_id")
	audio, contentType, err := formFile(r, "audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, message.SendMessageResponse{FriendID: friendID, Error: err.Error()})
		return
	}
	res, err := t.deps.Chat.ConverseAudio(r.Context(), friendID, audio, contentType, nil)
	writeTurn(w, friendID, res, err)
}

// handleListFriends lists every friend, oldest first.
//
// @Summary     List friends
// @Tags        friends
// @Produce     json
// @Success     200  {object}  FriendsResponse
// @Router      /friends [get]
func (t *Transport) handleListFriends(w http.ResponseWriter, _ *http.Request) {
	list := t.deps.Friends.Store().List()
	views := make([]friend.View, 0, len(list))
	for _, f := range list {
		views = append(views, f.ToView())
	}
	writeJSON(w, http.StatusOK, FriendsResponse{Success: true, Friends: views})
}

// handleGetFriend returns one friend.
//
// @Summary     Get a friend
// @Tags        friends
// @Produce     json
// @Param       id   path      string  true  "Friend ID"
// @Success     200  {object}  FriendResponse
// @Failure     404  {object}  message.ErrorResponse
// @Router      /friends/{id} [get]
func (t *Transport) handleGetFriend(w http.ResponseWriter, r *http.Request) {
	f, err := t.deps.Friends.Store().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, FriendResponse{Success: true, Friend: f.ToView()})
}

// handleGenerate3D converts an image to a 3D model and waits for the result.
//
// @Summary     Generate a 3D model
// @Tags        models
// @Accept      json
// @Produce     json
// @Param       request  body      message.GenerateModelRequest  true  "Public image URL"
// @Success     200      {object}  message.GenerateModelResponse
// @Failure     400      {object}  message.GenerateModelResponse
// @Failure     502      {object}  message.GenerateModelResponse
// @Failure     503      {object}  message.GenerateModelResponse
// @Failure     504      {object}  message.GenerateModelResponse
// @Router      /generate-3d [post]
func (t *Transport) handleGenerate3D(w http.ResponseWriter, r *http.Request) {
	if t.deps.Modeler == nil {
		writeJSON(w, http.StatusServiceUnavailable, message.GenerateModelResponse{Error: errModelingOff.Error()})
		return
	}
	var req message.GenerateModelRequest
	if err := decodeJSON(r, &req, t.cfg.MaxUploadBytes); err != nil || req.ImageURL == "" {
		if err == nil {
			err = errors.New("image_url is required")
		}
		writeJSON(w, http.StatusBadRequest, message.GenerateModelResponse{Error: err.Error()})
		return
	}

	glb, err := t.deps.Modeler.Generate(r.Context(), req.ImageURL)
	if err != nil {
		slog.Warn("3d generation failed", "error", err)
		writeJSON(w, statusFor(err), message.GenerateModelResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, message.GenerateModelResponse{GLBURL: glb})
}

func writeTurn(w http.ResponseWriter, friendID string, res *message.TurnResult, err error) {
	resp := message.SendMessageResponse{FriendID: friendID}
	if res != nil {
		resp.TranscribedText = res.Transcript
		resp.Results = res.Segments
	}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, statusFor(err), resp)
		return
	}
	resp.Success = true
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, friend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, friend.ErrExists):
		return http.StatusConflict
	case errors.Is(err, friend.ErrInvalid), errors.Is(err, chat.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNoTranscriber):
		return http.StatusNotImplemented
	case errors.Is(err, modeling.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, modeling.ErrTaskFailed):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func formFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%s file is required", field)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", field, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%s file is required", field)
	}
	return data, fileContentType(header), nil
}

func fileContentType(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return mime.TypeByExtension(filepath.Ext(h.Filename))
}

func decodeJSON(r *http.Request, v any, limit int64) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, limit)).Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, message.ErrorResponse{Error: err.Error()})
}
