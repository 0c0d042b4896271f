// Package message defines the core data types flowing through the companion pipeline.
package message

import (
	"time"
)

// Segment is one increment of an assistant reply after marker extraction.
// Intermediate segments carry only what became confirmed in that step; the
// final segment (IsEnd) carries the whole normalized reply and every command.
type Segment struct {
	// CleanText is reply prose with all [[NAME]] markers removed.
	CleanText string `json:"clean_text"`

	// Commands lists the action names in order of appearance.
	Commands []string `json:"commands"`

	// IsEnd marks the final segment of a turn.
	IsEnd bool `json:"is_end"`
}

// Empty reports whether the segment carries neither text nor commands.
func (s Segment) Empty() bool {
	return s.CleanText == "" && len(s.Commands) == 0
}

// SendMessageRequest is a text prompt addressed to a friend.
type SendMessageRequest struct {
	// FriendID identifies the friend whose assistant should answer.
	FriendID string `json:"friend_id"`

	// Message is the user's prompt.
	Message string `json:"message"`
}

// TurnResult is the outcome of one conversational turn.
type TurnResult struct {
	// TurnID is a unique identifier for this turn (UUID).
	TurnID string `json:"turn_id"`

	// FriendID is the friend that answered.
	FriendID string `json:"friend_id"`

	// Transcript is the recognised prompt for voice turns (empty for text turns).
	Transcript string `json:"transcribed_text,omitempty"`

	// Segments lists every emitted segment; the last one has IsEnd set.
	Segments []Segment `json:"results"`

	// Duration is how long the turn took end to end.
	Duration time.Duration `json:"-"`
}

// Final returns the end segment of the turn, or a zero Segment if the turn
// did not complete.
func (r *TurnResult) Final() Segment {
	if n := len(r.Segments); n > 0 && r.Segments[n-1].IsEnd {
		return r.Segments[n-1]
	}
	return Segment{}
}

// SendMessageResponse is the HTTP reply for text and voice turns.
type SendMessageResponse struct {
	Success         bool      `json:"success"`
	FriendID        string    `json:"friend_id,omitempty"`
	TranscribedText string    `json:"transcribed_text,omitempty"`
	Results         []Segment `json:"results,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// ChatRequest asks the parser to split a complete text. It is mostly useful
// for checking prompt output by hand.
type ChatRequest struct {
	Prompt string `json:"prompt"`
}

// ChatResponse is the parse of a complete text.
type ChatResponse struct {
	CleanText string   `json:"clean_text"`
	Commands  []string `json:"commands"`
}

// GenerateModelRequest asks for an image-to-3D conversion.
type GenerateModelRequest struct {
	// ImageURL is a publicly reachable image (or data URI).
	ImageURL string `json:"image_url"`
}

// GenerateModelResponse carries the generated model location.
type GenerateModelResponse struct {
	GLBURL string `json:"glbUrl,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the JSON body returned on failure.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
