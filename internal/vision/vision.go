// Package vision turns a friend's photo into a persona: a short name and a
// second-person description of who they are.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/personifai/personifai/internal/config"
	"github.com/personifai/personifai/internal/openaiclient"
)

var tracer = otel.Tracer("github.com/personifai/personifai/internal/vision")

// ErrEmptyProfile is returned when the model answers without a name or description.
var ErrEmptyProfile = errors.New("vision model returned an empty profile")

const profilePrompt = `Look at this image and imagine the object or creature in it is alive.
Give it a short, friendly first name and describe it in the second person
("You are ...") in two or three sentences: what it looks like, its mood, and
how it would talk.`

// Profile is what the vision model infers from an image.
type Profile struct {
	Name        string `json:"name" jsonschema:"description=A short friendly first name"`
	Description string `json:"description" jsonschema:"description=Second-person description starting with 'You are'"`
}

// Analyzer profiles images with an OpenAI-compatible vision model.
type Analyzer struct {
	client *openai.Client
	model  string
	schema *jsonschema.Schema
}

// New creates an Analyzer from config.
func New(cfg config.VisionConfig) *Analyzer {
	return NewWithClient(openaiclient.New(cfg.OpenAI), cfg.Model)
}

// NewWithClient creates an Analyzer around an existing client.
func NewWithClient(client *openai.Client, model string) *Analyzer {
	if model == "" {
		model = openai.GPT4oMini
	}
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	return &Analyzer{
		client: client,
		model:  model,
		schema: reflector.Reflect(&Profile{}),
	}
}

// Profile asks the model to name and describe the subject of image.
func (a *Analyzer) Profile(ctx context.Context, image []byte, contentType string) (*Profile, error) {
	ctx, span := tracer.Start(ctx, "vision profile")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.model", a.model),
		attribute.Int("request.image_bytes", len(image)),
	)

	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}
	dataURI := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: profilePrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURI,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "Profile",
				Schema: a.schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		err = fmt.Errorf("vision request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyProfile
	}

	var p Profile
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &p); err != nil {
		err = fmt.Errorf("decoding profile: %w", err)
		span.RecordError(err)
		return nil, err
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	if p.Name == "" && p.Description == "" {
		return nil, ErrEmptyProfile
	}

	slog.Debug("image profiled", "name", p.Name, "description_length", len(p.Description))
	return &p, nil
}
