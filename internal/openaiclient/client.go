// Package openaiclient builds go-openai clients for every OpenAI-compatible
// collaborator (chat, transcription, speech, vision).
package openaiclient

import (
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/personifai/personifai/internal/config"
)

// New creates a client from config. A BaseURL redirects the client to a
// gateway or any compatible server.
func New(cfg config.OpenAIConfig) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	c.HTTPClient = &http.Client{
		Timeout: 90 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return "openai " + r.Method + " " + r.URL.Path
			}),
		),
	}
	return openai.NewClientWithConfig(c)
}
