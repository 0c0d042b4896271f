// Package http implements the HTTP/WebSocket transport for personifai.
//
// This transport exposes the REST API used by the mobile and web clients:
// friend creation from a photo, text and voice turns, 3D model generation,
// a WebSocket endpoint that streams reply segments as they are parsed, and
// an SSE feed per friend carrying every segment and spoken utterance.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/personifai/personifai/internal/chat"
	"github.com/personifai/personifai/internal/config"
	"github.com/personifai/personifai/internal/friend"
)

// Modeler converts a public image URL into a 3D model URL.
type Modeler interface {
	Generate(ctx context.Context, imageURL string) (string, error)
}

// Deps are the services the HTTP API is built on.
type Deps struct {
	Friends *friend.Service
	Chat    *chat.Engine

	// Modeler serves /generate-3d; nil disables it.
	Modeler Modeler

	// Events publishes segments over SSE; nil disables /events.
	Events *Hub

	// AssetsDir is served under /models/ when set.
	AssetsDir string

	Version string
}

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	cfg      config.HTTPConfig
	deps     Deps
	limiter  *ipLimiter
	proxies  proxies
	upgrader websocket.Upgrader
	ready    atomic.Bool

	mu     sync.Mutex
	server *http.Server
}

// New creates a new HTTP transport.
func New(cfg config.HTTPConfig, deps Deps) *Transport {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	return &Transport{
		cfg:     cfg,
		deps:    deps,
		limiter: newIPLimiter(cfg.RateLimit, cfg.RateBurst),
		proxies: parseProxies(cfg.TrustedProxies),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// SetReady controls whether chat endpoints accept turns.
func (t *Transport) SetReady(ready bool) { t.ready.Store(ready) }

// Handler builds the routed, instrumented handler.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", t.handleHealth)
	mux.HandleFunc("POST /chat", t.handleChat)

	mux.Handle("POST /create-friend", t.guard(http.HandlerFunc(t.handleCreateFriend)))
	mux.Handle("POST /send-message", t.guard(http.HandlerFunc(t.handleSendMessage)))
	mux.Handle("POST /send-voice-message", t.guard(http.HandlerFunc(t.handleSendVoiceMessage)))
	mux.Handle("POST /generate-3d", t.guard(http.HandlerFunc(t.handleGenerate3D)))
	mux.HandleFunc("GET /friends", t.handleListFriends)
	mux.HandleFunc("GET /friends/{id}", t.handleGetFriend)

	// GET /ws: segments stream back as each reply is parsed.
	mux.Handle("GET /ws", t.guard(http.HandlerFunc(t.handleWebSocket)))

	if t.deps.Events != nil {
		mux.Handle("GET /events", t.deps.Events)
	}
	if t.deps.AssetsDir != "" {
		mux.Handle("GET /models/", http.StripPrefix("/models/", http.FileServer(http.Dir(t.deps.AssetsDir))))
	}

	// Swagger UI serves the generated OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return otelhttp.NewHandler(cors(mux), "personifai.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// guard applies readiness and per-client rate limiting.
func (t *Transport) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, errors.New("service is starting"))
			return
		}
		if !t.limiter.allow(t.proxies.clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors allows any origin, as the mobile client is served from elsewhere.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Listen starts the HTTP server. It blocks until the context is cancelled.
func (t *Transport) Listen(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.Port),
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()

	slog.Info("http transport listening", "port", t.cfg.Port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		_ = t.Close()
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	if t.deps.Events != nil {
		t.deps.Events.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
