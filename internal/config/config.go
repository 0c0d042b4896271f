// Package config handles loading and validating the personifai configuration.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Config is the root configuration for the personifai daemon.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Transports  TransportsConfig  `mapstructure:"transports"`
	Assistant   AssistantConfig   `mapstructure:"assistant"`
	Transcriber TranscriberConfig `mapstructure:"transcriber"`
	TTS         TTSConfig         `mapstructure:"tts"`
	Vision      VisionConfig      `mapstructure:"vision"`
	Modeling    ModelingConfig    `mapstructure:"modeling"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP/WebSocket transport.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`

	// RateLimit is the sustained number of chat requests per second allowed
	// per client address. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// MaxUploadBytes caps multipart image and audio uploads.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	// TrustedProxies lists reverse proxy addresses or CIDR prefixes whose
	// X-Forwarded-For header identifies the client. Empty means the socket
	// peer is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// OpenAIConfig holds settings shared by every OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"` // optional; for gateways and compatible servers
}

// AssistantConfig selects and configures the streaming chat backend.
type AssistantConfig struct {
	Backend      string       `mapstructure:"backend"` // "openai" or "local"
	Model        string       `mapstructure:"model"`
	Temperature  float32      `mapstructure:"temperature"`
	Instructions string       `mapstructure:"instructions"` // extra text appended to every persona prompt
	OpenAI       OpenAIConfig `mapstructure:"openai"`
	Local        LocalConfig  `mapstructure:"local"`
}

// LocalConfig holds self-hosted model settings.
type LocalConfig struct {
	LLMEndpoint string `mapstructure:"llm_endpoint"` // Ollama /api/chat
	LLMModel    string `mapstructure:"llm_model"`    // Ollama model name (e.g., "llama3.2:1b")

	WhisperEndpoint string `mapstructure:"whisper_endpoint"`
	WhisperType     string `mapstructure:"whisper_type"` // "openai" (default) or "asr" (ahmetoner/whisper-asr-webservice)
	VADFilter       bool   `mapstructure:"vad_filter"`
}

// TranscriberConfig selects and configures speech-to-text.
type TranscriberConfig struct {
	Backend   string        `mapstructure:"backend"` // "openai" or "local"
	Model     string        `mapstructure:"model"`
	Language  string        `mapstructure:"language"` // ISO-639-1 default language (e.g., "en", "fr")
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	OpenAI    OpenAIConfig  `mapstructure:"openai"`
	Local     LocalConfig   `mapstructure:"local"`
}

// TTSConfig selects and configures the text-to-speech backend.
type TTSConfig struct {
	Enabled   bool        `mapstructure:"enabled"`
	Backend   string      `mapstructure:"backend"` // "openai" or "piper"
	QueueSize int         `mapstructure:"queue_size"`
	Language  string      `mapstructure:"language"`
	OpenAI    OpenAITTS   `mapstructure:"openai"`
	Piper     PiperConfig `mapstructure:"piper"`
}

// OpenAITTS holds OpenAI speech settings.
type OpenAITTS struct {
	OpenAIConfig `mapstructure:",squash"`
	Model        string `mapstructure:"model"`
	Voice        string `mapstructure:"voice"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// For a single Piper instance that serves all languages, set Endpoint.
// For per-language instances, set Endpoints which maps ISO-639-1 codes to
// individual Wyoming TCP endpoints. If both are set, Endpoints takes
// precedence and Endpoint is the fallback.
type PiperConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`  // Default Wyoming TCP endpoint (host:port)
	Endpoints map[string]string `mapstructure:"endpoints"` // ISO-639-1 language code -> Wyoming TCP endpoint
	Voices    map[string]string `mapstructure:"voices"`    // ISO-639-1 language code -> Piper voice model name
}

// VisionConfig configures the image profiling model.
type VisionConfig struct {
	Model  string       `mapstructure:"model"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// ModelingConfig configures the image-to-3D service.
type ModelingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PublicURL    string        `mapstructure:"public_url"` // base URL under which uploaded images are reachable
}

// StorageConfig locates on-disk state.
type StorageConfig struct {
	FriendsFile string `mapstructure:"friends_file"` // empty keeps friends in memory only
	AssetsDir   string `mapstructure:"assets_dir"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text, otel
}

// Loaded bundles the decoded configuration with the viper instance it came
// from so callers can watch the file for changes.
type Loaded struct {
	*Config
	v *viper.Viper
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./personifai.yaml, ./configs/personifai.yaml, /etc/personifai/personifai.yaml.
func Load(configFile string) (*Loaded, error) {
	v := viper.New()
	setDefaults(v)

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("personifai")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/personifai")
	}

	// Environment variables: PERSONIFAI_SERVER_HEALTH_PORT, PERSONIFAI_ASSISTANT_BACKEND, etc.
	v.SetEnvPrefix("PERSONIFAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional: env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loaded{Config: &cfg, v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8000)
	v.SetDefault("transports.http.rate_limit", 2.0)
	v.SetDefault("transports.http.rate_burst", 5)
	v.SetDefault("transports.http.max_upload_bytes", 25<<20)
	v.SetDefault("assistant.backend", "openai")
	v.SetDefault("assistant.model", "gpt-4o-mini")
	v.SetDefault("assistant.temperature", 0.8)
	v.SetDefault("assistant.openai.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("assistant.local.llm_endpoint", "http://localhost:11434/api/chat")
	v.SetDefault("assistant.local.llm_model", "llama3")
	v.SetDefault("transcriber.backend", "openai")
	v.SetDefault("transcriber.model", "whisper-1")
	v.SetDefault("transcriber.language", "en")
	v.SetDefault("transcriber.queue_size", 8)
	v.SetDefault("transcriber.timeout", 60*time.Second)
	v.SetDefault("transcriber.openai.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("transcriber.local.whisper_endpoint", "http://localhost:8000/v1/audio/transcriptions")
	v.SetDefault("transcriber.local.whisper_type", "openai")
	v.SetDefault("transcriber.local.vad_filter", false)
	v.SetDefault("tts.enabled", false)
	v.SetDefault("tts.backend", "openai")
	v.SetDefault("tts.queue_size", 16)
	v.SetDefault("tts.language", "en")
	v.SetDefault("tts.openai.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("tts.openai.model", "tts-1")
	v.SetDefault("tts.openai.voice", "alloy")
	v.SetDefault("tts.piper.endpoint", "localhost:10200")
	v.SetDefault("vision.model", "gpt-4o-mini")
	v.SetDefault("vision.openai.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("modeling.enabled", false)
	v.SetDefault("modeling.endpoint", "https://api.meshy.ai")
	v.SetDefault("modeling.api_key", "${MESHY_API_KEY}")
	v.SetDefault("modeling.poll_interval", 3*time.Second)
	v.SetDefault("modeling.timeout", 10*time.Minute)
	v.SetDefault("storage.friends_file", "")
	v.SetDefault("storage.assets_dir", "./public/models")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// resolveSecrets resolves "${VAR}" references in sensitive fields.
func (c *Config) resolveSecrets() {
	c.Assistant.OpenAI.APIKey = resolveEnvRef(c.Assistant.OpenAI.APIKey)
	c.Transcriber.OpenAI.APIKey = resolveEnvRef(c.Transcriber.OpenAI.APIKey)
	c.TTS.OpenAI.APIKey = resolveEnvRef(c.TTS.OpenAI.APIKey)
	c.Vision.OpenAI.APIKey = resolveEnvRef(c.Vision.OpenAI.APIKey)
	c.Modeling.APIKey = resolveEnvRef(c.Modeling.APIKey)
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Assistant.Backend {
	case "openai", "local":
	default:
		return fmt.Errorf("unknown assistant backend %q", c.Assistant.Backend)
	}
	switch c.Transcriber.Backend {
	case "openai", "local":
	default:
		return fmt.Errorf("unknown transcriber backend %q", c.Transcriber.Backend)
	}
	if c.TTS.Enabled {
		switch c.TTS.Backend {
		case "openai", "piper":
		default:
			return fmt.Errorf("unknown tts backend %q", c.TTS.Backend)
		}
	}
	if c.Transcriber.QueueSize <= 0 || c.TTS.QueueSize <= 0 {
		return fmt.Errorf("queue sizes must be positive")
	}
	for _, entry := range c.Transports.HTTP.TrustedProxies {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("invalid trusted proxy %q: not an address or CIDR prefix", entry)
		}
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
// An unset variable resolves to the empty string.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

// logLevel is shared by every handler SetupLogging installs so the level can
// be changed at runtime.
var logLevel = new(slog.LevelVar)

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	logLevel.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "otel":
		// Records go to the global LoggerProvider. Without an SDK provider
		// registered by the embedding process they are dropped.
		handler = levelHandler{level: logLevel, Handler: otelslog.NewHandler("github.com/personifai/personifai")}
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// levelHandler applies a minimum level to a handler that has no level option
// of its own.
type levelHandler struct {
	level slog.Leveler
	slog.Handler
}

func (h levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.Handler.Enabled(ctx, l)
}

func (h levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelHandler{level: h.level, Handler: h.Handler.WithAttrs(attrs)}
}

func (h levelHandler) WithGroup(name string) slog.Handler {
	return levelHandler{level: h.level, Handler: h.Handler.WithGroup(name)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WatchLogLevel re-applies logging.level whenever the config file changes.
// It is a no-op when no config file was loaded.
func (l *Loaded) WatchLogLevel() {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		level := parseLevel(l.v.GetString("logging.level"))
		logLevel.Set(level)
		slog.Info("config file changed, log level re-applied", "path", e.Name, "level", level.String())
	})
	l.v.WatchConfig()
}
