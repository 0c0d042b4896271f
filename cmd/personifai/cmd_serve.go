package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/personifai/personifai/docs"
	"github.com/personifai/personifai/internal/assistant"
	localassistant "github.com/personifai/personifai/internal/assistant/local"
	openaiassistant "github.com/personifai/personifai/internal/assistant/openai"
	"github.com/personifai/personifai/internal/chat"
	"github.com/personifai/personifai/internal/config"
	"github.com/personifai/personifai/internal/friend"
	"github.com/personifai/personifai/internal/health"
	"github.com/personifai/personifai/internal/modeling"
	"github.com/personifai/personifai/internal/transcriber"
	localstt "github.com/personifai/personifai/internal/transcriber/local"
	openaistt "github.com/personifai/personifai/internal/transcriber/openai"
	"github.com/personifai/personifai/internal/transport"
	grpctransport "github.com/personifai/personifai/internal/transport/grpc"
	httptransport "github.com/personifai/personifai/internal/transport/http"
	"github.com/personifai/personifai/internal/tts"
	openaitts "github.com/personifai/personifai/internal/tts/openai"
	"github.com/personifai/personifai/internal/tts/piper"
	"github.com/personifai/personifai/internal/vision"
)

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			config.SetupLogging(cfg.Logging)
			cfg.WatchLogLevel()

			// Create root context with signal handling for graceful shutdown.
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg.Config)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to config file (e.g. configs/personifai.yaml)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("personifai starting", "version", version)

	provider, err := newAssistant(cfg.Assistant)
	if err != nil {
		return err
	}
	defer provider.Close()

	store, err := friend.NewStore(cfg.Storage.FriendsFile)
	if err != nil {
		return err
	}
	slog.Info("friend registry loaded", "friends", len(store.List()), "path", cfg.Storage.FriendsFile)

	var profiler friend.Profiler
	if cfg.Vision.OpenAI.APIKey != "" || cfg.Vision.OpenAI.BaseURL != "" {
		profiler = vision.New(cfg.Vision)
	} else {
		slog.Warn("vision disabled: no API key, friends must be named on creation")
	}

	var (
		serviceOpts []friend.ServiceOption
		modeler     httptransport.Modeler
	)
	if cfg.Modeling.Enabled {
		client := modeling.New(cfg.Modeling)
		modeler = client
		if cfg.Modeling.PublicURL != "" {
			serviceOpts = append(serviceOpts, friend.WithModeler(client, cfg.Modeling.PublicURL))
		}
		slog.Info("3d generation enabled", "endpoint", cfg.Modeling.Endpoint,
			"background", cfg.Modeling.PublicURL != "")
	}
	friends := friend.NewService(store, provider, profiler, cfg.Storage.AssetsDir, serviceOpts...)
	defer friends.Close()

	hub := httptransport.NewHub()
	engineOpts := []chat.Option{chat.WithListener(hub)}

	stt := transcriber.NewWorker(newTranscriber(cfg.Transcriber), cfg.Transcriber.QueueSize, cfg.Transcriber.Language)
	defer stt.Close()
	engineOpts = append(engineOpts, chat.WithTranscriber(stt, cfg.Transcriber.Timeout))

	// Utterances are relayed to the friend's SSE stream until the worker stops.
	var (
		speech    *tts.Worker
		drainDone = make(chan struct{})
	)
	if cfg.TTS.Enabled {
		speech = tts.NewWorker(newSynthesizer(cfg.TTS), cfg.TTS.QueueSize, cfg.TTS.Language)
		engineOpts = append(engineOpts, chat.WithSpeech(speech))
		go func() {
			defer close(drainDone)
			for u := range speech.Results() {
				hub.PublishUtterance(u)
			}
		}()
		slog.Info("speech output enabled", "backend", cfg.TTS.Backend)
	} else {
		close(drainDone)
	}

	engine := chat.New(friends, provider, engineOpts...)

	var transports []transport.Transport
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP, httptransport.Deps{
			Friends:   friends,
			Chat:      engine,
			Modeler:   modeler,
			Events:    hub,
			AssetsDir: cfg.Storage.AssetsDir,
			Version:   version,
		}))
	}
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port))
	}
	if len(transports) == 0 {
		return fmt.Errorf("no transports enabled, enable at least one in config")
	}

	g, gctx := errgroup.WithContext(ctx)

	healthServer := health.New(cfg.Server.HealthPort, version)
	g.Go(func() error { return healthServer.ListenAndServe(gctx) })

	for _, t := range transports {
		g.Go(func() error {
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(gctx); err != nil {
				return fmt.Errorf("%s transport: %w", t.Name(), err)
			}
			return nil
		})
	}

	// Mark as ready once all transports are started.
	for _, t := range transports {
		t.SetReady(true)
	}
	healthServer.SetReady(true)
	slog.Info("personifai ready",
		"transports", len(transports),
		"assistant", provider.Name(),
		"health_port", cfg.Server.HealthPort)

	<-gctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)
	for _, t := range transports {
		t.SetReady(false)
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	err = g.Wait()
	if speech != nil {
		if cerr := speech.Stop(); cerr != nil {
			slog.Error("speech worker close error", "error", cerr)
		}
	}
	<-drainDone

	if err != nil {
		return err
	}
	slog.Info("personifai stopped")
	return nil
}

func newAssistant(cfg config.AssistantConfig) (assistant.Provider, error) {
	switch cfg.Backend {
	case "openai":
		slog.Info("using OpenAI assistant", "model", cfg.Model, "base_url", cfg.OpenAI.BaseURL)
		return openaiassistant.New(cfg), nil
	case "local":
		slog.Info("using local assistant", "llm", cfg.Local.LLMEndpoint, "model", cfg.Local.LLMModel)
		return localassistant.New(cfg), nil
	default:
		return nil, fmt.Errorf("unknown assistant backend %q", cfg.Backend)
	}
}

func newTranscriber(cfg config.TranscriberConfig) transcriber.Transcriber {
	if cfg.Backend == "local" {
		slog.Info("using local transcriber", "whisper", cfg.Local.WhisperEndpoint, "type", cfg.Local.WhisperType)
		return localstt.New(cfg)
	}
	slog.Info("using OpenAI transcriber", "model", cfg.Model)
	return openaistt.New(cfg)
}

func newSynthesizer(cfg config.TTSConfig) tts.Synthesizer {
	if cfg.Backend == "piper" {
		return piper.New(cfg.Piper)
	}
	return openaitts.New(cfg.OpenAI)
}
