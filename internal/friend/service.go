package friend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/personifai/personifai/internal/assistant"
	"github.com/personifai/personifai/internal/vision"
)

// Profiler infers a persona from a photo.
type Profiler interface {
	Profile(ctx context.Context, image []byte, contentType string) (*vision.Profile, error)
}

// Modeler converts a public image URL into a 3D model URL.
type Modeler interface {
	Generate(ctx context.Context, imageURL string) (string, error)
}

// CreateRequest describes a new friend.
type CreateRequest struct {
	// ID is the client-chosen identifier (the original image ID); generated when empty.
	ID string

	// Name overrides the vision-derived name.
	Name string

	Personality string

	Image       []byte
	ContentType string
}

// Service creates friends and keeps their assistants provisioned.
type Service struct {
	store     *Store
	assistant assistant.Provider
	profiler  Profiler
	modeler   Modeler
	assetsDir string
	publicURL string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithModeler enables background 3D model generation. publicURL is the base
// URL under which files in the assets dir are reachable by the modeler.
func WithModeler(m Modeler, publicURL string) ServiceOption {
	return func(s *Service) {
		s.modeler = m
		s.publicURL = strings.TrimRight(publicURL, "/")
	}
}

// NewService wires a Service. profiler may be nil, in which case a name is required.
func NewService(store *Store, provider assistant.Provider, profiler Profiler, assetsDir string, opts ...ServiceOption) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:     store,
		assistant: provider,
		profiler:  profiler,
		assetsDir: assetsDir,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store returns the underlying registry.
func (s *Service) Store() *Store { return s.store }

// Create saves the image, profiles it, provisions an assistant and thread,
// and registers the friend. The ID is reserved for the whole call, so a
// concurrent Create with the same ID fails with ErrExists before touching
// the image file. On failure the saved image is removed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Friend, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: image is required", ErrInvalid)
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.store.Reserve(id); err != nil {
		return nil, err
	}
	defer s.store.Release(id)
	log := slog.With("friend_id", id)

	imagePath, err := s.saveImage(id, req.Image, req.ContentType)
	if err != nil {
		return nil, err
	}
	f, err := s.register(ctx, id, imagePath, req)
	if err != nil {
		if imagePath != "" {
			if rerr := os.Remove(imagePath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				log.Warn("removing image of failed friend", "path", imagePath, "error", rerr)
			}
		}
		return nil, err
	}
	log.Info("friend created", "name", f.Name, "assistant_id", f.AssistantID)

	if f.ModelStatus == ModelPending {
		s.generateModel(f.ID, s.publicURL+"/"+filepath.Base(imagePath))
	}
	return f, nil
}

// register profiles the image, provisions the assistant and stores the friend.
func (s *Service) register(ctx context.Context, id, imagePath string, req CreateRequest) (*Friend, error) {
	log := slog.With("friend_id", id)

	var profile vision.Profile
	if s.profiler != nil {
		p, err := s.profiler.Profile(ctx, req.Image, req.ContentType)
		switch {
		case err == nil:
			profile = *p
		case req.Name != "":
			log.Warn("image profiling failed, continuing with given name", "error", err)
		default:
			return nil, fmt.Errorf("profiling image: %w", err)
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = profile.Name
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required when the image cannot be profiled", ErrInvalid)
	}

	f := Friend{
		ID:          id,
		Name:        name,
		ObjectName:  profile.Name,
		Personality: strings.TrimSpace(req.Personality),
		Description: profile.Description,
		ImagePath:   imagePath,
	}
	if err := s.provision(ctx, &f); err != nil {
		return nil, err
	}
	if s.modeler != nil && s.publicURL != "" {
		f.ModelStatus = ModelPending
	}

	return s.store.Create(f)
}

// Reprovision creates a fresh assistant and thread for an existing friend,
// e.g. after the assistant backend lost its state.
func (s *Service) Reprovision(ctx context.Context, id string) (*Friend, error) {
	f, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.provision(ctx, f); err != nil {
		return nil, err
	}
	slog.Info("friend re-provisioned", "friend_id", id, "thread_id", f.ThreadID)
	return s.store.Update(id, func(stored *Friend) {
		stored.AssistantID = f.AssistantID
		stored.ThreadID = f.ThreadID
	})
}

func (s *Service) provision(ctx context.Context, f *Friend) error {
	a, err := s.assistant.CreateAssistant(ctx, assistant.Spec{
		Name:         f.Name,
		Instructions: assistant.Instructions(f.Name, f.Personality, f.Description, ""),
	})
	if err != nil {
		return fmt.Errorf("creating assistant: %w", err)
	}
	th, err := s.assistant.CreateThread(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("creating thread: %w", err)
	}
	f.AssistantID = a.ID
	f.ThreadID = th.ID
	return nil
}

func (s *Service) saveImage(id string, image []byte, contentType string) (string, error) {
	if s.assetsDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(s.assetsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating assets dir: %w", err)
	}
	path := filepath.Join(s.assetsDir, filepath.Base(id)+imageExt(contentType))
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}
	return path, nil
}

func imageExt(contentType string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

// generateModel runs 3D generation in the background and records the outcome.
func (s *Service) generateModel(id, imageURL string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log := slog.With("friend_id", id)

		glb, err := s.modeler.Generate(s.ctx, imageURL)
		status := ModelReady
		if err != nil {
			status = ModelFailed
			if errors.Is(err, context.Canceled) {
				log.Info("model generation cancelled")
			} else {
				log.Error("model generation failed", "error", err)
			}
		}
		if _, err := s.store.Update(id, func(f *Friend) {
			f.ModelStatus = status
			f.ModelURL = glb
		}); err != nil {
			log.Error("recording model outcome", "error", err)
		}
	}()
}

// Close cancels background model generation and waits for it to stop.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}
