// Package friend keeps the registry of personified objects and provisions
// their assistants.
package friend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned for an unknown friend ID.
	ErrNotFound = errors.New("friend not found")

	// ErrExists is returned when creating a friend with a taken ID.
	ErrExists = errors.New("friend already exists")

	// ErrInvalid is returned for a create request missing required input.
	ErrInvalid = errors.New("invalid friend")
)

// Model generation states.
const (
	ModelNone    = ""
	ModelPending = "pending"
	ModelReady   = "ready"
	ModelFailed  = "failed"
)

// Friend is a personified object with its own assistant and conversation.
type Friend struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	ObjectName  string    `json:"object_name,omitempty" yaml:"object_name,omitempty"`
	Personality string    `json:"personality,omitempty" yaml:"personality,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	AssistantID string    `json:"assistant_id" yaml:"assistant_id"`
	ThreadID    string    `json:"thread_id" yaml:"thread_id"`
	ImagePath   string    `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	ModelURL    string    `json:"model_url,omitempty" yaml:"model_url,omitempty"`
	ModelStatus string    `json:"model_status,omitempty" yaml:"model_status,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// View is the public projection of a Friend returned by the API.
type View struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ObjectName  string    `json:"object_name,omitempty"`
	Personality string    `json:"personality,omitempty"`
	Description string    `json:"description,omitempty"`
	ModelURL    string    `json:"model_url,omitempty"`
	ModelStatus string    `json:"model_status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToView projects f onto its public fields.
func (f *Friend) ToView() View {
	var v View
	_ = copier.Copy(&v, f)
	return v
}

// Store is a concurrency-safe friend registry, optionally backed by a YAML file.
type Store struct {
	mu       sync.RWMutex
	friends  map[string]*Friend
	reserved map[string]struct{}
	path     string
}

type fileFormat struct {
	Friends []*Friend `yaml:"friends"`
}

// NewStore opens a store. An empty path keeps friends in memory only; an
// existing file is loaded.
func NewStore(path string) (*Store, error) {
	s := &Store{friends: make(map[string]*Friend), reserved: make(map[string]struct{}), path: path}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading friends file: %w", err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing friends file: %w", err)
	}
	for _, f := range ff.Friends {
		if f.ID == "" {
			continue
		}
		s.friends[f.ID] = f
	}
	return s, nil
}

// Reserve claims id for a friend that is still being set up. It fails with
// ErrExists when id is stored or already reserved. The claim ends with a
// successful Create or with Release.
func (s *Store) Reserve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.friends[id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	if _, ok := s.reserved[id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	s.reserved[id] = struct{}{}
	return nil
}

// Release drops a reservation. Releasing after Create is a no-op.
func (s *Store) Release(id string) {
	s.mu.Lock()
	delete(s.reserved, id)
	s.mu.Unlock()
}

// Create adds f, assigning an ID and creation time when unset. The stored
// copy is returned.
func (s *Store) Create(f Friend) (*Friend, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.friends[f.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, f.ID)
	}
	stored := f
	s.friends[f.ID] = &stored
	if err := s.persistLocked(); err != nil {
		delete(s.friends, f.ID)
		return nil, err
	}
	delete(s.reserved, f.ID)
	return clone(&stored), nil
}

// Get returns a copy of the friend with id.
func (s *Store) Get(id string) (*Friend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.friends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(f), nil
}

// List returns copies of all friends, oldest first.
func (s *Store) List() []*Friend {
	s.mu.RLock()
	out := make([]*Friend, 0, len(s.friends))
	for _, f := range s.friends {
		out = append(out, clone(f))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update applies fn to the stored friend under the store lock and persists
// the result.
func (s *Store) Update(id string, fn func(f *Friend)) (*Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.friends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := *f
	fn(f)
	f.ID = id
	if err := s.persistLocked(); err != nil {
		*f = prev
		return nil, err
	}
	return clone(f), nil
}

// persistLocked writes the registry atomically. Caller holds s.mu.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	ff := fileFormat{Friends: make([]*Friend, 0, len(s.friends))}
	for _, f := range s.friends {
		ff.Friends = append(ff.Friends, f)
	}
	sort.Slice(ff.Friends, func(i, j int) bool { return ff.Friends[i].ID < ff.Friends[j].ID })

	data, err := yaml.Marshal(&ff)
	if err != nil {
		return fmt.Errorf("encoding friends: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating friends dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing friends file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing friends file: %w", err)
	}
	return nil
}

func clone(f *Friend) *Friend {
	c := *f
	return &c
}
