package friend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personifai/personifai/internal/assistant/assistanttest"
	"github.com/personifai/personifai/internal/vision"
)

func TestStorePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "friends.yaml")
	s, err := NewStore(path)
	require.NoError(t, err)

	a, err := s.Create(Friend{Name: "Mugsy", CreatedAt: time.Unix(100, 0).UTC()})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	_, err = s.Create(Friend{ID: "lamp", Name: "Lumi", CreatedAt: time.Unix(50, 0).UTC()})
	require.NoError(t, err)

	_, err = s.Create(Friend{ID: "lamp"})
	assert.ErrorIs(t, err, ErrExists)

	_, err = s.Update("lamp", func(f *Friend) { f.ModelStatus = ModelReady; f.ID = "hijack" })
	require.NoError(t, err)

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	list := reloaded.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Lumi", list[0].Name, "oldest first")
	assert.Equal(t, ModelReady, list[0].ModelStatus)
	assert.Equal(t, "lamp", list[0].ID)
	assert.Equal(t, "Mugsy", list[1].Name)
}

func TestStoreReturnsCopies(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	f, err := s.Create(Friend{ID: "x", Name: "X"})
	require.NoError(t, err)
	f.Name = "mutated"

	got, err := s.Get("x")
	require.NoError(t, err)
	assert.Equal(t, "X", got.Name)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update("nope", func(*Friend) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "friends.yaml")
	require.NoError(t, os.WriteFile(path, []byte("friends: [::"), 0o644))
	_, err := NewStore(path)
	assert.Error(t, err)
}

func TestToView(t *testing.T) {
	f := Friend{ID: "a", Name: "Mugsy", ThreadID: "thread_1", ModelURL: "m.glb"}
	v := f.ToView()
	assert.Equal(t, "a", v.ID)
	assert.Equal(t, "Mugsy", v.Name)
	assert.Equal(t, "m.glb", v.ModelURL)
}

type fakeProfiler struct {
	profile *vision.Profile
	err     error
}

func (p fakeProfiler) Profile(context.Context, []byte, string) (*vision.Profile, error) {
	return p.profile, p.err
}

type fakeModeler struct {
	url  chan string
	glb  string
	err  error
	done chan struct{}
}

func (m *fakeModeler) Generate(ctx context.Context, imageURL string) (string, error) {
	m.url <- imageURL
	<-m.done
	return m.glb, m.err
}

func TestServiceCreate(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)
	provider := assistanttest.New()
	modeler := &fakeModeler{url: make(chan string, 1), glb: "https://cdn/m.glb", done: make(chan struct{})}
	dir := t.TempDir()

	svc := NewService(store, provider,
		fakeProfiler{profile: &vision.Profile{Name: "Mug", Description: "You are a blue mug."}},
		dir, WithModeler(modeler, "https://pub.example/models/"))
	defer svc.Close()

	f, err := svc.Create(context.Background(), CreateRequest{
		ID: "img42", Personality: "grumpy", Image: []byte("png"), ContentType: "image/png",
	})
	require.NoError(t, err)

	assert.Equal(t, "Mug", f.Name)
	assert.Equal(t, "You are a blue mug.", f.Description)
	assert.Equal(t, filepath.Join(dir, "img42.png"), f.ImagePath)
	assert.Equal(t, ModelPending, f.ModelStatus)
	assert.FileExists(t, f.ImagePath)

	instructions, _, err := provider.History(f.ThreadID)
	require.NoError(t, err)
	assert.Contains(t, instructions, "Your name is Mug.")
	assert.Contains(t, instructions, "grumpy")
	assert.Contains(t, instructions, "[[JUMP]]")

	assert.Equal(t, "https://pub.example/models/img42.png", <-modeler.url)
	close(modeler.done)
	require.Eventually(t, func() bool {
		got, _ := store.Get("img42")
		return got.ModelStatus == ModelReady
	}, time.Second, 5*time.Millisecond)
	got, _ := store.Get("img42")
	assert.Equal(t, "https://cdn/m.glb", got.ModelURL)

	_, err = svc.Create(context.Background(), CreateRequest{ID: "img42", Image: []byte("x")})
	assert.ErrorIs(t, err, ErrExists)
}

func TestServiceCreateNameFallback(t *testing.T) {
	store, _ := NewStore("")
	failing := fakeProfiler{err: errors.New("vision down")}
	svc := NewService(store, assistanttest.New(), failing, "")
	defer svc.Close()

	f, err := svc.Create(context.Background(), CreateRequest{Name: "Rocky", Image: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "Rocky", f.Name)
	assert.Empty(t, f.ModelStatus)

	_, err = svc.Create(context.Background(), CreateRequest{Image: []byte("x")})
	assert.Error(t, err)

	_, err = svc.Create(context.Background(), CreateRequest{Name: "Empty"})
	assert.Error(t, err)
}

func TestServiceReprovision(t *testing.T) {
	store, _ := NewStore("")
	svc := NewService(store, assistanttest.New(), nil, "")
	defer svc.Close()

	f, err := svc.Create(context.Background(), CreateRequest{Name: "Rocky", Image: []byte("x")})
	require.NoError(t, err)

	again, err := svc.Reprovision(context.Background(), f.ID)
	require.NoError(t, err)
	assert.NotEqual(t, f.ThreadID, again.ThreadID)
	assert.NotEqual(t, f.AssistantID, again.AssistantID)

	_, err = svc.Reprovision(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// gatedProfiler blocks inside Profile until release is closed.
type gatedProfiler struct {
	entered chan struct{}
	release chan struct{}
}

func (p gatedProfiler) Profile(ctx context.Context, _ []byte, _ string) (*vision.Profile, error) {
	p.entered <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &vision.Profile{Name: "Lamp"}, nil
}

func TestServiceCreateSameIDConcurrently(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)
	gate := gatedProfiler{entered: make(chan struct{}, 1), release: make(chan struct{})}
	dir := t.TempDir()
	svc := NewService(store, assistanttest.New(), gate, dir)
	defer svc.Close()

	type outcome struct {
		f   *Friend
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		f, err := svc.Create(context.Background(), CreateRequest{ID: "lamp", Image: []byte("IMAGE-A"), ContentType: "image/png"})
		first <- outcome{f, err}
	}()
	<-gate.entered

	_, err = svc.Create(context.Background(), CreateRequest{ID: "lamp", Image: []byte("IMAGE-B"), ContentType: "image/png"})
	assert.ErrorIs(t, err, ErrExists)

	close(gate.release)
	res := <-first
	require.NoError(t, res.err)

	data, err := os.ReadFile(res.f.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, "IMAGE-A", string(data))
	assert.Len(t, store.List(), 1)
}

func TestServiceCreateFailureRemovesImageAndReleasesID(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)
	dir := t.TempDir()
	failing := NewService(store, assistanttest.New(), fakeProfiler{err: errors.New("vision down")}, dir)
	defer failing.Close()

	_, err = failing.Create(context.Background(), CreateRequest{ID: "rock", Image: []byte("x"), ContentType: "image/png"})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "rock.png"))

	svc := NewService(store, assistanttest.New(), nil, dir)
	defer svc.Close()
	f, err := svc.Create(context.Background(), CreateRequest{ID: "rock", Name: "Rocky", Image: []byte("y"), ContentType: "image/png"})
	require.NoError(t, err)
	assert.FileExists(t, f.ImagePath)
}

func TestStoreReserve(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)

	require.NoError(t, s.Reserve("a"))
	assert.ErrorIs(t, s.Reserve("a"), ErrExists)
	_, err = s.Get("a")
	assert.ErrorIs(t, err, ErrNotFound, "reservations are not friends")

	s.Release("a")
	require.NoError(t, s.Reserve("a"))
	_, err = s.Create(Friend{ID: "a", Name: "A"})
	require.NoError(t, err)
	s.Release("a")
	assert.ErrorIs(t, s.Reserve("a"), ErrExists)
}
