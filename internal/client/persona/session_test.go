package persona

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/spectra-communicator/internal/client/api"
	"github.com/zhouzirui/spectra-communicator/internal/client/prefs"
	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

// fakeAPI is an in-memory stand-in for the persona endpoints.
type fakeAPI struct {
	mu       sync.Mutex
	order    []string
	options  map[string]speech.Options
	current  string
	failSet  bool
	failList bool
	saves    []speech.Options
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		order: []string{"spectra", "echo"},
		options: map[string]speech.Options{
			"spectra": {speech.KeySpeed: 1.0, speech.KeyPitch: 0.0, speech.KeySpeaker: "3", "volume": 0.8},
			"echo":    {speech.KeySpeed: 1.2, speech.KeySpeaker: "8"},
		},
		current: "spectra",
	}
}

func (f *fakeAPI) descriptor(name string) api.Descriptor {
	return api.Descriptor{Name: name, AvatarName: name + "-avatar", VsayOptions: f.options[name].Clone()}
}

func (f *fakeAPI) Personas(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errors.New("list down")
	}
	return append([]string(nil), f.order...), nil
}

func (f *fakeAPI) CurrentPersona(context.Context) (api.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.descriptor(f.current), nil
}

func (f *fakeAPI) SetCurrentPersona(_ context.Context, name string) (api.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return api.Descriptor{}, errors.New("switch down")
	}
	if _, ok := f.options[name]; !ok {
		return api.Descriptor{}, &api.StatusError{Code: 404}
	}
	f.current = name
	return f.descriptor(name), nil
}

func (f *fakeAPI) SavePersonaSettings(_ context.Context, name string, opts speech.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options[name] = opts.Clone()
	f.saves = append(f.saves, opts.Clone())
	return nil
}

func (f *fakeAPI) stored(name string) speech.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options[name].Clone()
}

func newSession(t *testing.T, fake *fakeAPI) (*Session, *prefs.Store) {
	store := prefs.NewStore(prefs.NewMemoryKV())
	_, err := store.Load(context.Background())
	require.NoError(t, err)
	return NewSession(fake, store, zaptest.NewLogger(t)), store
}

func TestInitializeAdoptsRememberedPersona(t *testing.T) {
	fake := newFakeAPI()
	s, store := newSession(t, fake)
	require.NoError(t, store.SetLastPersona(context.Background(), "echo"))
	require.Equal(t, Uninitialized, s.State())

	require.NoError(t, s.Initialize(context.Background()))
	require.Equal(t, Active, s.State())
	require.Equal(t, "echo", s.ActiveName())
	require.Equal(t, "echo", fake.current)
}

func TestInitializeWithoutMemoryUsesServerCurrent(t *testing.T) {
	s, _ := newSession(t, newFakeAPI())
	require.NoError(t, s.Initialize(context.Background()))
	require.Equal(t, "spectra", s.ActiveName())
}

func TestInitializeFailureStaysUninitialized(t *testing.T) {
	fake := newFakeAPI()
	fake.failSet = true
	s, store := newSession(t, fake)
	require.NoError(t, store.SetLastPersona(context.Background(), "echo"))

	require.Error(t, s.Initialize(context.Background()))
	require.Equal(t, Uninitialized, s.State())
	_, ok := s.Active()
	require.False(t, ok)
}

func TestSwitchToRefreshesObserversAndRemembersName(t *testing.T) {
	fake := newFakeAPI()
	s, store := newSession(t, fake)
	require.NoError(t, s.Initialize(context.Background()))

	var seen []string
	s.OnChange(func(d api.Descriptor) { seen = append(seen, d.Name) })

	require.NoError(t, s.SwitchTo(context.Background(), "echo"))
	require.Equal(t, []string{"echo"}, seen)
	require.Equal(t, "echo", store.Get().LastPersona)
	active, _ := s.Active()
	speed, _ := active.VsayOptions.Float(speech.KeySpeed)
	require.Equal(t, 1.2, speed)
}

func TestSwitchFailureKeepsActiveButNotRollbackMemory(t *testing.T) {
	fake := newFakeAPI()
	s, store := newSession(t, fake)
	require.NoError(t, s.Initialize(context.Background()))

	err := s.SwitchTo(context.Background(), "ghost")
	require.Error(t, err)
	require.Equal(t, Active, s.State())
	require.Equal(t, "spectra", s.ActiveName())
	require.Equal(t, "ghost", store.Get().LastPersona)
}

func TestUpdateVoiceOptionRequiresActive(t *testing.T) {
	fake := newFakeAPI()
	s, _ := newSession(t, fake)
	require.ErrorIs(t, s.UpdateVoiceOption(context.Background(), speech.KeyPitch, 5), ErrNotActive)
	require.Empty(t, fake.saves)
}

func TestBackToBackUpdatesAreMerged(t *testing.T) {
	fake := newFakeAPI()
	s, _ := newSession(t, fake)
	require.NoError(t, s.Initialize(context.Background()))
	ctx := context.Background()

	require.NoError(t, s.UpdateVoiceOption(ctx, speech.KeyPitch, 5))
	require.NoError(t, s.UpdateVoiceOption(ctx, speech.KeySpeed, 2))

	got := fake.stored("spectra")
	pitch, _ := got.Float(speech.KeyPitch)
	speed, _ := got.Float(speech.KeySpeed)
	require.Equal(t, 5.0, pitch)
	require.Equal(t, 2.0, speed)
	require.Equal(t, "3", got.String(speech.KeySpeaker))
	require.Equal(t, 0.8, got["volume"])
}

func TestConcurrentUpdatesAreMerged(t *testing.T) {
	fake := newFakeAPI()
	s, _ := newSession(t, fake)
	require.NoError(t, s.Initialize(context.Background()))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = s.UpdateVoiceOption(ctx, speech.KeyPitch, 5) }()
	go func() { defer wg.Done(); _ = s.UpdateVoiceOption(ctx, speech.KeySpeed, 2) }()
	wg.Wait()

	got := fake.stored("spectra")
	pitch, _ := got.Float(speech.KeyPitch)
	speed, _ := got.Float(speech.KeySpeed)
	require.Equal(t, 5.0, pitch)
	require.Equal(t, 2.0, speed)
}

func TestUpdateVoiceOptionClampsAndKeepsServerKeys(t *testing.T) {
	fake := newFakeAPI()
	s, _ := newSession(t, fake)
	require.NoError(t, s.Initialize(context.Background()))

	// another client added a key the session never loaded
	fake.mu.Lock()
	fake.options["spectra"]["remote"] = "yes"
	fake.mu.Unlock()

	require.NoError(t, s.UpdateVoiceOption(context.Background(), speech.KeySpeed, 99))
	got := fake.stored("spectra")
	speed, _ := got.Float(speech.KeySpeed)
	require.Equal(t, 4.0, speed)
	require.Equal(t, "yes", got["remote"])

	active, _ := s.Active()
	require.Equal(t, "yes", active.VsayOptions["remote"])
}

func TestListAvailable(t *testing.T) {
	fake := newFakeAPI()
	s, _ := newSession(t, fake)

	listing, err := s.ListAvailable(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"spectra", "echo"}, listing.Names)
	require.Equal(t, "spectra", listing.Current.Name)

	fake.failList = true
	_, err = s.ListAvailable(context.Background())
	require.Error(t, err)
}
