package settings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/spectra-communicator/internal/client/api"
	"github.com/zhouzirui/spectra-communicator/internal/client/persona"
	"github.com/zhouzirui/spectra-communicator/internal/client/prefs"
	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

type fakeServer struct {
	mu       sync.Mutex
	current  string
	options  map[string]speech.Options
	legacy   speech.Options
	failList bool
	failSave bool
	calls    int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		current: "spectra",
		options: map[string]speech.Options{
			"spectra": {speech.KeySpeed: 1.0, speech.KeyPitch: 0.0},
			"echo":    {speech.KeySpeed: 1.3, speech.KeyPitch: 4.0},
		},
		legacy: speech.Options{speech.KeySpeed: 1.0},
	}
}

func (f *fakeServer) Personas(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failList {
		return nil, errors.New("offline")
	}
	return []string{"spectra", "echo"}, nil
}

func (f *fakeServer) CurrentPersona(context.Context) (api.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return api.Descriptor{Name: f.current, VsayOptions: f.options[f.current].Clone()}, nil
}

func (f *fakeServer) SetCurrentPersona(_ context.Context, name string) (api.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := f.options[name]; !ok {
		return api.Descriptor{}, &api.StatusError{Code: 404}
	}
	f.current = name
	return api.Descriptor{Name: name, VsayOptions: f.options[name].Clone()}, nil
}

func (f *fakeServer) SavePersonaSettings(_ context.Context, name string, opts speech.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failSave {
		return errors.New("disk full")
	}
	f.options[name] = opts.Clone()
	return nil
}

func (f *fakeServer) Settings(context.Context) (speech.Options, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.legacy.Clone(), nil
}

func (f *fakeServer) SaveSettings(_ context.Context, opts speech.Options) (speech.Options, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failSave {
		return nil, errors.New("disk full")
	}
	f.legacy = opts.Clamped()
	return f.legacy.Clone(), nil
}

func (f *fakeServer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func setup(t *testing.T, activate bool) (*Controller, *fakeServer, *prefs.Store) {
	t.Helper()
	ctx := context.Background()
	server := newFakeServer()
	store := prefs.NewStore(prefs.NewMemoryKV())
	_, err := store.Load(ctx)
	require.NoError(t, err)

	session := persona.NewSession(server, store, zaptest.NewLogger(t))
	if activate {
		require.NoError(t, session.Initialize(ctx))
	}
	return NewController(session, store, server, zaptest.NewLogger(t)), server, store
}

func TestOpenLoadsBeforeShowing(t *testing.T) {
	c, _, _ := setup(t, true)
	require.False(t, c.Snapshot().Visible)

	require.NoError(t, c.Open(context.Background()))
	panel := c.Snapshot()
	require.True(t, panel.Visible)
	require.Equal(t, []string{"spectra", "echo"}, panel.Personas)
	require.Equal(t, "spectra", panel.Current)
	require.True(t, panel.Typewriter)
	require.False(t, panel.Legacy)

	c.Close()
	require.False(t, c.Snapshot().Visible)
	require.Equal(t, "spectra", c.Snapshot().Current)
}

func TestOpenFailureKeepsPanelHidden(t *testing.T) {
	c, server, _ := setup(t, true)
	server.failList = true

	require.Error(t, c.Open(context.Background()))
	require.False(t, c.Snapshot().Visible)
}

func TestOpenUsesLegacySettingsWithoutActivePersona(t *testing.T) {
	c, _, _ := setup(t, false)

	require.NoError(t, c.Open(context.Background()))
	panel := c.Snapshot()
	require.True(t, panel.Visible)
	require.True(t, panel.Legacy)
	require.Empty(t, panel.Personas)

	require.NoError(t, c.Input(speech.KeySpeed, "2.5"))
	require.NoError(t, c.Commit(context.Background(), speech.KeySpeed))
	speed, _ := c.Snapshot().Values.Float(speech.KeySpeed)
	require.Equal(t, 2.5, speed)
}

func TestInputOnlyTouchesReadout(t *testing.T) {
	c, server, _ := setup(t, true)
	require.NoError(t, c.Open(context.Background()))
	before := server.callCount()

	for _, v := range []string{"1.1", "1.4", "1.8"} {
		require.NoError(t, c.Input(speech.KeySpeed, v))
	}
	require.Equal(t, before, server.callCount())
	speed, _ := c.Snapshot().Values.Float(speech.KeySpeed)
	require.Equal(t, 1.8, speed)

	require.NoError(t, c.Commit(context.Background(), speech.KeySpeed))
	require.Greater(t, server.callCount(), before)
	saved, _ := server.options["spectra"].Float(speech.KeySpeed)
	require.Equal(t, 1.8, saved)
}

func TestInputRejectsNonNumericSlider(t *testing.T) {
	c, _, _ := setup(t, true)
	require.Error(t, c.Input(speech.KeyPitch, "high"))
}

func TestSelectPersonaOverwritesUnsavedEdits(t *testing.T) {
	c, _, store := setup(t, true)
	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Input(speech.KeyPitch, 9))

	require.NoError(t, c.SelectPersona(context.Background(), "echo"))
	panel := c.Snapshot()
	require.Equal(t, "echo", panel.Current)
	pitch, _ := panel.Values.Float(speech.KeyPitch)
	require.Equal(t, 4.0, pitch)
	require.Equal(t, "echo", store.Get().LastPersona)
}

func TestSelectUnknownPersonaKeepsValues(t *testing.T) {
	c, _, _ := setup(t, true)
	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Input(speech.KeyPitch, 3))

	require.Error(t, c.SelectPersona(context.Background(), "ghost"))
	panel := c.Snapshot()
	require.Equal(t, "spectra", panel.Current)
	pitch, _ := panel.Values.Float(speech.KeyPitch)
	require.Equal(t, 3.0, pitch)
}

func TestTogglesWriteThrough(t *testing.T) {
	c, _, store := setup(t, true)
	ctx := context.Background()

	require.NoError(t, c.SetTypewriter(ctx, false))
	require.NoError(t, c.SetVoice(ctx, false))
	require.False(t, store.Get().TypewriterEnabled)
	require.False(t, store.Get().VoiceEnabled)
	require.False(t, c.Snapshot().Voice)
}

func TestFailedCommitRestoresSavedValue(t *testing.T) {
	c, server, _ := setup(t, true)
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))

	require.NoError(t, c.Input(speech.KeySpeed, 1.5))
	require.NoError(t, c.Commit(ctx, speech.KeySpeed))

	server.mu.Lock()
	server.failSave = true
	server.mu.Unlock()

	require.NoError(t, c.Input(speech.KeySpeed, 2.5))
	require.Error(t, c.Commit(ctx, speech.KeySpeed))

	speed, _ := c.Snapshot().Values.Float(speech.KeySpeed)
	require.Equal(t, 1.5, speed)
	saved, _ := server.options["spectra"].Float(speech.KeySpeed)
	require.Equal(t, 1.5, saved)
}

func TestFailedLegacyCommitRestoresSavedValue(t *testing.T) {
	c, server, _ := setup(t, false)
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))
	server.failSave = true

	require.NoError(t, c.Input(speech.KeySpeed, 3))
	require.Error(t, c.Commit(ctx, speech.KeySpeed))

	speed, _ := c.Snapshot().Values.Float(speech.KeySpeed)
	require.Equal(t, 1.0, speed)
}
