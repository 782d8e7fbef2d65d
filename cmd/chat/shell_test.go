package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/spectra-communicator/internal/client/api"
	"github.com/zhouzirui/spectra-communicator/internal/client/prefs"
	"github.com/zhouzirui/spectra-communicator/internal/client/session"
	chathandler "github.com/zhouzirui/spectra-communicator/internal/handler/chat"
	personahandler "github.com/zhouzirui/spectra-communicator/internal/handler/persona"
	"github.com/zhouzirui/spectra-communicator/internal/model/chat"
	personamodel "github.com/zhouzirui/spectra-communicator/internal/model/persona"
	chatservice "github.com/zhouzirui/spectra-communicator/internal/service/chat"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type echoResponder struct{}

func (echoResponder) GenerateResponse(_ context.Context, _ string, p *personamodel.Persona, _ []chat.Message, turn chat.Message) (string, error) {
	return p.AvatarName + " heard " + turn.Content, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type shellFixture struct {
	shell      *shell
	controller *session.Controller
	store      personamodel.Store
	out        *lockedBuffer
}

func newShellFixture(t *testing.T) *shellFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := personamodel.NewMemoryStore(personamodel.Seed())

	r := chi.NewRouter()
	r.Route("/api", func(a chi.Router) {
		personahandler.New(store, logger).RegisterRoutes(a)
		chathandler.New(chatservice.NewService(), store, echoResponder{}, nil, logger).RegisterRoutes(a)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client, err := api.New(srv.URL, api.WithHTTPClient(srv.Client()), api.WithLogger(logger))
	require.NoError(t, err)

	kv := prefs.NewMemoryKV()
	require.NoError(t, kv.Set(context.Background(), prefs.KeyTypewriter, "false"))

	out := &lockedBuffer{}
	view := newTerminalView(out)
	controller := session.New(session.Deps{API: client, KV: kv, Indicator: view, Logger: logger})
	controller.State().Transcript.Subscribe(view)
	controller.Start(context.Background())
	t.Cleanup(controller.Wait)

	return &shellFixture{shell: newShell(controller, view), controller: controller, store: store, out: out}
}

func TestShellSendsMessageAndPrintsReply(t *testing.T) {
	f := newShellFixture(t)

	quit := f.shell.Handle(context.Background(), "hello")
	require.False(t, quit)

	out := f.out.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "heard hello")
}

func TestShellQuitAndUnknownCommand(t *testing.T) {
	f := newShellFixture(t)

	assert.False(t, f.shell.Handle(context.Background(), "/bogus"))
	assert.Contains(t, f.out.String(), "unknown command /bogus")
	assert.True(t, f.shell.Handle(context.Background(), "/quit"))
}

func TestShellPersonaSwitch(t *testing.T) {
	f := newShellFixture(t)

	f.shell.Handle(context.Background(), "/persona echo")

	assert.Equal(t, "echo", f.store.Current().Name)
	assert.Equal(t, "echo", f.controller.State().Persona.ActiveName())
	assert.Contains(t, f.out.String(), "persona: echo")

	f.shell.Handle(context.Background(), "/persona nobody")
	assert.Contains(t, f.out.String(), "could not switch to nobody")
	assert.Equal(t, "echo", f.store.Current().Name)
}

func TestShellToggles(t *testing.T) {
	f := newShellFixture(t)
	prefsStore := f.controller.State().Prefs

	f.shell.Handle(context.Background(), "/voice off")
	assert.False(t, prefsStore.Get().VoiceEnabled)
	f.shell.Handle(context.Background(), "/typewriter on")
	assert.True(t, prefsStore.Get().TypewriterEnabled)

	f.shell.Handle(context.Background(), "/voice maybe")
	assert.Contains(t, f.out.String(), "usage: /voice on|off")
}

func TestShellSetVoiceOption(t *testing.T) {
	f := newShellFixture(t)

	f.shell.Handle(context.Background(), "/settings")
	f.shell.Handle(context.Background(), "/set speed 9")

	current := f.store.Current()
	speed, ok := current.VsayOptions.Float("speed")
	require.True(t, ok)
	assert.Equal(t, 4.0, speed)
	assert.Contains(t, f.out.String(), "Settings")
}

func TestShellDroppedPathAttachesImage(t *testing.T) {
	f := newShellFixture(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "my shot.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	f.shell.Handle(context.Background(), `'`+path+`'`)

	att, ok := f.controller.State().Attachments.Pending()
	require.True(t, ok)
	assert.Equal(t, "my shot.png", att.FileName)
	assert.Contains(t, f.out.String(), "attached: my shot.png")

	assert.Equal(t, "[my shot.png] > ", f.shell.view.Prompt())

	f.shell.Handle(context.Background(), "/detach")
	_, ok = f.controller.State().Attachments.Pending()
	assert.False(t, ok)
	assert.Equal(t, "> ", f.shell.view.Prompt())
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
		ok   bool
	}{
		{in: "a b  c", want: []string{"a", "b", "c"}, ok: true},
		{in: `/tmp/my\ file.png`, want: []string{"/tmp/my file.png"}, ok: true},
		{in: `"a b" 'c d'`, want: []string{"a b", "c d"}, ok: true},
		{in: `'it\s'`, want: []string{`it\s`}, ok: true},
		{in: `""`, want: []string{""}, ok: true},
		{in: `"open`, ok: false},
		{in: "", want: nil, ok: true},
	}
	for _, tt := range tests {
		got, ok := splitWords(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestParseCommand(t *testing.T) {
	name, args := parseCommand(`/SET speaker "3"`)
	assert.Equal(t, "set", name)
	assert.Equal(t, []string{"speaker", "3"}, args)

	name, args = parseCommand("/")
	assert.Empty(t, name)
	assert.Empty(t, args)
}

func TestDroppedFilesRequiresExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))
	notes := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(notes, []byte("plain text"), 0o600))

	assert.Nil(t, droppedFiles("just some words"))
	assert.Nil(t, droppedFiles(notes))
	assert.Nil(t, droppedFiles(notes+" "+path))
	assert.Nil(t, droppedFiles(path+" "+filepath.Join(dir, "missing.png")))
	assert.Nil(t, droppedFiles(dir))

	files := droppedFiles("file://" + path)
	require.Len(t, files, 1)
	assert.Equal(t, "a.png", files[0].Name)
	assert.Equal(t, pngHeader, files[0].Data)
}

func TestShellSendsWordMatchingPlainFile(t *testing.T) {
	f := newShellFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello"), []byte("not an image"), 0o600))
	t.Chdir(dir)

	f.shell.Handle(context.Background(), "hello")

	lines := f.controller.State().Transcript.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0].Text)
	assert.Contains(t, f.out.String(), "heard hello")
	_, ok := f.controller.State().Attachments.Pending()
	assert.False(t, ok)
}
