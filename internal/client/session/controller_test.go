package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/spectra-communicator/internal/client/api"
	"github.com/zhouzirui/spectra-communicator/internal/client/attachment"
	"github.com/zhouzirui/spectra-communicator/internal/client/exchange"
	"github.com/zhouzirui/spectra-communicator/internal/client/persona"
	"github.com/zhouzirui/spectra-communicator/internal/client/prefs"
	chathandler "github.com/zhouzirui/spectra-communicator/internal/handler/chat"
	personahandler "github.com/zhouzirui/spectra-communicator/internal/handler/persona"
	"github.com/zhouzirui/spectra-communicator/internal/model/chat"
	personamodel "github.com/zhouzirui/spectra-communicator/internal/model/persona"
	chatservice "github.com/zhouzirui/spectra-communicator/internal/service/chat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

type scriptedResponder struct {
	mu      sync.Mutex
	replies map[string]string
}

func (s *scriptedResponder) GenerateResponse(_ context.Context, _ string, _ *personamodel.Persona, _ []chat.Message, turn chat.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replies[turn.Content], nil
}

type indicator struct {
	mu    sync.Mutex
	shown []string
}

func (i *indicator) Show(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.shown = append(i.shown, name)
}

func (i *indicator) Hide() {}

func (i *indicator) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.shown)
}

type fixture struct {
	controller *Controller
	kv         *prefs.MemoryKV
	store      personamodel.Store
	indicator  *indicator
}

func newFixture(t *testing.T, handler http.Handler, kv *prefs.MemoryKV) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := personamodel.NewMemoryStore(personamodel.Seed())
	if handler == nil {
		responder := &scriptedResponder{replies: map[string]string{"hello": "hi there"}}
		r := chi.NewRouter()
		r.Route("/api", func(a chi.Router) {
			personahandler.New(store, logger).RegisterRoutes(a)
			chathandler.New(chatservice.NewService(), store, responder, nil, logger).RegisterRoutes(a)
		})
		handler = r
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := api.New(srv.URL, api.WithHTTPClient(srv.Client()), api.WithLogger(logger))
	require.NoError(t, err)

	if kv == nil {
		kv = prefs.NewMemoryKV()
	}
	ind := &indicator{}
	c := New(Deps{API: client, KV: kv, Indicator: ind, Logger: logger})
	return &fixture{controller: c, kv: kv, store: store, indicator: ind}
}

func TestStartRestoresRememberedPersona(t *testing.T) {
	kv := prefs.NewMemoryKV()
	require.NoError(t, kv.Set(context.Background(), prefs.KeyLastPersona, "echo"))
	require.NoError(t, kv.Set(context.Background(), prefs.KeyTypewriter, "false"))
	f := newFixture(t, nil, kv)

	f.controller.Start(context.Background())

	state := f.controller.State()
	require.Equal(t, persona.Active, state.Persona.State())
	require.Equal(t, "echo", state.Persona.ActiveName())
	require.Equal(t, "echo", f.store.Current().Name)
	require.False(t, state.Prefs.Get().TypewriterEnabled)
}

func TestSubmitHelloScenario(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.controller.Start(context.Background())

	f.controller.SetDraft("hello")
	done, ok := f.controller.Submit(context.Background())
	require.True(t, ok)
	require.Empty(t, f.controller.Draft())
	<-done
	f.controller.Wait()

	lines := f.controller.State().Transcript.Lines()
	require.Len(t, lines, 2)
	require.Equal(t, exchange.RoleUser, lines[0].Role)
	require.Equal(t, "hello", lines[0].Text)
	require.Equal(t, exchange.RoleAssistant, lines[1].Role)
	require.Equal(t, "hi there", lines[1].Text)
	require.Equal(t, "Spectra", lines[1].Speaker)
}

func TestSubmitWithNothingIsNoop(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.controller.SetDraft("  ")
	_, ok := f.controller.Submit(context.Background())
	require.False(t, ok)
	require.Zero(t, f.controller.State().Transcript.Len())
}

func TestNonImageFileLeavesNoAttachment(t *testing.T) {
	f := newFixture(t, nil, nil)
	state := f.controller.State()

	<-state.Attachments.Select(attachment.File{Name: "notes.txt", Data: []byte("plain text")})

	_, ok := state.Attachments.Pending()
	require.False(t, ok)
	require.Zero(t, f.indicator.count())
}

func TestSubmitTakesPendingAttachment(t *testing.T) {
	f := newFixture(t, nil, nil)
	state := f.controller.State()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	<-state.Attachments.Select(attachment.File{Name: "shot.png", Data: png})

	done, ok := f.controller.Submit(context.Background())
	require.True(t, ok)
	_, pending := state.Attachments.Pending()
	require.False(t, pending)
	<-done

	lines := state.Transcript.Lines()
	require.Equal(t, "shot.png", lines[0].FileName)
}

func TestServerErrorShowsFailureLine(t *testing.T) {
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	f := newFixture(t, failing, nil)
	f.controller.Start(context.Background())
	require.Equal(t, persona.Uninitialized, f.controller.State().Persona.State())

	f.controller.SetDraft("hello")
	done, ok := f.controller.Submit(context.Background())
	require.True(t, ok)
	<-done

	lines := f.controller.State().Transcript.Lines()
	require.Equal(t, exchange.RoleSystem, lines[len(lines)-1].Role)
	require.Equal(t, exchange.DefaultFailureText, lines[len(lines)-1].Text)

	f.controller.SetDraft("again")
	done, ok = f.controller.Submit(context.Background())
	require.True(t, ok)
	<-done
	require.Len(t, f.controller.State().Transcript.Lines(), 4)
}
