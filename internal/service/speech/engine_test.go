package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

type fakeEngine struct {
	t          *testing.T
	lastQuery  map[string]any
	lastSpeak  string
	failSynth  bool
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/audio_query":
		f.lastSpeak = r.URL.Query().Get("speaker")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"speedScale":1,"pitchScale":0,"intonationScale":1,"accent_phrases":[]}`)
	case "/synthesis":
		if f.failSynth {
			http.Error(w, "engine busy", http.StatusServiceUnavailable)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(f.t, err)
		require.NoError(f.t, json.Unmarshal(body, &f.lastQuery))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = io.WriteString(w, "RIFF....WAVE")
	default:
		http.NotFound(w, r)
	}
}

func TestEngineClientAppliesOptions(t *testing.T) {
	engine := &fakeEngine{t: t}
	srv := httptest.NewServer(engine)
	defer srv.Close()

	client := NewEngineClient(srv.Client(), "", "")
	opts := speech.Options{
		speech.KeyHost:    srv.URL,
		speech.KeySpeaker: "3",
		speech.KeyStyle:   "",
		speech.KeySpeed:   9.0,
		speech.KeyPitch:   5.0,
		speech.KeyTempo:   1.2,
	}

	audio, err := client.Synthesize(context.Background(), "hi there", opts)
	require.NoError(t, err)
	require.Equal(t, "RIFF....WAVE", string(audio))
	require.Equal(t, "3", engine.lastSpeak)
	require.Equal(t, 4.0, engine.lastQuery["speedScale"])
	require.InDelta(t, 0.05, engine.lastQuery["pitchScale"], 1e-9)
	require.Equal(t, 1.2, engine.lastQuery["tempoDynamicsScale"])
	require.Equal(t, 1.0, engine.lastQuery["intonationScale"])
}

func TestEngineClientPrefersStyle(t *testing.T) {
	engine := &fakeEngine{t: t}
	srv := httptest.NewServer(engine)
	defer srv.Close()

	client := NewEngineClient(srv.Client(), "", "")
	_, err := client.Synthesize(context.Background(), "hi", speech.Options{
		speech.KeyHost:    srv.URL,
		speech.KeySpeaker: "3",
		speech.KeyStyle:   "42",
	})
	require.NoError(t, err)
	require.Equal(t, "42", engine.lastSpeak)
}

func TestEngineClientReportsEngineErrors(t *testing.T) {
	engine := &fakeEngine{t: t, failSynth: true}
	srv := httptest.NewServer(engine)
	defer srv.Close()

	client := NewEngineClient(srv.Client(), "", "")
	_, err := client.Synthesize(context.Background(), "hi", speech.Options{speech.KeyHost: srv.URL, speech.KeySpeaker: "1"})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "503"))
}

func TestEngineClientRequiresSpeaker(t *testing.T) {
	client := NewEngineClient(nil, "127.0.0.1", "50021")
	_, err := client.Synthesize(context.Background(), "hi", speech.Options{})
	require.Error(t, err)
}

func TestAudioCacheEvictsOldest(t *testing.T) {
	cache := NewAudioCache(2, 0)
	first := cache.Put([]byte("a"), "audio/wav")
	second := cache.Put([]byte("b"), "audio/wav")
	third := cache.Put([]byte("c"), "audio/wav")

	_, ok := cache.Get(first.ID)
	require.False(t, ok)
	got, ok := cache.Get(second.ID)
	require.True(t, ok)
	require.Equal(t, "b", string(got.AudioData))
	_, ok = cache.Get(third.ID)
	require.True(t, ok)
	require.Equal(t, 2, cache.Len())
}

func TestAudioCacheExpiresClips(t *testing.T) {
	cache := NewAudioCache(4, 20*time.Millisecond)
	clip := cache.Put([]byte("a"), "audio/wav")

	_, ok := cache.Get(clip.ID)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, ok := cache.Get(clip.ID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

type stubSynth struct{ audio []byte }

func (s stubSynth) Synthesize(context.Context, string, speech.Options) ([]byte, error) {
	return s.audio, nil
}

func TestServiceSynthesizeCachesResult(t *testing.T) {
	svc := NewServiceWithEngine(stubSynth{audio: []byte("wav")}, NewAudioCache(4, 0), 0, zaptest.NewLogger(t))

	result, err := svc.Synthesize(context.Background(), &speech.SynthesisRequest{SessionID: "s", Text: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, result.ID)

	cached, ok := svc.Audio(result.ID)
	require.True(t, ok)
	require.Equal(t, "audio/wav", cached.ContentType)
	require.Equal(t, "wav", string(cached.AudioData))
}
