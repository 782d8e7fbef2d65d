package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/spectra-communicator/internal/model/persona"
	speechmodel "github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

type recordingEngine struct {
	text string
	opts speechmodel.Options
	err  error
}

func (e *recordingEngine) Synthesize(_ context.Context, text string, opts speechmodel.Options) ([]byte, error) {
	e.text, e.opts = text, opts
	if e.err != nil {
		return nil, e.err
	}
	return []byte("RIFF"), nil
}

func TestRenderUsesNamedPersonaWithOverrides(t *testing.T) {
	e := &recordingEngine{}
	store := persona.NewMemoryStore(persona.Seed())

	audio, used, err := render(context.Background(), e, store, "echo", "hello", []string{"speed=9", "speaker = 12"})
	require.NoError(t, err)

	assert.Equal(t, []byte("RIFF"), audio)
	assert.Equal(t, "echo", used.Name)
	assert.Equal(t, "hello", e.text)
	speed, _ := e.opts.Float(speechmodel.KeySpeed)
	assert.Equal(t, 4.0, speed)
	assert.Equal(t, "12", e.opts.String(speechmodel.KeySpeaker))

	original, _ := store.FindByName("echo")
	assert.Equal(t, "8", original.VsayOptions.String(speechmodel.KeySpeaker))
}

func TestRenderDefaultsToCurrentPersona(t *testing.T) {
	e := &recordingEngine{}
	_, used, err := render(context.Background(), e, persona.NewMemoryStore(persona.Seed()), "", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "spectra", used.Name)
}

func TestRenderErrors(t *testing.T) {
	store := persona.NewMemoryStore(persona.Seed())

	_, _, err := render(context.Background(), &recordingEngine{}, store, "nobody", "hi", nil)
	require.Error(t, err)

	_, _, err = render(context.Background(), &recordingEngine{}, store, "", "hi", []string{"speed"})
	require.Error(t, err)

	_, _, err = render(context.Background(), &recordingEngine{err: errors.New("engine down")}, store, "", "hi", nil)
	require.ErrorContains(t, err, "engine down")
}
