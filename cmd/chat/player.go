package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/client/avatar"
)

// fetchFunc downloads the clip behind an audio URL.
type fetchFunc func(ctx context.Context, url string) ([]byte, error)

// candidatePlayers are tried in order when no player is configured.
var candidatePlayers = [][]string{
	{"afplay"},
	{"paplay"},
	{"aplay", "-q"},
	{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
}

// commandPlayer downloads a clip and hands it to an external player
// program.
type commandPlayer struct {
	command []string
	fetch   fetchFunc
	logger  *zap.Logger
}

func newCommandPlayer(command string, fetch fetchFunc, logger *zap.Logger) *commandPlayer {
	return &commandPlayer{
		command: strings.Fields(command),
		fetch:   fetch,
		logger:  logger.Named("player"),
	}
}

func (p *commandPlayer) Play(ctx context.Context, url string) error {
	if _, err := p.resolve(); err != nil {
		return err
	}

	audio, err := p.fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch audio: %w", err)
	}

	path, err := writeTemp("spectra-*.wav", audio)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	return p.playFile(ctx, path)
}

// playFile runs the player on a local file.
func (p *commandPlayer) playFile(ctx context.Context, path string) error {
	argv, err := p.resolve()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, argv[0], playerArgs(argv[1:], path)...)
	p.logger.Debug("playing audio", zap.String("player", argv[0]), zap.String("file", path))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// toneBeeper plays the reveal beep through the audio player. The tone is
// rendered to a temp file on first use.
type toneBeeper struct {
	player *commandPlayer
	tone   avatar.Tone

	once sync.Once
	path string
	err  error
}

func newToneBeeper(player *commandPlayer, tone avatar.Tone) *toneBeeper {
	return &toneBeeper{player: player, tone: tone}
}

func (b *toneBeeper) Beep(ctx context.Context) error {
	b.once.Do(func() {
		b.path, b.err = writeTemp("spectra-beep-*.wav", b.tone.WAV())
	})
	if b.err != nil {
		return b.err
	}
	return b.player.playFile(ctx, b.path)
}

// Close removes the rendered tone.
func (b *toneBeeper) Close() {
	if b.path != "" {
		os.Remove(b.path)
	}
}

// playerArgs substitutes {} with the file, or appends it.
func playerArgs(args []string, file string) []string {
	out := make([]string, 0, len(args)+1)
	replaced := false
	for _, a := range args {
		if a == "{}" {
			a = file
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, file)
	}
	return out
}

func (p *commandPlayer) resolve() ([]string, error) {
	if len(p.command) > 0 {
		return p.command, nil
	}
	for _, candidate := range candidatePlayers {
		if _, err := exec.LookPath(candidate[0]); err == nil {
			return candidate, nil
		}
	}
	return nil, errors.New("no audio player found, set AUDIO_PLAYER")
}
