// Command voicecheck renders a line of text with a persona's voice options
// against the configured speech engine and writes the WAV to disk.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/config"
	"github.com/zhouzirui/spectra-communicator/internal/logging"
	"github.com/zhouzirui/spectra-communicator/internal/model/persona"
	speechmodel "github.com/zhouzirui/spectra-communicator/internal/model/speech"
	"github.com/zhouzirui/spectra-communicator/internal/service/speech"
)

var (
	personaName string
	text        string
	outPath     string
	timeout     time.Duration
	overrides   []string
)

var rootCmd = &cobra.Command{
	Use:          "voicecheck",
	Short:        "Synthesize a test line with a persona's voice options",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("--text is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Server.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		items := persona.Seed()
		if cfg.Persona.File != "" {
			if items, err = persona.LoadFile(cfg.Persona.File); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		engine := speech.NewEngineClient(&http.Client{}, cfg.Speech.DefaultHost, cfg.Speech.DefaultPort)
		audio, used, err := render(ctx, engine, persona.NewMemoryStore(items), personaName, text, overrides)
		if err != nil {
			return err
		}

		if outPath == "" {
			outPath = fmt.Sprintf("voicecheck_%s_%d.wav", used.Name, time.Now().Unix())
		}
		if err := os.WriteFile(outPath, audio, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		logger.Info("synthesis written",
			zap.String("persona", used.Name),
			zap.String("file", outPath),
			zap.Int("bytes", len(audio)))
		fmt.Println(outPath)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&personaName, "persona", "p", "", "persona name (default: the current persona)")
	rootCmd.Flags().StringVarP(&text, "text", "t", "", "text to synthesize")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "", "output WAV path")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 45*time.Second, "request timeout")
	rootCmd.Flags().StringArrayVar(&overrides, "set", nil, "voice option override as key=value, repeatable")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type engine interface {
	Synthesize(ctx context.Context, text string, opts speechmodel.Options) ([]byte, error)
}

// render resolves the persona, applies the key=value overrides and runs
// the synthesis.
func render(ctx context.Context, e engine, store persona.Store, name, text string, sets []string) ([]byte, persona.Persona, error) {
	p := store.Current()
	if name != "" {
		found, ok := store.FindByName(name)
		if !ok {
			return nil, persona.Persona{}, fmt.Errorf("unknown persona %q", name)
		}
		p = found
	}

	opts := p.VsayOptions.Clone()
	if opts == nil {
		opts = speechmodel.Options{}
	}
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, p, fmt.Errorf("invalid override %q, want key=value", kv)
		}
		key = strings.TrimSpace(key)
		normalized, err := speechmodel.Normalize(key, value)
		if err != nil {
			return nil, p, err
		}
		opts[key] = normalized
	}

	audio, err := e.Synthesize(ctx, text, opts)
	if err != nil {
		return nil, p, fmt.Errorf("synthesize as %s: %w", p.Name, err)
	}
	return audio, p, nil
}
