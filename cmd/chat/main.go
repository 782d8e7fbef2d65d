package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/client/api"
	"github.com/zhouzirui/spectra-communicator/internal/client/avatar"
	"github.com/zhouzirui/spectra-communicator/internal/client/prefs"
	"github.com/zhouzirui/spectra-communicator/internal/client/session"
	"github.com/zhouzirui/spectra-communicator/internal/config"
	"github.com/zhouzirui/spectra-communicator/internal/logging"
)

var (
	serverURL string
	prefsPath string
	logPath   string
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "spectra",
	Short: "Terminal chat client for the Spectra assistant",
	Long: `spectra is a terminal chat client for the Spectra assistant service.

Type a message and press enter to send it. Paste or drop an image path to
attach it to the next message. Commands start with a slash, see /help.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "", "assistant service URL (overrides SPECTRA_SERVER_URL)")
	rootCmd.Flags().StringVar(&prefsPath, "prefs", "", "preferences database path (overrides SPECTRA_PREFS_DB)")
	rootCmd.Flags().StringVar(&logPath, "log", "", "log file path (default next to the preferences database)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if prefsPath != "" {
		cfg.PrefsPath = prefsPath
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if logPath == "" {
		logPath = filepath.Join(filepath.Dir(cfg.PrefsPath), "client.log")
	}

	logger, err := logging.New(cfg.LogLevel, logPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := api.New(cfg.ServerURL, api.WithTimeout(cfg.RequestTimeout), api.WithLogger(logger))
	if err != nil {
		return err
	}

	kv, err := prefs.OpenSQLiteKV(ctx, cfg.PrefsPath)
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}
	defer kv.Close()

	view := newTerminalView(os.Stdout)
	player := newCommandPlayer(cfg.AudioPlayer, client.Audio, logger)

	animOpts := []avatar.Option{avatar.WithInterval(cfg.MouthInterval), avatar.WithLogger(logger)}
	if cfg.Beep.Enabled {
		beeper := newToneBeeper(player, avatar.Tone{
			FrequencyHz: cfg.Beep.FrequencyHz,
			Duration:    cfg.Beep.Duration,
			Volume:      cfg.Beep.Volume,
			VolumeEnd:   cfg.Beep.VolumeEnd,
		})
		defer beeper.Close()
		animOpts = append(animOpts, avatar.WithBeeper(beeper))
	}
	animator := avatar.New(newTitleFace(os.Stdout), animOpts...)

	controller := session.New(session.Deps{
		API:             client,
		KV:              kv,
		Player:          player,
		Indicator:       view,
		Speaking:        animator,
		TypewriterDelay: cfg.TypewriterStep,
		FailureText:     cfg.FailureText,
		DefaultAvatar:   cfg.AvatarName,
		Logger:          logger,
	})
	controller.State().Transcript.Subscribe(view)

	logger.Info("client starting", zap.String("server", cfg.ServerURL), zap.String("prefs", cfg.PrefsPath))
	controller.Start(ctx)

	repl := newREPL(controller, view, historyPath(cfg.PrefsPath))
	defer repl.Close()
	repl.Run(ctx)

	controller.Wait()
	animator.Wait()
	return nil
}

func historyPath(prefsPath string) string {
	return filepath.Join(filepath.Dir(prefsPath), "chat_history")
}
