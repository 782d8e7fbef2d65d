package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/config"
	"github.com/zhouzirui/spectra-communicator/internal/handler"
	"github.com/zhouzirui/spectra-communicator/internal/logging"
	"github.com/zhouzirui/spectra-communicator/internal/model/persona"
	speechModel "github.com/zhouzirui/spectra-communicator/internal/model/speech"
	"github.com/zhouzirui/spectra-communicator/internal/service/ai"
	"github.com/zhouzirui/spectra-communicator/internal/service/chat"
	"github.com/zhouzirui/spectra-communicator/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Server.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment only", zap.Error(envErr))
	}

	personaStore, closeStore, err := openPersonaStore(ctx, cfg.Persona, logger)
	if err != nil {
		logger.Fatal("failed to initialize persona store", zap.Error(err))
	}
	defer closeStore()

	chatService := chat.NewService()

	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without it", zap.Error(err))
			aiService = nil
		} else {
			logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Warn("Ark credentials not configured, /api/chat will answer 503")
	}

	var speechService *speech.Service
	if cfg.Speech.Enabled {
		speechService = speech.NewService(&speechModel.SpeechConfig{
			DefaultHost:    cfg.Speech.DefaultHost,
			DefaultPort:    cfg.Speech.DefaultPort,
			AudioCacheSize: cfg.Speech.AudioCacheSize,
			AudioCacheTTL:  cfg.Speech.AudioCacheTTL,
			Timeout:        cfg.Speech.Timeout,
		}, logger)
		logger.Info("speech service initialized",
			zap.String("host", cfg.Speech.DefaultHost),
			zap.String("port", cfg.Speech.DefaultPort))
	} else {
		logger.Info("speech disabled by configuration")
	}

	router := handler.NewRouter(personaStore, chatService, aiService, speechService, logger)

	startServer(ctx, cfg.Server, router, logger)
}

// openPersonaStore loads the seed personas, applies avatar overrides and
// picks the sqlite store when a database path is configured.
func openPersonaStore(ctx context.Context, cfg config.PersonaConfig, logger *zap.Logger) (persona.Store, func(), error) {
	seed := persona.Seed()
	if cfg.File != "" {
		loaded, err := persona.LoadFile(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		seed = loaded
		logger.Info("personas loaded from file", zap.String("file", cfg.File), zap.Int("count", len(seed)))
	}

	if len(seed) > 0 {
		if cfg.AvatarName != "" {
			seed[0].AvatarName = cfg.AvatarName
		}
		if cfg.AvatarFullName != "" {
			seed[0].AvatarFullName = cfg.AvatarFullName
		}
		if cfg.SystemInstruction != "" {
			seed[0].SystemInstruction = cfg.SystemInstruction
		}
	}

	if cfg.DBPath == "" {
		return persona.NewMemoryStore(seed), func() {}, nil
	}

	store, err := persona.OpenSQLiteStore(ctx, cfg.DBPath, seed)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("persona state persisted", zap.String("db", cfg.DBPath))
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("close persona db", zap.Error(err))
		}
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Spectra backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
