package speech

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

// Synthesizer renders text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts speech.Options) ([]byte, error)
}

// Service 语音服务核心业务逻辑
type Service struct {
	engine  Synthesizer
	cache   *AudioCache
	timeout time.Duration
	logger  *zap.Logger
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig, logger *zap.Logger) *Service {
	timeout := time.Duration(config.Timeout) * time.Second
	engine := NewEngineClient(&http.Client{Timeout: timeout}, config.DefaultHost, config.DefaultPort)
	return NewServiceWithEngine(engine, NewAudioCache(config.AudioCacheSize, time.Duration(config.AudioCacheTTL)*time.Second), timeout, logger)
}

// NewServiceWithEngine wires a custom synthesizer, mainly for tests.
func NewServiceWithEngine(engine Synthesizer, cache *AudioCache, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewAudioCache(1, 0)
	}
	return &Service{
		engine:  engine,
		cache:   cache,
		timeout: timeout,
		logger:  logger.Named("speech"),
	}
}

// Synthesize 文字转语音，结果写入缓存并返回其记录
func (s *Service) Synthesize(ctx context.Context, req *speech.SynthesisRequest) (speech.SynthesisResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	audio, err := s.engine.Synthesize(ctx, req.Text, req.Options)
	if err != nil {
		return speech.SynthesisResult{}, err
	}

	result := s.cache.Put(audio, "audio/wav")
	s.logger.Debug("synthesized reply",
		zap.String("session", req.SessionID),
		zap.String("audio", result.ID),
		zap.Int("bytes", len(audio)),
		zap.Duration("took", time.Since(started)))
	return result, nil
}

// Audio 按 id 读取缓存的音频
func (s *Service) Audio(id string) (speech.SynthesisResult, bool) {
	return s.cache.Get(id)
}
