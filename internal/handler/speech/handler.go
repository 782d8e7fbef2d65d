package speech

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
	"github.com/zhouzirui/spectra-communicator/pkg/utils"
)

// AudioSource 抽象音频缓存，便于测试与替换实现
type AudioSource interface {
	Audio(id string) (speech.SynthesisResult, bool)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	audio  AudioSource
	logger *zap.Logger
}

// New 创建语音处理器
func New(audio AudioSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{audio: audio, logger: logger.Named("speech")}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audio/{id}", h.handleAudio)
}

// handleAudio 返回合成好的音频
func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	clip, ok := h.audio.Audio(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "audio not found")
		return
	}

	contentType := clip.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.AudioData)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(clip.AudioData); err != nil {
		h.logger.Debug("audio write aborted", zap.String("id", id), zap.Error(err))
	}
}
