package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/model/chat"
	"github.com/zhouzirui/spectra-communicator/internal/model/persona"
	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
	chatService "github.com/zhouzirui/spectra-communicator/internal/service/chat"
	"github.com/zhouzirui/spectra-communicator/pkg/utils"
)

// SessionCookie names the cookie that keys per-session history.
const SessionCookie = "spectra_session"

const (
	maxUploadBytes = 16 << 20
	maxImageBytes  = 10 << 20
)

// Responder 生成 AI 回复
type Responder interface {
	GenerateResponse(ctx context.Context, sessionID string, p *persona.Persona, history []chat.Message, turn chat.Message) (string, error)
}

// Synthesizer 将回复合成为语音
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speech.SynthesisRequest) (speech.SynthesisResult, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	personaStore persona.Store
	responder    Responder
	synthesizer  Synthesizer
	logger       *zap.Logger
}

// New 创建聊天处理器。responder 为 nil 时聊天接口返回 503，synthesizer 为 nil 时不生成语音。
func New(chatSvc *chatService.Service, personaStore persona.Store, responder Responder, synthesizer Synthesizer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc:      chatSvc,
		personaStore: personaStore,
		responder:    responder,
		synthesizer:  synthesizer,
		logger:       logger.Named("chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

type chatResponse struct {
	Response string `json:"response"`
	AudioURL string `json:"audio_url,omitempty"`
}

// handleChat 处理一次对话：multipart 表单 message / image / persona / voice
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.responder == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	message := strings.TrimSpace(r.FormValue("message"))
	images, err := readImage(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if message == "" && len(images) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "message or image is required")
		return
	}

	speaker := h.personaStore.Current()
	if name := strings.TrimSpace(r.FormValue("persona")); name != "" {
		found, ok := h.personaStore.FindByName(name)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "persona not found")
			return
		}
		speaker = found
	}

	ctx := r.Context()
	session, err := h.ensureSession(w, r)
	if err != nil {
		h.logger.Error("session unavailable", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "session unavailable")
		return
	}

	history, err := h.chatSvc.LoadTranscript(ctx, session.ID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	turn := chat.Message{
		SessionID: session.ID,
		Sender:    chat.RoleUser,
		Content:   message,
		Images:    images,
		CreatedAt: time.Now().UTC(),
	}

	reply, err := h.responder.GenerateResponse(ctx, session.ID, &speaker, history, turn)
	if err != nil {
		h.logger.Error("generate response failed", zap.String("session", session.ID), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "failed to generate response")
		return
	}

	// a failed model call leaves the history untouched
	if err := h.chatSvc.SaveMessage(ctx, turn); err != nil {
		h.logger.Warn("save user turn failed", zap.Error(err))
	}
	if err := h.chatSvc.SaveMessage(ctx, chat.Message{SessionID: session.ID, Sender: chat.RoleAssistant, Content: reply}); err != nil {
		h.logger.Warn("save reply failed", zap.Error(err))
	}

	resp := chatResponse{Response: reply}
	if h.wantsVoice(r) {
		resp.AudioURL = h.synthesize(ctx, session.ID, speaker, reply)
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) (chat.Session, error) {
	var id string
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		id = cookie.Value
	}

	session, err := h.chatSvc.EnsureSession(r.Context(), id)
	if err != nil {
		return chat.Session{}, err
	}
	if session.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    session.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return session, nil
}

func (h *Handler) wantsVoice(r *http.Request) bool {
	if h.synthesizer == nil {
		return false
	}
	raw := strings.TrimSpace(r.FormValue("voice"))
	if raw == "" {
		return true
	}
	enabled, err := strconv.ParseBool(raw)
	return err != nil || enabled
}

// synthesize returns the audio url for reply, or "" when synthesis fails.
func (h *Handler) synthesize(ctx context.Context, sessionID string, speaker persona.Persona, reply string) string {
	result, err := h.synthesizer.Synthesize(ctx, &speech.SynthesisRequest{
		SessionID: sessionID,
		Text:      reply,
		Options:   speaker.VsayOptions,
	})
	if err != nil {
		h.logger.Warn("speech synthesis failed", zap.String("persona", speaker.Name), zap.Error(err))
		return ""
	}
	return "/api/audio/" + result.ID
}

func readImage(r *http.Request) ([]chat.Image, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid image upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	if len(data) == 0 {
		return nil, nil
	}

	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		declared := header.Header.Get("Content-Type")
		if !strings.HasPrefix(declared, "image/") {
			return nil, fmt.Errorf("attachment is not an image")
		}
		mediaType = declared
	}
	return []chat.Image{{MediaType: mediaType, Data: data}}, nil
}
