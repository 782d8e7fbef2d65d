package persona

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/model/persona"
	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
	"github.com/zhouzirui/spectra-communicator/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
	logger   *zap.Logger
}

// New 创建persona处理器
func New(personas persona.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		personas: personas,
		logger:   logger.Named("persona"),
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/current_persona", h.handleGetCurrent)
	r.Post("/current_persona", h.handleSetCurrent)
	r.Post("/persona_settings", h.handleSavePersonaSettings)
	r.Get("/settings", h.handleGetSettings)
	r.Post("/settings", h.handleSaveSettings)
}

// View is the client-facing projection of a persona.
type View struct {
	AvatarName      string         `json:"avatarName"`
	AvatarFullName  string         `json:"avatarFullName"`
	AvatarImageIdle string         `json:"avatarImageIdle"`
	AvatarImageTalk string         `json:"avatarImageTalk,omitempty"`
	VsayOptions     speech.Options `json:"vsayOptions"`
}

func viewOf(p persona.Persona) View {
	opts := p.VsayOptions
	if opts == nil {
		opts = speech.Options{}
	}
	return View{
		AvatarName:      p.AvatarName,
		AvatarFullName:  p.AvatarFullName,
		AvatarImageIdle: p.AvatarImageIdle,
		AvatarImageTalk: p.AvatarImageTalk,
		VsayOptions:     opts,
	}
}

// handleListPersonas 列出所有persona名称
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	items := h.personas.List()
	names := make([]string, 0, len(items))
	for _, p := range items {
		names = append(names, p.Name)
	}
	utils.RespondJSON(w, http.StatusOK, names)
}

func (h *Handler) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	current := h.personas.Current()
	utils.RespondJSON(w, http.StatusOK, utils.Envelope{
		Status:  utils.StatusSuccess,
		Name:    current.Name,
		Persona: viewOf(current),
	})
}

func (h *Handler) handleSetCurrent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondRejected(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		utils.RespondRejected(w, http.StatusBadRequest, "name is required")
		return
	}

	selected, err := h.personas.SetCurrent(name)
	if err != nil {
		if errors.Is(err, persona.ErrPersonaNotFound) {
			utils.RespondRejected(w, http.StatusNotFound, "persona not found: "+name)
			return
		}
		h.logger.Error("set current persona failed", zap.String("name", name), zap.Error(err))
		utils.RespondRejected(w, http.StatusInternalServerError, "failed to switch persona")
		return
	}

	h.logger.Info("persona switched", zap.String("name", selected.Name))
	utils.RespondJSON(w, http.StatusOK, utils.Envelope{
		Status:  utils.StatusSuccess,
		Name:    selected.Name,
		Persona: viewOf(selected),
	})
}

func (h *Handler) handleSavePersonaSettings(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string `json:"name"`
		Settings struct {
			VsayOptions speech.Options `json:"vsayOptions"`
		} `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondRejected(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Name == "" || payload.Settings.VsayOptions == nil {
		utils.RespondRejected(w, http.StatusBadRequest, "name and settings.vsayOptions are required")
		return
	}

	if _, ok := h.save(w, payload.Name, payload.Settings.VsayOptions); !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, utils.Envelope{Status: utils.StatusSuccess, Name: payload.Name})
}

// handleGetSettings 旧版接口：返回当前 persona 的语音参数
func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	opts := h.personas.Current().VsayOptions
	if opts == nil {
		opts = speech.Options{}
	}
	utils.RespondJSON(w, http.StatusOK, opts)
}

// handleSaveSettings 旧版接口：替换当前 persona 的语音参数
func (h *Handler) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var opts speech.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil || opts == nil {
		utils.RespondRejected(w, http.StatusBadRequest, "invalid request body")
		return
	}

	saved, ok := h.save(w, h.personas.Current().Name, opts)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, saved.VsayOptions)
}

func (h *Handler) save(w http.ResponseWriter, name string, opts speech.Options) (persona.Persona, bool) {
	saved, err := h.personas.SaveOptions(name, opts)
	if err != nil {
		if errors.Is(err, persona.ErrPersonaNotFound) {
			utils.RespondRejected(w, http.StatusNotFound, "persona not found: "+name)
			return persona.Persona{}, false
		}
		h.logger.Error("save voice options failed", zap.String("name", name), zap.Error(err))
		utils.RespondRejected(w, http.StatusInternalServerError, "failed to save settings")
		return persona.Persona{}, false
	}
	h.logger.Debug("voice options saved", zap.String("name", name))
	return saved, true
}
