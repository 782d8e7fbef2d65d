package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/spectra-communicator/internal/handler/chat"
	"github.com/zhouzirui/spectra-communicator/internal/handler/persona"
	"github.com/zhouzirui/spectra-communicator/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/spectra-communicator/internal/middleware"
	personaModel "github.com/zhouzirui/spectra-communicator/internal/model/persona"
	aiService "github.com/zhouzirui/spectra-communicator/internal/service/ai"
	chatService "github.com/zhouzirui/spectra-communicator/internal/service/chat"
	speechService "github.com/zhouzirui/spectra-communicator/internal/service/speech"
)

// NewRouter wires HTTP routes to core services. aiSvc and speechSvc may be
// nil when their backends are not configured.
func NewRouter(personas personaModel.Store, chatSvc *chatService.Service, aiSvc *aiService.Service, speechSvc *speechService.Service, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// Avoid storing typed nils in the handler interfaces.
	var responder chat.Responder
	if aiSvc != nil {
		responder = aiSvc
	}
	var synthesizer chat.Synthesizer
	if speechSvc != nil {
		synthesizer = speechSvc
	}

	personaHandler := persona.New(personas, logger)
	chatHandler := chat.New(chatSvc, personas, responder, synthesizer, logger)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)

		if speechSvc != nil {
			speech.New(speechSvc, logger).RegisterRoutes(api)
		}
	})

	return r
}
