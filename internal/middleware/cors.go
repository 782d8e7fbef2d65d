package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows browser clients served from another origin to reach the API.
// Credentials are allowed so the chat session cookie survives the hop.
var CORS = cors.Handler(cors.Options{
	AllowOriginFunc:  func(_ *http.Request, origin string) bool { return origin != "" },
	AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	AllowedHeaders:   []string{"Content-Type"},
	AllowCredentials: true,
	MaxAge:           300,
})
