package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Envelope 状态包裹响应，供 persona 相关接口使用
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Name    string `json:"name,omitempty"`
	Persona any    `json:"persona,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondRejected 发送 status=error 包裹
func RespondRejected(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, Envelope{Status: StatusError, Message: message})
}
