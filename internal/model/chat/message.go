package chat

import "time"

// Sender roles stored in a transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message persists individual turns of a server-side conversation.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Images    []Image   `json:"images,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Image is an inline image attached to a user turn.
type Image struct {
	MediaType string `json:"mediaType"`
	Data      []byte `json:"data"`
}
