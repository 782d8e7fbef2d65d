package chat

import "time"

// Session captures a transient anonymous conversation keyed by a browser or
// terminal cookie.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}
