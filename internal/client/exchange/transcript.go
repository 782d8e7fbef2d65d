package exchange

import "sync"

// Role of a conversation line.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Line is one entry of the conversation.
type Line struct {
	Role Role
	// Speaker is the avatar name shown in front of assistant lines.
	Speaker  string
	Text     string
	FileName string
	Preview  string
	AudioURL string
}

// View renders transcript changes. Calls arrive in transcript order and must
// not call back into the transcript.
type View interface {
	Appended(index int, line Line)
	Updated(index int, text string)
}

// Transcript is the append-only conversation. Only the text of a line can
// change after it was appended.
type Transcript struct {
	mu    sync.Mutex
	lines []Line
	views []View
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Subscribe adds a view.
func (t *Transcript) Subscribe(v View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views = append(t.views, v)
}

// Append adds a line and returns its index.
func (t *Transcript) Append(line Line) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	idx := len(t.lines) - 1
	for _, v := range t.views {
		v.Appended(idx, line)
	}
	return idx
}

// Update replaces the text of line idx.
func (t *Transcript) Update(idx int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.lines) || t.lines[idx].Text == text {
		return
	}
	t.lines[idx].Text = text
	for _, v := range t.views {
		v.Updated(idx, text)
	}
}

// Lines returns a copy of the conversation.
func (t *Transcript) Lines() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Line(nil), t.lines...)
}

// Len returns the number of lines.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}
