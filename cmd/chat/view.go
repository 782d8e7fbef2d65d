package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/spectra-communicator/internal/client/exchange"
	"github.com/zhouzirui/spectra-communicator/internal/client/settings"
	"github.com/zhouzirui/spectra-communicator/internal/model/speech"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22D3EE")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A78BFA")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF"))

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34D399"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22D3EE")).
			Bold(true).
			Underline(true)
)

// terminalView prints the transcript as it grows. Only the newest line is
// revealed incrementally; updates to older lines are ignored since they
// were already finalized.
type terminalView struct {
	mu       sync.Mutex
	out      io.Writer
	open     int
	printed  string
	attached string
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out, open: -1}
}

func (v *terminalView) Appended(idx int, line exchange.Line) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeLocked()

	switch line.Role {
	case exchange.RoleUser:
		prefix := userStyle.Render("You>") + " "
		if line.FileName != "" {
			prefix += fileStyle.Render("[file: "+line.FileName+"]") + " "
		}
		fmt.Fprintln(v.out, prefix+line.Text)
	case exchange.RoleAssistant:
		fmt.Fprint(v.out, assistantStyle.Render(line.Speaker+">")+" ")
		v.open = idx
		v.printed = ""
		if line.Text != "" {
			fmt.Fprint(v.out, line.Text)
			v.printed = line.Text
		}
	case exchange.RoleSystem:
		fmt.Fprintln(v.out, systemStyle.Render(line.Text))
	}
}

func (v *terminalView) Updated(idx int, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if idx != v.open {
		return
	}
	if strings.HasPrefix(text, v.printed) {
		fmt.Fprint(v.out, text[len(v.printed):])
	} else {
		fmt.Fprint(v.out, "\n"+text)
	}
	v.printed = text
}

// Flush ends an open assistant line.
func (v *terminalView) Flush() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeLocked()
}

func (v *terminalView) closeLocked() {
	if v.open >= 0 {
		fmt.Fprintln(v.out)
		v.open = -1
		v.printed = ""
	}
}

// Show and Hide implement the attachment indicator. The pending file is
// also carried by the prompt.
func (v *terminalView) Show(fileName string) {
	v.mu.Lock()
	v.attached = fileName
	v.mu.Unlock()
	v.Info(fileStyle.Render("attached: " + fileName))
}

func (v *terminalView) Hide() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.attached = ""
}

// Prompt returns the input prompt. It is plain text since liner measures
// the prompt width by runes.
func (v *terminalView) Prompt() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.attached == "" {
		return "> "
	}
	return "[" + v.attached + "] > "
}

// Info prints a status line.
func (v *terminalView) Info(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeLocked()
	fmt.Fprintln(v.out, infoStyle.Render(text))
}

// Panel prints the settings panel.
func (v *terminalView) Panel(p settings.Panel) {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Settings") + "\n")
	fmt.Fprintf(&b, "  typewriter  %s\n", onOff(p.Typewriter))
	fmt.Fprintf(&b, "  voice       %s\n", onOff(p.Voice))
	if p.Legacy {
		b.WriteString("  persona     (legacy settings)\n")
	} else {
		names := make([]string, len(p.Personas))
		for i, n := range p.Personas {
			if n == p.Current {
				n = "*" + n
			}
			names[i] = n
		}
		fmt.Fprintf(&b, "  persona     %s\n", strings.Join(names, " "))
	}

	for _, c := range speech.Controls {
		value := "-"
		if f, ok := p.Values.Float(c.Key); ok {
			value = fmt.Sprintf("%.2f", f)
		}
		fmt.Fprintf(&b, "  %-11s %-6s %s\n", c.Key, value, infoStyle.Render(fmt.Sprintf("[%g..%g] %s", c.Min, c.Max, c.Label)))
	}
	for _, key := range speech.Fields {
		fmt.Fprintf(&b, "  %-11s %s\n", key, p.Values.String(key))
	}

	var extra []string
	for key := range p.Values {
		if _, ok := speech.LookupControl(key); !ok && !speech.IsField(key) {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		fmt.Fprintf(&b, "  %-11s %s\n", key, infoStyle.Render(p.Values.String(key)))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeLocked()
	fmt.Fprint(v.out, b.String())
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
