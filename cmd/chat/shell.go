package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zhouzirui/spectra-communicator/internal/client/attachment"
	"github.com/zhouzirui/spectra-communicator/internal/client/session"
)

const helpText = `Commands:
  /attach <path>        attach an image to the next message
  /detach               remove the pending attachment
  /persona [name]       list personas or switch to one
  /settings             open the settings panel
  /set <key> <value>    change a voice option (speed, pitch, intonation, tempo, host, port, speaker, style)
  /close                close the settings panel
  /typewriter on|off    toggle the typewriter reveal
  /voice on|off         toggle voice playback
  /help                 show this help
  /quit                 exit
Dropping or pasting image file paths attaches the first one.`

// shell interprets one input line at a time.
type shell struct {
	controller *session.Controller
	view       *terminalView
}

func newShell(controller *session.Controller, view *terminalView) *shell {
	return &shell{controller: controller, view: view}
}

// Handle runs one line and reports whether the user asked to quit.
func (s *shell) Handle(ctx context.Context, input string) bool {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "/") {
		name, args := parseCommand(trimmed)
		return s.command(ctx, name, args)
	}

	if files := droppedFiles(trimmed); len(files) > 0 {
		<-s.controller.State().Attachments.AcceptDrop(files)
		return false
	}

	s.controller.SetDraft(input)
	done, ok := s.controller.Submit(ctx)
	if !ok {
		return false
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.view.Flush()
	return false
}

func (s *shell) command(ctx context.Context, name string, args []string) bool {
	state := s.controller.State()
	switch name {
	case "quit", "q", "exit":
		return true
	case "help", "h":
		s.view.Info(helpText)
	case "attach":
		if len(args) == 0 {
			s.view.Info("usage: /attach <path>")
			return false
		}
		file, err := readFile(args[0])
		if err != nil {
			s.view.Info(err.Error())
			return false
		}
		<-state.Attachments.Select(file)
	case "detach":
		state.Attachments.Clear()
		s.view.Info("attachment removed")
	case "persona":
		if len(args) == 0 {
			listing, err := state.Persona.ListAvailable(ctx)
			if err != nil {
				s.view.Info("personas unavailable")
				return false
			}
			s.view.Info("personas: " + strings.Join(listing.Names, ", ") + " (current: " + listing.Current.Name + ")")
			return false
		}
		if err := state.Settings.SelectPersona(ctx, args[0]); err != nil {
			s.view.Info("could not switch to " + args[0])
			return false
		}
		if d, ok := state.Persona.Active(); ok {
			s.view.Info(fmt.Sprintf("persona: %s (%s)", d.Name, d.AvatarFullName))
		}
	case "settings":
		if err := state.Settings.Open(ctx); err != nil {
			s.view.Info("settings unavailable")
			return false
		}
		s.view.Panel(state.Settings.Snapshot())
	case "close":
		state.Settings.Close()
	case "set":
		if len(args) < 2 {
			s.view.Info("usage: /set <key> <value>")
			return false
		}
		key, value := args[0], strings.Join(args[1:], " ")
		if err := state.Settings.Input(key, value); err != nil {
			s.view.Info(err.Error())
			return false
		}
		if err := state.Settings.Commit(ctx, key); err != nil {
			s.view.Info("could not save " + key)
			return false
		}
		if state.Settings.Snapshot().Visible {
			s.view.Panel(state.Settings.Snapshot())
		}
	case "typewriter", "voice":
		enabled, ok := parseToggle(args)
		if !ok {
			s.view.Info("usage: /" + name + " on|off")
			return false
		}
		var err error
		if name == "typewriter" {
			err = state.Settings.SetTypewriter(ctx, enabled)
		} else {
			err = state.Settings.SetVoice(ctx, enabled)
		}
		if err != nil {
			s.view.Info("could not save " + name + " preference")
			return false
		}
		s.view.Info(name + " " + onOff(enabled))
	default:
		s.view.Info("unknown command /" + name + ", try /help")
	}
	return false
}

func parseCommand(line string) (string, []string) {
	words, ok := splitWords(strings.TrimPrefix(line, "/"))
	if !ok || len(words) == 0 {
		return "", nil
	}
	return strings.ToLower(words[0]), words[1:]
}

func parseToggle(args []string) (bool, bool) {
	if len(args) != 1 {
		return false, false
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	v, err := strconv.ParseBool(args[0])
	return v, err == nil
}

// droppedFiles returns the files when line consists only of paths to
// existing regular files, which is what terminals insert on drag and drop,
// and the first of them is an image. Only the first file is read.
func droppedFiles(line string) []attachment.File {
	words, ok := splitWords(line)
	if !ok || len(words) == 0 {
		return nil
	}
	for i, w := range words {
		w = fromFileURL(w)
		info, err := os.Stat(w)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		words[i] = w
	}

	first, err := readFile(words[0])
	if err != nil || !first.IsImage() {
		return nil
	}
	files := []attachment.File{first}
	for _, w := range words[1:] {
		files = append(files, attachment.File{Name: filepath.Base(w)})
	}
	return files
}

func readFile(path string) (attachment.File, error) {
	path = fromFileURL(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return attachment.File{}, fmt.Errorf("read %s: %w", path, err)
	}
	return attachment.File{Name: filepath.Base(path), Data: data}, nil
}

func fromFileURL(s string) string {
	if !strings.HasPrefix(s, "file://") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	return u.Path
}

// splitWords splits like a POSIX shell: whitespace separates words, single
// and double quotes group, backslash escapes the next rune outside single
// quotes. ok is false for unbalanced quotes.
func splitWords(s string) ([]string, bool) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, false
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, true
}
