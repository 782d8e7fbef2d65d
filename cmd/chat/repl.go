package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/zhouzirui/spectra-communicator/internal/client/session"
)

// repl provides line editing and history around the shell.
type repl struct {
	line        *liner.State
	historyFile string
	shell       *shell
}

func newREPL(controller *session.Controller, view *terminalView, historyFile string) *repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &repl{
		line:        line,
		historyFile: historyFile,
		shell:       newShell(controller, view),
	}
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

// Run reads lines until /quit, EOF or Ctrl+C.
func (r *repl) Run(ctx context.Context) {
	r.shell.view.Info("Spectra Communicator. Type /help for commands.")
	for ctx.Err() == nil {
		input, err := r.line.Prompt(r.shell.view.Prompt())
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				r.shell.view.Info("input error: " + err.Error())
			}
			return
		}
		if strings.TrimSpace(input) != "" {
			r.line.AppendHistory(input)
		}
		if quit := r.shell.Handle(ctx, input); quit {
			return
		}
	}
}

// Close saves history and restores the terminal.
func (r *repl) Close() {
	if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
		_, _ = r.line.WriteHistory(f)
		f.Close()
	}
	r.line.Close()
}
