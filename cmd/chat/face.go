package main

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"

	"github.com/zhouzirui/spectra-communicator/internal/client/avatar"
)

// titleFace shows the avatar frame in the terminal window title.
type titleFace struct {
	out *termenv.Output
}

func newTitleFace(w io.Writer) *titleFace {
	return &titleFace{out: termenv.NewOutput(w)}
}

func (f *titleFace) Show(frame avatar.Frame) {
	f.out.SetWindowTitle(frameTitle(frame))
}

func frameTitle(frame avatar.Frame) string {
	mouth := "(-)"
	if frame.MouthOpen {
		mouth = "(o)"
	}
	return fmt.Sprintf("%s %s [%s]", frame.Speaker, mouth, frame.Image)
}
