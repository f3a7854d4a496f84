package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// lineSpinner animates a single status line for the steps that run before
// the live view takes over the terminal.
type lineSpinner struct {
	out     io.Writer
	frames  []string
	every   time.Duration
	message string

	quit     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func startSpinner(out io.Writer, style spinner.Spinner, message string) *lineSpinner {
	s := &lineSpinner{
		out:      out,
		frames:   style.Frames,
		every:    style.FPS,
		message:  message,
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *lineSpinner) run() {
	defer close(s.finished)
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for i := 0; ; i++ {
		fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(s.frames[i%len(s.frames)]), s.message)
		select {
		case <-s.quit:
			return
		case <-ticker.C:
		}
	}
}

// stop clears the line. Safe to call more than once.
func (s *lineSpinner) stop() {
	s.once.Do(func() {
		close(s.quit)
		<-s.finished
		fmt.Fprint(s.out, "\r\033[K")
	})
}

// RunConnectionSpinner shows a globe spinner until the returned function is
// called.
func RunConnectionSpinner(message string) func() {
	return startSpinner(stdout, spinner.Globe, message).stop
}
