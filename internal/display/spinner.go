package display

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const spinnerInterval = 80 * time.Millisecond

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Spinner redraws one terminal line with a frame and a message until stopped. A spinner
// that was never started only prints its final message.
type Spinner struct {
	writer  io.Writer
	theme   ColorTheme
	message atomic.Value // string

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSpinner(w io.Writer, theme ColorTheme, message string) *Spinner {
	s := &Spinner{writer: w, theme: theme}
	s.message.Store(message)
	return s
}

// Update replaces the message shown next to the frame
func (s *Spinner) Update(message string) {
	s.message.Store(message)
}

func (s *Spinner) start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run()
}

func (s *Spinner) run() {
	defer close(s.done)
	tick := time.NewTicker(spinnerInterval)
	defer tick.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.stop:
			fmt.Fprint(s.writer, "\r\033[K")
			return
		case <-tick.C:
			frame := s.theme.Primary.Sprint(string(spinnerFrames[i%len(spinnerFrames)]))
			fmt.Fprintf(s.writer, "\r\033[K%s %s", frame, s.message.Load().(string))
		}
	}
}

// Stop clears the line and prints finalMessage, if any. Later calls do nothing.
func (s *Spinner) Stop(finalMessage string) {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
			<-s.done
		}
		if finalMessage != "" {
			fmt.Fprintln(s.writer, finalMessage)
		}
	})
}
