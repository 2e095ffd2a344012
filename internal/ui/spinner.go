// spinner.go implements the CLI spinner displayed while devenv waits for a
// provider operation to settle.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner prints a lightweight ASCII spinner followed by the latest status
// until Stop is called.
type Spinner struct {
	w       io.Writer
	message string

	mu     sync.Mutex
	status string
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// StartSpinner starts a spinner on w. Stop prints either "[done]" or
// "[fail]" depending on the success flag.
func StartSpinner(w io.Writer, message string) *Spinner {
	s := &Spinner{w: w, message: message, done: make(chan struct{}), exited: make(chan struct{})}
	go s.run()
	return s
}

// Update replaces the status text shown after the spinner.
func (s *Spinner) Update(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Spinner) run() {
	defer close(s.exited)
	frames := []rune{'|', '/', '-', '\\'}
	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()
	idx := 0
	width := 0
	for {
		select {
		case <-s.done:
			fmt.Fprintf(s.w, "\r%*s\r", width, "")
			return
		case <-ticker.C:
			s.mu.Lock()
			line := fmt.Sprintf("%s %c %s", s.message, frames[idx], s.status)
			s.mu.Unlock()
			pad := width - len(line)
			if pad < 0 {
				pad = 0
			}
			fmt.Fprintf(s.w, "\r%s%*s", line, pad, "")
			if len(line) > width {
				width = len(line)
			}
			idx = (idx + 1) % len(frames)
		}
	}
}

// Stop halts the spinner and prints the final state. It is safe to call more
// than once; only the first call prints.
func (s *Spinner) Stop(success bool) {
	s.once.Do(func() {
		close(s.done)
		<-s.exited
		status := SuccessColor.Sprint("[done]")
		if !success {
			status = FailureColor.Sprint("[fail]")
		}
		s.mu.Lock()
		last := s.status
		s.mu.Unlock()
		if last != "" {
			fmt.Fprintf(s.w, "%s %s %s\n", s.message, status, last)
			return
		}
		fmt.Fprintf(s.w, "%s %s\n", s.message, status)
	})
}
