// File: internal/ui/term.go
// Brief: Internal ui package implementation for 'terminal helpers'.

package ui

import (
	"io"

	"golang.org/x/term"
)

type fdProvider interface {
	Fd() uintptr
}

// IsTerminalReader reports whether r is an interactive terminal.
func IsTerminalReader(r io.Reader) bool {
	if v, ok := r.(fdProvider); ok {
		return term.IsTerminal(int(v.Fd()))
	}
	return false
}

// IsTerminalWriter reports whether w is an interactive terminal.
func IsTerminalWriter(w io.Writer) bool {
	if v, ok := w.(fdProvider); ok {
		return term.IsTerminal(int(v.Fd()))
	}
	return false
}

func TerminalWidth(w io.Writer) (int, bool) {
	if v, ok := w.(fdProvider); ok {
		if cols, _, err := term.GetSize(int(v.Fd())); err == nil {
			return cols, true
		}
	}
	return 0, false
}
