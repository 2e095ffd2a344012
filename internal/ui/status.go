// File: internal/ui/status.go
// Brief: Colour helpers for provider phases and headings.

package ui

import (
	"strings"

	"github.com/example/devenv/internal/provider"
	"github.com/fatih/color"
)

var (
	SuccessColor = color.New(color.FgGreen, color.Bold)
	FailureColor = color.New(color.FgRed, color.Bold)
	PendingColor = color.New(color.FgYellow)
	HeadingColor = color.New(color.FgCyan, color.Bold)
	HintColor    = color.New(color.Faint)
)

// SetColor forces colour on or off. Mode is one of auto, always or never.
func SetColor(mode string) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	}
}

// Phase renders a raw status coloured by its phase.
func Phase(p provider.Phase, raw string) string {
	if raw == "" {
		raw = string(p)
	}
	switch p {
	case provider.PhaseSucceeded:
		return SuccessColor.Sprint(raw)
	case provider.PhaseFailed:
		return FailureColor.Sprint(raw)
	default:
		return PendingColor.Sprint(raw)
	}
}

// Heading renders a section heading.
func Heading(s string) string {
	return HeadingColor.Sprint(s)
}

// Hint renders secondary guidance text.
func Hint(s string) string {
	return HintColor.Sprint(s)
}
