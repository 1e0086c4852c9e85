package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"graphlink/internal/domain"
)

// NO_COLOR is honored by lipgloss's color profile detection.
var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}

	textSuccess = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	textError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	textWarning = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	textMuted   = lipgloss.NewStyle().Foreground(colorMuted)
)

type symbolSet struct {
	Success string
	Error   string
	Warning string
}

var symbols = detectSymbols()

func detectSymbols() symbolSet {
	if v := os.Getenv("GRAPHLINK_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return symbolSet{Success: "[OK]", Error: "[ERR]", Warning: "[!]"}
	}
	return symbolSet{Success: "✓", Error: "✗", Warning: "⚠"}
}

func styleOK(msg string) string {
	return textSuccess.Render(symbols.Success) + " " + msg
}

func styleWarn(msg string) string {
	return textWarning.Render(symbols.Warning) + " " + msg
}

// styleError renders a command failure with its machine-readable code.
func styleError(cmd string, err error) string {
	code := domain.ErrorCodeOf(err)
	return fmt.Sprintf("%s %s: %v %s",
		textError.Render(symbols.Error), cmd, err, textMuted.Render("["+string(code)+"]"))
}
