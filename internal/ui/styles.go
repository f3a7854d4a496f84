package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Party palette
var (
	Pink     = lipgloss.Color("#F472B6")
	Lavender = lipgloss.Color("#A78BFA")
	Mint     = lipgloss.Color("#34D399")
	Candle   = lipgloss.Color("#FBBF24")
	Cherry   = lipgloss.Color("#F43F5E")
	Slate    = lipgloss.Color("#94A3B8")
	Night    = lipgloss.Color("#312E81")
)

var (
	SuccessStyle = lipgloss.NewStyle().Foreground(Mint).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Cherry).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Candle)
	MutedStyle   = lipgloss.NewStyle().Foreground(Slate)
	CodeStyle    = lipgloss.NewStyle().Foreground(Pink).Bold(true)
	SenderStyle  = lipgloss.NewStyle().Foreground(Lavender).Bold(true)
	SpinnerStyle = lipgloss.NewStyle().Foreground(Pink)

	// HeaderStyle is the room banner at the top of the live view.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FDF2F8")).
			Background(Night).
			Padding(0, 2)

	FooterStyle = MutedStyle.MarginTop(1)

	CelebrationBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.DoubleBorder()).
				BorderForeground(Candle).
				Foreground(Candle).
				Bold(true).
				Padding(0, 2)

	roomBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(Mint).
			Padding(1, 2)
)

// Table cells
var (
	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(Pink).Align(lipgloss.Center)
	TableRowStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("255"))
	TableRowAltStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("249"))
)

const (
	IconCake    = "🎂"
	IconParty   = "🎉"
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconLink    = "🔗"
	IconPeer    = "👤"
	IconHost    = "👑"
	IconMicOn   = "🎙️"
	IconMicOff  = "🔇"
	IconCamOn   = "📷"
	IconCamOff  = "🚫"
	IconChat    = "💬"
	IconCopy    = "📋"
	IconWeb     = "🌐"
)

var stdout io.Writer = os.Stdout

func printLine(icon string, style lipgloss.Style, msg string) {
	fmt.Fprintln(stdout, style.Render(icon), msg)
}

func PrintError(msg string) {
	printLine(IconError, ErrorStyle, ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	printLine(IconWarning, WarningStyle, WarningStyle.Render(msg))
}

func PrintSuccess(msg string) {
	printLine(IconSuccess, SuccessStyle, msg)
}

func PrintSuccessf(format string, args ...any) {
	PrintSuccess(fmt.Sprintf(format, args...))
}

func PrintInfo(msg string) {
	printLine(IconInfo, lipgloss.NewStyle(), msg)
}
