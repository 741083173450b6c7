// Package view renders sessions, drafts, and devices for the terminal.
package view

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGray   = lipgloss.Color("#808080")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	recordingStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	doneStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	termStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	subtypeStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true)

	levelOnStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	levelOffStyle = lipgloss.NewStyle().
			Foreground(colorGray)
)
