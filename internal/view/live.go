package view

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rbright/pyronotes/internal/fsm"
	"github.com/rbright/pyronotes/internal/session"
)

// Live prints a session as it grows. Output is append-only so it stays
// readable when piped.
type Live struct {
	w io.Writer

	id         string
	status     fsm.Status
	transcript int
	insights   int
	notice     string
	midLine    bool
}

// NewLive returns a renderer writing to w.
func NewLive(w io.Writer) *Live {
	return &Live{w: w}
}

// Update prints whatever changed since the previous call.
func (l *Live) Update(s session.Session, notice string) {
	if s.ID != l.id {
		l.id = s.ID
		l.transcript = 0
		l.insights = 0
		l.status = ""
	}

	if s.Status != l.status {
		l.status = s.Status
		l.breakLine()
		fmt.Fprintln(l.w, statusLine(s))
	}

	if len(s.Transcript) > l.transcript {
		fmt.Fprint(l.w, s.Transcript[l.transcript:])
		l.transcript = len(s.Transcript)
		l.midLine = true
	}

	for _, in := range s.Insights[min(l.insights, len(s.Insights)):] {
		l.breakLine()
		fmt.Fprintln(l.w, insightLine(in))
	}
	l.insights = len(s.Insights)

	if notice != l.notice {
		l.notice = notice
		if notice != "" {
			l.breakLine()
			fmt.Fprintln(l.w, noticeStyle.Render("! "+notice))
		}
	}
}

// breakLine ends a partially printed transcript line before block output.
func (l *Live) breakLine() {
	if l.midLine {
		fmt.Fprintln(l.w)
		l.midLine = false
	}
}

// Finish terminates any partial transcript line.
func (l *Live) Finish() {
	l.breakLine()
}

// Summary prints the full session once it has finished.
func Summary(w io.Writer, s session.Session) {
	fmt.Fprintln(w, statusLine(s))
	if text := strings.TrimSpace(s.Transcript); text != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, text)
	}
	if len(s.Insights) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Insights"))
		for _, in := range s.Insights {
			fmt.Fprintln(w, insightLine(in))
		}
	}
	if s.LastError != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, errorStyle.Render(s.LastError))
	}
}

// LevelMeter draws level in [0,1] as a bar width cells wide.
func LevelMeter(level float64, width int) string {
	if width <= 0 {
		return ""
	}
	level = max(0, min(level, 1))
	on := int(level*float64(width) + 0.5)
	return levelOnStyle.Render(strings.Repeat("█", on)) +
		levelOffStyle.Render(strings.Repeat("░", width-on))
}

func statusLine(s session.Session) string {
	label := string(s.Status)
	switch s.Status {
	case fsm.StatusRecording:
		label = recordingStyle.Render("● " + label)
	case fsm.StatusDone:
		label = doneStyle.Render(label)
	case fsm.StatusError:
		label = errorStyle.Render(label)
	default:
		label = statusStyle.Render(label)
	}

	parts := []string{label}
	if s.ID != "" {
		parts = append(parts, statusStyle.Render(s.ID))
	}
	if s.DurationSec > 0 {
		parts = append(parts, statusStyle.Render((time.Duration(s.DurationSec) * time.Second).String()))
	}
	return strings.Join(parts, "  ")
}

func insightLine(in session.Insight) string {
	line := "  " + termStyle.Render(in.Term)
	if in.Subtype != "" {
		line += " " + subtypeStyle.Render("("+in.Subtype+")")
	}
	if in.Text != "" {
		line += " " + in.Text
	}
	return line
}
