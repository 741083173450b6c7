// Package session owns the single live transcription session: its lifecycle,
// the reduction of live channel events into it, and the start/stop
// choreography across capture, recognition, recording, and transport.
package session

import (
	"errors"
	"time"

	"github.com/rbright/pyronotes/internal/backend"
	"github.com/rbright/pyronotes/internal/drafts"
	"github.com/rbright/pyronotes/internal/fsm"
	"github.com/rbright/pyronotes/internal/ipc"
)

var (
	// ErrSessionActive rejects a start, save, or restore while another session is in flight.
	ErrSessionActive = errors.New("a session is already in progress")
	// ErrNoSession means the operation needs a session and none exists.
	ErrNoSession = errors.New("no session")
	// ErrTitleRequired rejects a save without a lecture title.
	ErrTitleRequired = errors.New("lecture title is required")
)

// Source says how a session's audio arrived.
type Source string

const (
	SourceLive   Source = "live"
	SourceUpload Source = "upload"
)

// Insight is one ai_chunk payload.
type Insight struct {
	Subtype string
	Term    string
	Text    string
}

// Session is the one transcription session the controller owns.
type Session struct {
	ID          string
	Status      fsm.Status
	Source      Source
	Transcript  string
	Insights    []Insight
	DurationSec int
	StartTime   time.Time
	LastError   string
}

func (s *Session) clone() *Session {
	next := *s
	next.Insights = append([]Insight(nil), s.Insights...)
	return &next
}

func (s *Session) draft() drafts.Draft {
	insights := make([]backend.Insight, 0, len(s.Insights))
	for _, in := range s.Insights {
		insights = append(insights, backend.Insight{Subtype: in.Subtype, Term: in.Term, Text: in.Text})
	}
	return drafts.Draft{
		ID:          s.ID,
		Source:      string(s.Source),
		Status:      string(s.Status),
		Transcript:  s.Transcript,
		Insights:    insights,
		DurationSec: s.DurationSec,
		StartedAt:   s.StartTime,
		LastError:   s.LastError,
	}
}

func fromDraft(d drafts.Draft) *Session {
	status := fsm.Status(d.Status)
	if status != fsm.StatusError {
		status = fsm.StatusDone
	}
	return &Session{
		ID:          d.ID,
		Status:      status,
		Source:      Source(d.Source),
		Transcript:  d.Transcript,
		Insights:    fromBackendInsights(d.Insights),
		DurationSec: d.DurationSec,
		StartTime:   d.StartedAt,
		LastError:   d.LastError,
	}
}

func fromBackendInsights(in []backend.Insight) []Insight {
	if len(in) == 0 {
		return nil
	}
	out := make([]Insight, 0, len(in))
	for _, item := range in {
		out = append(out, Insight{Subtype: item.Subtype, Term: item.Term, Text: item.Text})
	}
	return out
}

func ipcInsights(in []Insight) []ipc.Insight {
	if len(in) == 0 {
		return nil
	}
	out := make([]ipc.Insight, 0, len(in))
	for _, item := range in {
		out = append(out, ipc.Insight{Subtype: item.Subtype, Term: item.Term, Text: item.Text})
	}
	return out
}
