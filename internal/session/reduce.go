package session

import (
	"github.com/rbright/pyronotes/internal/fsm"
	"github.com/rbright/pyronotes/internal/stream"
)

// Reduce folds one live channel event into s and returns the resulting
// session. s is never modified. A nil session stays nil, and event types it
// does not know return s unchanged.
func Reduce(s *Session, ev stream.Event) *Session {
	if s == nil {
		return nil
	}

	switch ev.Type {
	case stream.TypeTranscriptChunk:
		if ev.Text == "" {
			return s
		}
		next := s.clone()
		next.Transcript += ev.Text
		return next
	case stream.TypeAIChunk:
		next := s.clone()
		next.Insights = append(next.Insights, Insight{Subtype: ev.Subtype, Term: ev.Term, Text: ev.Text})
		return next
	case stream.TypeDone:
		if s.Status == fsm.StatusDone {
			return s
		}
		next := s.clone()
		next.Status = fsm.StatusDone
		return next
	case stream.TypeError:
		next := s.clone()
		next.LastError = ev.Message
		if !survivesError(s.Status) {
			next.Status = fsm.StatusError
		}
		return next
	default:
		return s
	}
}

// survivesError reports statuses in which an error event is only recorded.
func survivesError(status fsm.Status) bool {
	switch status {
	case fsm.StatusRecording, fsm.StatusTranscribing, fsm.StatusDone:
		return true
	default:
		return false
	}
}
