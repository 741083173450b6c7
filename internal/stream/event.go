// Package stream is the bidirectional live-session channel to the backend:
// finalized transcript segments go out, transcript and insight events come in.
package stream

// EventType tags one StreamEvent variant.
type EventType string

const (
	TypeTranscriptChunk EventType = "transcript_chunk"
	TypeAIChunk         EventType = "ai_chunk"
	TypeDone            EventType = "done"
	TypeError           EventType = "error"
	TypeFinalize        EventType = "finalize"
)

// Inbound reports whether t is a variant the backend may send.
func (t EventType) Inbound() bool {
	switch t {
	case TypeTranscriptChunk, TypeAIChunk, TypeDone, TypeError:
		return true
	default:
		return false
	}
}

// Event is one message on the live channel, in either direction.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Subtype string    `json:"subtype,omitempty"`
	Term    string    `json:"term,omitempty"`
	Message string    `json:"message,omitempty"`
}

func TranscriptChunk(text string) Event {
	return Event{Type: TypeTranscriptChunk, Text: text}
}

func AIChunk(subtype, term, text string) Event {
	return Event{Type: TypeAIChunk, Subtype: subtype, Term: term, Text: text}
}

func Done() Event {
	return Event{Type: TypeDone}
}

func Error(message string) Event {
	return Event{Type: TypeError, Message: message}
}
