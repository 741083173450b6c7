// Package fsm holds the lecture session lifecycle table.
package fsm

import "fmt"

type Status string

type Event string

const (
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusUploading    Status = "uploading"
	StatusTranscribing Status = "transcribing"
	StatusDone         Status = "done"
	StatusSaving       Status = "saving"
	StatusError        Status = "error"
)

const (
	EventRecord      Event = "record"
	EventUpload      Event = "upload"
	EventStop        Event = "stop"
	EventStopped     Event = "stopped"
	EventTranscribed Event = "transcribed"
	EventSave        Event = "save"
	EventSaved       Event = "saved"
	EventFail        Event = "fail"
	EventReset       Event = "reset"
)

// Transition returns the status reached by applying event to current.
// Fail and reset are accepted from every known status.
func Transition(current Status, event Event) (Status, error) {
	if !current.Known() {
		return current, fmt.Errorf("unknown status %q", current)
	}

	switch event {
	case EventFail:
		return StatusError, nil
	case EventReset:
		return StatusIdle, nil
	}

	switch current {
	case StatusIdle:
		switch event {
		case EventRecord:
			return StatusRecording, nil
		case EventUpload:
			return StatusUploading, nil
		}
	case StatusRecording:
		if event == EventStop {
			return StatusTranscribing, nil
		}
	case StatusTranscribing:
		if event == EventStopped {
			return StatusDone, nil
		}
	case StatusUploading:
		if event == EventTranscribed {
			return StatusDone, nil
		}
	case StatusDone, StatusError:
		switch event {
		case EventRecord:
			return StatusRecording, nil
		case EventUpload:
			return StatusUploading, nil
		case EventSave:
			return StatusSaving, nil
		}
	case StatusSaving:
		if event == EventSaved {
			return StatusIdle, nil
		}
	}
	return current, invalidTransition(current, event)
}

// Known reports whether s is one of the lifecycle statuses.
func (s Status) Known() bool {
	switch s {
	case StatusIdle, StatusRecording, StatusUploading, StatusTranscribing, StatusDone, StatusSaving, StatusError:
		return true
	default:
		return false
	}
}

// Active reports whether a session in s still owns producers or requests.
func (s Status) Active() bool {
	switch s {
	case StatusRecording, StatusUploading, StatusTranscribing, StatusSaving:
		return true
	default:
		return false
	}
}

func invalidTransition(status Status, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", status, event)
}
