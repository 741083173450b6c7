package ipc

// Commands the recording owner accepts.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
	CommandSave   = "save"
	CommandReset  = "reset"
)

// Known reports whether command is one the owner serves.
func Known(command string) bool {
	switch command {
	case CommandStatus, CommandStop, CommandSave, CommandReset:
		return true
	}
	return false
}

// Request is one command sent to the recording owner.
type Request struct {
	Command  string `json:"command"`
	Title    string `json:"title,omitempty"`
	FolderID string `json:"folder_id,omitempty"`
}

// Insight mirrors one ai_chunk for status output.
type Insight struct {
	Subtype string `json:"subtype"`
	Term    string `json:"term"`
	Text    string `json:"text"`
}

// Response is the owner's reply to a Request.
type Response struct {
	OK         bool      `json:"ok"`
	State      string    `json:"state,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Insights   []Insight `json:"insights,omitempty"`
	Level      float64   `json:"level,omitempty"`
}
