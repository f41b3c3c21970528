package entities

// Snapshot is the read-only view of the session handed to the presentation layer
type Snapshot struct {
	SessionID     string          `json:"session_id,omitempty"`
	State         ConnectionState `json:"state"`
	LastError     string          `json:"last_error,omitempty"`
	Messages      []Message       `json:"messages"`
	PendingInput  string          `json:"pending_input"`
	PendingOutput string          `json:"pending_output"`
	IsSpeaking    bool            `json:"is_speaking"`
	Volume        float64         `json:"volume"`
	Emotion       Emotion         `json:"emotion"`
	DroppedFrames int             `json:"dropped_frames"`
}
