package models

const (
	EventContent  = "content"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one frame of the outbound stream.
type Event struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	ID        string `json:"id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
}

func ContentEvent(delta string) Event {
	return Event{Type: EventContent, Content: delta}
}

func CompleteEvent(conversationID, messageID string) Event {
	return Event{Type: EventComplete, ID: conversationID, MessageID: messageID}
}

func ErrorEvent(message, details string) Event {
	return Event{Type: EventError, Error: message, Details: details}
}

func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
