package relay

import (
	"llmproxy/internal/models"
	"strings"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleting
	StateSuccess
	StateError
	StateTimeout
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	case StateTimeout:
		return "timeout"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s >= StateSuccess
}

var transitions = map[State][]State{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateStreaming, StateCompleting, StateError, StateTimeout, StateCancelled},
	StateStreaming:  {StateCompleting, StateError, StateTimeout, StateCancelled},
	StateCompleting: {StateSuccess, StateError},
}

// Session is the per-request state owned by the relay goroutine. It is handed
// to the finish callback only while in StateCompleting.
type Session struct {
	ConversationID string
	Usage          *models.Usage
	LastActivity   time.Time

	content strings.Builder
	state   State
}

func (s *Session) Content() string {
	return s.content.String()
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Terminal() bool {
	return s.state.Terminal()
}

func (s *Session) transition(to State) bool {
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return true
		}
	}
	return false
}
