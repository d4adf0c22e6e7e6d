package websocket

import (
	"time"

	"github.com/ZerkerEOD/krakenwifi/internal/events"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client -> Server messages
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"

	// Server -> Client messages
	TypeEvent MessageType = "event"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message. Subscribe and unsubscribe carry a JobID; an empty
// JobID on subscribe means every job.
type Message struct {
	Type      MessageType   `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	JobID     string        `json:"job_id,omitempty"`
	Event     *events.Event `json:"event,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func eventMessage(ev events.Event) *Message {
	return &Message{Type: TypeEvent, Timestamp: time.Now(), JobID: ev.JobID, Event: &ev}
}

func errorMessage(msg string) *Message {
	return &Message{Type: TypeError, Timestamp: time.Now(), Error: msg}
}
