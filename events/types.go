package events

import "time"

// EventType identifies the kind of a relay event.
type EventType string

// Relay event types published on the bus.
const (
	EventSessionStarted    EventType = "session.started"
	EventContentOpened     EventType = "content.opened"
	EventContentClosed     EventType = "content.closed"
	EventAudioFrameReady   EventType = "audio.frame_ready"
	EventToolInvoked       EventType = "tool.invoked"
	EventTranscriptUpdated EventType = "transcript.updated"
	EventTransferTimedOut  EventType = "transfer.timed_out"
	EventUsageReported     EventType = "usage.reported"
	EventSessionEnded      EventType = "session.ended"
)

// Event is a single observation emitted by the relay core. Collaborators
// subscribe to typed events instead of registering ad hoc callbacks.
type Event struct {
	Type      EventType
	SessionID string
	Timestamp time.Time
	Data      map[string]interface{}
}

// New creates an event stamped with the current time.
func New(eventType EventType, sessionID string, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
