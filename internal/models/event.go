package models

import "time"

// EventType names a push event delivered to an owner's live connections.
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventSessionNotified  EventType = "session.notified"
	EventSessionResponded EventType = "session.responded"
	EventSessionExpired   EventType = "session.expired"
	EventDingRequest      EventType = "ding.request"
	EventHeartbeat        EventType = "heartbeat"
	EventConnected        EventType = "connected" // first frame on a new live connection
)

// Event is the JSON frame pushed to owners and emitted to the event sink.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	OwnerID   string       `json:"owner_id,omitempty"`
	State     SessionState `json:"state,omitempty"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Data      any          `json:"data,omitempty"`
}

// TransitionEvent builds the event announcing a session's current state.
func TransitionEvent(s *Session, at time.Time) Event {
	var typ EventType
	switch s.State {
	case SessionStateCreated:
		typ = EventSessionCreated
	case SessionStateNotified:
		typ = EventSessionNotified
	case SessionStateResponded:
		typ = EventSessionResponded
	case SessionStateExpired:
		typ = EventSessionExpired
	}

	ev := Event{
		Type:      typ,
		SessionID: s.SessionID,
		OwnerID:   s.OwnerID,
		State:     s.State,
		Timestamp: at,
	}
	if s.Response != nil {
		ev.Data = s.Response
	}
	return ev
}
