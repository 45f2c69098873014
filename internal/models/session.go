package models

import (
	"maps"
	"time"
)

// SessionState is the lifecycle state of a scan session.
type SessionState string

const (
	SessionStateCreated   SessionState = "CREATED"
	SessionStateNotified  SessionState = "NOTIFIED"
	SessionStateResponded SessionState = "RESPONDED"
	SessionStateExpired   SessionState = "EXPIRED"
)

// IsTerminal returns true for states that can never be left.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateResponded || s == SessionStateExpired
}

// Outcome is the delivery result recorded for a single channel.
type Outcome string

const (
	OutcomePending   Outcome = "PENDING"
	OutcomeDelivered Outcome = "DELIVERED"
	OutcomeFailed    Outcome = "FAILED"
)

// ChannelOutcome is a channel's entry in the session outcome map.
type ChannelOutcome struct {
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResponseType is the owner's answer to a ding.
type ResponseType string

const (
	ResponseAccept ResponseType = "accept"
	ResponseReject ResponseType = "reject"
	ResponseBusy   ResponseType = "busy"
	ResponseCustom ResponseType = "custom"
)

// Valid reports whether the response type is one of the known answers.
func (r ResponseType) Valid() bool {
	switch r {
	case ResponseAccept, ResponseReject, ResponseBusy, ResponseCustom:
		return true
	}
	return false
}

// Response is the payload stored on a session when the owner answers.
type Response struct {
	Type           ResponseType `json:"response_type"`
	Message        string       `json:"custom_message,omitempty"`
	VideoSessionID string       `json:"video_session_id,omitempty"`
}

// Visitor carries what the scanning device told us about itself.
type Visitor struct {
	DeviceID string `json:"scanner_device_id,omitempty"`
	Location string `json:"scanner_location,omitempty"`
	IP       string `json:"scanner_ip,omitempty"`
}

// Session is one tracked occurrence of a scan.
type Session struct {
	SessionID string
	CodeID    string
	OwnerID   string
	State     SessionState
	Visitor   Visitor

	CreatedAt   time.Time
	NotifiedAt  *time.Time
	RespondedAt *time.Time
	ExpiredAt   *time.Time
	Deadline    *time.Time // set when the session enters NOTIFIED

	EstimatedResponseSeconds int

	Outcomes map[ChannelName]ChannelOutcome
	Response *Response
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.NotifiedAt = cloneTime(s.NotifiedAt)
	clone.RespondedAt = cloneTime(s.RespondedAt)
	clone.ExpiredAt = cloneTime(s.ExpiredAt)
	clone.Deadline = cloneTime(s.Deadline)
	clone.Outcomes = maps.Clone(s.Outcomes)
	if s.Response != nil {
		resp := *s.Response
		clone.Response = &resp
	}
	return &clone
}

// DeadlinePassed reports whether a NOTIFIED session's deadline is at or before now.
func (s *Session) DeadlinePassed(now time.Time) bool {
	return s.State == SessionStateNotified && s.Deadline != nil && !s.Deadline.After(now)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
