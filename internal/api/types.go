// Package api defines the JSON bodies exchanged between the ding server and its clients.
package api

import (
	"time"

	"github.com/wolfeidau/ding/internal/models"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalidArgument   = "invalid_argument"
	CodeUnknownCode       = "unknown_code"
	CodeSessionNotFound   = "session_not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeInternal          = "internal"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type RegisterRequest struct {
	OwnerID       string               `json:"owner_id"`
	Label         string               `json:"label,omitempty"`
	Channels      []models.ChannelName `json:"channels"`
	SMSRecipients []string             `json:"sms_recipients,omitempty"`
	WebhookURL    string               `json:"webhook_url,omitempty"`
}

type RegisterResponse struct {
	CodeID       string               `json:"code_id"`
	OwnerID      string               `json:"owner_id"`
	Label        string               `json:"label,omitempty"`
	Channels     []models.ChannelName `json:"channels"`
	ScanURL      string               `json:"scan_url"`
	ImageURL     string               `json:"image_url"`
	ImageDataURL string               `json:"image_data_url"`
	CreatedAt    time.Time            `json:"created_at"`
}

type ScanRequest struct {
	CodeID          string `json:"code_id"`
	ScannerDeviceID string `json:"scanner_device_id,omitempty"`
	ScannerLocation string `json:"scanner_location,omitempty"`
}

type ScanResponse struct {
	SessionID                string              `json:"session_id"`
	OwnerID                  string              `json:"owner_id"`
	State                    models.SessionState `json:"state"`
	EstimatedResponseSeconds int                 `json:"estimated_response_seconds"`
	Message                  string              `json:"message"`
}

type RespondRequest struct {
	SessionID     string              `json:"session_id"`
	ResponseType  models.ResponseType `json:"response_type"`
	CustomMessage string              `json:"custom_message,omitempty"`
}

type RespondResponse struct {
	Session        Session `json:"session"`
	Message        string  `json:"message"`
	VideoSessionID string  `json:"video_session_id,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Session is the wire form of a session snapshot.
type Session struct {
	SessionID                string                                       `json:"session_id"`
	CodeID                   string                                       `json:"code_id"`
	OwnerID                  string                                       `json:"owner_id"`
	State                    models.SessionState                          `json:"state"`
	Visitor                  models.Visitor                               `json:"visitor"`
	CreatedAt                time.Time                                    `json:"created_at"`
	NotifiedAt               *time.Time                                   `json:"notified_at,omitempty"`
	RespondedAt              *time.Time                                   `json:"responded_at,omitempty"`
	ExpiredAt                *time.Time                                   `json:"expired_at,omitempty"`
	Deadline                 *time.Time                                   `json:"deadline,omitempty"`
	EstimatedResponseSeconds int                                          `json:"estimated_response_seconds"`
	Outcomes                 map[models.ChannelName]models.ChannelOutcome `json:"outcomes"`
	Response                 *models.Response                             `json:"response,omitempty"`
}

// SessionFromModel converts a snapshot for the wire.
func SessionFromModel(s *models.Session) Session {
	outcomes := s.Outcomes
	if outcomes == nil {
		outcomes = map[models.ChannelName]models.ChannelOutcome{}
	}
	return Session{
		SessionID:                s.SessionID,
		CodeID:                   s.CodeID,
		OwnerID:                  s.OwnerID,
		State:                    s.State,
		Visitor:                  s.Visitor,
		CreatedAt:                s.CreatedAt,
		NotifiedAt:               s.NotifiedAt,
		RespondedAt:              s.RespondedAt,
		ExpiredAt:                s.ExpiredAt,
		Deadline:                 s.Deadline,
		EstimatedResponseSeconds: s.EstimatedResponseSeconds,
		Outcomes:                 outcomes,
		Response:                 s.Response,
	}
}
