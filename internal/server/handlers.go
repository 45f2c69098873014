package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/ding/internal/api"
	dinghttp "github.com/wolfeidau/ding/internal/http"
	"github.com/wolfeidau/ding/internal/lifecycle"
	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/store"
)

const maxBodyBytes = 64 * 1024

var errBadRequest = errors.New("bad request")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, api.HealthResponse{
		Status:        "healthy",
		Version:       s.cfg.Version,
		UptimeSeconds: time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	identity, err := s.identities.Register(r.Context(), req.OwnerID, req.Label, models.Preferences{
		Channels:      req.Channels,
		SMSRecipients: req.SMSRecipients,
		WebhookURL:    req.WebhookURL,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	dataURL, err := s.qr.DataURL(identity.CodeID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("code_id", identity.CodeID).
		Str("owner_id", identity.OwnerID).
		Msg("code registered")

	channels := identity.Preferences.Channels
	if channels == nil {
		channels = []models.ChannelName{}
	}

	writeJSON(w, r, http.StatusCreated, api.RegisterResponse{
		CodeID:       identity.CodeID,
		OwnerID:      identity.OwnerID,
		Label:        identity.Label,
		Channels:     channels,
		ScanURL:      s.qr.ScanURL(identity.CodeID),
		ImageURL:     "/qr-codes/" + identity.CodeID + ".png",
		ImageDataURL: dataURL,
		CreatedAt:    identity.CreatedAt,
	})
}

func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request) {
	codeID, ok := strings.CutSuffix(r.PathValue("file"), ".png")
	if !ok || codeID == "" {
		writeError(w, r, fmt.Errorf("%w: expected <code_id>.png", errBadRequest))
		return
	}

	if _, err := s.identities.Resolve(r.Context(), codeID); err != nil {
		writeError(w, r, err)
		return
	}

	png, err := s.qr.PNG(codeID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// codes never change once issued
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req api.ScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.CodeID) == "" {
		writeError(w, r, fmt.Errorf("%w: code_id is required", errBadRequest))
		return
	}

	session, err := s.controller.CreateSession(r.Context(), req.CodeID, models.Visitor{
		DeviceID: req.ScannerDeviceID,
		Location: req.ScannerLocation,
		IP:       dinghttp.ClientIPFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, api.ScanResponse{
		SessionID:                session.SessionID,
		OwnerID:                  session.OwnerID,
		State:                    session.State,
		EstimatedResponseSeconds: session.EstimatedResponseSeconds,
		Message:                  "QR code scanned successfully. Door owner has been notified.",
	})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req api.RespondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, r, fmt.Errorf("%w: session_id is required", errBadRequest))
		return
	}

	session, err := s.controller.ApplyResponse(r.Context(), req.SessionID, models.Response{
		Type:    req.ResponseType,
		Message: req.CustomMessage,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, api.RespondResponse{
		Session:        api.SessionFromModel(session),
		Message:        responseMessage(session.Response),
		VideoSessionID: session.Response.VideoSessionID,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.controller.GetSession(r.Context(), r.PathValue("session_id"))
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %s", store.ErrSessionNotFound, r.PathValue("session_id")))
		return
	}

	writeJSON(w, r, http.StatusOK, api.SessionFromModel(session))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		writeError(w, r, fmt.Errorf("%w: owner_id query parameter is required", errBadRequest))
		return
	}

	sessions, err := s.controller.ListSessions(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := api.ListSessionsResponse{Sessions: make([]api.Session, 0, len(sessions))}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, api.SessionFromModel(session))
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// responseMessage is the human readable result shown to the visitor.
func responseMessage(resp *models.Response) string {
	if resp == nil {
		return ""
	}
	switch resp.Type {
	case models.ResponseAccept:
		return "Ding accepted. Video chat session starting."
	case models.ResponseReject:
		return "Door owner declined the request"
	case models.ResponseBusy:
		return "Door owner is busy, please try later"
	case models.ResponseCustom:
		if resp.Message != "" {
			return resp.Message
		}
		return "Custom response"
	}
	return "Unknown response"
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps domain errors onto status codes and the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	} else {
		zerolog.Ctx(r.Context()).Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	writeJSON(w, r, status, body)
}

func errorResponse(err error) (int, api.ErrorResponse) {
	var terr *lifecycle.TransitionError

	switch {
	case errors.As(err, &terr):
		return http.StatusConflict, api.ErrorResponse{
			Error:   api.CodeInvalidTransition,
			Message: err.Error(),
			Detail:  string(terr.Reason),
		}
	case errors.Is(err, lifecycle.ErrUnknownCode), errors.Is(err, store.ErrCodeNotFound):
		return http.StatusNotFound, api.ErrorResponse{Error: api.CodeUnknownCode, Message: err.Error()}
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, api.ErrorResponse{Error: api.CodeSessionNotFound, Message: err.Error()}
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrInvalidPreferences),
		errors.Is(err, lifecycle.ErrInvalidResponse):
		return http.StatusBadRequest, api.ErrorResponse{Error: api.CodeInvalidArgument, Message: err.Error()}
	}

	return http.StatusInternalServerError, api.ErrorResponse{Error: api.CodeInternal, Message: "internal server error"}
}
