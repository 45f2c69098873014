package lifecycle

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/ding/internal/models"
)

var (
	ErrUnknownCode       = errors.New("unknown code")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidResponse   = errors.New("invalid response")
)

// Reason explains why a response was refused.
type Reason string

const (
	ReasonNotReady         Reason = "not_ready"         // notification has not gone out yet
	ReasonAlreadyResponded Reason = "already_responded" // a response was already applied
	ReasonExpired          Reason = "expired"           // the deadline passed first
)

// TransitionError is returned when a response arrives for a session that is not NOTIFIED.
// It matches ErrInvalidTransition with errors.Is.
type TransitionError struct {
	SessionID string
	State     models.SessionState
	Reason    Reason
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: session %s is %s (%s)", e.SessionID, e.State, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func transitionError(s *models.Session) *TransitionError {
	reason := ReasonNotReady
	switch s.State {
	case models.SessionStateResponded:
		reason = ReasonAlreadyResponded
	case models.SessionStateExpired:
		reason = ReasonExpired
	}
	return &TransitionError{SessionID: s.SessionID, State: s.State, Reason: reason}
}
