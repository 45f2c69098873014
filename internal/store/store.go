package store

import (
	"context"
	"errors"

	"github.com/wolfeidau/ding/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrCodeNotFound    = errors.New("code not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// IdentityStore maps scannable codes to owners and their notification preferences.
type IdentityStore interface {
	// Register generates a fresh code ID and stores the identity. Owners may hold many codes.
	Register(ctx context.Context, ownerID, label string, prefs models.Preferences) (models.Identity, error)

	// Resolve returns ErrCodeNotFound when the code was never registered.
	Resolve(ctx context.Context, codeID string) (models.Identity, error)
}

// SessionStore owns every scan session. Reads return copies; all writes go through Update,
// which serializes mutations per session.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// Update runs fn against the stored session while holding that session's lock and
	// returns a copy of the result. If fn returns an error nothing is kept.
	Update(ctx context.Context, sessionID string, fn func(s *models.Session) error) (*models.Session, error)

	// ListByState returns copies of every session currently in the given state.
	ListByState(ctx context.Context, state models.SessionState) ([]*models.Session, error)

	// ListByOwner returns copies of an owner's sessions, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Session, error)
}
