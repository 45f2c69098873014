package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/store"
)

// sessionRecord pairs a session with the lock that serializes its mutations.
type sessionRecord struct {
	mu      sync.Mutex
	session *models.Session
}

// SessionStore implements store.SessionStore using in-memory storage.
// The table lock only guards membership; each session has its own lock, so writers on
// different sessions never wait on each other.
type SessionStore struct {
	mu sync.RWMutex

	sessions map[string]*sessionRecord // session_id -> record
}

var _ store.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionRecord),
	}
}

// Create stores a new session. Session IDs are never reused.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; exists {
		return fmt.Errorf("%w: %s", store.ErrSessionExists, session.SessionID)
	}

	// Clone to avoid external modifications
	s.sessions[session.SessionID] = &sessionRecord{session: session.Clone()}

	return nil
}

// Get retrieves a copy of a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.session.Clone(), nil
}

// Update applies fn to a working copy under the session lock and commits it when fn succeeds.
func (s *SessionStore) Update(ctx context.Context, sessionID string, fn func(s *models.Session) error) (*models.Session, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	working := rec.session.Clone()
	if err := fn(working); err != nil {
		return rec.session.Clone(), err
	}

	rec.session = working

	return working.Clone(), nil
}

// ListByState returns copies of all sessions in the given state.
func (s *SessionStore) ListByState(ctx context.Context, state models.SessionState) ([]*models.Session, error) {
	return s.filter(func(session *models.Session) bool {
		return session.State == state
	}), nil
}

// ListByOwner returns copies of an owner's sessions, newest first.
func (s *SessionStore) ListByOwner(ctx context.Context, ownerID string) ([]*models.Session, error) {
	sessions := s.filter(func(session *models.Session) bool {
		return session.OwnerID == ownerID
	})

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	return sessions, nil
}

func (s *SessionStore) record(sessionID string) (*sessionRecord, error) {
	s.mu.RLock()
	rec, exists := s.sessions[sessionID]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrSessionNotFound, sessionID)
	}
	return rec, nil
}

// filter snapshots the record set, then inspects each session under its own lock so a
// long scan never blocks the whole table.
func (s *SessionStore) filter(match func(*models.Session) bool) []*models.Session {
	s.mu.RLock()
	records := make([]*sessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	var out []*models.Session
	for _, rec := range records {
		rec.mu.Lock()
		if match(rec.session) {
			out = append(out, rec.session.Clone())
		}
		rec.mu.Unlock()
	}
	return out
}
