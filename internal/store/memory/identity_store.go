package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfeidau/ding/internal/idgen"
	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/store"
)

// IdentityStore implements store.IdentityStore using in-memory storage.
// Data is lost on restart.
type IdentityStore struct {
	mu sync.RWMutex

	identities map[string]models.Identity // code_id -> Identity
}

var _ store.IdentityStore = (*IdentityStore)(nil)

// NewIdentityStore creates a new in-memory identity registry.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		identities: make(map[string]models.Identity),
	}
}

// Register validates the preferences, generates a code ID and stores the identity.
func (s *IdentityStore) Register(ctx context.Context, ownerID, label string, prefs models.Preferences) (models.Identity, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return models.Identity{}, fmt.Errorf("%w: owner_id is required", models.ErrInvalidPreferences)
	}

	prefs = prefs.Normalize()
	if err := prefs.Validate(); err != nil {
		return models.Identity{}, err
	}

	identity := models.Identity{
		CodeID:      idgen.Code(),
		OwnerID:     ownerID,
		Label:       strings.TrimSpace(label),
		Preferences: prefs,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.identities[identity.CodeID]; exists {
		return models.Identity{}, errors.New("code id collision")
	}

	s.identities[identity.CodeID] = identity.Clone()

	return identity, nil
}

// Resolve returns the identity for a code.
func (s *IdentityStore) Resolve(ctx context.Context, codeID string) (models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, exists := s.identities[codeID]
	if !exists {
		return models.Identity{}, fmt.Errorf("%w: %s", store.ErrCodeNotFound, codeID)
	}

	return identity.Clone(), nil
}
