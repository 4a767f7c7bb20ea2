package application

import (
	"context"
	"sync"

	"github.com/AzielCF/az-crm/session/domain/session"
)

// OwnerCache resolves the user that owns a session id. Session ownership never
// changes, so entries are kept for the life of the process.
type OwnerCache struct {
	repo   session.ISessionRepository
	owners sync.Map
}

func NewOwnerCache(repo session.ISessionRepository) *OwnerCache {
	return &OwnerCache{repo: repo}
}

func (c *OwnerCache) OwnerOf(ctx context.Context, sessionID string) (string, error) {
	if v, ok := c.owners.Load(sessionID); ok {
		return v.(string), nil
	}
	s, err := c.repo.GetByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	c.owners.Store(sessionID, s.UserID)
	return s.UserID, nil
}

// Remember primes the cache for a session the caller just wrote.
func (c *OwnerCache) Remember(sessionID, userID string) {
	c.owners.Store(sessionID, userID)
}
