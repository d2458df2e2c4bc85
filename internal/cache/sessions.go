package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/storage"
)

const sessionPrefix = "chatgate:session:"

// SessionStore хранит сессии в redis. Ключ живёт до expires_at сессии.
type SessionStore struct {
	cache *Cache
	now   func() time.Time
}

// NewSessionStore создает SessionStore.
func NewSessionStore(c *Cache) *SessionStore {
	return &SessionStore{cache: c, now: time.Now}
}

// CreateSession сохраняет сессию. Уже истёкшая сессия не сохраняется.
func (s *SessionStore) CreateSession(ctx context.Context, session models.Session) error {
	const op = "cache.CreateSession"
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.cache.Set(ctx, sessionPrefix+session.ID, session, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetSession возвращает сессию или storage.ErrNotFound.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const op = "cache.GetSession"
	var session models.Session
	found, err := s.cache.Get(ctx, sessionPrefix+id, &session)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return &session, nil
}

// DeleteSession удаляет сессию. Отсутствие сессии не ошибка.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	const op = "cache.DeleteSession"
	if err := s.cache.Invalidate(ctx, sessionPrefix+id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CountSessions считает сессии, не истёкшие к моменту now.
func (s *SessionStore) CountSessions(ctx context.Context, now time.Time) (int, error) {
	const op = "cache.CountSessions"
	var (
		count  int
		cursor uint64
	)
	for {
		keys, next, err := s.cache.Db.Scan(ctx, cursor, sessionPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		for _, key := range keys {
			var session models.Session
			found, err := s.cache.Get(ctx, key, &session)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", op, err)
			}
			if found && !session.Expired(now) {
				count++
			}
		}
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}
