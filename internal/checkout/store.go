package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-bizops/internal/cache"
)

// ErrSessionNotFound indicates the session expired, was submitted or never existed.
var ErrSessionNotFound = errors.New("checkout: session not found")

// Store keeps checkout sessions as JSON in Redis. Every write refreshes the TTL.
type Store struct {
	json *cache.JSON
}

// NewStore builds a session store with the given TTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Store{json: cache.NewJSON(client, ttl)}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}
	var sess Session
	ok, err := s.json.Get(ctx, cache.KeySession(ctx, id), &sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

// Save writes sess.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	return s.json.Set(ctx, cache.KeySession(ctx, sess.ID), sess)
}

// Delete removes a session and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	return s.json.Delete(ctx, cache.KeySession(ctx, id))
}
