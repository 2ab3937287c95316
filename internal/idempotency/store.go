// Package idempotency replays API responses for repeated request IDs so a
// retried submission cannot create a second claim.
package idempotency

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const DefaultTTL = 15 * time.Minute

// StoredResponse is the response snapshot replayed on a duplicate request.
type StoredResponse struct {
	Status int
	Body   []byte
}

type Store struct {
	cache *gocache.Cache
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: gocache.New(ttl, 2*ttl)}
}

func (s *Store) Get(key string) (StoredResponse, bool) {
	if key == "" {
		return StoredResponse{}, false
	}
	value, ok := s.cache.Get(key)
	if !ok {
		return StoredResponse{}, false
	}
	resp, ok := value.(StoredResponse)
	return resp, ok
}

func (s *Store) Set(key string, resp StoredResponse) {
	if key == "" {
		return
	}
	s.cache.SetDefault(key, resp)
}
