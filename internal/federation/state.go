package federation

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultStateTTL bounds the time between redirect and callback.
const DefaultStateTTL = 10 * time.Minute

// StateStore issues one-time OAuth state values.  States live in process
// memory, so the callback must reach the instance that started the flow.
type StateStore struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewStateStore starts the background expiry loop; call Stop when done.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()
	return &StateStore{cache: cache}
}

// Issue returns a fresh random state.
func (s *StateStore) Issue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(buf)
	s.cache.Set(state, struct{}{}, ttlcache.DefaultTTL)
	return state, nil
}

// Consume accepts state once.  Unknown, expired and already consumed
// states fail with ErrStateMismatch.
func (s *StateStore) Consume(state string) error {
	if state == "" {
		return ErrStateMismatch
	}
	item, ok := s.cache.GetAndDelete(state)
	if !ok || item == nil || item.IsExpired() {
		return ErrStateMismatch
	}
	return nil
}

func (s *StateStore) Stop() { s.cache.Stop() }
