package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/gatekeeper/internal/model"
)

// MemoryUserStore is a CredentialStore held in process memory.  It backs
// DB_DRIVER=memory and the tests.  A single mutex makes the email check and
// the write one atomic step.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*model.User
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

var _ CredentialStore = (*MemoryUserStore)(nil)

func (s *MemoryUserStore) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok || u.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.byID[id]
	if u == nil || u.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryUserStore) FindByRefreshToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if u.DeletedAt != nil || u.RefreshToken != token || u.RefreshTokenExpiresAt == nil {
			continue
		}
		if u.RefreshTokenExpiresAt.After(now) {
			return u.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) Save(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = normalizeEmail(u.Email)
	if owner, taken := s.byEmail[u.Email]; taken && owner != u.ID {
		return ErrEmailExists
	}
	now := s.now().UTC()
	prev, exists := s.byID[u.ID]
	if exists && prev.DeletedAt != nil {
		return ErrConflict
	}
	if exists {
		if prev.Email != u.Email {
			delete(s.byEmail, prev.Email)
		}
		u.CreatedAt = prev.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.byID[u.ID] = u.Clone()
	s.byEmail[u.Email] = u.ID
	return nil
}

// SoftDelete hides the user from lookups.  Its email stays reserved, as the
// unique index on the MySQL table does.
func (s *MemoryUserStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok || u.DeletedAt != nil {
		return ErrNotFound
	}
	now := s.now().UTC()
	u.DeletedAt = &now
	u.SetSession("", time.Time{})
	return nil
}

func (s *MemoryUserStore) Ping(context.Context) error { return nil }

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// tokenSweepEvery is the number of writes between sweeps of dead rows.
const tokenSweepEvery = 256

// MemoryTokenStore is the in-memory RefreshTokenStore.  Revoked and
// expired rows are dropped periodically on write; lookups treat a dropped
// row like a revoked one.
type MemoryTokenStore struct {
	mu     sync.Mutex
	rows   map[string]*model.RefreshToken
	seq    uint64
	writes int
	now    func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{rows: make(map[string]*model.RefreshToken), now: time.Now}
}

var _ RefreshTokenStore = (*MemoryTokenStore)(nil)

func (s *MemoryTokenStore) StoreRefresh(_ context.Context, userID, tokenHash string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.writes++
	if s.writes%tokenSweepEvery == 0 {
		s.sweep(now)
	}
	if _, dup := s.rows[tokenHash]; dup {
		return ErrConflict
	}
	s.seq++
	s.rows[tokenHash] = &model.RefreshToken{
		ID: s.seq, UserID: userID, TokenHash: tokenHash, ExpiresAt: exp, CreatedAt: now,
	}
	return nil
}

func (s *MemoryTokenStore) ValidateRefresh(_ context.Context, tokenHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[tokenHash]
	if !ok || row.RevokedAt != nil || !row.ExpiresAt.After(now) {
		return "", ErrNotFound
	}
	return row.UserID, nil
}

func (s *MemoryTokenStore) RevokeByHash(_ context.Context, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[tokenHash]
	if !ok || row.RevokedAt != nil {
		return false, nil
	}
	now := s.now().UTC()
	row.RevokedAt = &now
	return true, nil
}

func (s *MemoryTokenStore) RevokeAllForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, row := range s.rows {
		if row.UserID == userID && row.RevokedAt == nil {
			row.RevokedAt = &now
		}
	}
	return nil
}

// sweep drops revoked and expired rows.  s.mu must be held.
func (s *MemoryTokenStore) sweep(now time.Time) {
	for k, row := range s.rows {
		if row.RevokedAt != nil || !row.ExpiresAt.After(now) {
			delete(s.rows, k)
		}
	}
}
