package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/gatekeeper/internal/apperror"
	"github.com/iliyamo/gatekeeper/internal/model"
	"github.com/iliyamo/gatekeeper/internal/repository"
	"github.com/iliyamo/gatekeeper/internal/utils"
)

// Session policies accepted by NewSessionRegistry.
const (
	PolicySingle = "single"
	PolicyMulti  = "multi"
)

// SessionRegistry owns refresh-token state.  Consume reports every miss
// (wrong, expired, rotated or revoked token) as the same
// InvalidRefreshToken error.
type SessionRegistry interface {
	// Rotate installs raw as a live refresh token for userID, valid for
	// ttlSeconds.  Fails with NotFound when the identity does not exist.
	Rotate(ctx context.Context, userID, raw string, ttlSeconds int) error
	// Consume resolves raw to its identity.
	Consume(ctx context.Context, raw string) (*model.User, error)
	// Revoke drops every live refresh token of userID.  Idempotent.
	Revoke(ctx context.Context, userID string) error
}

// NewSessionRegistry builds the registry for policy.  tokens is only used
// by the multi policy and may be nil otherwise.
func NewSessionRegistry(policy string, users repository.CredentialStore, tokens repository.RefreshTokenStore, hashAtRest bool) (SessionRegistry, error) {
	switch strings.ToLower(policy) {
	case "", PolicySingle:
		return NewSingleSessionRegistry(users, hashAtRest), nil
	case PolicyMulti:
		if tokens == nil {
			return nil, errors.New("multi session policy needs a refresh token store")
		}
		return NewMultiSessionRegistry(users, tokens), nil
	default:
		return nil, fmt.Errorf("unknown session policy %q", policy)
	}
}

// SingleSessionRegistry keeps one refresh token per identity in the
// identity's own slot, so rotating replaces whatever was there.
//
// Rotate and Consume read and write the slot through the store without an
// application lock.  Two concurrent refreshes of the same identity race at
// the store and the last write wins; the loser's new token is silently
// superseded.
type SingleSessionRegistry struct {
	users      repository.CredentialStore
	hashAtRest bool
	now        func() time.Time
}

func NewSingleSessionRegistry(users repository.CredentialStore, hashAtRest bool) *SingleSessionRegistry {
	return &SingleSessionRegistry{users: users, hashAtRest: hashAtRest, now: time.Now}
}

func (r *SingleSessionRegistry) stored(raw string) string {
	if r.hashAtRest {
		return utils.HashRefreshRaw(raw)
	}
	return raw
}

func (r *SingleSessionRegistry) Rotate(ctx context.Context, userID, raw string, ttlSeconds int) error {
	if raw == "" || ttlSeconds <= 0 {
		return apperror.Internal("rotate with empty token or ttl", nil)
	}
	u, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return lookupErr(err, "identity not found")
	}
	u.SetSession(r.stored(raw), r.now().UTC().Add(time.Duration(ttlSeconds)*time.Second))
	if err := r.users.Save(ctx, u); err != nil {
		return writeErr("save session", err)
	}
	return nil
}

func (r *SingleSessionRegistry) Consume(ctx context.Context, raw string) (*model.User, error) {
	if raw == "" {
		return nil, apperror.InvalidRefreshToken()
	}
	u, err := r.users.FindByRefreshToken(ctx, r.stored(raw), r.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.InvalidRefreshToken()
	}
	if err != nil {
		return nil, apperror.Store("find session", err)
	}
	if !u.IsActive {
		return nil, apperror.InvalidRefreshToken()
	}
	return u, nil
}

func (r *SingleSessionRegistry) Revoke(ctx context.Context, userID string) error {
	u, err := r.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperror.Store("find identity", err)
	}
	if u.RefreshToken == "" && u.RefreshTokenExpiresAt == nil {
		return nil
	}
	u.SetSession("", time.Time{})
	if err := r.users.Save(ctx, u); err != nil {
		return writeErr("clear session", err)
	}
	return nil
}

// MultiSessionRegistry keeps one row per session in the refresh token
// table, so an identity can stay logged in on several devices.  Tokens are
// always stored hashed.  Consuming a token revokes its row; a second
// consume of the same token loses the revoke and fails.
type MultiSessionRegistry struct {
	users  repository.CredentialStore
	tokens repository.RefreshTokenStore
	now    func() time.Time
}

func NewMultiSessionRegistry(users repository.CredentialStore, tokens repository.RefreshTokenStore) *MultiSessionRegistry {
	return &MultiSessionRegistry{users: users, tokens: tokens, now: time.Now}
}

func (r *MultiSessionRegistry) Rotate(ctx context.Context, userID, raw string, ttlSeconds int) error {
	if raw == "" || ttlSeconds <= 0 {
		return apperror.Internal("rotate with empty token or ttl", nil)
	}
	if _, err := r.users.FindByID(ctx, userID); err != nil {
		return lookupErr(err, "identity not found")
	}
	exp := r.now().UTC().Add(time.Duration(ttlSeconds) * time.Second)
	if err := r.tokens.StoreRefresh(ctx, userID, utils.HashRefreshRaw(raw), exp); err != nil {
		return writeErr("store refresh token", err)
	}
	return nil
}

func (r *MultiSessionRegistry) Consume(ctx context.Context, raw string) (*model.User, error) {
	if raw == "" {
		return nil, apperror.InvalidRefreshToken()
	}
	hash := utils.HashRefreshRaw(raw)
	userID, err := r.tokens.ValidateRefresh(ctx, hash, r.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.InvalidRefreshToken()
	}
	if err != nil {
		return nil, apperror.Store("validate refresh token", err)
	}
	won, err := r.tokens.RevokeByHash(ctx, hash)
	if err != nil {
		return nil, apperror.Store("revoke refresh token", err)
	}
	if !won {
		return nil, apperror.InvalidRefreshToken()
	}
	u, err := r.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.InvalidRefreshToken()
	}
	if err != nil {
		return nil, apperror.Store("find identity", err)
	}
	if !u.IsActive {
		return nil, apperror.InvalidRefreshToken()
	}
	return u, nil
}

func (r *MultiSessionRegistry) Revoke(ctx context.Context, userID string) error {
	if err := r.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return apperror.Store("revoke sessions", err)
	}
	return nil
}

func lookupErr(err error, notFoundMsg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.NotFound(notFoundMsg)
	}
	return apperror.Store("find identity", err)
}

// writeErr classifies a failed store write.  Uniqueness violations are
// conflicts the caller can act on; anything else is a store failure.
func writeErr(msg string, err error) error {
	if errors.Is(err, repository.ErrEmailExists) || errors.Is(err, repository.ErrConflict) {
		return apperror.Conflict(msg, err)
	}
	return apperror.Store(msg, err)
}
