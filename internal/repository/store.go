package repository

import (
	"context"
	"time"

	"github.com/iliyamo/gatekeeper/internal/model"
)

// CredentialStore is keyed persistence for identities.  Lookups never return
// soft-deleted records.  Returned users are copies; mutate and Save them to
// persist changes.
type CredentialStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// FindByRefreshToken matches the stored session value and requires its
	// expiry to be strictly after now.
	FindByRefreshToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	// Save inserts or updates u by ID.
	Save(ctx context.Context, u *model.User) error
	SoftDelete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// RefreshTokenStore keeps hashed refresh tokens in their own table, one row
// per session.  It backs the multi-session policy.
type RefreshTokenStore interface {
	StoreRefresh(ctx context.Context, userID, tokenHash string, exp time.Time) error
	// ValidateRefresh returns the owner of a non-revoked, non-expired token.
	ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (string, error)
	// RevokeByHash reports whether a live row was revoked by this call.
	RevokeByHash(ctx context.Context, tokenHash string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) error
}
