package model

import "time"

// Role drives authorization decisions on gateway routes.
type Role string

const (
    RoleAdmin Role = "admin"
    RoleUser  Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleUser }

// AuthProvider tells which authentication strategy owns an identity.  A
// local identity logs in with a password; a federated one only through
// its external identity provider.
type AuthProvider string

const (
    ProviderLocal     AuthProvider = "local"
    ProviderFederated AuthProvider = "federated"
)

// CanUsePassword reports whether password login is permitted for the
// provider.  Federated identities keep any old password hash but can never
// use it again.
func (p AuthProvider) CanUsePassword() bool { return p == ProviderLocal }

// User represents an identity record as stored in the `users` table.
//
// Fields:
//  ID                    – opaque uuid, immutable once created.
//  Email                 – unique, lower-cased; primary lookup key.
//  PasswordHash          – bcrypt digest; only meaningful for local identities.
//  Role                  – admin or user.
//  AuthProvider          – local or federated.
//  ProviderID            – subject at the external provider (federated only).
//  RefreshToken          – the single active session credential (may be a SHA-256 digest).
//  RefreshTokenExpiresAt – expiry of RefreshToken; nil when logged out.
//  DeletedAt             – soft-delete marker; deleted identities are invisible to lookups.
type User struct {
    ID                    string       `json:"id"`
    Email                 string       `json:"email"`
    PasswordHash          string       `json:"-"`
    Role                  Role         `json:"role"`
    AuthProvider          AuthProvider `json:"provider"`
    ProviderID            string       `json:"providerId,omitempty"`
    FirstName             string       `json:"firstName,omitempty"`
    LastName              string       `json:"lastName,omitempty"`
    AvatarURL             string       `json:"avatar,omitempty"`
    IsActive              bool         `json:"isActive"`
    IsEmailVerified       bool         `json:"isEmailVerified"`
    RefreshToken          string       `json:"-"`
    RefreshTokenExpiresAt *time.Time   `json:"-"`
    LastLoginAt           *time.Time   `json:"lastLoginAt,omitempty"`
    CreatedAt             time.Time    `json:"createdAt"`
    UpdatedAt             time.Time    `json:"updatedAt"`
    DeletedAt             *time.Time   `json:"-"`
}

// Clone returns a deep copy so callers holding the copy cannot mutate a
// stored record through shared pointers.
func (u *User) Clone() *User {
    if u == nil {
        return nil
    }
    cp := *u
    cp.RefreshTokenExpiresAt = cloneTime(u.RefreshTokenExpiresAt)
    cp.LastLoginAt = cloneTime(u.LastLoginAt)
    cp.DeletedAt = cloneTime(u.DeletedAt)
    return &cp
}

// SetSession stores a session credential with its expiry.  An empty token
// clears both fields so a null token never carries an expiry.
func (u *User) SetSession(token string, exp time.Time) {
    if token == "" {
        u.RefreshToken = ""
        u.RefreshTokenExpiresAt = nil
        return
    }
    u.RefreshToken = token
    u.RefreshTokenExpiresAt = &exp
}

func cloneTime(t *time.Time) *time.Time {
    if t == nil {
        return nil
    }
    v := *t
    return &v
}

// FederatedProfile is the identity asserted by an external provider after a
// successful OAuth exchange.
type FederatedProfile struct {
    Provider   string
    ProviderID string
    Email      string
    FirstName  string
    LastName   string
    AvatarURL  string
}

// RefreshToken models an entry in the `refresh_tokens` table used by the
// multi-session policy.  Only the SHA-256 hash of the token is stored.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – owner of the token.
//  TokenHash – SHA-256 hex digest of the token value.
//  ExpiresAt – expiration timestamp of the token.
//  RevokedAt – when the token was revoked (null if still active).
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
    ID        uint64     // refresh_tokens.id
    UserID    string     // refresh_tokens.user_id
    TokenHash string     // refresh_tokens.token_hash
    ExpiresAt time.Time  // refresh_tokens.expires_at
    RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
    CreatedAt time.Time  // refresh_tokens.created_at
}
