package utils // package utils provides helpers for token issuance, verification and hashing

import (
    "crypto/rand"   // secure random number generation
    "crypto/sha256" // SHA-256 hashing for refresh tokens at rest
    "encoding/hex"  // hex encoding of random and hashed values
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"

    "github.com/iliyamo/gatekeeper/internal/apperror"
    "github.com/iliyamo/gatekeeper/internal/model"
)

// refreshTokenBytes is the entropy of a refresh token: 256 bits, encoded as
// 64 hex characters.
const refreshTokenBytes = 32

// Claims is the signed payload of an access token.
type Claims struct {
    Email string     `json:"email"`
    Role  model.Role `json:"role"`
    jwt.RegisteredClaims
}

// TokenIssuer mints and verifies token pairs.  It holds no mutable state and
// is safe for concurrent use.
type TokenIssuer struct {
    secret    []byte
    accessTTL int // seconds
    now       func() time.Time
}

// NewTokenIssuer builds an issuer for HS256 tokens.  accessTTL uses the
// <integer><s|m|h|d> grammar understood by ParseTTL; a malformed value
// silently falls back to DefaultTTLSeconds, so callers should validate
// configuration before getting here.
func NewTokenIssuer(secret, accessTTL string) (*TokenIssuer, error) {
    if secret == "" {
        return nil, errors.New("token issuer: empty signing secret")
    }
    ttl, _ := ParseTTL(accessTTL)
    return &TokenIssuer{secret: []byte(secret), accessTTL: ttl, now: time.Now}, nil
}

// AccessTTLSeconds is the lifetime of access tokens minted by i.
func (i *TokenIssuer) AccessTTLSeconds() int { return i.accessTTL }

// Issue signs an access token for u and draws a fresh refresh token.
// Failures here mean the signing key or the randomness source is broken;
// they are returned as internal errors and the caller must abort.
func (i *TokenIssuer) Issue(u *model.User) (model.TokenPair, error) {
    now := i.now().UTC()
    claims := Claims{
        Email: u.Email,
        Role:  u.Role,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   u.ID,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(i.accessTTL) * time.Second)),
        },
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
    if err != nil {
        return model.TokenPair{}, apperror.Internal("sign access token", err)
    }
    refresh, err := randomHex(refreshTokenBytes)
    if err != nil {
        return model.TokenPair{}, apperror.Internal("generate refresh token", err)
    }
    return model.TokenPair{AccessToken: signed, RefreshToken: refresh, ExpiresIn: i.accessTTL}, nil
}

// Verify checks signature, algorithm and expiry of an access token and
// returns its claims.  Every failure is reported as InvalidToken.
func (i *TokenIssuer) Verify(raw string) (*Claims, error) {
    if raw == "" {
        return nil, apperror.InvalidToken(errors.New("empty token"))
    }
    claims := &Claims{}
    tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
        return i.secret, nil
    },
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithExpirationRequired(),
        jwt.WithTimeFunc(i.now),
    )
    if err != nil {
        return nil, apperror.InvalidToken(err)
    }
    if !tok.Valid || claims.Subject == "" {
        return nil, apperror.InvalidToken(fmt.Errorf("token without subject"))
    }
    return claims, nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as a hex
// string.  Storing only the hash keeps a leaked table row from being
// replayed as a session.
func HashRefreshRaw(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}
