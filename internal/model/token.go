package model

// TokenPair is produced fresh on every issuance and never mutated.
// ExpiresIn is the number of seconds until AccessToken expires.
type TokenPair struct {
    AccessToken  string `json:"accessToken"`
    RefreshToken string `json:"refreshToken"`
    ExpiresIn    int    `json:"expiresIn"`
}
