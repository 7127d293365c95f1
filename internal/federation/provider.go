// Package federation implements login through external OAuth2 identity
// providers.
package federation

import (
	"context"
	"errors"

	"github.com/iliyamo/gatekeeper/internal/model"
)

var (
	// ErrUnverifiedEmail is returned when the provider does not vouch for the
	// profile's email.  Merging would otherwise let anyone claim a local
	// account by registering its address at the provider.
	ErrUnverifiedEmail = errors.New("federation: provider email not verified")
	// ErrStateMismatch is returned for an unknown, expired or reused state.
	ErrStateMismatch = errors.New("federation: invalid oauth state")
)

// Provider is an OAuth2 authorization-code identity provider.
type Provider interface {
	Name() string
	// AuthCodeURL is the consent page the caller is redirected to.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for the asserted profile.
	Exchange(ctx context.Context, code string) (*model.FederatedProfile, error)
}
