package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/iliyamo/gatekeeper/internal/apperror"
	"github.com/iliyamo/gatekeeper/internal/model"
	"github.com/iliyamo/gatekeeper/internal/repository"
	"github.com/iliyamo/gatekeeper/internal/utils"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// Profile carries the optional name fields of a local registration.
type Profile struct {
	FirstName string
	LastName  string
}

// MergeOutcome tells what MergeFederated did to the store.
type MergeOutcome int

const (
	MergeExisting MergeOutcome = iota // already federated, unchanged
	MergeLinked                       // local identity upgraded in place
	MergeCreated                      // new federated identity provisioned
)

// IdentityResolver turns credentials and federated profiles into stored
// identities.
type IdentityResolver struct {
	store  repository.CredentialStore
	hasher utils.Hasher
	newID  func() string

	dummyOnce sync.Once
	dummy     string
}

func NewIdentityResolver(store repository.CredentialStore, hasher utils.Hasher) *IdentityResolver {
	return &IdentityResolver{store: store, hasher: hasher, newID: uuid.NewString}
}

// ValidateCredentials returns the identity owning email and password.  An
// unknown email, a federated identity, a wrong password and an inactive
// identity all fail with the same InvalidCredentials error, and all pay
// for one hash verification.
func (r *IdentityResolver) ValidateCredentials(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	u, err := r.store.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		r.burnVerify(password)
		return nil, apperror.InvalidCredentials()
	}
	if err != nil {
		return nil, apperror.Store("find identity", err)
	}
	if !u.AuthProvider.CanUsePassword() || u.PasswordHash == "" {
		r.burnVerify(password)
		return nil, apperror.InvalidCredentials()
	}
	if !r.hasher.Verify(password, u.PasswordHash) {
		return nil, apperror.InvalidCredentials()
	}
	if !u.IsActive {
		return nil, apperror.InvalidCredentials()
	}
	return u, nil
}

// RegisterLocal creates an active local identity.  The password is hashed
// here, before the store sees it.
func (r *IdentityResolver) RegisterLocal(ctx context.Context, email, password string, p Profile) (*model.User, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, apperror.InvalidInput("email must be a valid email address")
	}
	if len(password) < MinPasswordLength {
		return nil, apperror.InvalidInput("password must be at least 8 characters")
	}

	_, err := r.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, apperror.EmailExists()
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperror.Store("find identity", err)
	}

	digest, err := r.hasher.Hash(password)
	if err != nil {
		return nil, apperror.Internal("hash password", err)
	}
	u := &model.User{
		ID:           r.newID(),
		Email:        email,
		PasswordHash: digest,
		Role:         model.RoleUser,
		AuthProvider: model.ProviderLocal,
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		IsActive:     true,
	}
	// The pre-check above is advisory; the store's unique constraint decides.
	if err := r.store.Save(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, apperror.EmailExists()
		}
		return nil, writeErr("save identity", err)
	}
	return u, nil
}

// MergeFederated reconciles an externally asserted profile with the store.
// The profile's email must already be verified by the provider: a local
// identity with the same email is upgraded to federated without further
// proof of ownership.
func (r *IdentityResolver) MergeFederated(ctx context.Context, p *model.FederatedProfile) (*model.User, MergeOutcome, error) {
	email := normalizeEmail(p.Email)
	if !validEmail(email) || p.ProviderID == "" {
		return nil, MergeExisting, apperror.InvalidInput("federated profile without email or subject")
	}

	// Two attempts: a concurrent first login can win the insert between our
	// lookup and our save, after which the winner is merged like any
	// existing identity.
	for attempt := 0; ; attempt++ {
		u, err := r.store.FindByEmail(ctx, email)
		switch {
		case err == nil:
			return r.mergeExisting(ctx, u, p)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, MergeExisting, apperror.Store("find identity", err)
		}

		u = &model.User{
			ID:              r.newID(),
			Email:           email,
			Role:            model.RoleUser,
			AuthProvider:    model.ProviderFederated,
			ProviderID:      p.ProviderID,
			FirstName:       p.FirstName,
			LastName:        p.LastName,
			AvatarURL:       p.AvatarURL,
			IsActive:        true,
			IsEmailVerified: true,
		}
		err = r.store.Save(ctx, u)
		if err == nil {
			return u, MergeCreated, nil
		}
		if !errors.Is(err, repository.ErrEmailExists) || attempt > 0 {
			return nil, MergeExisting, writeErr("save identity", err)
		}
	}
}

func (r *IdentityResolver) mergeExisting(ctx context.Context, u *model.User, p *model.FederatedProfile) (*model.User, MergeOutcome, error) {
	if u.AuthProvider == model.ProviderFederated {
		return u, MergeExisting, nil
	}
	// Upgrade in place.  The password hash is kept but CanUsePassword now
	// rejects it.
	u.AuthProvider = model.ProviderFederated
	u.ProviderID = p.ProviderID
	u.IsEmailVerified = true
	if err := r.store.Save(ctx, u); err != nil {
		return nil, MergeExisting, writeErr("link identity", err)
	}
	return u, MergeLinked, nil
}

// burnVerify spends one hash verification so a miss costs about as much
// as a wrong password.
func (r *IdentityResolver) burnVerify(password string) {
	r.dummyOnce.Do(func() {
		r.dummy, _ = r.hasher.Hash("gatekeeper-timing-equalizer")
	})
	_ = r.hasher.Verify(password, r.dummy)
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
