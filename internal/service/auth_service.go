// Package service holds the credential flows behind the /auth routes:
// identity resolution, session bookkeeping and token issuance.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/gatekeeper/internal/apperror"
	"github.com/iliyamo/gatekeeper/internal/metrics"
	"github.com/iliyamo/gatekeeper/internal/model"
	"github.com/iliyamo/gatekeeper/internal/queue"
	"github.com/iliyamo/gatekeeper/internal/repository"
)

// TokenMinter issues token pairs.  *utils.TokenIssuer implements it.
type TokenMinter interface {
	Issue(u *model.User) (model.TokenPair, error)
}

// RegisterInput is the payload of a local registration.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Meta describes the caller of a credential operation, for audit events.
type Meta struct {
	RemoteIP string
}

// AuthResult is an identity together with its freshly issued tokens.
type AuthResult struct {
	User   *model.User
	Tokens model.TokenPair
}

// AuthService wires IdentityResolver, SessionRegistry and the token minter
// into the login, register, refresh, logout and federated flows.
type AuthService struct {
	store      repository.CredentialStore
	resolver   *IdentityResolver
	sessions   SessionRegistry
	minter     TokenMinter
	events     queue.Publisher
	refreshTTL int // seconds
	now        func() time.Time
}

func NewAuthService(store repository.CredentialStore, resolver *IdentityResolver, sessions SessionRegistry,
	minter TokenMinter, events queue.Publisher, refreshTTLSeconds int) *AuthService {
	if events == nil {
		events = queue.NopPublisher{}
	}
	return &AuthService{
		store:      store,
		resolver:   resolver,
		sessions:   sessions,
		minter:     minter,
		events:     events,
		refreshTTL: refreshTTLSeconds,
		now:        time.Now,
	}
}

// Register creates a local identity and logs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, m Meta) (res *AuthResult, err error) {
	defer observe("register", &err)
	u, err := s.resolver.RegisterLocal(ctx, in.Email, in.Password, Profile{FirstName: in.FirstName, LastName: in.LastName})
	if err != nil {
		return nil, err
	}
	pair, err := s.issue(ctx, u)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, queue.EventRegistered, u, m)
	return &AuthResult{User: u, Tokens: pair}, nil
}

// Login validates a local password and starts a new session.
func (s *AuthService) Login(ctx context.Context, email, password string, m Meta) (res *AuthResult, err error) {
	defer observe("login", &err)
	u, err := s.resolver.ValidateCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, u, queue.EventLogin, m)
}

// FederatedLogin merges the provider's profile and starts a new session.
func (s *AuthService) FederatedLogin(ctx context.Context, p *model.FederatedProfile, m Meta) (res *AuthResult, err error) {
	defer observe("federated_login", &err)
	u, outcome, err := s.resolver.MergeFederated(ctx, p)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperror.Unauthenticated()
	}
	ev := queue.EventLogin
	switch outcome {
	case MergeLinked:
		ev = queue.EventFederatedLinked
	case MergeCreated:
		ev = queue.EventFederatedCreated
	}
	return s.startSession(ctx, u, ev, m)
}

// Refresh exchanges a refresh token for a new pair; the presented token
// stops working.
func (s *AuthService) Refresh(ctx context.Context, raw string, m Meta) (pair model.TokenPair, err error) {
	defer observe("refresh", &err)
	u, err := s.sessions.Consume(ctx, raw)
	if err != nil {
		return model.TokenPair{}, err
	}
	pair, err = s.issue(ctx, u)
	if err != nil {
		return model.TokenPair{}, err
	}
	s.publish(ctx, queue.EventRefresh, u, m)
	return pair, nil
}

// Logout revokes the identity's sessions.  Access tokens already issued stay
// valid until they expire.
func (s *AuthService) Logout(ctx context.Context, userID string, m Meta) (err error) {
	defer observe("logout", &err)
	if err := s.sessions.Revoke(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, queue.EventLogout, &model.User{ID: userID}, m)
	return nil
}

// Me returns the live identity behind an access token.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.store.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.NotFound("identity not found")
	}
	if err != nil {
		return nil, apperror.Store("find identity", err)
	}
	return u, nil
}

func (s *AuthService) startSession(ctx context.Context, u *model.User, ev queue.EventType, m Meta) (*AuthResult, error) {
	now := s.now().UTC()
	u.LastLoginAt = &now
	if err := s.store.Save(ctx, u); err != nil {
		return nil, writeErr("record login", err)
	}
	pair, err := s.issue(ctx, u)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ev, u, m)
	return &AuthResult{User: u, Tokens: pair}, nil
}

// issue mints a pair and installs its refresh token.  A failure leaves no
// usable refresh token behind.
func (s *AuthService) issue(ctx context.Context, u *model.User) (model.TokenPair, error) {
	pair, err := s.minter.Issue(u)
	if err != nil {
		return model.TokenPair{}, err
	}
	if err := s.sessions.Rotate(ctx, u.ID, pair.RefreshToken, s.refreshTTL); err != nil {
		return model.TokenPair{}, err
	}
	metrics.TokensIssuedTotal.Inc()
	return pair, nil
}

func (s *AuthService) publish(ctx context.Context, t queue.EventType, u *model.User, m Meta) {
	ev := queue.AuthEvent{
		Type:     t,
		UserID:   u.ID,
		Email:    u.Email,
		Provider: string(u.AuthProvider),
		RemoteIP: m.RemoteIP,
		At:       s.now().UTC(),
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.events.Publish(pctx, ev); err != nil {
		metrics.EventPublishFailuresTotal.Inc()
		log.Warn().Err(err).Str("event", string(t)).Str("user_id", u.ID).Msg("auth event not published")
	}
}

func observe(op string, err *error) {
	metrics.AuthOperationsTotal.WithLabelValues(op, metrics.Result(*err)).Inc()
}
