package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gatekeeper/internal/apperror"
	"github.com/iliyamo/gatekeeper/internal/model"
	"github.com/iliyamo/gatekeeper/internal/queue"
	"github.com/iliyamo/gatekeeper/internal/repository"
	"github.com/iliyamo/gatekeeper/internal/utils"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, ev queue.AuthEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func eventOf(t queue.EventType) any {
	return mock.MatchedBy(func(ev queue.AuthEvent) bool { return ev.Type == t && ev.UserID != "" })
}

func newAuthService(t *testing.T, pub queue.Publisher) (*AuthService, *repository.MemoryUserStore, *utils.TokenIssuer) {
	t.Helper()
	store := repository.NewMemoryUserStore()
	issuer, err := utils.NewTokenIssuer("test-secret", "15m")
	require.NoError(t, err)
	svc := NewAuthService(store, newResolver(store), NewSingleSessionRegistry(store, true), issuer, pub, 3600)
	return svc, store, issuer
}

func TestRegisterIssuesVerifiableTokens(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, eventOf(queue.EventRegistered)).Return(nil).Once()
	svc, _, issuer := newAuthService(t, pub)

	res, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "pw123456"}, Meta{RemoteIP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, 900, res.Tokens.ExpiresIn)
	assert.Len(t, res.Tokens.RefreshToken, 64)

	claims, err := issuer.Verify(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.Subject)
	assert.Equal(t, model.RoleUser, claims.Role)
	pub.AssertExpectations(t)
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	svc, store, _ := newAuthService(t, pub)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw123456"}, Meta{})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "a@x.com", "wrong-password", Meta{})
	assert.Equal(t, apperror.KindInvalidCredentials, apperror.KindOf(err))

	login, err := svc.Login(ctx, "a@x.com", "pw123456", Meta{})
	require.NoError(t, err)
	assert.NotEqual(t, reg.Tokens.RefreshToken, login.Tokens.RefreshToken)
	stored, err := store.FindByID(ctx, login.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	// Logging in again supersedes the registration session.
	_, err = svc.Refresh(ctx, reg.Tokens.RefreshToken, Meta{})
	assert.Equal(t, apperror.KindInvalidRefreshToken, apperror.KindOf(err))

	next, err := svc.Refresh(ctx, login.Tokens.RefreshToken, Meta{})
	require.NoError(t, err)
	assert.NotEqual(t, login.Tokens.RefreshToken, next.RefreshToken)
	_, err = svc.Refresh(ctx, login.Tokens.RefreshToken, Meta{})
	assert.Equal(t, apperror.KindInvalidRefreshToken, apperror.KindOf(err))

	require.NoError(t, svc.Logout(ctx, login.User.ID, Meta{}))
	_, err = svc.Refresh(ctx, next.RefreshToken, Meta{})
	assert.Equal(t, apperror.KindInvalidRefreshToken, apperror.KindOf(err))

	pub.AssertCalled(t, "Publish", mock.Anything, eventOf(queue.EventLogout))
	pub.AssertCalled(t, "Publish", mock.Anything, eventOf(queue.EventRefresh))
}

func TestPublishFailureDoesNotFailLogin(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	svc, _, _ := newAuthService(t, pub)

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "pw123456"}, Meta{})
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), "a@x.com", "pw123456", Meta{})
	require.NoError(t, err)
}

func TestFederatedLoginEvents(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, eventOf(queue.EventFederatedCreated)).Return(nil).Once()
	pub.On("Publish", mock.Anything, eventOf(queue.EventLogin)).Return(nil).Once()
	svc, _, _ := newAuthService(t, pub)
	p := &model.FederatedProfile{Provider: "google", ProviderID: "g-1", Email: "f@x.com"}

	first, err := svc.FederatedLogin(context.Background(), p, Meta{})
	require.NoError(t, err)
	second, err := svc.FederatedLogin(context.Background(), p, Meta{})
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.NotNil(t, second.User.LastLoginAt)
	pub.AssertExpectations(t)
}

func TestFederatedLoginRejectsInactive(t *testing.T) {
	svc, store, _ := newAuthService(t, nil)
	require.NoError(t, store.Save(context.Background(), &model.User{
		ID: "f1", Email: "f@x.com", AuthProvider: model.ProviderFederated, ProviderID: "g-1",
	}))
	_, err := svc.FederatedLogin(context.Background(), &model.FederatedProfile{ProviderID: "g-1", Email: "f@x.com"}, Meta{})
	assert.Equal(t, apperror.KindAuthentication, apperror.KindOf(err))
}

func TestMe(t *testing.T) {
	svc, store, _ := newAuthService(t, nil)
	res, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "pw123456"}, Meta{})
	require.NoError(t, err)

	u, err := svc.Me(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", u.Email)

	require.NoError(t, store.SoftDelete(context.Background(), res.User.ID))
	_, err = svc.Me(context.Background(), res.User.ID)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}
