package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gatekeeper/internal/model"
)

var scanColumns = []string{
	"id", "email", "password_hash", "role", "auth_provider", "provider_id", "first_name", "last_name", "avatar_url",
	"is_active", "is_email_verified", "refresh_token", "refresh_token_expires_at", "last_login_at", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*UserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := NewUserRepo(db)
	repo.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return repo, mock
}

func TestUserRepoFindByEmailNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email=? AND deleted_at IS NULL")).
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows(scanColumns))

	_, err := repo.FindByEmail(context.Background(), "  A@B.com ")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoFindByIDScansNullableColumns(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	exp := created.Add(7 * 24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(scanColumns).AddRow(
			"u-1", "a@b.com", nil, "user", "federated", "g-1", "Ada", nil, nil,
			true, true, "tok", exp, nil, created, created))

	u, err := repo.FindByID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, model.ProviderFederated, u.AuthProvider)
	assert.Equal(t, "g-1", u.ProviderID)
	assert.Empty(t, u.PasswordHash)
	assert.Equal(t, "Ada", u.FirstName)
	require.NotNil(t, u.RefreshTokenExpiresAt)
	assert.True(t, exp.Equal(*u.RefreshTokenExpiresAt))
	assert.Nil(t, u.LastLoginAt)
}

func TestUserRepoFindByRefreshTokenFiltersExpiry(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE refresh_token=? AND refresh_token_expires_at > ?")).
		WithArgs("tok", now).
		WillReturnRows(sqlmock.NewRows(scanColumns))

	_, err := repo.FindByRefreshToken(context.Background(), "tok", now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByRefreshToken(context.Background(), "", now)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoSaveInsertsWhenUpdateMatchesNothing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET email=?")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).WillReturnResult(sqlmock.NewResult(0, 1))

	u := &model.User{ID: "u-1", Email: "New@Example.com", Role: model.RoleUser, AuthProvider: model.ProviderLocal}
	require.NoError(t, repo.Save(context.Background(), u))
	assert.Equal(t, "new@example.com", u.Email)
	assert.Equal(t, repo.now(), u.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoSaveUpdatesInPlace(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET email=?")).WillReturnResult(sqlmock.NewResult(0, 1))

	u := &model.User{ID: "u-1", Email: "a@b.com", Role: model.RoleUser, AuthProvider: model.ProviderLocal}
	require.NoError(t, repo.Save(context.Background(), u))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoSaveMapsDuplicateEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a@b.com' for key 'users.uq_users_email'"})

	err := repo.Save(context.Background(), &model.User{ID: "u-2", Email: "a@b.com"})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestUserRepoSaveMapsOtherDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'u-2' for key 'users.PRIMARY'"})

	err := repo.Save(context.Background(), &model.User{ID: "u-2", Email: "a@b.com"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUserRepoSoftDelete(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET deleted_at=?")).
		WithArgs(repo.now(), "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET deleted_at=?")).
		WithArgs(repo.now(), "u-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SoftDelete(context.Background(), "u-1"))
	assert.ErrorIs(t, repo.SoftDelete(context.Background(), "u-1"), ErrNotFound)
}

func TestTokenRepoValidateRefresh(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTokenRepo(db)
	now := time.Now().UTC()
	q := regexp.QuoteMeta("SELECT user_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash=?")

	mock.ExpectQuery(q).WithArgs("live").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).AddRow("u-1", now.Add(time.Hour), nil))
	mock.ExpectQuery(q).WithArgs("revoked").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).AddRow("u-1", now.Add(time.Hour), now))
	mock.ExpectQuery(q).WithArgs("expired").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).AddRow("u-1", now, nil))

	id, err := repo.ValidateRefresh(context.Background(), "live", now)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)
	_, err = repo.ValidateRefresh(context.Background(), "revoked", now)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.ValidateRefresh(context.Background(), "expired", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenRepoRevokeByHashReportsRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTokenRepo(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at")).WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.RevokeByHash(context.Background(), "h")
	require.NoError(t, err)
	assert.True(t, won)
	won, err = repo.RevokeByHash(context.Background(), "h")
	require.NoError(t, err)
	assert.False(t, won)
}
