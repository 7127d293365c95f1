package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/gatekeeper/internal/model"
)

const userColumns = "id,email,password_hash,role,auth_provider,provider_id,first_name,last_name,avatar_url," +
	"is_active,is_email_verified,refresh_token,refresh_token_expires_at,last_login_at,created_at,updated_at"

// UserRepo is the MySQL CredentialStore.  The DSN must set
// clientFoundRows=true so an UPDATE that changes nothing still reports the
// matched row (database.Open does).
type UserRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db, now: time.Now} }

var _ CredentialStore = (*UserRepo)(nil)

// FindByID fetches a live user by id.
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.queryOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? AND deleted_at IS NULL LIMIT 1", id)
}

// FindByEmail fetches a live user by normalized email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.queryOne(ctx, "SELECT "+userColumns+" FROM users WHERE email=? AND deleted_at IS NULL LIMIT 1", email)
}

// FindByRefreshToken fetches the user whose session slot holds token and
// has not expired.
func (r *UserRepo) FindByRefreshToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return r.queryOne(ctx,
		"SELECT "+userColumns+" FROM users WHERE refresh_token=? AND refresh_token_expires_at > ? AND deleted_at IS NULL LIMIT 1",
		token, now.UTC())
}

// Save updates the row with u.ID, inserting it when none matches.
// Uniqueness violations come back as ErrEmailExists or ErrConflict.
func (r *UserRepo) Save(ctx context.Context, u *model.User) error {
	now := r.now().UTC()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.UpdatedAt = now
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email=?,password_hash=?,role=?,auth_provider=?,provider_id=?,first_name=?,last_name=?,avatar_url=?,"+
			"is_active=?,is_email_verified=?,refresh_token=?,refresh_token_expires_at=?,last_login_at=?,updated_at=? "+
			"WHERE id=? AND deleted_at IS NULL",
		u.Email, nullString(u.PasswordHash), string(u.Role), string(u.AuthProvider), nullString(u.ProviderID),
		nullString(u.FirstName), nullString(u.LastName), nullString(u.AvatarURL),
		u.IsActive, u.IsEmailVerified, nullString(u.RefreshToken), nullTime(u.RefreshTokenExpiresAt),
		nullTime(u.LastLoginAt), u.UpdatedAt, u.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)",
		u.ID, u.Email, nullString(u.PasswordHash), string(u.Role), string(u.AuthProvider), nullString(u.ProviderID),
		nullString(u.FirstName), nullString(u.LastName), nullString(u.AvatarURL),
		u.IsActive, u.IsEmailVerified, nullString(u.RefreshToken), nullTime(u.RefreshTokenExpiresAt),
		nullTime(u.LastLoginAt), u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

// SoftDelete marks a user deleted and drops its session.
func (r *UserRepo) SoftDelete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET deleted_at=?,refresh_token=NULL,refresh_token_expires_at=NULL WHERE id=? AND deleted_at IS NULL",
		r.now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the database connection.
func (r *UserRepo) Ping(ctx context.Context) error { return r.DB.PingContext(ctx) }

func (r *UserRepo) queryOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	var (
		u                                         model.User
		role, provider                            string
		pwd, providerID, first, last, avatar, tok sql.NullString
		tokExp, lastLogin                         sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &pwd, &role, &provider, &providerID, &first, &last, &avatar,
		&u.IsActive, &u.IsEmailVerified, &tok, &tokExp, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.AuthProvider = model.AuthProvider(provider)
	u.PasswordHash = pwd.String
	u.ProviderID = providerID.String
	u.FirstName, u.LastName, u.AvatarURL = first.String, last.String, avatar.String
	u.RefreshToken = tok.String
	if tokExp.Valid {
		t := tokExp.Time
		u.RefreshTokenExpiresAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// mapWriteErr normalizes MySQL duplicate-key errors (1062) so no backend
// text leaks past the repository.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		if strings.Contains(strings.ToLower(me.Message), "email") {
			return ErrEmailExists
		}
		return ErrConflict
	}
	return err
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
