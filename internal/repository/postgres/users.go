package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/repository"
)

// Backing table:
//
//	CREATE TABLE auth.users (
//	    id                UUID PRIMARY KEY,
//	    email             TEXT NOT NULL UNIQUE,
//	    name              TEXT,
//	    password_hash     TEXT NOT NULL DEFAULT '',
//	    roles             TEXT[] NOT NULL DEFAULT '{}',
//	    status            TEXT NOT NULL,
//	    email_verified_at TIMESTAMPTZ,
//	    created_at        TIMESTAMPTZ NOT NULL,
//	    last_login        TIMESTAMPTZ
//	);

var userColumns = []string{
	"id",
	"email",
	"name",
	"password_hash",
	"roles",
	"status",
	"email_verified_at",
	"created_at",
	"last_login",
}

// UserRepository implements port.UserRepository backed by PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a user record. The email is stored normalized.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	sql, args, err := r.builder.Insert("auth.users").
		Columns(userColumns...).
		Values(
			user.ID,
			normalizeEmail(user.Email),
			user.Name,
			user.PasswordHash,
			user.Roles,
			string(user.Status),
			user.EmailVerifiedAt,
			user.CreatedAt,
			user.LastLogin,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID returns a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	sql, args, err := r.builder.
		Select(userColumns...).
		From("auth.users").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user by id sql: %w", err)
	}

	return r.scanUser(r.exec.QueryRow(ctx, sql, args...))
}

// GetByEmail returns a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	sql, args, err := r.builder.
		Select(userColumns...).
		From("auth.users").
		Where(squirrel.Eq{"email": normalizeEmail(email)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user by email sql: %w", err)
	}

	return r.scanUser(r.exec.QueryRow(ctx, sql, args...))
}

// findOrCreateUserSQL provisions a passwordless pending account when the
// email is unknown. ON CONFLICT with a no-op update lets RETURNING yield the
// existing row without a second round trip.
const findOrCreateUserSQL = `
	INSERT INTO auth.users (id, email, name, password_hash, roles, status, email_verified_at, created_at, last_login)
	VALUES ($1, $2, NULL, '', '{}', $3, NULL, $4, NULL)
	ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
	RETURNING id, email, name, password_hash, roles, status, email_verified_at, created_at, last_login
`

// FindOrCreateByEmail returns the account for the email, creating a pending
// one when none exists.
func (r *UserRepository) FindOrCreateByEmail(ctx context.Context, email string, at time.Time) (*domain.User, error) {
	row := r.exec.QueryRow(ctx, findOrCreateUserSQL,
		uuid.NewString(),
		normalizeEmail(email),
		string(domain.UserStatusPending),
		at.UTC(),
	)

	return r.scanUser(row)
}

// MarkEmailVerified stamps the verification time once and activates pending
// accounts. Already-verified rows are left untouched.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	const sql = `
		UPDATE auth.users
		   SET email_verified_at = $2,
		       status = CASE WHEN status = $3 THEN $4 ELSE status END
		 WHERE id = $1 AND email_verified_at IS NULL
	`

	if _, err := r.exec.Exec(ctx, sql, id, at.UTC(), string(domain.UserStatusPending), string(domain.UserStatusActive)); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	return nil
}

// RecordLogin stamps the last successful login time.
func (r *UserRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	sql, args, err := r.builder.Update("auth.users").
		Set("last_login", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record login sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *UserRepository) scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user   domain.User
		status string
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Roles,
		&status,
		&user.EmailVerifiedAt,
		&user.CreatedAt,
		&user.LastLogin,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.Status = domain.UserStatus(status)
	return &user, nil
}
