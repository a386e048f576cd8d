package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/repository"
)

// Backing table:
//
//	CREATE TABLE auth.sessions (
//	    id            UUID PRIMARY KEY,
//	    user_id       UUID NOT NULL REFERENCES auth.users(id),
//	    family_id     UUID NOT NULL,
//	    current_jti   UUID NOT NULL,
//	    reused_jti_of UUID,
//	    device_hash   TEXT,
//	    last_ip_cidr  TEXT,
//	    auth_time     TIMESTAMPTZ NOT NULL,
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    last_used     TIMESTAMPTZ NOT NULL,
//	    expires_at    TIMESTAMPTZ NOT NULL,
//	    revoked_at    TIMESTAMPTZ,
//	    revoke_reason TEXT
//	);
//	CREATE UNIQUE INDEX sessions_family_current_jti
//	    ON auth.sessions (family_id, current_jti) WHERE revoked_at IS NULL;
//	CREATE INDEX sessions_user_active ON auth.sessions (user_id, expires_at);
//	CREATE INDEX sessions_reused_jti ON auth.sessions (family_id, reused_jti_of);

var sessionColumns = []string{
	"id",
	"user_id",
	"family_id",
	"current_jti",
	"reused_jti_of",
	"device_hash",
	"last_ip_cidr",
	"auth_time",
	"created_at",
	"last_used",
	"expires_at",
	"revoked_at",
	"revoke_reason",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a session record.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	sql, args, err := r.builder.Insert("auth.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.UserID,
			session.FamilyID,
			session.CurrentJTI,
			session.ReusedJTIOf,
			session.DeviceHash,
			session.LastIPCIDR,
			session.AuthTime,
			session.CreatedAt,
			session.LastUsed,
			session.ExpiresAt,
			session.RevokedAt,
			session.RevokeReason,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByID returns a session by identifier.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	sql, args, err := r.builder.
		Select(sessionColumns...).
		From("auth.sessions").
		Where(squirrel.Eq{"id": sessionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session by id sql: %w", err)
	}

	return r.scanSession(r.exec.QueryRow(ctx, sql, args...))
}

// GetByRefreshJTI resolves the session a refresh token belongs to, matching
// the current JTI first and falling back to rotated-out ones.
func (r *SessionRepository) GetByRefreshJTI(ctx context.Context, jti string) (*domain.Session, error) {
	sql, args, err := r.builder.
		Select(sessionColumns...).
		From("auth.sessions").
		Where(squirrel.Or{
			squirrel.Eq{"current_jti": jti},
			squirrel.Eq{"reused_jti_of": jti},
		}).
		OrderBy("last_used DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session by jti sql: %w", err)
	}

	return r.scanSession(r.exec.QueryRow(ctx, sql, args...))
}

// ListActiveByUser returns non-revoked, non-expired sessions for the user.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	now := time.Now().UTC()
	sql, args, err := r.builder.
		Select(sessionColumns...).
		From("auth.sessions").
		Where(squirrel.Eq{"user_id": userID}).
		Where("revoked_at IS NULL").
		Where(squirrel.Gt{"expires_at": now}).
		OrderBy("last_used DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := r.scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// rotateSessionSQL is the single guarded statement behind rotation. The
// predicate only matches the live row holding oldJTI, so a replayed token
// (already rotated out) or a revoked/expired family matches nothing.
const rotateSessionSQL = `
	UPDATE auth.sessions
	   SET current_jti = $3,
	       reused_jti_of = $2,
	       last_used = $4
	 WHERE family_id = $1
	   AND current_jti = $2
	   AND revoked_at IS NULL
	   AND expires_at > $4
	RETURNING id
`

// RotateCurrentJTI atomically advances the family from oldJTI to newJTI.
// Returns false when the guard matched no row.
func (r *SessionRepository) RotateCurrentJTI(ctx context.Context, familyID, oldJTI, newJTI string, at time.Time) (bool, error) {
	var sessionID string
	err := r.exec.QueryRow(ctx, rotateSessionSQL, familyID, oldJTI, newJTI, at.UTC()).Scan(&sessionID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("rotate session jti: %w", err)
	}

	return true, nil
}

// IsReplayedJTI reports whether jti was ever rotated out within the family.
func (r *SessionRepository) IsReplayedJTI(ctx context.Context, familyID, jti string) (bool, error) {
	const sql = `
		SELECT EXISTS (
			SELECT 1 FROM auth.sessions
			 WHERE family_id = $1 AND reused_jti_of = $2
		)
	`

	var replayed bool
	if err := r.exec.QueryRow(ctx, sql, familyID, jti).Scan(&replayed); err != nil {
		return false, fmt.Errorf("check replayed jti: %w", err)
	}

	return replayed, nil
}

// Revoke marks a single session as revoked.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, reason string, at time.Time) error {
	sql, args, err := r.builder.Update("auth.sessions").
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"id": sessionID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke session sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RevokeFamily revokes every non-revoked session in the family. Idempotent;
// already-revoked rows keep their original reason and timestamp.
func (r *SessionRepository) RevokeFamily(ctx context.Context, familyID string, reason string, at time.Time) (int, error) {
	sql, args, err := r.builder.Update("auth.sessions").
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"family_id": familyID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke family sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke session family: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// CleanupExpired deletes sessions whose expiry predates the cutoff. Recently
// expired rows survive until the retention grace period passes.
func (r *SessionRepository) CleanupExpired(ctx context.Context, cutoff time.Time) (int, error) {
	sql, args, err := r.builder.Delete("auth.sessions").
		Where(squirrel.Lt{"expires_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build cleanup sessions sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

func (r *SessionRepository) scanSession(row pgx.Row) (*domain.Session, error) {
	var session domain.Session
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.FamilyID,
		&session.CurrentJTI,
		&session.ReusedJTIOf,
		&session.DeviceHash,
		&session.LastIPCIDR,
		&session.AuthTime,
		&session.CreatedAt,
		&session.LastUsed,
		&session.ExpiresAt,
		&session.RevokedAt,
		&session.RevokeReason,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return &session, nil
}

func (r *SessionRepository) scanSessionRow(rows pgx.Rows) (*domain.Session, error) {
	var session domain.Session
	if err := rows.Scan(
		&session.ID,
		&session.UserID,
		&session.FamilyID,
		&session.CurrentJTI,
		&session.ReusedJTIOf,
		&session.DeviceHash,
		&session.LastIPCIDR,
		&session.AuthTime,
		&session.CreatedAt,
		&session.LastUsed,
		&session.ExpiresAt,
		&session.RevokedAt,
		&session.RevokeReason,
	); err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return &session, nil
}
