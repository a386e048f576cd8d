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
//	CREATE TABLE auth.magic_links (
//	    id             UUID PRIMARY KEY,
//	    email          TEXT NOT NULL,
//	    token_hash     TEXT NOT NULL,
//	    return_to      TEXT,
//	    request_ip     TEXT,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    expires_at     TIMESTAMPTZ NOT NULL,
//	    used_at        TIMESTAMPTZ,
//	    invalidated_at TIMESTAMPTZ
//	);
//	CREATE INDEX magic_links_email_pending ON auth.magic_links (email)
//	    WHERE used_at IS NULL AND invalidated_at IS NULL;

var magicLinkColumns = []string{
	"id",
	"email",
	"token_hash",
	"return_to",
	"request_ip",
	"created_at",
	"expires_at",
	"used_at",
	"invalidated_at",
}

// pgTxExecutor extends pgExecutor with transaction support. Consume needs a
// row lock, so this repository cannot run on a bare pgx.Tx.
type pgTxExecutor interface {
	pgExecutor
	Begin(ctx context.Context) (pgx.Tx, error)
}

// MagicLinkRepository implements port.MagicLinkRepository backed by PostgreSQL.
type MagicLinkRepository struct {
	db      pgTxExecutor
	builder squirrel.StatementBuilderType
}

var _ port.MagicLinkRepository = (*MagicLinkRepository)(nil)

// NewMagicLinkRepository constructs a repository backed by a pool-like executor.
func NewMagicLinkRepository(db pgTxExecutor) *MagicLinkRepository {
	return &MagicLinkRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a magic link record.
func (r *MagicLinkRepository) Create(ctx context.Context, link domain.MagicLink) error {
	sql, args, err := r.builder.Insert("auth.magic_links").
		Columns(magicLinkColumns...).
		Values(
			link.ID,
			normalizeEmail(link.Email),
			link.TokenHash,
			link.ReturnTo,
			link.RequestIP,
			link.CreatedAt,
			link.ExpiresAt,
			link.UsedAt,
			link.InvalidatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert magic link sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert magic link: %w", err)
	}

	return nil
}

// GetByID returns a magic link by identifier.
func (r *MagicLinkRepository) GetByID(ctx context.Context, id string) (*domain.MagicLink, error) {
	sql, args, err := r.builder.
		Select(magicLinkColumns...).
		From("auth.magic_links").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select magic link sql: %w", err)
	}

	return scanMagicLink(r.db.QueryRow(ctx, sql, args...))
}

const selectMagicLinkForUpdateSQL = `
	SELECT id, email, token_hash, return_to, request_ip, created_at, expires_at, used_at, invalidated_at
	  FROM auth.magic_links
	 WHERE id = $1
	FOR UPDATE
`

// Consume marks the link as used. The row lock serializes concurrent callers
// so exactly one wins; everyone else observes used_at already set.
func (r *MagicLinkRepository) Consume(ctx context.Context, id string, tokenHash string, at time.Time) (*domain.MagicLink, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin consume magic link tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	link, err := scanMagicLink(tx.QueryRow(ctx, selectMagicLinkForUpdateSQL, id))
	if err != nil {
		return nil, err
	}

	// Compare the stored hash before revealing any state about the link.
	if link.TokenHash != tokenHash {
		return nil, repository.ErrNotFound
	}

	switch {
	case link.UsedAt != nil, link.InvalidatedAt != nil:
		return nil, repository.ErrAlreadyConsumed
	case !at.Before(link.ExpiresAt):
		return nil, repository.ErrExpired
	}

	usedAt := at.UTC()
	if _, err := tx.Exec(ctx, `UPDATE auth.magic_links SET used_at = $2 WHERE id = $1`, id, usedAt); err != nil {
		return nil, fmt.Errorf("mark magic link used: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit consume magic link tx: %w", err)
	}

	link.UsedAt = &usedAt
	return link, nil
}

// InvalidatePendingForEmail retires all pending links for the email except
// the winning one.
func (r *MagicLinkRepository) InvalidatePendingForEmail(ctx context.Context, email string, exceptID string, at time.Time) (int, error) {
	sql, args, err := r.builder.Update("auth.magic_links").
		Set("invalidated_at", at.UTC()).
		Where(squirrel.Eq{"email": normalizeEmail(email)}).
		Where(squirrel.NotEq{"id": exceptID}).
		Where("used_at IS NULL").
		Where("invalidated_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build invalidate magic links sql: %w", err)
	}

	ct, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("invalidate magic links: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

func scanMagicLink(row pgx.Row) (*domain.MagicLink, error) {
	var link domain.MagicLink
	if err := row.Scan(
		&link.ID,
		&link.Email,
		&link.TokenHash,
		&link.ReturnTo,
		&link.RequestIP,
		&link.CreatedAt,
		&link.ExpiresAt,
		&link.UsedAt,
		&link.InvalidatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan magic link: %w", err)
	}

	return &link, nil
}
