package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/repository"
)

func newUserRepoMock(t *testing.T) (pgxmock.PgxPoolIface, *UserRepository) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	return mock, NewUserRepository(mock)
}

func TestUserRepository_GetByEmail_NormalizesInput(t *testing.T) {
	mock, repo := newUserRepoMock(t)

	createdAt := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(userColumns).
		AddRow("user-1", "user@example.com", nil, "", []string{"member"}, "active", nil, createdAt, nil)

	mock.ExpectQuery(`SELECT .* FROM auth\.users WHERE email = \$1`).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	user, err := repo.GetByEmail(context.Background(), "  User@Example.COM ")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("unexpected user id: %s", user.ID)
	}
	if user.Status != domain.UserStatusActive {
		t.Fatalf("unexpected status: %s", user.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	mock, repo := newUserRepoMock(t)

	mock.ExpectQuery(`SELECT .* FROM auth\.users WHERE email = \$1`).
		WithArgs("missing@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "missing@example.com")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_FindOrCreateByEmail_ReturnsExisting(t *testing.T) {
	mock, repo := newUserRepoMock(t)

	createdAt := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	at := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(userColumns).
		AddRow("user-1", "user@example.com", nil, "", []string{}, "pending", nil, createdAt, nil)

	mock.ExpectQuery(`INSERT INTO auth\.users .* ON CONFLICT \(email\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "user@example.com", "pending", at).
		WillReturnRows(rows)

	user, err := repo.FindOrCreateByEmail(context.Background(), "User@Example.com", at)
	if err != nil {
		t.Fatalf("FindOrCreateByEmail returned error: %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("unexpected user id: %s", user.ID)
	}
	if !user.CreatedAt.Equal(createdAt) {
		t.Fatalf("expected existing created_at to be preserved, got %v", user.CreatedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_RecordLogin_NotFound(t *testing.T) {
	mock, repo := newUserRepoMock(t)

	at := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE auth\.users SET last_login = \$1 WHERE id = \$2`).
		WithArgs(at, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.RecordLogin(context.Background(), "missing", at)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
