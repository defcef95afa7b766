package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/authcore-io/authcore"
	"github.com/authcore-io/authcore/permission"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "identifier", "password_hash", "status",
		"roles", "second_factor_enrolled", "created_at", "updated_at",
	})
}

func TestGetByIdentifier(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)select .+ from accounts`).
		WithArgs("default", "alice@example.com").
		WillReturnRows(accountRows().AddRow(
			"u1", "default", "alice@example.com", "$argon2id$...", "active",
			[]byte(`["admin","auditor"]`), true, now, now,
		))

	rec, err := s.GetByIdentifier(context.Background(), "default", "alice@example.com")
	if err != nil {
		t.Fatalf("GetByIdentifier: %v", err)
	}
	if rec.ID != "u1" || rec.Status != authcore.StatusActive {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.Roles) != 2 || rec.Roles[0] != "admin" {
		t.Fatalf("roles not decoded: %v", rec.Roles)
	}
	if !rec.SecondFactorEnrolled {
		t.Fatal("second factor flag lost")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetByIdentifierNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)select .+ from accounts`).
		WithArgs("default", "ghost@example.com").
		WillReturnRows(accountRows())

	_, err := s.GetByIdentifier(context.Background(), "default", "ghost@example.com")
	if !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("want ErrPrincipalNotFound, got %v", err)
	}
}

func TestCreateDuplicateIdentifier(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`insert into accounts`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.Create(context.Background(), &authcore.UserRecord{
		ID:         "u2",
		TenantID:   "default",
		Identifier: "alice@example.com",
		Status:     authcore.StatusUnverified,
	})
	if !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("want ErrAccountExists, got %v", err)
	}
}

func TestUpdatePasswordHashMissingAccount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`update accounts set password_hash`).
		WithArgs("default", "ghost", "$argon2id$...").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdatePasswordHash(context.Background(), "default", "ghost", "$argon2id$...")
	if !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("want ErrPrincipalNotFound, got %v", err)
	}
}

func TestGrantBumpsDirectoryVersion(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`insert into role_permissions`).
		WithArgs("auditor", "reports", "read").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update directory_version set version`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Grant(context.Background(), "auditor", permission.Permission{Resource: "reports", Action: "read"})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPermissionsForRole(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`select resource, action`).
		WithArgs("auditor").
		WillReturnRows(sqlmock.NewRows([]string{"resource", "action"}).
			AddRow("reports", "read").
			AddRow("ledger", "read"))

	perms, err := s.PermissionsForRole(context.Background(), "auditor")
	if err != nil {
		t.Fatalf("PermissionsForRole: %v", err)
	}
	if len(perms) != 2 || perms[0].String() != "reports:read" {
		t.Fatalf("unexpected permissions: %v", perms)
	}
}

func TestVersion(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`select version from directory_version`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(7))

	v, err := s.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 7 {
		t.Fatalf("want version 7, got %d", v)
	}
}
