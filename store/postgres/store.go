// Package postgres backs the engine's durable state with PostgreSQL. It
// implements both authcore.UserProvider and permission.Directory on a
// database/sql handle; open it with the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/authcore-io/authcore"
	"github.com/authcore-io/authcore/permission"
)

const pgErrUniqueViolation = "23505"

// Schema creates the tables the store expects. Apply it with your migration
// tooling of choice.
const Schema = `
create table if not exists accounts (
	id                     text primary key,
	tenant_id              text not null,
	identifier             text not null,
	password_hash          text not null,
	status                 text not null,
	roles                  jsonb not null default '[]',
	second_factor_enrolled boolean not null default false,
	created_at             timestamptz not null default now(),
	updated_at             timestamptz not null default now(),
	unique (tenant_id, identifier)
);

create table if not exists role_permissions (
	role     text not null,
	resource text not null,
	action   text not null,
	primary key (role, resource, action)
);

create table if not exists directory_version (
	id      integer primary key default 1,
	version bigint not null default 0,
	check (id = 1)
);

insert into directory_version (id, version) values (1, 0)
on conflict (id) do nothing;
`

// Store is safe for concurrent use; it holds no state beyond the pool.
type Store struct {
	db *sql.DB
}

// New wraps an open handle. The caller owns the pool's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open dials PostgreSQL with the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ authcore.UserProvider = (*Store)(nil)
var _ permission.Directory = (*Store)(nil)

const accountColumns = `id, tenant_id, identifier, password_hash, status, roles, second_factor_enrolled, created_at, updated_at`

func (s *Store) GetByIdentifier(ctx context.Context, tenantID, identifier string) (*authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where tenant_id = $1 and identifier = $2
	`, tenantID, identifier)
	return scanAccount(row)
}

func (s *Store) GetByID(ctx context.Context, tenantID, id string) (*authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where tenant_id = $1 and id = $2
	`, tenantID, id)
	return scanAccount(row)
}

func (s *Store) Create(ctx context.Context, rec *authcore.UserRecord) error {
	roles, err := json.Marshal(rolesOrEmpty(rec.Roles))
	if err != nil {
		return fmt.Errorf("postgres: encode roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into accounts (`+accountColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.TenantID, rec.Identifier, rec.PasswordHash, string(rec.Status),
		roles, rec.SecondFactorEnrolled, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return authcore.ErrAccountExists
		}
		return err
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, tenantID, id, hash string) error {
	return s.updateAccount(ctx, `
		update accounts set password_hash = $3, updated_at = now()
		where tenant_id = $1 and id = $2
	`, tenantID, id, hash)
}

func (s *Store) SetStatus(ctx context.Context, tenantID, id string, status authcore.AccountStatus) error {
	return s.updateAccount(ctx, `
		update accounts set status = $3, updated_at = now()
		where tenant_id = $1 and id = $2
	`, tenantID, id, string(status))
}

// SetSecondFactorEnrolled flips the MFA flag after enrollment completes.
func (s *Store) SetSecondFactorEnrolled(ctx context.Context, tenantID, id string, enrolled bool) error {
	return s.updateAccount(ctx, `
		update accounts set second_factor_enrolled = $3, updated_at = now()
		where tenant_id = $1 and id = $2
	`, tenantID, id, enrolled)
}

func (s *Store) updateAccount(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authcore.ErrPrincipalNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*authcore.UserRecord, error) {
	var (
		rec      authcore.UserRecord
		status   string
		rawRoles []byte
	)
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Identifier, &rec.PasswordHash,
		&status, &rawRoles, &rec.SecondFactorEnrolled, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authcore.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Status = authcore.AccountStatus(status)
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &rec.Roles); err != nil {
			return nil, fmt.Errorf("postgres: decode roles: %w", err)
		}
	}
	return &rec, nil
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}

// PermissionsForRole loads a role's grants for the permission resolver.
func (s *Store) PermissionsForRole(ctx context.Context, role string) ([]permission.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select resource, action
		from role_permissions
		where role = $1
	`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []permission.Permission
	for rows.Next() {
		var p permission.Permission
		if err := rows.Scan(&p.Resource, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Version returns the directory generation. Grant and Revoke bump it so
// resolver caches drop stale entries.
func (s *Store) Version(ctx context.Context) (uint64, error) {
	var v uint64
	err := s.db.QueryRowContext(ctx, `select version from directory_version where id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// Grant adds a permission to a role and bumps the directory version in the
// same transaction.
func (s *Store) Grant(ctx context.Context, role string, perm permission.Permission) error {
	return s.mutateDirectory(ctx, `
		insert into role_permissions (role, resource, action)
		values ($1, $2, $3)
		on conflict do nothing
	`, role, perm.Resource, perm.Action)
}

// Revoke removes a permission from a role and bumps the directory version.
func (s *Store) Revoke(ctx context.Context, role string, perm permission.Permission) error {
	return s.mutateDirectory(ctx, `
		delete from role_permissions
		where role = $1 and resource = $2 and action = $3
	`, role, perm.Resource, perm.Action)
}

func (s *Store) mutateDirectory(ctx context.Context, query string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `update directory_version set version = version + 1 where id = 1`); err != nil {
		return err
	}
	return tx.Commit()
}
