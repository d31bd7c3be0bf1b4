package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/relaycore/courier/database"
	"github.com/relaycore/courier/domains/tenants/be/service"
	"github.com/relaycore/courier/platform/go/tenant"
)

// PostgresRepository stores the tenant registry in the control-plane database.
// Data-plane traffic never touches this pool; it only answers resolution and
// onboarding queries.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a repository backed by the control-plane pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("control-plane pool is required")
	}
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the registry table when it does not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, sqlassets.TenantsSQL); err != nil {
		return fmt.Errorf("ensure tenants schema: %w", err)
	}
	return nil
}

const tenantColumns = `tenant_id, slug, status, db_host, db_port, db_name, credentials_ref, created_at`

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	query := fmt.Sprintf(`
		INSERT INTO tenants (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s`, tenantColumns, tenantColumns)

	row := r.pool.QueryRow(ctx, query,
		t.ID, t.Slug, string(t.Status), t.Host, t.Port, t.Database, t.CredentialsRef, t.CreatedAt)

	out, err := scanTenant(row)
	if err != nil {
		return service.Tenant{}, mapConflict(err)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE tenant_id = $1`, tenantColumns)
	out, err := scanTenant(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return out, nil
}

func (r *PostgresRepository) FindBySlug(ctx context.Context, slug string) (service.Tenant, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE slug = $1`, tenantColumns)
	out, err := scanTenant(r.pool.QueryRow(ctx, query, slug))
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return out, nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, id uuid.UUID, status tenant.Status) (service.Tenant, error) {
	query := fmt.Sprintf(`
		UPDATE tenants SET status = $2 WHERE tenant_id = $1
		RETURNING %s`, tenantColumns)
	out, err := scanTenant(r.pool.QueryRow(ctx, query, id, string(status)))
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return out, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]service.Tenant, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenants ORDER BY created_at`, tenantColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []service.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func scanTenant(row pgx.Row) (service.Tenant, error) {
	var t service.Tenant
	var status string
	if err := row.Scan(&t.ID, &t.Slug, &status, &t.Host, &t.Port, &t.Database, &t.CredentialsRef, &t.CreatedAt); err != nil {
		return service.Tenant{}, err
	}
	t.Status = tenant.Status(status)
	return t, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound
	}
	return err
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" && strings.EqualFold(pgErr.ConstraintName, "tenants_slug_unique") {
			return service.ErrConflictSlug
		}
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
