package connpool

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relaycore/courier/platform/go/tenant"
)

// Errors returned by the pool manager.
var (
	ErrPoolExhausted = errors.New("connection pool exhausted")
	ErrManagerClosed = errors.New("connection pool manager closed")
)

// Querier is the subset of pgx.Conn used by data-plane repositories.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is a single database connection bound to one tenant for its lifetime.
type Conn interface {
	Querier
	Close(ctx context.Context) error
}

// Factory opens connections from a tenant descriptor.
type Factory interface {
	Open(ctx context.Context, desc tenant.Descriptor) (Conn, error)
}

// Resolver maps tenant ids to connection descriptors. Implemented by the
// tenant registry service.
type Resolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (tenant.Descriptor, error)
}

// Config tunes the per-tenant pools.
type Config struct {
	// PerTenantMax bounds open connections for a single tenant.
	PerTenantMax int
	// GlobalMax bounds open connections across all tenants.
	GlobalMax int
	// AcquireWait is how long Acquire blocks on a saturated pool before
	// failing with ErrPoolExhausted.
	AcquireWait time.Duration
	// IdleTTL closes handles idle beyond this threshold.
	IdleTTL time.Duration
	// JanitorInterval controls how often idle handles are swept.
	JanitorInterval time.Duration
}

// DefaultConfig returns conservative pool bounds.
func DefaultConfig() Config {
	return Config{
		PerTenantMax:    4,
		GlobalMax:       32,
		AcquireWait:     5 * time.Second,
		IdleTTL:         2 * time.Minute,
		JanitorInterval: 30 * time.Second,
	}
}

// Handle is a checked-out tenant connection. It is owned by the manager and
// borrowed by the caller between Acquire and Release.
type Handle struct {
	tenantID uuid.UUID
	conn     Conn
	lastUsed time.Time
}

// TenantID reports the tenant the handle is bound to.
func (h *Handle) TenantID() uuid.UUID { return h.tenantID }

// Conn exposes the underlying connection for the duration of the checkout.
func (h *Handle) Conn() Querier { return h.conn }
