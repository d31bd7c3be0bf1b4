package connpool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/relaycore/courier/platform/go/tenant"
)

// CredentialLookup resolves a descriptor's credentials reference into
// user/password material. Secret storage lives outside the core; the default
// implementation is wired at the composition root.
type CredentialLookup func(ctx context.Context, ref string) (user, password string, err error)

// PgxFactory opens one pgx connection per handle against the tenant's
// dedicated database.
type PgxFactory struct {
	credentials CredentialLookup
}

// NewPgxFactory constructs a factory.
func NewPgxFactory(credentials CredentialLookup) *PgxFactory {
	if credentials == nil {
		panic("credential lookup is required")
	}
	return &PgxFactory{credentials: credentials}
}

func (f *PgxFactory) Open(ctx context.Context, desc tenant.Descriptor) (Conn, error) {
	user, password, err := f.credentials(ctx, desc.CredentialsRef)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials %q: %w", desc.CredentialsRef, err)
	}

	conn, err := pgx.Connect(ctx, desc.DSN(user, password))
	if err != nil {
		return nil, fmt.Errorf("connect tenant database %q: %w", desc.Database, err)
	}
	return conn, nil
}

// Ensure pgx.Conn satisfies the handle contract.
var _ Conn = (*pgx.Conn)(nil)

// Ensure interface compliance.
var _ Factory = (*PgxFactory)(nil)
