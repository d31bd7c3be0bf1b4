package tenant

import (
	"fmt"

	"github.com/google/uuid"
)

// Status reflects whether a tenant may be served.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Descriptor captures everything needed to reach a tenant's isolated database.
// It is resolved once per request by the tenant registry and attached to the
// context; data-plane components treat it as opaque routing metadata.
type Descriptor struct {
	TenantID uuid.UUID
	Slug     string
	Status   Status

	// Connection coordinates for the tenant's dedicated database.
	Host           string
	Port           int
	Database       string
	CredentialsRef string
}

// DSN renders the descriptor as a pgx connection string. The credentials
// reference is resolved by the caller (secret store lookup happens outside
// the core); here it is passed through as user:password material.
func (d Descriptor) DSN(user, password string) string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", user, password, d.Host, port, d.Database)
}

// Suspended reports whether the tenant must be refused service.
func (d Descriptor) Suspended() bool {
	return d.Status == StatusSuspended
}
