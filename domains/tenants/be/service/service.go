package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/courier/platform/go/tenant"
)

// Errors returned by the tenant registry.
var (
	ErrNotFound     = errors.New("tenant not found")
	ErrSuspended    = errors.New("tenant suspended")
	ErrConflictSlug = errors.New("tenant slug already exists")
	ErrInvalidInput = errors.New("invalid tenant input")
)

// Tenant is the registry's view of an onboarded tenant: identity plus the
// coordinates of its dedicated database.
type Tenant struct {
	ID             uuid.UUID
	Slug           string
	Status         tenant.Status
	Host           string
	Port           int
	Database       string
	CredentialsRef string
	CreatedAt      time.Time
}

// Descriptor projects the registry row into the routing metadata consumed by
// the connection pool and data-plane services.
func (t Tenant) Descriptor() tenant.Descriptor {
	return tenant.Descriptor{
		TenantID:       t.ID,
		Slug:           t.Slug,
		Status:         t.Status,
		Host:           t.Host,
		Port:           t.Port,
		Database:       t.Database,
		CredentialsRef: t.CredentialsRef,
	}
}

// OnboardInput captures the fields supplied by the provisioning subsystem.
type OnboardInput struct {
	Slug           string
	Host           string
	Port           int
	Database       string
	CredentialsRef string
}

// Repository abstracts registry persistence.
type Repository interface {
	Create(ctx context.Context, t Tenant) (Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	FindBySlug(ctx context.Context, slug string) (Tenant, error)
	SetStatus(ctx context.Context, id uuid.UUID, status tenant.Status) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
}

// Service provides tenant registry operations. Resolution is read-mostly, so
// resolved descriptors are held in a small TTL cache refreshed on miss;
// administrative status changes invalidate the affected entry.
type Service struct {
	repo     Repository
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[uuid.UUID]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	desc      tenant.Descriptor
	expiresAt time.Time
}

// New constructs a Service. A zero cacheTTL disables caching.
func New(repo Repository, cacheTTL time.Duration) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	return &Service{
		repo:     repo,
		cacheTTL: cacheTTL,
		cache:    make(map[uuid.UUID]cacheEntry),
		now:      time.Now,
	}
}

// Resolve maps a tenant id to its connection descriptor.
// Returns ErrNotFound for unknown tenants and ErrSuspended for disabled ones;
// only active descriptors are cached.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (tenant.Descriptor, error) {
	if d, ok := s.cacheGet(id); ok {
		return d, nil
	}

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return tenant.Descriptor{}, err
	}
	if t.Status == tenant.StatusSuspended {
		return tenant.Descriptor{}, ErrSuspended
	}

	d := t.Descriptor()
	s.cachePut(id, d)
	return d, nil
}

// Onboard registers a new tenant as active.
func (s *Service) Onboard(ctx context.Context, input OnboardInput) (Tenant, error) {
	slug := strings.TrimSpace(strings.ToLower(input.Slug))
	if slug == "" {
		return Tenant{}, fmt.Errorf("%w: slug is required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Host) == "" || strings.TrimSpace(input.Database) == "" {
		return Tenant{}, fmt.Errorf("%w: host and database are required", ErrInvalidInput)
	}

	t := Tenant{
		ID:             uuid.New(),
		Slug:           slug,
		Status:         tenant.StatusActive,
		Host:           input.Host,
		Port:           input.Port,
		Database:       input.Database,
		CredentialsRef: input.CredentialsRef,
		CreatedAt:      s.now().UTC(),
	}

	return s.repo.Create(ctx, t)
}

// Suspend disables a tenant and drops it from the resolution cache.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID) (Tenant, error) {
	t, err := s.repo.SetStatus(ctx, id, tenant.StatusSuspended)
	if err != nil {
		return Tenant{}, err
	}
	s.cacheInvalidate(id)
	return t, nil
}

// Reactivate re-enables a suspended tenant.
func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) (Tenant, error) {
	t, err := s.repo.SetStatus(ctx, id, tenant.StatusActive)
	if err != nil {
		return Tenant{}, err
	}
	s.cacheInvalidate(id)
	return t, nil
}

// List returns all registry entries.
func (s *Service) List(ctx context.Context) ([]Tenant, error) {
	return s.repo.List(ctx)
}

func (s *Service) cacheGet(id uuid.UUID) (tenant.Descriptor, bool) {
	if s.cacheTTL <= 0 {
		return tenant.Descriptor{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.cache[id]
	if !ok || s.now().After(entry.expiresAt) {
		return tenant.Descriptor{}, false
	}
	return entry.desc, true
}

func (s *Service) cachePut(id uuid.UUID, d tenant.Descriptor) {
	if s.cacheTTL <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[id] = cacheEntry{desc: d, expiresAt: s.now().Add(s.cacheTTL)}
}

func (s *Service) cacheInvalidate(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
}
