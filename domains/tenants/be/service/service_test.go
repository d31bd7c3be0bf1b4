package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/courier/platform/go/tenant"
)

type mockRepository struct {
	createFn    func(ctx context.Context, t Tenant) (Tenant, error)
	getFn       func(ctx context.Context, id uuid.UUID) (Tenant, error)
	findSlugFn  func(ctx context.Context, slug string) (Tenant, error)
	setStatusFn func(ctx context.Context, id uuid.UUID, status tenant.Status) (Tenant, error)
	listFn      func(ctx context.Context) ([]Tenant, error)
}

func (m *mockRepository) Create(ctx context.Context, t Tenant) (Tenant, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, t)
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id)
}

func (m *mockRepository) FindBySlug(ctx context.Context, slug string) (Tenant, error) {
	if m.findSlugFn == nil {
		panic("findSlugFn not configured")
	}
	return m.findSlugFn(ctx, slug)
}

func (m *mockRepository) SetStatus(ctx context.Context, id uuid.UUID, status tenant.Status) (Tenant, error) {
	if m.setStatusFn == nil {
		panic("setStatusFn not configured")
	}
	return m.setStatusFn(ctx, id, status)
}

func (m *mockRepository) List(ctx context.Context) ([]Tenant, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx)
}

func activeTenant(id uuid.UUID) Tenant {
	return Tenant{
		ID:             id,
		Slug:           "acme",
		Status:         tenant.StatusActive,
		Host:           "db-acme.internal",
		Port:           5432,
		Database:       "acme_messages",
		CredentialsRef: "secrets/acme",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestResolveUnknownTenant(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{
		getFn: func(ctx context.Context, id uuid.UUID) (Tenant, error) {
			return Tenant{}, ErrNotFound
		},
	}, 0)

	_, err := svc.Resolve(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveSuspendedTenant(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	suspended := activeTenant(id)
	suspended.Status = tenant.StatusSuspended

	svc := New(&mockRepository{
		getFn: func(ctx context.Context, tid uuid.UUID) (Tenant, error) {
			return suspended, nil
		},
	}, time.Minute)

	_, err := svc.Resolve(context.Background(), id)
	require.ErrorIs(t, err, ErrSuspended)
}

func TestResolveCachesActiveDescriptor(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	calls := 0
	svc := New(&mockRepository{
		getFn: func(ctx context.Context, tid uuid.UUID) (Tenant, error) {
			calls++
			return activeTenant(id), nil
		},
	}, time.Minute)

	first, err := svc.Resolve(context.Background(), id)
	require.NoError(t, err)
	second, err := svc.Resolve(context.Background(), id)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, calls, "second resolve must be served from cache")
}

func TestResolveCacheExpires(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	calls := 0
	svc := New(&mockRepository{
		getFn: func(ctx context.Context, tid uuid.UUID) (Tenant, error) {
			calls++
			return activeTenant(id), nil
		},
	}, time.Minute)

	current := time.Now()
	svc.now = func() time.Time { return current }

	_, err := svc.Resolve(context.Background(), id)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)

	_, err = svc.Resolve(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestSuspendInvalidatesCache(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	current := activeTenant(id)

	repo := &mockRepository{
		getFn: func(ctx context.Context, tid uuid.UUID) (Tenant, error) {
			return current, nil
		},
		setStatusFn: func(ctx context.Context, tid uuid.UUID, status tenant.Status) (Tenant, error) {
			current.Status = status
			return current, nil
		},
	}
	svc := New(repo, time.Minute)

	_, err := svc.Resolve(context.Background(), id)
	require.NoError(t, err)

	_, err = svc.Suspend(context.Background(), id)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), id)
	require.ErrorIs(t, err, ErrSuspended)
}

func TestOnboardValidation(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{}, 0)

	_, err := svc.Onboard(context.Background(), OnboardInput{})
	require.Error(t, err)

	_, err = svc.Onboard(context.Background(), OnboardInput{Slug: "acme"})
	require.Error(t, err)
}

func TestOnboardNormalizesSlug(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{
		createFn: func(ctx context.Context, in Tenant) (Tenant, error) {
			return in, nil
		},
	}, 0)

	created, err := svc.Onboard(context.Background(), OnboardInput{
		Slug:     "  Acme  ",
		Host:     "db-acme.internal",
		Database: "acme_messages",
	})
	require.NoError(t, err)
	require.Equal(t, "acme", created.Slug)
	require.Equal(t, tenant.StatusActive, created.Status)
	require.NotEqual(t, uuid.Nil, created.ID)
}
