package connpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns every tenant database connection in the process. It keeps one
// bounded pool per tenant inside a shared arena, enforces a global connection
// ceiling and evicts idle handles. It is the only component allowed to open
// or close tenant connections.
type Manager struct {
	cfg      Config
	factory  Factory
	resolver Resolver
	logger   *zap.Logger

	mu      sync.Mutex
	tenants map[uuid.UUID]*tenantPool
	open    int
	closed  bool
	wake    chan struct{}

	janitorStop chan struct{}
	janitorDone chan struct{}
	shutdown    sync.Once
}

type tenantPool struct {
	idle  []*Handle // oldest first
	inUse map[*Handle]struct{}
}

func (tp *tenantPool) open() int { return len(tp.idle) + len(tp.inUse) }

// NewManager constructs a Manager and starts its idle sweeper.
func NewManager(cfg Config, factory Factory, resolver Resolver, logger *zap.Logger) *Manager {
	if factory == nil {
		panic("connpool factory is required")
	}
	if resolver == nil {
		panic("connpool resolver is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cfg.PerTenantMax <= 0 || cfg.GlobalMax <= 0 {
		panic("connpool bounds must be positive")
	}

	m := &Manager{
		cfg:         cfg,
		factory:     factory,
		resolver:    resolver,
		logger:      logger.With(zap.String("component", "connpool")),
		tenants:     make(map[uuid.UUID]*tenantPool),
		wake:        make(chan struct{}),
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}

	go m.janitor()

	return m
}

// Acquire checks out a connection bound to tenantID. It reuses an idle handle
// when one exists, opens a new connection while budgets allow, evicts the
// least-recently-used idle handle of another tenant when the global ceiling is
// hit, and otherwise blocks until a handle frees up or the wait bound elapses.
func (m *Manager) Acquire(ctx context.Context, tenantID uuid.UUID) (*Handle, error) {
	desc, err := m.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(m.cfg.AcquireWait)
	defer timer.Stop()

	for {
		h, reserved, evict, wake := m.tryAcquire(tenantID)

		if evict != nil {
			_ = evict.conn.Close(ctx)
		}

		if h != nil {
			return h, nil
		}

		if reserved {
			conn, err := m.factory.Open(ctx, desc)
			if err != nil {
				m.unreserve(tenantID)
				return nil, fmt.Errorf("open tenant connection: %w", err)
			}
			return m.adopt(tenantID, conn), nil
		}

		if wake == nil {
			return nil, ErrManagerClosed
		}

		select {
		case <-wake:
		case <-timer.C:
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryAcquire attempts a non-blocking checkout. It returns exactly one of:
// an idle handle, a reservation to open a new connection (possibly paired
// with an evicted handle the caller must close), or a wake channel to wait
// on. A nil wake channel means the manager is closed.
func (m *Manager) tryAcquire(tenantID uuid.UUID) (h *Handle, reserved bool, evict *Handle, wake chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, nil, nil
	}

	tp := m.pool(tenantID)

	if n := len(tp.idle); n > 0 {
		// Most recently used idle handle keeps the working set warm.
		h = tp.idle[n-1]
		tp.idle = tp.idle[:n-1]
		tp.inUse[h] = struct{}{}
		return h, false, nil, nil
	}

	if tp.open() >= m.cfg.PerTenantMax {
		return nil, false, nil, m.wake
	}

	if m.open < m.cfg.GlobalMax {
		m.open++
		return nil, true, nil, nil
	}

	if victim := m.popIdleLRULocked(tenantID); victim != nil {
		// Victim's slot is transferred to the new reservation.
		return nil, true, victim, nil
	}

	return nil, false, nil, m.wake
}

// popIdleLRULocked removes the least-recently-used idle handle belonging to
// any tenant other than exclude. The global open count is left untouched:
// callers reuse the freed slot.
func (m *Manager) popIdleLRULocked(exclude uuid.UUID) *Handle {
	var victim *Handle
	var victimTenant *tenantPool

	for id, tp := range m.tenants {
		if id == exclude || len(tp.idle) == 0 {
			continue
		}
		oldest := tp.idle[0]
		if victim == nil || oldest.lastUsed.Before(victim.lastUsed) {
			victim = oldest
			victimTenant = tp
		}
	}

	if victim == nil {
		return nil
	}
	victimTenant.idle = victimTenant.idle[1:]
	return victim
}

// adopt registers a freshly opened connection under its reservation.
func (m *Manager) adopt(tenantID uuid.UUID, conn Conn) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := &Handle{tenantID: tenantID, conn: conn, lastUsed: time.Now()}
	m.pool(tenantID).inUse[h] = struct{}{}
	return h
}

// unreserve rolls back a reservation whose open failed.
func (m *Manager) unreserve(tenantID uuid.UUID) {
	m.mu.Lock()
	m.open--
	m.wakeLocked()
	m.mu.Unlock()
}

// Release returns a handle to its tenant pool. After shutdown has begun the
// connection is closed instead.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	tp := m.pool(h.tenantID)
	if _, tracked := tp.inUse[h]; !tracked {
		// Double release, or a handle force-closed during shutdown.
		m.mu.Unlock()
		return
	}
	delete(tp.inUse, h)

	if m.closed {
		m.open--
		m.wakeLocked()
		m.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.conn.Close(ctx)
		return
	}

	h.lastUsed = time.Now()
	tp.idle = append(tp.idle, h)
	m.wakeLocked()
	m.mu.Unlock()
}

// Stats reports open connection counts, keyed by tenant.
func (m *Manager) Stats() (total int, perTenant map[uuid.UUID]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	perTenant = make(map[uuid.UUID]int, len(m.tenants))
	for id, tp := range m.tenants {
		if n := tp.open(); n > 0 {
			perTenant[id] = n
		}
	}
	return m.open, perTenant
}

// Shutdown closes all handles across all tenants, waiting for in-flight
// operations to release their handles until ctx expires; stragglers are then
// closed underneath their borrowers. Safe to call once; later calls no-op.
func (m *Manager) Shutdown(ctx context.Context) {
	m.shutdown.Do(func() {
		close(m.janitorStop)
		<-m.janitorDone

		m.mu.Lock()
		m.closed = true
		idle := m.drainIdleLocked()
		m.wakeLocked()
		m.mu.Unlock()

		m.closeAll(ctx, idle)

		for {
			m.mu.Lock()
			remaining := m.open
			wake := m.wake
			m.mu.Unlock()

			if remaining == 0 {
				return
			}

			select {
			case <-wake:
			case <-ctx.Done():
				m.forceCloseInUse()
				return
			}
		}
	})
}

func (m *Manager) drainIdleLocked() []*Handle {
	var handles []*Handle
	for _, tp := range m.tenants {
		handles = append(handles, tp.idle...)
		tp.idle = nil
	}
	m.open -= len(handles)
	return handles
}

func (m *Manager) forceCloseInUse() {
	m.mu.Lock()
	var handles []*Handle
	for _, tp := range m.tenants {
		for h := range tp.inUse {
			handles = append(handles, h)
		}
		tp.inUse = make(map[*Handle]struct{})
	}
	m.open -= len(handles)
	m.mu.Unlock()

	if len(handles) > 0 {
		m.logger.Warn("force closing connections still in use at shutdown", zap.Int("count", len(handles)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.closeAll(ctx, handles)
}

func (m *Manager) closeAll(ctx context.Context, handles []*Handle) {
	for _, h := range handles {
		if err := h.conn.Close(ctx); err != nil {
			m.logger.Warn("close tenant connection", zap.String("tenant_id", h.tenantID.String()), zap.Error(err))
		}
	}
}

func (m *Manager) janitor() {
	defer close(m.janitorDone)

	interval := m.cfg.JanitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepIdle()
		case <-m.janitorStop:
			return
		}
	}
}

// sweepIdle closes handles idle beyond IdleTTL.
func (m *Manager) sweepIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var expired []*Handle
	for _, tp := range m.tenants {
		kept := tp.idle[:0]
		for _, h := range tp.idle {
			if h.lastUsed.Before(cutoff) {
				expired = append(expired, h)
			} else {
				kept = append(kept, h)
			}
		}
		tp.idle = kept
	}
	m.open -= len(expired)
	if len(expired) > 0 {
		m.wakeLocked()
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	m.logger.Debug("evicted idle tenant connections", zap.Int("count", len(expired)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.closeAll(ctx, expired)
}

func (m *Manager) pool(tenantID uuid.UUID) *tenantPool {
	tp, ok := m.tenants[tenantID]
	if !ok {
		tp = &tenantPool{inUse: make(map[*Handle]struct{})}
		m.tenants[tenantID] = tp
	}
	return tp
}

// wakeLocked wakes every blocked Acquire and Shutdown waiter.
func (m *Manager) wakeLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}
