package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ShutdownCoordinator drains and closes every queue exactly once at process
// termination. All queues close concurrently; the call returns when every
// queue reports closed or ctx expires, whichever comes first.
type ShutdownCoordinator struct {
	router *Router
	logger *zap.Logger
	once   sync.Once
}

// NewShutdownCoordinator constructs a coordinator for the router's queues.
func NewShutdownCoordinator(router *Router, logger *zap.Logger) *ShutdownCoordinator {
	if router == nil {
		panic("router is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &ShutdownCoordinator{router: router, logger: logger.With(zap.String("component", "queue-shutdown"))}
}

// Shutdown closes all queues. A second call is a no-op.
func (c *ShutdownCoordinator) Shutdown(ctx context.Context) {
	c.once.Do(func() {
		c.logger.Info("draining queues")

		var g errgroup.Group
		for _, name := range Names() {
			q := c.router.Queue(name)
			g.Go(func() error {
				q.close(ctx)
				return nil
			})
		}
		_ = g.Wait()

		c.logger.Info("all queues closed")
	})
}
