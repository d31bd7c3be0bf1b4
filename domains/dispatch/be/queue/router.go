package queue

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RouterConfig carries per-channel queue configuration. Channels missing from
// the map are treated as disabled.
type RouterConfig struct {
	Queues map[Name]Config
}

// Router owns the four channel queues and routes jobs to them. Queues are
// independent: each has its own buffer, worker pool and retry policy, and a
// disabled queue accepts no enqueue and attaches no workers.
type Router struct {
	queues map[Name]*Queue
	logger *zap.Logger
}

// NewRouter builds the queues. Each channel needs a ProcessFunc; channels
// without one are forced disabled.
func NewRouter(cfg RouterConfig, processors map[Name]ProcessFunc, isPermanent PermanentFunc, logger *zap.Logger, metrics *Metrics) *Router {
	if logger == nil {
		panic("logger is required")
	}

	r := &Router{
		queues: make(map[Name]*Queue, len(Names())),
		logger: logger.With(zap.String("component", "queue-router")),
	}

	for _, name := range Names() {
		qcfg := cfg.Queues[name]
		process, ok := processors[name]
		if !ok {
			qcfg.Enabled = false
			process = func(ctx context.Context, job Job) (Result, error) { return Result{}, nil }
		}
		r.queues[name] = newQueue(name, qcfg, process, isPermanent, logger, metrics)
	}

	return r
}

// Start attaches worker pools to every enabled queue.
func (r *Router) Start() {
	for _, q := range r.queues {
		q.start()
		if q.Enabled() {
			r.logger.Info("queue started",
				zap.String("queue", string(q.Name())),
				zap.Int("workers", q.cfg.Workers))
		} else {
			r.logger.Info("queue disabled", zap.String("queue", string(q.Name())))
		}
	}
}

// Enqueue routes a job to its channel queue.
func (r *Router) Enqueue(ctx context.Context, name Name, job Job) (Handle, error) {
	q, ok := r.queues[name]
	if !ok {
		return Handle{}, ErrUnknownQueue
	}
	return q.Enqueue(ctx, job)
}

// Queue returns the named queue for event subscription, or nil when unknown.
func (r *Router) Queue(name Name) *Queue {
	return r.queues[name]
}

// RegisterDepthGauges exposes per-queue buffered depth on reg.
func (r *Router) RegisterDepthGauges(reg prometheus.Registerer) {
	for name, q := range r.queues {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "courier_queue_depth",
			Help:        "Jobs buffered per channel queue.",
			ConstLabels: prometheus.Labels{"queue": string(name)},
		}, func() float64 { return float64(q.Depth()) }))
	}
}

// Stats reports depth and enablement per queue.
func (r *Router) Stats() map[Name]QueueStats {
	out := make(map[Name]QueueStats, len(r.queues))
	for name, q := range r.queues {
		out[name] = QueueStats{Enabled: q.Enabled(), Depth: q.Depth(), Workers: q.cfg.Workers}
	}
	return out
}

// QueueStats is a point-in-time snapshot of one queue.
type QueueStats struct {
	Enabled bool `json:"enabled"`
	Depth   int  `json:"depth"`
	Workers int  `json:"workers"`
}
