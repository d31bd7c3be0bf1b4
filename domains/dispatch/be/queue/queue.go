package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Errors returned by the queue layer.
var (
	// ErrQueueDisabled reports an enqueue against a disabled channel. This is
	// a normal, non-error state for callers: the channel is simply not
	// configured for this deployment.
	ErrQueueDisabled = errors.New("queue disabled")
	ErrQueueClosed   = errors.New("queue closed")
	ErrUnknownQueue  = errors.New("unknown queue")
	// ErrShutdownAbort marks jobs that were still queued or running when the
	// drain timeout elapsed, distinguishable from carrier-side failures.
	ErrShutdownAbort = errors.New("aborted by shutdown")
)

// Name identifies one of the channel queues.
type Name string

const (
	Mail      Name = "mail"
	SMS       Name = "sms"
	MMS       Name = "mms"
	Analytics Name = "analytics"
)

// Names lists every queue the router can own, in a stable order.
func Names() []Name { return []Name{Mail, SMS, MMS, Analytics} }

// Job is one unit of enqueued work: a single outbound send attempt or a
// derived analytics task.
type Job struct {
	ID        uuid.UUID
	Queue     Name
	TenantID  uuid.UUID
	MessageID uuid.UUID
	Recipient string
	Body      string
	// Attempts counts processing attempts, maintained by the queue.
	Attempts   int
	EnqueuedAt time.Time
}

// Handle is returned to the enqueue caller for correlation.
type Handle struct {
	JobID uuid.UUID
	Queue Name
}

// Result is produced by a successful processing attempt.
type Result struct {
	// ExternalID is the provider-assigned id for outbound sends; empty for
	// jobs with no carrier interaction.
	ExternalID string
}

// ProcessFunc performs one attempt of a job.
type ProcessFunc func(ctx context.Context, job Job) (Result, error)

// PermanentFunc reports whether an error must not be retried
// (invalid recipient, provider rejection).
type PermanentFunc func(error) bool

// RetryPolicy bounds transient-error retries.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling, first try included.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// backoff returns the delay before the given (1-based) retry.
func (p RetryPolicy) backoff(retry int) time.Duration {
	d := p.BaseBackoff << (retry - 1)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Config tunes a single queue.
type Config struct {
	Enabled bool
	Workers int
	Buffer  int
	Retry   RetryPolicy
}

// Event handler signatures. Handlers are fire-and-forget: they run on the
// worker goroutine and must not block.
type (
	CompletedHandler func(job Job, externalID string)
	FailedHandler    func(job Job, reason error)
	ErrorHandler     func(queue Name, err error)
)

// Subscription detaches an event handler when cancelled.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel removes the handler; safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Queue is one ordered channel queue with its own worker pool. Jobs are
// dispatched to workers in enqueue order; completion order across concurrent
// workers is not guaranteed.
type Queue struct {
	name        Name
	cfg         Config
	process     ProcessFunc
	isPermanent PermanentFunc
	logger      *zap.Logger
	metrics     *Metrics

	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	// sendMu fences in-progress Enqueue sends against closing the job channel.
	sendMu sync.RWMutex

	mu     sync.Mutex
	closed bool
	subID  int
	onDone map[int]CompletedHandler
	onFail map[int]FailedHandler
	onErr  map[int]ErrorHandler
}

func newQueue(name Name, cfg Config, process ProcessFunc, isPermanent PermanentFunc, logger *zap.Logger, metrics *Metrics) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseBackoff <= 0 {
		cfg.Retry.BaseBackoff = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	return &Queue{
		name:        name,
		cfg:         cfg,
		process:     process,
		isPermanent: isPermanent,
		logger:      logger.With(zap.String("queue", string(name))),
		metrics:     metrics,
		jobs:        make(chan Job, cfg.Buffer),
		ctx:         gctx,
		cancel:      cancel,
		group:       group,
		onDone:      make(map[int]CompletedHandler),
		onFail:      make(map[int]FailedHandler),
		onErr:       make(map[int]ErrorHandler),
	}
}

// Name returns the queue's channel name.
func (q *Queue) Name() Name { return q.name }

// Enabled reports whether this queue accepts work.
func (q *Queue) Enabled() bool { return q.cfg.Enabled }

// Depth reports queued-but-undispatched jobs.
func (q *Queue) Depth() int { return len(q.jobs) }

// start attaches the worker pool. Disabled queues attach no workers.
func (q *Queue) start() {
	if !q.cfg.Enabled {
		return
	}
	for i := 0; i < q.cfg.Workers; i++ {
		q.group.Go(func() error {
			q.worker()
			return nil
		})
	}
}

// Enqueue submits a job. FIFO order within the queue is preserved up to
// dispatch; a full buffer blocks until a worker frees space or ctx expires.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Handle, error) {
	if !q.cfg.Enabled {
		return Handle{}, ErrQueueDisabled
	}

	q.sendMu.RLock()
	defer q.sendMu.RUnlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Handle{}, ErrQueueClosed
	}
	q.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Queue = q.name
	job.EnqueuedAt = time.Now()

	select {
	case q.jobs <- job:
		q.metrics.enqueued(q.name)
		return Handle{JobID: job.ID, Queue: q.name}, nil
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	case <-q.ctx.Done():
		return Handle{}, ErrQueueClosed
	}
}

func (q *Queue) worker() {
	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(job)
		case <-q.ctx.Done():
			return
		}
	}
}

// run drives one job through its retry budget and emits exactly one terminal
// event for it.
func (q *Queue) run(job Job) {
	for {
		job.Attempts++
		result, err := q.process(q.ctx, job)
		if err == nil {
			q.metrics.completed(q.name)
			q.emitCompleted(job, result.ExternalID)
			return
		}

		if q.ctx.Err() != nil {
			q.metrics.failed(q.name)
			q.emitFailed(job, ErrShutdownAbort)
			return
		}

		if q.isPermanent != nil && q.isPermanent(err) {
			q.logger.Warn("permanent send failure",
				zap.String("job_id", job.ID.String()),
				zap.Int("attempts", job.Attempts),
				zap.Error(err))
			q.metrics.failed(q.name)
			q.emitFailed(job, err)
			return
		}

		if job.Attempts >= q.cfg.Retry.MaxAttempts {
			q.metrics.failed(q.name)
			q.emitFailed(job, fmt.Errorf("attempt ceiling reached after %d tries: %w", job.Attempts, err))
			return
		}

		delay := q.cfg.Retry.backoff(job.Attempts)
		q.logger.Debug("retrying job after transient error",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", job.Attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))
		q.metrics.retried(q.name)

		select {
		case <-time.After(delay):
		case <-q.ctx.Done():
			q.metrics.failed(q.name)
			q.emitFailed(job, ErrShutdownAbort)
			return
		}
	}
}

// close stops intake, lets in-flight jobs finish until ctx expires, then
// cancels them and reports everything left as failed with ErrShutdownAbort.
func (q *Queue) close(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	// Wait out Enqueue calls already past the closed check.
	q.sendMu.Lock()
	q.sendMu.Unlock() //nolint:staticcheck // empty critical section is the fence

	close(q.jobs)

	if !q.cfg.Enabled {
		q.cancel()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.group.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		q.logger.Warn("drain timeout elapsed, aborting in-flight jobs")
		q.cancel()
		<-done
	}

	// Anything still buffered never reached a worker.
	for job := range q.jobs {
		q.metrics.failed(q.name)
		q.emitFailed(job, ErrShutdownAbort)
	}

	q.cancel()
}

// OnCompleted subscribes to successful job completions.
func (q *Queue) OnCompleted(fn CompletedHandler) *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.subID
	q.subID++
	q.onDone[id] = fn
	return &Subscription{cancel: func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.onDone, id)
	}}
}

// OnFailed subscribes to terminal job failures.
func (q *Queue) OnFailed(fn FailedHandler) *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.subID
	q.subID++
	q.onFail[id] = fn
	return &Subscription{cancel: func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.onFail, id)
	}}
}

// OnError subscribes to queue-level faults (handler panics and the like).
func (q *Queue) OnError(fn ErrorHandler) *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.subID
	q.subID++
	q.onErr[id] = fn
	return &Subscription{cancel: func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.onErr, id)
	}}
}

func (q *Queue) emitCompleted(job Job, externalID string) {
	for _, fn := range q.completedHandlers() {
		q.safeEmit(func() { fn(job, externalID) })
	}
}

func (q *Queue) emitFailed(job Job, reason error) {
	for _, fn := range q.failedHandlers() {
		q.safeEmit(func() { fn(job, reason) })
	}
}

func (q *Queue) completedHandlers() []CompletedHandler {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]CompletedHandler, 0, len(q.onDone))
	for _, fn := range q.onDone {
		out = append(out, fn)
	}
	return out
}

func (q *Queue) failedHandlers() []FailedHandler {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]FailedHandler, 0, len(q.onFail))
	for _, fn := range q.onFail {
		out = append(out, fn)
	}
	return out
}

// safeEmit keeps a panicking subscriber from killing the worker; the panic is
// surfaced through the error event instead.
func (q *Queue) safeEmit(emit func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("event handler panic: %v", r)
			q.logger.Error("event handler panic", zap.Any("panic", r))
			q.mu.Lock()
			handlers := make([]ErrorHandler, 0, len(q.onErr))
			for _, fn := range q.onErr {
				handlers = append(handlers, fn)
			}
			q.mu.Unlock()
			for _, fn := range handlers {
				fn(q.name, err)
			}
		}
	}()
	emit()
}
