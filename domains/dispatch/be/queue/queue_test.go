package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		Enabled: true,
		Workers: 1,
		Buffer:  16,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseBackoff: time.Millisecond,
			MaxBackoff:  5 * time.Millisecond,
		},
	}
}

func drainQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.close(ctx)
}

func TestEnqueueDisabledQueue(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	q := newQueue(SMS, cfg, func(ctx context.Context, job Job) (Result, error) {
		return Result{}, nil
	}, nil, zap.NewNop(), nil)
	q.start()

	_, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.ErrorIs(t, err, ErrQueueDisabled)
}

func TestDispatchesJobsInEnqueueOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []uuid.UUID
	done := make(chan struct{}, 8)

	q := newQueue(SMS, testConfig(), func(ctx context.Context, job Job) (Result, error) {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		done <- struct{}{}
		return Result{ExternalID: "SM" + job.ID.String()}, nil
	}, nil, zap.NewNop(), nil)
	q.start()

	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		h, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
		require.NoError(t, err)
		want = append(want, h.JobID)
	}

	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	drainQueue(t, q)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, want, order)
}

func TestRetriesTransientErrorsUntilSuccess(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := 0
	completed := make(chan Job, 1)

	q := newQueue(Mail, testConfig(), func(ctx context.Context, job Job) (Result, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return Result{}, errors.New("connection reset")
		}
		return Result{ExternalID: "EM-1"}, nil
	}, nil, zap.NewNop(), nil)
	q.OnCompleted(func(job Job, externalID string) {
		require.Equal(t, "EM-1", externalID)
		completed <- job
	})
	q.start()

	_, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.NoError(t, err)

	select {
	case job := <-completed:
		require.Equal(t, 3, job.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}
	drainQueue(t, q)
}

func TestPermanentErrorFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	permanent := errors.New("invalid recipient")
	var mu sync.Mutex
	attempts := 0
	failed := make(chan error, 1)

	q := newQueue(SMS, testConfig(), func(ctx context.Context, job Job) (Result, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return Result{}, permanent
	}, func(err error) bool {
		return errors.Is(err, permanent)
	}, zap.NewNop(), nil)
	q.OnFailed(func(job Job, reason error) {
		failed <- reason
	})
	q.start()

	_, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.NoError(t, err)

	select {
	case reason := <-failed:
		require.ErrorIs(t, reason, permanent)
	case <-time.After(5 * time.Second):
		t.Fatal("job never failed")
	}
	drainQueue(t, q)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, attempts, "permanent errors must not be retried")
}

func TestAttemptCeilingEmitsExactlyOneFailure(t *testing.T) {
	t.Parallel()

	transient := errors.New("gateway timeout")
	failed := make(chan error, 8)

	q := newQueue(MMS, testConfig(), func(ctx context.Context, job Job) (Result, error) {
		return Result{}, transient
	}, nil, zap.NewNop(), nil)
	q.OnFailed(func(job Job, reason error) {
		failed <- reason
	})
	q.start()

	_, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.NoError(t, err)

	select {
	case reason := <-failed:
		require.ErrorIs(t, reason, transient)
	case <-time.After(5 * time.Second):
		t.Fatal("job never failed")
	}
	drainQueue(t, q)

	select {
	case reason := <-failed:
		t.Fatalf("unexpected second failure event: %v", reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseDrainsInFlightJobs(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	completed := make(chan Job, 1)

	q := newQueue(Mail, testConfig(), func(ctx context.Context, job Job) (Result, error) {
		<-release
		return Result{ExternalID: "EM-2"}, nil
	}, nil, zap.NewNop(), nil)
	q.OnCompleted(func(job Job, externalID string) {
		completed <- job
	})
	q.start()

	_, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.close(ctx)
	}()

	close(release)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return after drain")
	}
	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("in-flight job was not completed during drain")
	}
}

func TestCloseAbortsJobsPastDrainDeadline(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var startedOnce sync.Once
	failed := make(chan error, 4)

	q := newQueue(SMS, testConfig(), func(ctx context.Context, job Job) (Result, error) {
		startedOnce.Do(func() { close(started) })
		<-ctx.Done()
		return Result{}, ctx.Err()
	}, nil, zap.NewNop(), nil)
	q.OnFailed(func(job Job, reason error) {
		failed <- reason
	})
	q.start()

	// One job occupies the single worker, one stays buffered.
	_, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the job")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.close(ctx)

	for i := 0; i < 2; i++ {
		select {
		case reason := <-failed:
			require.ErrorIs(t, reason, ErrShutdownAbort)
		case <-time.After(time.Second):
			t.Fatal("expected both jobs reported as aborted")
		}
	}
}

func TestEnqueueAfterCloseReturnsClosed(t *testing.T) {
	t.Parallel()

	q := newQueue(Analytics, testConfig(), func(ctx context.Context, job Job) (Result, error) {
		return Result{}, nil
	}, nil, zap.NewNop(), nil)
	q.start()
	drainQueue(t, q)

	_, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestCancelledSubscriptionReceivesNothing(t *testing.T) {
	t.Parallel()

	kept := make(chan Job, 4)
	var cancelled sync.Map

	q := newQueue(Mail, testConfig(), func(ctx context.Context, job Job) (Result, error) {
		return Result{}, nil
	}, nil, zap.NewNop(), nil)
	sub := q.OnCompleted(func(job Job, externalID string) {
		cancelled.Store(job.ID, true)
	})
	q.OnCompleted(func(job Job, externalID string) {
		kept <- job
	})
	sub.Cancel()
	sub.Cancel() // second cancel is a no-op
	q.start()

	_, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.NoError(t, err)

	var job Job
	select {
	case job = <-kept:
	case <-time.After(5 * time.Second):
		t.Fatal("surviving subscription never fired")
	}
	drainQueue(t, q)

	_, saw := cancelled.Load(job.ID)
	require.False(t, saw, "cancelled subscription must not receive events")
}

func TestPanickingSubscriberSurfacesAsErrorEvent(t *testing.T) {
	t.Parallel()

	errs := make(chan error, 1)

	q := newQueue(SMS, testConfig(), func(ctx context.Context, job Job) (Result, error) {
		return Result{}, nil
	}, nil, zap.NewNop(), nil)
	q.OnCompleted(func(job Job, externalID string) {
		panic("subscriber bug")
	})
	q.OnError(func(name Name, err error) {
		errs <- err
	})
	q.start()

	_, err := q.Enqueue(context.Background(), Job{TenantID: uuid.New()})
	require.NoError(t, err)

	select {
	case err := <-errs:
		require.Contains(t, err.Error(), "subscriber bug")
	case <-time.After(5 * time.Second):
		t.Fatal("panic was not surfaced as an error event")
	}
	drainQueue(t, q)
}

func TestRouterRoutesAndReportsStats(t *testing.T) {
	t.Parallel()

	processed := make(chan Job, 1)
	cfg := RouterConfig{Queues: map[Name]Config{
		SMS: testConfig(),
	}}
	processors := map[Name]ProcessFunc{
		SMS: func(ctx context.Context, job Job) (Result, error) {
			processed <- job
			return Result{}, nil
		},
	}

	r := NewRouter(cfg, processors, nil, zap.NewNop(), nil)
	r.Start()

	_, err := r.Enqueue(context.Background(), SMS, Job{TenantID: uuid.New()})
	require.NoError(t, err)
	select {
	case <-processed:
	case <-time.After(5 * time.Second):
		t.Fatal("router never dispatched the job")
	}

	// Mail has neither config nor processor, so it is disabled.
	_, err = r.Enqueue(context.Background(), Mail, Job{TenantID: uuid.New()})
	require.ErrorIs(t, err, ErrQueueDisabled)

	_, err = r.Enqueue(context.Background(), Name("fax"), Job{})
	require.ErrorIs(t, err, ErrUnknownQueue)

	stats := r.Stats()
	require.Len(t, stats, 4)
	require.True(t, stats[SMS].Enabled)
	require.False(t, stats[Mail].Enabled)

	NewShutdownCoordinator(r, zap.NewNop()).Shutdown(context.Background())
}

func TestRetryBackoffIsBounded(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	require.Equal(t, 100*time.Millisecond, p.backoff(1))
	require.Equal(t, 200*time.Millisecond, p.backoff(2))
	require.Equal(t, 300*time.Millisecond, p.backoff(3))
	require.Equal(t, 300*time.Millisecond, p.backoff(4))
}
