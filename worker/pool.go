// Package worker provides the host process around the lifecycle runners:
// a registry of domain bodies and a pool of goroutines that poll the
// queue, build a fresh execution context per invocation, and drive each
// job through pipeline-aware execution.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conduct/alert"
	"github.com/xraph/conduct/id"
	"github.com/xraph/conduct/job"
	"github.com/xraph/conduct/lifecycle"
	"github.com/xraph/conduct/middleware"
	"github.com/xraph/conduct/queue"
	"github.com/xraph/conduct/store"
)

// Pool manages a set of concurrent worker goroutines that poll the queue
// and execute jobs through the lifecycle runners. Every invocation gets
// its own transactional session from the store — nothing is shared
// between jobs beyond the queue and the alert channel.
type Pool struct {
	store      store.Store
	consumer   queue.Consumer
	enqueuer   queue.Enqueuer
	registry   *Registry
	alerts     alert.Notifier
	limits     *queue.Limits
	policy     job.RetryPolicy
	middleware []middleware.Middleware

	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithAlerts sets the alert channel handed to the lifecycle runners.
func WithAlerts(n alert.Notifier) PoolOption {
	return func(p *Pool) { p.alerts = n }
}

// WithLimits sets per-function rate limiting and concurrency control.
func WithLimits(l *queue.Limits) PoolOption {
	return func(p *Pool) { p.limits = l }
}

// WithRetryPolicy sets the retry policy handed to the lifecycle runners.
func WithRetryPolicy(policy job.RetryPolicy) PoolOption {
	return func(p *Pool) { p.policy = policy }
}

// WithMiddleware sets the middleware chain wrapped around every body,
// outermost first.
func WithMiddleware(mws ...middleware.Middleware) PoolOption {
	return func(p *Pool) { p.middleware = mws }
}

// WithLogger sets the structured logger for the pool.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool.
func NewPool(st store.Store, consumer queue.Consumer, enqueuer queue.Enqueuer, registry *Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        st,
		consumer:     consumer,
		enqueuer:     enqueuer,
		registry:     registry,
		policy:       job.DefaultRetryPolicy(),
		concurrency:  10,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       slog.Default(),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.alerts == nil {
		p.alerts = alert.NewLogNotifier(p.logger)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("functions", p.registry.Names()),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish or for
// the context deadline.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		claimed, err := p.RunOnce(context.Background())
		if err != nil {
			p.logger.Error("job processing error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if !claimed {
			p.sleep()
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job
// was claimed. Exposed for deterministic single-step execution in tests
// and command-line drains.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	ref, err := p.consumer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if ref == nil {
		return false, nil
	}

	if p.limits != nil && !p.limits.Acquire(ref.Function) {
		// Throttled. Return the reference to the queue with a small delay.
		if _, reqErr := p.enqueuer.Enqueue(ctx, ref.Function, ref.JobID, p.pollInterval, ""); reqErr != nil {
			p.logger.Error("failed to requeue throttled job",
				slog.String("job_id", ref.JobID.String()),
				slog.String("error", reqErr.Error()),
			)
		}
		return false, nil
	}

	p.process(ctx, ref)

	if p.limits != nil {
		p.limits.Release(ref.Function)
	}
	return true, nil
}

// process executes one claimed reference through the lifecycle runners
// with a fresh session.
func (p *Pool) process(ctx context.Context, ref *queue.Reference) {
	session, err := p.store.Begin(ctx)
	if err != nil {
		p.alerts.Notify(ctx, alert.Event{Op: "session.begin", JobID: ref.JobID, Err: err})
		return
	}
	defer func() {
		if rbErr := session.Rollback(ctx); rbErr != nil {
			p.logger.Error("session rollback failed",
				slog.String("job_id", ref.JobID.String()),
				slog.String("error", rbErr.Error()),
			)
		}
	}()

	body, ok := p.registry.Resolve(ref.Function)
	if !ok {
		p.failUnknownFunction(ctx, session, ref)
		return
	}

	correlationID := ""
	if j, err := session.GetJob(ctx, ref.JobID); err == nil {
		correlationID = j.CorrelationID
	}

	runner := lifecycle.PipelineRunner{Job: lifecycle.JobRunner{
		Context: lifecycle.Context{
			DB:            session,
			Queue:         p.enqueuer,
			Alerts:        p.alerts,
			Logger:        p.logger,
			CorrelationID: correlationID,
		},
		Policy:     p.policy,
		Middleware: p.middleware,
	}}

	result := runner.Run(ctx, ref.JobID, body)

	p.logger.Info("job processed",
		slog.String("worker_id", p.workerID.String()),
		slog.String("job_id", ref.JobID.String()),
		slog.String("function", ref.Function),
		slog.String("result", string(result.Status)),
	)
}

// failUnknownFunction marks a job whose function has no registered body
// as terminally failed, so it is not silently lost.
func (p *Pool) failUnknownFunction(ctx context.Context, session store.Session, ref *queue.Reference) {
	unknownErr := errors.New("worker: no body registered for function " + ref.Function)
	p.alerts.Notify(ctx, alert.Event{Op: "worker.resolve_function", JobID: ref.JobID, Err: unknownErr})

	mgr, err := job.NewManager(ctx, session, ref.JobID, job.WithLogger(p.logger))
	if err != nil {
		p.logger.Error("cannot resolve job for unknown function",
			slog.String("job_id", ref.JobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := mgr.Fail(ctx, job.NewFailure(job.CategoryConfigurationError, unknownErr), nil); err != nil {
		p.logger.Error("cannot fail job with unknown function",
			slog.String("job_id", ref.JobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := session.Commit(ctx); err != nil {
		p.logger.Error("cannot commit unknown-function failure",
			slog.String("job_id", ref.JobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-p.stopCh:
	case <-time.After(p.pollInterval):
	}
}
