// Package worker implements the worker harness (C3): a pool of N parallel
// instances polling a named queue, invoking a handler, and
// committing/retrying/DLQing the result — adapted from the teacher's
// session-executor worker pool onto the Redis-backed queue fabric.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/codeready-toolchain/meetingsvc/pkg/broker"
	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/metrics"
)

// Outcome is what a Handler decides for one job execution.
type Outcome int

const (
	// OutcomeSuccess acks the job.
	OutcomeSuccess Outcome = iota
	// OutcomeRetry nacks with backoff, or DLQs if attempts are exhausted.
	OutcomeRetry
	// OutcomeDLQ routes straight to the DLQ regardless of attempts remaining
	// (spec.md §7 "non-retryable external errors ... fail fast, mark job DLQ").
	OutcomeDLQ
)

// Result is a Handler's verdict for one job.
type Result struct {
	Outcome Outcome
	Reason  string // required for OutcomeRetry/OutcomeDLQ
}

// Handler executes one pipeline stage for a single job. ctx is cancelled at
// the visibility-timeout deadline (spec.md §5: "visibility timeout ...
// doubles as an upper bound on handler execution"); the trace fields travel
// on env, not on ctx.
type Handler interface {
	Handle(ctx context.Context, env jobs.Envelope) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env jobs.Envelope) Result

func (f HandlerFunc) Handle(ctx context.Context, env jobs.Envelope) Result { return f(ctx, env) }

// Config parametrizes one worker pool (one per pipeline stage).
type Config struct {
	Queue             string
	Handler           Handler
	Concurrency       int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	// DrainDeadline bounds how long Stop waits for in-flight jobs to finish
	// before returning; past it their visibility simply expires and another
	// worker (possibly after restart) redelivers them (spec.md §4.3).
	DrainDeadline time.Duration
}

// Pool runs Config.Concurrency worker goroutines against Config.Queue.
type Pool struct {
	cfg    Config
	broker *broker.Broker
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool constructs a pool. Call Start to begin polling.
func NewPool(b *broker.Broker, cfg Config) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.DrainDeadline <= 0 {
		cfg.DrainDeadline = 10 * time.Second
	}
	return &Pool{
		cfg:    cfg,
		broker: b,
		logger: slog.Default().With("component", "worker", "queue", cfg.Queue),
	}
}

// Start launches Concurrency goroutines, each independently polling/handling.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := i
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, workerID)
		}()
	}
}

// Stop cancels polling (no new reservations) and waits up to DrainDeadline
// for in-flight handlers to finish — cooperative shutdown per spec.md §4.3.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.DrainDeadline):
		p.logger.Warn("drain deadline exceeded, in-flight jobs will be redelivered after visibility expiry")
	}
}

func (p *Pool) run(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := p.broker.Reserve(ctx, p.cfg.Queue, p.cfg.VisibilityTimeout)
		if errors.Is(err, broker.ErrEmpty) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}
		if err != nil {
			p.logger.Error("reserve failed", "worker_id", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.process(ctx, *env)
	}
}

func (p *Pool) process(ctx context.Context, env jobs.Envelope) {
	start := time.Now()
	logger := p.logger.With("job_id", env.JobID, "meeting_id", env.MeetingID, "trace_id", env.TraceID)

	handlerCtx, cancel := context.WithTimeout(ctx, p.cfg.VisibilityTimeout)
	defer cancel()

	result := p.cfg.Handler.Handle(handlerCtx, env)
	metrics.ObserveWorkerLatency(p.cfg.Queue, time.Since(start))

	switch result.Outcome {
	case OutcomeSuccess:
		if err := p.broker.Ack(ctx, p.cfg.Queue, env.JobID); err != nil {
			logger.Error("ack failed", "error", err)
		}
		metrics.IncWorkerResult(p.cfg.Queue, "success")

	case OutcomeDLQ:
		if err := p.broker.DLQPush(ctx, p.cfg.Queue, env.JobID, result.Reason); err != nil {
			logger.Error("dlq_push failed", "error", err)
		}
		logger.Warn("job sent to DLQ", "reason", result.Reason)
		metrics.IncWorkerResult(p.cfg.Queue, "dlq")
		metrics.IncDLQ(p.cfg.Queue)

	case OutcomeRetry:
		delay := backoff(env.Attempt)
		if err := p.broker.Nack(ctx, p.cfg.Queue, env.JobID, result.Reason, delay); err != nil {
			logger.Error("nack failed", "error", err)
		}
		metrics.IncWorkerResult(p.cfg.Queue, "retry")
	}
}

// backoff is exponential with a 30s ceiling: 1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
func backoff(attempt int) time.Duration {
	const ceiling = 30 * time.Second
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > ceiling || d < 0 {
		return ceiling
	}
	return d
}
