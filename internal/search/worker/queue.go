// Package worker runs store writes off the request path.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/logger"
	"github.com/adaptive-search/backend/pkg/retry"
)

type Config struct {
	Size       int
	MaxRetries int
	JobTimeout time.Duration
	// RetryDelay is the first backoff between attempts.
	RetryDelay time.Duration
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Queue is a bounded FIFO with a single consumer. Jobs run in submission
// order and each is retried with exponential backoff before being dropped.
type Queue struct {
	jobs       chan job
	retry      retry.Config
	jobTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	// inflight counts accepted jobs not yet finished; idle is signalled
	// when it returns to zero.
	inflightMu sync.Mutex
	inflight   int
	idle       *sync.Cond

	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func New(cfg Config) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}

	q := &Queue{
		jobs: make(chan job, cfg.Size),
		retry: retry.Config{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.1,
			Logger:       logger.GetLogger(),
		},
		jobTimeout: cfg.JobTimeout,
		done:       make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.inflightMu)
	go q.consume()
	return q
}

// Submit enqueues fn without blocking. It returns false when the queue is
// full or closed; the job is then dropped.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(name, "closed")
		return false
	}

	q.inflightMu.Lock()
	q.inflight++
	q.inflightMu.Unlock()
	select {
	case q.jobs <- job{name: name, run: fn}:
		return true
	default:
		q.finish()
		q.drop(name, "full")
		return false
	}
}

func (q *Queue) drop(name, reason string) {
	q.dropped.Add(1)
	metrics.QueueDropped.Inc()
	logger.Warn("Background job dropped",
		zap.String("job", name),
		zap.String("reason", reason),
	)
}

func (q *Queue) consume() {
	defer close(q.done)
	for j := range q.jobs {
		q.execute(j)
		q.finish()
	}
}

func (q *Queue) finish() {
	q.inflightMu.Lock()
	q.inflight--
	if q.inflight == 0 {
		q.idle.Broadcast()
	}
	q.inflightMu.Unlock()
}

func (q *Queue) execute(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError{value: r}
			}
		}()
		cfg := q.retry
		cfg.Operation = j.name
		cfg.OnRetry = metrics.CountRetry(j.name)
		return retry.Do(ctx, cfg, func() error { return j.run(ctx) })
	}()

	if err != nil {
		q.failed.Add(1)
		metrics.PatternWrites.WithLabelValues(j.name, "failed").Inc()
		logger.Error("Background job failed",
			zap.String("job", j.name),
			zap.Error(&search.LearningError{Op: j.name, Err: err}),
		)
		return
	}
	q.completed.Add(1)
	metrics.PatternWrites.WithLabelValues(j.name, "ok").Inc()
}

// Drain blocks until no accepted job is queued or running. It is safe to
// call while other goroutines keep submitting.
func (q *Queue) Drain() {
	q.inflightMu.Lock()
	for q.inflight > 0 {
		q.idle.Wait()
	}
	q.inflightMu.Unlock()
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	<-q.done
}

type Stats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

func (q *Queue) Stats() Stats {
	return Stats{
		Pending:   len(q.jobs),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
