package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Handler runs one job and returns the output persisted on completion.
type Handler func(ctx context.Context, payload []byte) (any, error)

type RunnerConfig struct {
	Store        *Store
	MaxAttempts  int
	Throttle     float64 // job starts per second, 0 means unlimited
	PollInterval time.Duration
}

// Runner polls the store for pending jobs and dispatches them to registered
// handlers, one at a time. At-least-once execution: a handler may run again
// after a retryable failure, so handlers must be idempotent.
type Runner struct {
	config   RunnerConfig
	handlers map[string]Handler
	limiter  *rate.Limiter
}

func NewRunner(config RunnerConfig) *Runner {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.PollInterval == 0 {
		config.PollInterval = 200 * time.Millisecond
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.Throttle > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.Throttle), 1)
	}

	return &Runner{
		config:   config,
		handlers: make(map[string]Handler),
		limiter:  limiter,
	}
}

// Register binds a handler to a job kind. Must be called before Start.
func (r *Runner) Register(kind string, handler Handler) {
	r.handlers[kind] = handler
}

// Start processes jobs until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		ran, err := r.RunOnce(ctx)
		if err != nil {
			log.Printf("jobs: %v", err)
		}
		if !ran {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.config.PollInterval):
			}
		}
	}
}

// RunOnce claims and runs a single pending job. Returns false when the queue
// is empty.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, ok, err := r.config.Store.claim(ctx)
	if err != nil || !ok {
		return false, err
	}

	handler, registered := r.handlers[job.Kind]
	if !registered {
		return true, r.config.Store.fail(ctx,
			job.ID, fmt.Errorf("no handler registered for kind %q", job.Kind), false)
	}

	output, err := handler(ctx, job.Payload)
	if err != nil {
		retry := job.Attempts < r.config.MaxAttempts
		if retry {
			log.Printf("jobs: %s job %s attempt %d failed, will retry: %v",
				job.Kind, job.ID, job.Attempts, err)
		} else {
			log.Printf("jobs: %s job %s failed permanently after %d attempts: %v",
				job.Kind, job.ID, job.Attempts, err)
		}
		return true, r.config.Store.fail(ctx, job.ID, err, retry)
	}

	return true, r.config.Store.complete(ctx, job.ID, output)
}
