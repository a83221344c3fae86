package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

// ErrCancelled signals that the task's invoice was cancelled while the task
// waited. The pool retires the task without dead-lettering it.
var ErrCancelled = errors.New("queue: invoice cancelled")

// Handler processes one claimed task. Returning nil acknowledges the task;
// returning ErrCancelled cancels it; any other error is routed through the
// retry policy.
type Handler func(ctx context.Context, task *model.Task) error

// PoolOptions configures the worker pool.
type PoolOptions struct {
	// Workers is the number of concurrent consumers. Default: 4.
	Workers int
	// PollInterval is how long an idle worker sleeps before re-polling.
	// Default: 2s.
	PollInterval time.Duration
}

// Pool runs a fixed set of workers that claim and process tasks until the
// context is cancelled. Workers share the process-wide circuit breakers
// held by the handler, so one worker tripping a dependency protects the
// rest.
type Pool struct {
	queue   *Queue
	handler Handler
	opts    PoolOptions
}

// NewPool creates a worker pool over the queue.
func NewPool(q *Queue, handler Handler, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Pool{queue: q, handler: handler, opts: opts}
}

// Run blocks until ctx is cancelled. It returns nil on clean shutdown.
func (p *Pool) Run(ctx context.Context) error {
	zap.L().Info("queue: worker pool starting", zap.Int("workers", p.opts.Workers))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(ctx, worker)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	zap.L().Info("queue: worker pool stopped")
	return err
}

func (p *Pool) runWorker(ctx context.Context, id int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		task, err := p.queue.Claim(ctx)
		if err != nil {
			zap.L().Error("queue: claim failed", zap.Int("worker", id), zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if task == nil {
			p.sleep(ctx)
			continue
		}

		p.process(ctx, id, task)
	}
}

func (p *Pool) process(ctx context.Context, id int, task *model.Task) {
	start := time.Now()
	err := p.handler(ctx, task)

	switch {
	case err == nil:
		if ackErr := p.queue.Ack(ctx, task); ackErr != nil {
			zap.L().Error("queue: ack failed", zap.String("task_id", task.ID), zap.Error(ackErr))
		}
	case errors.Is(err, ErrCancelled):
		if cancelErr := p.queue.Cancel(ctx, task); cancelErr != nil {
			zap.L().Error("queue: cancel failed", zap.String("task_id", task.ID), zap.Error(cancelErr))
		}
	default:
		if nackErr := p.queue.Nack(ctx, task, string(task.Kind), err); nackErr != nil {
			zap.L().Error("queue: nack failed", zap.String("task_id", task.ID), zap.Error(nackErr))
		}
	}

	zap.L().Debug("queue: task processed",
		zap.Int("worker", id),
		zap.String("task_id", task.ID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.opts.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
