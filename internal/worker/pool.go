// Package worker consumes dispatch messages and runs the report pipeline.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/queue"
	"github.com/kiranshivaraju/casefile/internal/store"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// Runner executes one pipeline run and reports the status the report was
// left in. An error means the report could not be loaded and nothing ran.
type Runner interface {
	Run(ctx context.Context, reportID uuid.UUID) (models.ReportStatus, error)
}

// Config tunes a Pool.
type Config struct {
	Workers    int
	RetryDelay time.Duration
}

// Pool executes queued report runs on a fixed number of goroutines.
type Pool struct {
	queue      queue.Queue
	runner     Runner
	locker     Locker
	workers    int
	retryDelay time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a Pool. A nil locker falls back to a MemoryLocker.
func NewPool(q queue.Queue, runner Runner, locker Locker, cfg Config, logger *slog.Logger) *Pool {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:      q,
		runner:     runner,
		locker:     locker,
		workers:    cfg.Workers,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Start consumes until ctx is cancelled or the queue closes, then waits for
// in-flight runs to return.
func (p *Pool) Start(ctx context.Context) error {
	deliveries, err := p.queue.Consume(ctx)
	if err != nil {
		return err
	}

	p.logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i, deliveries)
	}

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) worker(ctx context.Context, id int, deliveries <-chan queue.Delivery) {
	defer p.wg.Done()
	log := p.logger.With("worker_id", id)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			p.handle(ctx, d, log)
		}
	}
}

// handle never requeues a message because of a pipeline failure: the
// outcome of a run lives on the report.
func (p *Pool) handle(ctx context.Context, d queue.Delivery, log *slog.Logger) {
	msg, err := queue.Decode(d.Body)
	if err != nil {
		log.Warn("rejecting malformed message", "error", err)
		_ = d.Reject(false)
		return
	}
	log = log.With("report_id", msg.ReportID)

	acquired, err := p.locker.Acquire(ctx, msg.ReportID)
	if err != nil {
		log.Error("acquiring run lock, requeueing", "error", err, "delay", p.retryDelay)
		p.wait(ctx)
		_ = d.Reject(true)
		return
	}
	if !acquired {
		log.Warn("run already in flight, dropping message")
		_ = d.Ack()
		return
	}
	defer func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), msg.ReportID); err != nil {
			log.Warn("releasing run lock", "error", err)
		}
	}()

	status, err := p.runner.Run(ctx, msg.ReportID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("report no longer exists, dropping message")
	case err != nil:
		log.Error("loading report, requeueing", "error", err, "delay", p.retryDelay)
		p.wait(ctx)
		_ = d.Reject(true)
		return
	default:
		log.Info("run finished", "status", status)
	}

	if err := d.Ack(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("acking message", "error", err)
	}
}

// wait pauses before a requeue so a failing dependency is not hammered.
func (p *Pool) wait(ctx context.Context) {
	select {
	case <-time.After(p.retryDelay):
	case <-ctx.Done():
	}
}
