// Package pipelinepool supervises one analyzer pipeline actor per (symbol,
// timeframe) key and parallelizes historical backfill across instruments
// with a bounded worker pool (A8).
package pipelinepool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work submitted to a Pool.
type Task interface {
	Run(ctx context.Context) error
	Name() string
}

// TaskFunc adapts a plain function into a Task.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (f TaskFunc) Run(ctx context.Context) error { return f.Fn(ctx) }
func (f TaskFunc) Name() string                  { return f.TaskName }

// PoolConfig controls worker count and per-task timeout for backfill fan-out.
type PoolConfig struct {
	Workers         int
	QueueDepth      int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig sizes the pool off the configured backfill worker count.
func DefaultPoolConfig(workers int) PoolConfig {
	if workers < 1 {
		workers = 1
	}
	return PoolConfig{
		Workers:         workers,
		QueueDepth:      workers * 4,
		TaskTimeout:     5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// PoolMetrics tracks coarse counters for submitted backfill work.
type PoolMetrics struct {
	TasksSubmitted  atomic.Int64
	TasksCompleted  atomic.Int64
	TasksFailed     atomic.Int64
	PanicsRecovered atomic.Int64
}

// Pool runs backfill Tasks across a bounded set of worker goroutines,
// adapted from the teacher's internal/workers.Pool: bounded queue, panic
// recovery per task, graceful drain on Stop.
type Pool struct {
	logger  *zap.Logger
	cfg     PoolConfig
	metrics PoolMetrics

	taskQueue chan taskEnvelope
	wg        sync.WaitGroup
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

type taskEnvelope struct {
	task Task
	errC chan error
}

// NewPool starts cfg.Workers worker goroutines draining a bounded task queue.
func NewPool(logger *zap.Logger, cfg PoolConfig) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger:    logger,
		cfg:       cfg,
		taskQueue: make(chan taskEnvelope, cfg.QueueDepth),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.running.Store(true)
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case env, ok := <-p.taskQueue:
			if !ok {
				return
			}
			err := p.execute(env.task)
			if env.errC != nil {
				env.errC <- err
			}
		}
	}
}

func (p *Pool) execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.PanicsRecovered.Add(1)
			err = fmt.Errorf("pipelinepool: task %s panicked: %v", task.Name(), r)
			p.logger.Error("task panic recovered", zap.String("task", task.Name()), zap.Any("panic", r))
		}
		if err != nil {
			p.metrics.TasksFailed.Add(1)
		} else {
			p.metrics.TasksCompleted.Add(1)
		}
	}()

	taskCtx := p.ctx
	var cancel context.CancelFunc
	if p.cfg.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(p.ctx, p.cfg.TaskTimeout)
		defer cancel()
	}
	return task.Run(taskCtx)
}

// Submit enqueues task and blocks the caller until it has run, returning its
// error.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return fmt.Errorf("pipelinepool: pool is stopped")
	}
	errC := make(chan error, 1)
	select {
	case p.taskQueue <- taskEnvelope{task: task, errC: errC}:
		p.metrics.TasksSubmitted.Add(1)
	case <-p.ctx.Done():
		return fmt.Errorf("pipelinepool: pool shutting down")
	}
	select {
	case err := <-errC:
		return err
	case <-p.ctx.Done():
		return fmt.Errorf("pipelinepool: pool shutting down before task completed")
	}
}

// SubmitFunc wraps fn as a Task and submits it.
func (p *Pool) SubmitFunc(name string, fn func(ctx context.Context) error) error {
	return p.Submit(TaskFunc{TaskName: name, Fn: fn})
}

// SubmitAll runs every task concurrently across the pool and returns the
// first non-nil error, after every task has finished.
func (p *Pool) SubmitAll(tasks []Task) error {
	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			errs[i] = p.Submit(t)
		}(i, t)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop drains in-flight tasks and stops every worker, waiting up to
// cfg.ShutdownTimeout before forcing cancellation.
func (p *Pool) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.taskQueue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("pipelinepool: shutdown timeout exceeded, forcing cancellation")
		p.cancel()
		<-done
		return
	}
	p.cancel()
}

// Metrics returns a snapshot of the pool's coarse task counters.
func (p *Pool) Metrics() (submitted, completed, failed, panics int64) {
	return p.metrics.TasksSubmitted.Load(), p.metrics.TasksCompleted.Load(),
		p.metrics.TasksFailed.Load(), p.metrics.PanicsRecovered.Load()
}
