package pipelinepool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

// Consumer is the narrow subset of analyzer.Facade the supervisor drives.
// Matches barsource.Consumer's shape so either can wrap the same Facade.
type Consumer interface {
	OnBar(bar types.Bar) (*types.AnalysisDelta, error)
}

// key identifies one actor.
type key struct {
	symbol    string
	timeframe types.Timeframe
}

func (k key) String() string { return k.symbol + "|" + string(k.timeframe) }

// actor drains one (symbol, timeframe)'s inbound bar queue strictly in
// arrival order, per spec §5's single-writer-per-instrument model.
type actor struct {
	key    key
	queue  chan types.Bar
	done   chan struct{}
	errors chan error
}

// Supervisor owns one actor per (symbol, timeframe) key and a worker pool
// for parallel historical backfill across instruments.
type Supervisor struct {
	logger   *zap.Logger
	consumer Consumer
	cfg      types.PipelineConfig

	mu     sync.Mutex
	actors map[key]*actor

	backfillPool *Pool
}

// NewSupervisor wires consumer (typically an *analyzer.Facade) behind a set
// of per-instrument actors and a backfill worker pool sized from cfg.
func NewSupervisor(logger *zap.Logger, consumer Consumer, cfg types.PipelineConfig) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		logger:       logger,
		consumer:     consumer,
		cfg:          cfg,
		actors:       make(map[key]*actor),
		backfillPool: NewPool(logger, DefaultPoolConfig(cfg.BackfillWorkers)),
	}
}

func (s *Supervisor) actorFor(symbol string, tf types.Timeframe) *actor {
	k := key{symbol: symbol, timeframe: tf}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actors[k]; ok {
		return a
	}

	depth := s.cfg.QueueDepth
	if depth < 1 {
		depth = 1
	}
	a := &actor{
		key:    k,
		queue:  make(chan types.Bar, depth),
		done:   make(chan struct{}),
		errors: make(chan error, depth),
	}
	s.actors[k] = a
	go s.run(a)
	return a
}

func (s *Supervisor) run(a *actor) {
	defer close(a.done)
	for bar := range a.queue {
		if _, err := s.consumer.OnBar(bar); err != nil {
			s.logger.Error("actor failed processing bar",
				zap.String("actor", a.key.String()), zap.Time("bar_time", bar.Time), zap.Error(err))
			select {
			case a.errors <- err:
			default:
			}
		}
	}
}

// Submit enqueues bar onto its (symbol, timeframe) actor, creating the actor
// lazily, and blocks only if that actor's queue is full.
func (s *Supervisor) Submit(ctx context.Context, bar types.Bar) error {
	a := s.actorFor(bar.Symbol, bar.Timeframe)
	select {
	case a.queue <- bar:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BackfillJob is one (symbol, timeframe)'s full historical bar series to
// replay through its actor before live delivery begins.
type BackfillJob struct {
	Symbol    string
	Timeframe types.Timeframe
	Bars      []types.Bar
}

// Backfill replays every job's bars through its own actor, one worker-pool
// task per job. Bars within a single job are always submitted in order on
// the same goroutine; only different jobs run concurrently with each other.
func (s *Supervisor) Backfill(ctx context.Context, jobs []BackfillJob) error {
	tasks := make([]Task, 0, len(jobs))
	for _, job := range jobs {
		job := job
		tasks = append(tasks, TaskFunc{
			TaskName: fmt.Sprintf("backfill:%s:%s", job.Symbol, job.Timeframe),
			Fn: func(taskCtx context.Context) error {
				for _, bar := range job.Bars {
					if err := s.Submit(taskCtx, bar); err != nil {
						return err
					}
				}
				return nil
			},
		})
	}
	return s.backfillPool.SubmitAll(tasks)
}

// Stop stops the backfill pool and closes every actor's queue, waiting for
// each actor goroutine to drain and exit.
func (s *Supervisor) Stop() {
	s.backfillPool.Stop()

	s.mu.Lock()
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	for _, a := range actors {
		close(a.queue)
	}
	for _, a := range actors {
		<-a.done
	}
}
