// Package scheduler queues operations by priority and feeds them to the
// history manager with a configurable concurrency cap. Commits to the log
// stay serialized inside the manager; the cap only governs how many
// operations may be in flight around that critical section.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/montagekit/montage/internal/history"
	"github.com/montagekit/montage/internal/log"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
)

// Handle is the deferred result of a scheduled operation. It resolves
// exactly once: when the operation completes, or with ErrQueueCleared when
// the queue is cleared before the operation starts.
type Handle struct {
	done chan struct{}
	res  *operation.Result
	err  error
	once sync.Once
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(res *operation.Result, err error) {
	h.once.Do(func() {
		h.res = res
		h.err = err
		close(h.done)
	})
}

// Done returns a channel closed when the handle resolves.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle resolves or the context is done.
func (h *Handle) Wait(ctx context.Context) (*operation.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.res, h.err
	}
}

type queued struct {
	op       operation.Operation
	priority int
	seq      uint64
	handle   *Handle
	ctx      context.Context
	index    int
}

// opQueue orders by descending priority, FIFO within a priority.
type opQueue []*queued

func (q opQueue) Len() int { return len(q) }
func (q opQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q opQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *opQueue) Push(x any) {
	item := x.(*queued)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *opQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Config is the configuration for the scheduler.
type Config struct {
	History *history.Manager
	// MaxConcurrency caps in-flight operations. Default 1 (serial queue).
	MaxConcurrency int
	Logger         log.Logger
}

func (c *Config) defaults() error {
	if c.History == nil {
		return fmt.Errorf("history manager is required")
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must not be negative")
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 1
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "scheduler.Scheduler"})
	return nil
}

// ScheduleOptions control how a single operation is scheduled.
type ScheduleOptions struct {
	Priority int
	// Immediate bypasses the queue, executing before Schedule returns.
	Immediate bool
}

// BatchOptions control how a batch is scheduled.
type BatchOptions struct {
	Priority int
	// Optimize folds consecutive mergeable operations per merge key before
	// enqueueing. The fold never reorders operations and never changes the
	// net domain effect.
	Optimize bool
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Pending        int
	InFlight       int
	MaxConcurrency int
}

// Scheduler owns the pending queue. It only ever talks to the history
// manager's execute entry point.
type Scheduler struct {
	hist           *history.Manager
	queue          opQueue
	maxConcurrency int
	inFlight       int
	seq            uint64
	mu             sync.Mutex
	logger         log.Logger
}

// New creates a new scheduler.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Scheduler{
		hist:           cfg.History,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         cfg.Logger,
	}, nil
}

// Schedule queues an operation (or executes it immediately) and returns its
// deferred handle.
func (s *Scheduler) Schedule(ctx context.Context, op operation.Operation, opts ScheduleOptions) *Handle {
	handle := newHandle()

	if opts.Immediate {
		res, err := s.hist.Execute(ctx, op)
		handle.resolve(res, err)
		return handle
	}

	s.mu.Lock()
	item := &queued{
		op:       op,
		priority: opts.Priority,
		seq:      s.seq,
		handle:   handle,
		ctx:      ctx,
	}
	s.seq++
	heap.Push(&s.queue, item)
	s.mu.Unlock()

	s.pump()

	return handle
}

// ScheduleBatch schedules a sequence of operations, optionally folding
// consecutive mergeable ones first. Returns one handle per enqueued
// operation, in enqueue order.
func (s *Scheduler) ScheduleBatch(ctx context.Context, ops []operation.Operation, opts BatchOptions) []*Handle {
	if opts.Optimize {
		ops = s.optimize(ops)
	}

	handles := make([]*Handle, 0, len(ops))
	for _, op := range ops {
		handles = append(handles, s.Schedule(ctx, op, ScheduleOptions{Priority: opts.Priority}))
	}
	return handles
}

// optimize folds consecutive mergeable operations sharing a merge key. A
// pure efficiency transform: relative order is preserved.
func (s *Scheduler) optimize(ops []operation.Operation) []operation.Operation {
	out := make([]operation.Operation, 0, len(ops))
	for _, op := range ops {
		if len(out) > 0 {
			last, lok := out[len(out)-1].(operation.Mergeable)
			next, nok := op.(operation.Mergeable)
			if lok && nok && last.MergeKey() == next.MergeKey() && last.CanMerge(op) {
				err := last.Merge(op)
				if err == nil {
					continue
				}
				s.logger.Warningf("Could not fold %s into %s: %s", op.ID(), last.ID(), err)
			}
		}
		out = append(out, op)
	}

	if folded := len(ops) - len(out); folded > 0 {
		s.logger.Debugf("Batch optimization folded %d of %d operations", folded, len(ops))
	}

	return out
}

// pump starts queued operations while capacity remains.
func (s *Scheduler) pump() {
	for {
		s.mu.Lock()
		if s.inFlight >= s.maxConcurrency || s.queue.Len() == 0 {
			s.mu.Unlock()
			return
		}
		item := heap.Pop(&s.queue).(*queued)
		s.inFlight++
		s.mu.Unlock()

		go s.run(item)
	}
}

func (s *Scheduler) run(item *queued) {
	res, err := s.hist.Execute(item.ctx, item.op)
	item.handle.resolve(res, err)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	s.pump()
}

// SetConcurrency changes the concurrency cap. Affects future pumps only,
// never already started operations.
func (s *Scheduler) SetConcurrency(n int) error {
	if n < 1 {
		return fmt.Errorf("max concurrency must be at least 1: %w", model.ErrNotValid)
	}

	s.mu.Lock()
	s.maxConcurrency = n
	s.mu.Unlock()

	s.pump()

	return nil
}

// ClearQueue rejects every not-yet-started handle with ErrQueueCleared and
// empties the queue. In-flight operations continue to completion.
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()
	cleared := make([]*queued, 0, s.queue.Len())
	for s.queue.Len() > 0 {
		cleared = append(cleared, heap.Pop(&s.queue).(*queued))
	}
	s.mu.Unlock()

	for _, item := range cleared {
		item.handle.resolve(nil, fmt.Errorf("operation %s discarded: %w", item.op.ID(), model.ErrQueueCleared))
	}
	if len(cleared) > 0 {
		s.logger.Infof("Cleared %d queued operations", len(cleared))
	}

	return len(cleared)
}

// Pending returns the number of queued, not-yet-started operations.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// InFlight returns the number of operations currently executing.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// StatsSnapshot returns the current scheduler counters.
func (s *Scheduler) StatsSnapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:        s.queue.Len(),
		InFlight:       s.inFlight,
		MaxConcurrency: s.maxConcurrency,
	}
}
