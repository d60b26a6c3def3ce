// Package dispatch provides the bounded worker pool every unit of target-bound
// work is scheduled through. It is a pure scheduling primitive: it runs what
// it is given and has no other side effects.
package dispatch

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/mattjoyce/muster/internal/log"
)

// ErrPoolSaturated reports a non-blocking submit against a full admission
// queue. The pool never grows to absorb load.
var ErrPoolSaturated = errors.New("task pool saturated")

// ErrPoolStopped reports a submit against a stopped pool.
var ErrPoolStopped = errors.New("task pool stopped")

// State describes where a task is in its lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Task is a unit of work. It must honor ctx cancellation.
type Task func(ctx context.Context) error

// Handle observes and cancels one submitted task.
type Handle struct {
	ID string

	mu     sync.Mutex
	state  State
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// State returns the task's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the task error once terminal, nil otherwise.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel requests cooperative cancellation. A queued task will be skipped; a
// running task sees its context cancelled.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed when the task reaches a terminal state. It can be received
// on from any goroutine, which is how async completion is delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish(state State, err error) {
	h.mu.Lock()
	h.state = state
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) markRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateQueued {
		return false
	}
	h.state = StateRunning
	return true
}

type item struct {
	ctx    context.Context
	task   Task
	handle *Handle
}

// Pool is a fixed-size worker pool with a bounded FIFO admission queue.
type Pool struct {
	size   int
	tasks  chan *item
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger interface {
		Debug(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// New creates a pool. size <= 0 means host concurrency; queueDepth <= 0 gets
// a small default.
func New(size, queueDepth int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:   size,
		tasks:  make(chan *item, queueDepth),
		ctx:    ctx,
		cancel: cancel,
		logger: log.WithComponent("dispatch"),
	}
}

// Size returns the worker count.
func (p *Pool) Size() int { return p.size }

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Debug("worker pool started", "workers", p.size, "queue_depth", cap(p.tasks))
}

// Stop cancels all work and waits for the workers to exit. Queued tasks that
// never started are marked cancelled.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Submit queues a task, blocking while the admission queue is full. The
// returned handle observes completion.
func (p *Pool) Submit(ctx context.Context, task Task) (*Handle, error) {
	it := p.newItem(ctx, task)
	select {
	case p.tasks <- it:
		return it.handle, nil
	case <-ctx.Done():
		it.handle.finish(StateCancelled, ctx.Err())
		return nil, ctx.Err()
	case <-p.ctx.Done():
		it.handle.finish(StateCancelled, ErrPoolStopped)
		return nil, ErrPoolStopped
	}
}

// TrySubmit queues a task without blocking. A full queue fails with
// ErrPoolSaturated.
func (p *Pool) TrySubmit(ctx context.Context, task Task) (*Handle, error) {
	it := p.newItem(ctx, task)
	select {
	case p.tasks <- it:
		return it.handle, nil
	case <-p.ctx.Done():
		it.handle.finish(StateCancelled, ErrPoolStopped)
		return nil, ErrPoolStopped
	default:
		it.handle.finish(StateCancelled, ErrPoolSaturated)
		return nil, ErrPoolSaturated
	}
}

func (p *Pool) newItem(ctx context.Context, task Task) *item {
	taskCtx, taskCancel := context.WithCancel(ctx)
	h := &Handle{
		ID:     uuid.NewString(),
		state:  StateQueued,
		cancel: taskCancel,
		done:   make(chan struct{}),
	}
	return &item{ctx: taskCtx, task: task, handle: h}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case it := <-p.tasks:
			p.run(it)
		}
	}
}

// drain cancels whatever is still queued at shutdown.
func (p *Pool) drain() {
	for {
		select {
		case it := <-p.tasks:
			it.handle.finish(StateCancelled, ErrPoolStopped)
		default:
			return
		}
	}
}

func (p *Pool) run(it *item) {
	if err := it.ctx.Err(); err != nil {
		it.handle.finish(StateCancelled, err)
		return
	}
	if !it.handle.markRunning() {
		return
	}

	err := it.task(it.ctx)
	switch {
	case err == nil:
		it.handle.finish(StateCompleted, nil)
	case errors.Is(err, context.Canceled):
		it.handle.finish(StateCancelled, err)
	default:
		p.logger.Warn("task failed", "task_id", it.handle.ID, "error", err)
		it.handle.finish(StateFailed, err)
	}
}
