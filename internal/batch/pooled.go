package batch

import (
	"context"
	"errors"

	"github.com/mattjoyce/muster/internal/dispatch"
)

// Engine is anything that can run a batch.
type Engine interface {
	Execute(ctx context.Context, commands []Command) ([]Result, error)
}

// PooledEngine routes whole batches through the shared worker pool so that
// concurrent callers are admission-controlled by one queue instead of
// spawning unbounded work.
type PooledEngine struct {
	pool  *dispatch.Pool
	inner Engine
}

func NewPooledEngine(pool *dispatch.Pool, inner Engine) *PooledEngine {
	return &PooledEngine{pool: pool, inner: inner}
}

// Execute submits the batch as one pool task and waits for it. Admission
// failure is a mechanism failure: no command ran, no partial results exist.
func (p *PooledEngine) Execute(ctx context.Context, commands []Command) ([]Result, error) {
	var results []Result
	handle, err := p.pool.TrySubmit(ctx, func(taskCtx context.Context) error {
		r, err := p.inner.Execute(taskCtx, commands)
		if err != nil {
			return err
		}
		results = r
		return nil
	})
	if err != nil {
		return nil, &ExecutionError{Stage: "admit", Err: err}
	}

	if err := handle.Wait(ctx); err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			return nil, execErr
		}
		return nil, &ExecutionError{Stage: "wait", Err: err}
	}
	return results, nil
}
