package health

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNilFunc is returned by Wrap when there is nothing to wrap.
var ErrNilFunc = errors.New("health: cannot wrap a nil function")

// Wrap returns fn instrumented so that every call is registered as a task for
// its whole duration. The task is completed even when fn fails or panics; a
// panic is re-raised after bookkeeping.
func (r *Registry) Wrap(name string, fn func(ctx context.Context) error) (func(ctx context.Context) error, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	return func(ctx context.Context) error {
		id := r.AddTask(name, nil)
		defer r.CompleteTask(id)
		return fn(ctx)
	}, nil
}

// Go runs fn on a new goroutine as a tracked task and returns the task id.
// Errors and panics are logged; they never escape the goroutine.
func (r *Registry) Go(ctx context.Context, name string, fn func(ctx context.Context) error) (int64, error) {
	if fn == nil {
		return 0, ErrNilFunc
	}
	id := r.AddTask(name, nil)
	go func() {
		defer r.CompleteTask(id)
		defer func() {
			if p := recover(); p != nil {
				r.log.ErrorContext(ctx, "health.task.panic", slog.String("task", name), slog.Any("panic", p))
			}
		}()
		if err := fn(ctx); err != nil {
			r.log.WarnContext(ctx, "health.task.fail", slog.String("task", name), slog.String("err", err.Error()))
		}
	}()
	return id, nil
}
