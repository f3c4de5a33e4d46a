// Package isolate provides a SecureExecution capability that runs each call
// on its own goroutine, contains panics and enforces a deadline.
package isolate

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PanicError is returned when the isolated function panicked.
type PanicError struct {
	RunID string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("isolated run %s panicked: %v", e.RunID, e.Value)
}

// Runner implements capability.SecureExecution.
type Runner struct {
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds every run. Zero means only the caller's deadline applies.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("isolate")
	return r
}

type outcome struct {
	value any
	err   error
}

// RunIsolated runs fn and waits for it or for the deadline, whichever comes
// first. fn receives a context that is cancelled when RunIsolated returns.
func (r *Runner) RunIsolated(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	runID := uuid.New().String()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- outcome{err: &PanicError{RunID: runID, Value: v, Stack: debug.Stack()}}
			}
		}()
		value, err := fn(runCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			r.logger.Debug("isolated run failed", zap.String("run", runID), zap.Error(out.err))
		}
		return out.value, out.err
	case <-runCtx.Done():
		r.logger.Warn("isolated run abandoned", zap.String("run", runID), zap.Error(runCtx.Err()))
		return nil, runCtx.Err()
	}
}
