package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-finagent/core"
)

// Recorder appends audit entries on behalf of the pipeline.
//
// Appends are best-effort: a failure is logged, counted and handed to the
// optional hook, then returned for the caller to report. Callers never roll
// back or mask a primary result because of it.
type Recorder struct {
	store  Store
	logger *zap.Logger
	clock  func() time.Time
	onFail func(ns core.Namespace, kind core.AuditKind, err error)

	failures atomic.Uint64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the logger for append failures.
func WithLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithFailureHook is called for every failed append.
func WithFailureHook(fn func(ns core.Namespace, kind core.AuditKind, err error)) RecorderOption {
	return func(r *Recorder) {
		r.onFail = fn
	}
}

// NewRecorder creates a Recorder over store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("memory")
	return r
}

// Record stamps payload with an id and timestamp and appends it to ns.
//
// The append runs on a context detached from ctx's cancellation so that a
// caller whose external call just timed out still gets its audit trail.
func (r *Recorder) Record(ctx context.Context, ns core.Namespace, payload core.Payload) (core.AuditEntry, error) {
	entry := core.AuditEntry{
		ID:        uuid.New().String(),
		Namespace: ns,
		Kind:      payload.AuditKind(),
		Payload:   payload,
		Timestamp: r.clock().UTC(),
	}

	if err := r.store.Append(context.WithoutCancel(ctx), ns, entry); err != nil {
		r.failures.Add(1)
		r.logger.Warn("audit append failed",
			zap.String("namespace", ns.String()),
			zap.String("kind", string(entry.Kind)),
			zap.Error(err))
		if r.onFail != nil {
			r.onFail(ns, entry.Kind, err)
		}
		return entry, fmt.Errorf("append %s: %w", entry.Kind, err)
	}

	r.logger.Debug("audit appended",
		zap.String("namespace", ns.String()),
		zap.String("kind", string(entry.Kind)),
		zap.String("id", entry.ID))
	return entry, nil
}

// Failures returns the number of appends that have failed.
func (r *Recorder) Failures() uint64 {
	return r.failures.Load()
}

// Store returns the underlying store.
func (r *Recorder) Store() Store {
	return r.store
}
