// Package inmem is the in-process memory.Store backend.
//
// It keeps KV values and audit logs in maps guarded by one RWMutex and
// indexes every appended entry in a chromem collection for QuerySimilar.
// Nothing survives the process; use the sqlite backend for durability.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
	"github.com/becomeliminal/nim-finagent/memory/embedder/hash"
	"github.com/becomeliminal/nim-finagent/memory/store/chromem"
)

// Store is an in-memory memory.Store.
type Store struct {
	mu     sync.RWMutex
	closed bool
	kv     map[core.Namespace]map[string][]byte // key -> value
	logs   map[core.Namespace][]core.AuditEntry // insertion-ordered log
	byID   map[core.Namespace]map[string]int    // entry id -> log position
	index  *chromem.Index
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*options)

type options struct {
	embedder memory.Embedder
	logger   *zap.Logger
}

// WithEmbedder sets the embedder used for similarity lookup.
func WithEmbedder(e memory.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	o := options{embedder: hash.New(0), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		kv:     make(map[core.Namespace]map[string][]byte),
		logs:   make(map[core.Namespace][]core.AuditEntry),
		byID:   make(map[core.Namespace]map[string]int),
		index:  chromem.New(o.embedder, o.logger),
		logger: o.logger.Named("inmem"),
	}
}

func (s *Store) check(ns core.Namespace) error {
	if s.closed {
		return fmt.Errorf("%w: store closed", core.ErrStoreUnavailable)
	}
	return ns.Validate()
}

// Put overwrites the value for key.
func (s *Store) Put(ctx context.Context, ns core.Namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ns); err != nil {
		return err
	}

	bucket, ok := s.kv[ns]
	if !ok {
		bucket = make(map[string][]byte)
		s.kv[ns] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

// Get returns a copy of the value for key.
func (s *Store) Get(ctx context.Context, ns core.Namespace, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ns); err != nil {
		return nil, false, err
	}

	v, ok := s.kv[ns][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Append adds entry to the namespace log and indexes it.
func (s *Store) Append(ctx context.Context, ns core.Namespace, entry core.AuditEntry) error {
	s.mu.Lock()
	if err := s.check(ns); err != nil {
		s.mu.Unlock()
		return err
	}
	if entry.ID == "" {
		s.mu.Unlock()
		return fmt.Errorf("append: entry id is required")
	}
	entry = entry.Clone()
	entry.Namespace = ns

	ids, ok := s.byID[ns]
	if !ok {
		ids = make(map[string]int)
		s.byID[ns] = ids
	}
	if _, dup := ids[entry.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("append: duplicate entry id %s", entry.ID)
	}
	ids[entry.ID] = len(s.logs[ns])
	s.logs[ns] = append(s.logs[ns], entry)
	s.mu.Unlock()

	// The log is the record; a missing index entry only degrades QuerySimilar.
	if err := s.index.Add(ctx, ns, entry); err != nil {
		s.logger.Warn("index entry failed", zap.String("id", entry.ID), zap.Error(err))
	}
	return nil
}

// Query scans the namespace log newest first.
func (s *Store) Query(ctx context.Context, ns core.Namespace, pred memory.Predicate, limit int) ([]core.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ns); err != nil {
		return nil, err
	}

	log := s.logs[ns]
	var out []core.AuditEntry
	for i := len(log) - 1; i >= 0; i-- {
		if !memory.Match(pred, log[i]) {
			continue
		}
		out = append(out, log[i].Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// QuerySimilar resolves chromem matches back to log entries.
func (s *Store) QuerySimilar(ctx context.Context, ns core.Namespace, probe string, threshold float32, limit int) ([]core.AuditEntry, error) {
	s.mu.RLock()
	err := s.check(ns)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	matches, err := s.index.Search(ctx, ns, probe, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search: %v", core.ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.AuditEntry, 0, len(matches))
	for _, m := range matches {
		if pos, ok := s.byID[ns][m.EntryID]; ok {
			out = append(out, s.logs[ns][pos].Clone())
		}
	}
	return out, nil
}

// Close marks the store unavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
