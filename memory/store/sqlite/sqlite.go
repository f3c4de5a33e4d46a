// Package sqlite is the durable memory.Store backend.
//
// KV values and audit logs live in a SQLite database (modernc.org/sqlite,
// no cgo). Get is served through a ristretto read cache that Put writes
// through. Similarity lookup uses a chromem index that is warmed from the
// log the first time a namespace is searched.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
	"github.com/becomeliminal/nim-finagent/memory/embedder/hash"
	"github.com/becomeliminal/nim-finagent/memory/store/chromem"
)

// Store provides SQLite-backed persistence for profiles, resources and
// audit logs.
type Store struct {
	db     *sql.DB
	cache  *ristretto.Cache
	index  *chromem.Index
	logger *zap.Logger

	// mu orders KV writes against cache fills so a slow read cannot
	// reinstate a value older than the latest Put.
	mu        sync.Mutex
	warmMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Config configures Open.
type Config struct {
	// Path is the database file.
	Path string

	// CacheMaxCost bounds the read cache, in bytes of cached values.
	// Default: 1 << 20
	CacheMaxCost int64

	Embedder memory.Embedder
	Logger   *zap.Logger
}

// Open opens (creating if needed) the database at cfg.Path and applies
// migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if cfg.CacheMaxCost <= 0 {
		cfg.CacheMaxCost = 1 << 20
	}
	if cfg.Embedder == nil {
		cfg.Embedder = hash.New(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dsn := filepath.Clean(cfg.Path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     cfg.CacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	logger := cfg.Logger.Named("sqlite")
	logger.Info("store opened", zap.String("path", cfg.Path))

	return &Store{
		db:     db,
		cache:  cache,
		index:  chromem.New(cfg.Embedder, cfg.Logger),
		logger: logger,
		closed: make(chan struct{}),
	}, nil
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Store) check(ns core.Namespace) error {
	if s.isClosed() {
		return fmt.Errorf("%w: store closed", core.ErrStoreUnavailable)
	}
	return ns.Validate()
}

// unavailable wraps a backend failure.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", core.ErrStoreUnavailable, op, err)
}

func cacheKey(ns core.Namespace, key string) string {
	return ns.Key() + key
}

// Put writes the value and updates the cache.
func (s *Store) Put(ctx context.Context, ns core.Namespace, key string, value []byte) error {
	if err := s.check(ns); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (agent_id, owner_id, domain, key, value, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (agent_id, owner_id, domain, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		ns.AgentID, ns.OwnerID, ns.Domain, key, value, time.Now().UTC().UnixMilli())
	if err != nil {
		s.cache.Del(cacheKey(ns, key))
		return unavailable("put", err)
	}

	// Del first: ristretto ignores a buffered Set for a key it already tracks.
	ck := cacheKey(ns, key)
	stored := append([]byte(nil), value...)
	s.cache.Del(ck)
	s.cache.Set(ck, stored, int64(len(stored))+1)
	s.cache.Wait()
	return nil
}

// Get reads through the cache.
func (s *Store) Get(ctx context.Context, ns core.Namespace, key string) ([]byte, bool, error) {
	if err := s.check(ns); err != nil {
		return nil, false, err
	}

	ck := cacheKey(ns, key)
	if v, ok := s.cache.Get(ck); ok {
		return append([]byte(nil), v.([]byte)...), true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE agent_id = ? AND owner_id = ? AND domain = ? AND key = ?`,
		ns.AgentID, ns.OwnerID, ns.Domain, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}

	s.cache.Set(ck, append([]byte(nil), value...), int64(len(value))+1)
	s.cache.Wait()
	return value, true, nil
}

// Append inserts entry at the end of the namespace log.
func (s *Store) Append(ctx context.Context, ns core.Namespace, entry core.AuditEntry) error {
	if err := s.check(ns); err != nil {
		return err
	}
	if entry.ID == "" {
		return fmt.Errorf("append: entry id is required")
	}
	entry.Namespace = ns

	payload, err := core.EncodePayload(entry.Payload)
	if err != nil {
		return fmt.Errorf("append: encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO audit_log (id, agent_id, owner_id, domain, kind, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, ns.AgentID, ns.OwnerID, ns.Domain, string(entry.Kind), string(payload), entry.Timestamp.UTC().UnixNano())
	if err != nil {
		return unavailable("append", err)
	}

	// Namespaces not yet searched are indexed in full on first search.
	if s.index.Has(ns) {
		if err := s.index.Add(ctx, ns, entry); err != nil {
			s.logger.Warn("index entry failed", zap.String("id", entry.ID), zap.Error(err))
		}
	}
	return nil
}

// Query scans the namespace log newest first.
func (s *Store) Query(ctx context.Context, ns core.Namespace, pred memory.Predicate, limit int) ([]core.AuditEntry, error) {
	if err := s.check(ns); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, payload, created_at FROM audit_log
WHERE agent_id = ? AND owner_id = ? AND domain = ?
ORDER BY seq DESC`, ns.AgentID, ns.OwnerID, ns.Domain)
	if err != nil {
		return nil, unavailable("query", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows, ns)
		if err != nil {
			return nil, unavailable("scan", err)
		}
		if !memory.Match(pred, entry) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query", err)
	}
	return out, nil
}

// QuerySimilar searches the chromem index, warming it from the log first
// if this namespace has not been searched since Open.
func (s *Store) QuerySimilar(ctx context.Context, ns core.Namespace, probe string, threshold float32, limit int) ([]core.AuditEntry, error) {
	if err := s.check(ns); err != nil {
		return nil, err
	}
	if err := s.warm(ctx, ns); err != nil {
		return nil, err
	}

	matches, err := s.index.Search(ctx, ns, probe, threshold, limit)
	if err != nil {
		return nil, unavailable("similarity search", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	byID, err := s.entriesByID(ctx, ns, matches)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditEntry, 0, len(matches))
	for _, m := range matches {
		if e, ok := byID[m.EntryID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) warm(ctx context.Context, ns core.Namespace) error {
	s.warmMu.Lock()
	defer s.warmMu.Unlock()

	if s.index.Has(ns) {
		return nil
	}
	// Create the collection before the snapshot so concurrent appends are
	// indexed by Append. An entry seen by both is re-added under the same id,
	// which chromem treats as an overwrite.
	if _, err := s.index.Ensure(ns); err != nil {
		return unavailable("index", err)
	}
	entries, err := s.Query(ctx, ns, nil, 0)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if err := s.index.Add(ctx, ns, entries[i]); err != nil {
			s.logger.Warn("index entry failed", zap.String("id", entries[i].ID), zap.Error(err))
		}
	}
	s.logger.Debug("index warmed", zap.String("namespace", ns.String()), zap.Int("entries", len(entries)))
	return nil
}

func (s *Store) entriesByID(ctx context.Context, ns core.Namespace, matches []chromem.Match) (map[string]core.AuditEntry, error) {
	args := make([]any, 0, len(matches)+3)
	args = append(args, ns.AgentID, ns.OwnerID, ns.Domain)
	placeholders := make([]string, len(matches))
	for i, m := range matches {
		placeholders[i] = "?"
		args = append(args, m.EntryID)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, payload, created_at FROM audit_log
WHERE agent_id = ? AND owner_id = ? AND domain = ? AND id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, unavailable("load matches", err)
	}
	defer rows.Close()

	out := make(map[string]core.AuditEntry, len(matches))
	for rows.Next() {
		entry, err := scanEntry(rows, ns)
		if err != nil {
			return nil, unavailable("scan", err)
		}
		out[entry.ID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("load matches", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows, ns core.Namespace) (core.AuditEntry, error) {
	var (
		id, kind, payload string
		createdAt         int64
	)
	if err := rows.Scan(&id, &kind, &payload, &createdAt); err != nil {
		return core.AuditEntry{}, err
	}
	return core.AuditEntry{
		ID:        id,
		Namespace: ns,
		Kind:      core.AuditKind(kind),
		Payload:   core.DecodePayload(core.AuditKind(kind), []byte(payload)),
		Timestamp: time.Unix(0, createdAt).UTC(),
	}, nil
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Close closes the cache and the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cache.Close()
		err = s.db.Close()
	})
	return err
}
