package memory

import (
	"context"

	"github.com/becomeliminal/nim-finagent/core"
)

// Store is the persistence backend contract.
// Implementations: inmem.Store (tests, local), sqlite.Store (durable).
type Store interface {
	// Put overwrites the value for key. Last write wins.
	Put(ctx context.Context, ns core.Namespace, key string, value []byte) error

	// Get returns the current value for key. ok is false when absent.
	Get(ctx context.Context, ns core.Namespace, key string) (value []byte, ok bool, err error)

	// Append adds one entry to the namespace's audit log.
	Append(ctx context.Context, ns core.Namespace, entry core.AuditEntry) error

	// Query returns entries matching pred, most recent first, at most limit.
	// A nil pred matches everything; limit <= 0 means no limit.
	Query(ctx context.Context, ns core.Namespace, pred Predicate, limit int) ([]core.AuditEntry, error)

	// QuerySimilar returns entries whose similarity to probe is at least
	// threshold, most similar first, at most limit.
	QuerySimilar(ctx context.Context, ns core.Namespace, probe string, threshold float32, limit int) ([]core.AuditEntry, error)

	// Close releases resources. Every later call fails with
	// core.ErrStoreUnavailable.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: hash.Embedder (offline feature hashing).
//
// Note: Embedder is an implementation detail of the backends' similarity
// index. Pipeline components never call it directly.
type Embedder interface {
	// Embed converts a single text to a unit-length embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// Config holds the similarity-lookup defaults shared by callers of
// QuerySimilar.
type Config struct {
	// MinSimilarity is the default threshold for Recall-style lookups [0.0-1.0].
	// Default: 0.5
	MinSimilarity float32

	// MaxResults caps similarity results when the caller passes no limit.
	// Default: 100
	MaxResults int
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	MinSimilarity: 0.5,
	MaxResults:    100,
}
