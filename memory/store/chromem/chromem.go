// Package chromem indexes audit entries for similarity lookup using
// chromem-go, a pure Go embedded vector database.
//
// Each namespace gets its own collection, so a similarity query can never
// return another tenant's entries. The index stores entry ids and the text
// that was embedded; the owning store resolves ids back to entries.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
)

// Match is one similarity hit.
type Match struct {
	EntryID    string
	Similarity float32
}

// Index wraps chromem-go for per-namespace similarity search.
type Index struct {
	db          *chromem.DB
	embedder    memory.Embedder
	logger      *zap.Logger
	collections map[core.Namespace]*chromem.Collection
	mu          sync.RWMutex
}

// New creates an empty index that embeds with embedder.
func New(embedder memory.Embedder, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		db:          chromem.NewDB(),
		embedder:    embedder,
		logger:      logger.Named("chromem"),
		collections: make(map[core.Namespace]*chromem.Collection),
	}
}

// Has reports whether ns already has a collection.
func (x *Index) Has(ns core.Namespace) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.collections[ns]
	return ok
}

// getOrCreateCollection returns the collection for a namespace.
func (x *Index) getOrCreateCollection(ns core.Namespace) (*chromem.Collection, error) {
	x.mu.RLock()
	col, exists := x.collections[ns]
	x.mu.RUnlock()

	if exists {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := x.collections[ns]; exists {
		return col, nil
	}

	col, err := x.db.CreateCollection(
		"ns_"+ns.Key(),
		map[string]string{"agent_id": ns.AgentID, "owner_id": ns.OwnerID, "domain": ns.Domain},
		nil, // No embedding func; embeddings are always supplied
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	x.collections[ns] = col
	return col, nil
}

// Ensure creates the collection for ns if it does not exist yet. It returns
// true when the collection was newly created and therefore empty.
func (x *Index) Ensure(ns core.Namespace) (bool, error) {
	if x.Has(ns) {
		return false, nil
	}
	if _, err := x.getOrCreateCollection(ns); err != nil {
		return false, err
	}
	return true, nil
}

// Add embeds entry.Text() and stores it under entry.ID.
func (x *Index) Add(ctx context.Context, ns core.Namespace, entry core.AuditEntry) error {
	col, err := x.getOrCreateCollection(ns)
	if err != nil {
		return err
	}

	text := entry.Text()
	embedding, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed entry: %w", err)
	}

	doc := chromem.Document{
		ID:        entry.ID,
		Content:   text,
		Embedding: embedding,
		Metadata: map[string]string{
			"kind": string(entry.Kind),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	x.logger.Debug("indexed entry",
		zap.String("namespace", ns.String()),
		zap.String("id", entry.ID),
		zap.String("kind", string(entry.Kind)))
	return nil
}

// Search returns entries with similarity >= threshold, most similar first.
func (x *Index) Search(ctx context.Context, ns core.Namespace, probe string, threshold float32, limit int) ([]Match, error) {
	col, err := x.getOrCreateCollection(ns)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if limit > 0 && limit < n {
		n = limit
	}

	embedding, err := x.embedder.Embed(ctx, probe)
	if err != nil {
		return nil, fmt.Errorf("embed probe: %w", err)
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		matches = append(matches, Match{EntryID: r.ID, Similarity: r.Similarity})
	}

	x.logger.Debug("similarity search",
		zap.String("namespace", ns.String()),
		zap.Int("candidates", len(results)),
		zap.Int("matches", len(matches)))
	return matches, nil
}
