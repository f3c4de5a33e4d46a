// Package memorytest holds the behavioural contract every memory.Store
// backend must satisfy, plus test doubles for stores that fail on demand.
package memorytest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) memory.Store

var (
	nsA = core.Namespace{AgentID: "finplan", OwnerID: "alice", Domain: core.DomainProfile}
	nsB = core.Namespace{AgentID: "finplan", OwnerID: "bob", Domain: core.DomainProfile}
	nsR = core.Namespace{AgentID: "finplan", OwnerID: "finplan", Domain: core.DomainResource}
)

func entry(id string, at time.Time, payload core.Payload) core.AuditEntry {
	return core.AuditEntry{ID: id, Kind: payload.AuditKind(), Payload: payload, Timestamp: at}
}

// RunStoreSuite runs the contract against stores built by newStore.
func RunStoreSuite(t *testing.T, newStore Factory) {
	t.Run("PutGetLastWriteWins", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		_, ok, err := s.Get(ctx, nsA, "financialProfile")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Put(ctx, nsA, "financialProfile", []byte("v1")))
		require.NoError(t, s.Put(ctx, nsA, "financialProfile", []byte("v2")))

		v, ok, err := s.Get(ctx, nsA, "financialProfile")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "v2", string(v))
	})

	t.Run("NamespacesDoNotBleed", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Put(ctx, nsA, "k", []byte("alice")))
		_, ok, err := s.Get(ctx, nsB, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Append(ctx, nsA, entry("a1", time.Now(), core.ClaimPayload{Routed: true})))
		got, err := s.Query(ctx, nsB, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("SeparatorInIDsDoesNotBleed", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		// Both join to "fin/alice/x/profile".
		a := core.Namespace{AgentID: "fin/alice", OwnerID: "x", Domain: core.DomainProfile}
		b := core.Namespace{AgentID: "fin", OwnerID: "alice/x", Domain: core.DomainProfile}

		require.NoError(t, s.Put(ctx, a, "financialProfile", []byte("a-secret")))
		_, ok, err := s.Get(ctx, b, "financialProfile")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Append(ctx, a, entry("a1", time.Now(), core.HealthCheckedPayload{ResourceID: "pool-a"})))
		got, err := s.Query(ctx, b, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, got)

		similar, err := s.QuerySimilar(ctx, b, "resource_health_checked pool-a", -1, 10)
		require.NoError(t, err)
		assert.Empty(t, similar)

		mine, err := s.QuerySimilar(ctx, a, "resource_health_checked pool-a", -1, 10)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, a, mine[0].Namespace)
	})

	t.Run("EntriesAreImmutable", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		result := core.ValidationResult{
			Reasons:  []string{"holder count too low"},
			Metadata: &core.TokenMetadata{Symbol: "ABC", HolderCount: 3},
		}
		require.NoError(t, s.Append(ctx, nsR, entry("v1", time.Now(), core.ValidationPayload{Ref: "mint-abc", Result: result})))
		result.Reasons[0] = "changed by caller"
		result.Metadata.HolderCount = 99

		first, err := s.Query(ctx, nsR, nil, 0)
		require.NoError(t, err)
		require.Len(t, first, 1)
		got := first[0].Payload.(core.ValidationPayload).Result
		got.Reasons[0] = "changed by reader"
		got.Metadata.HolderCount = 42

		again, err := s.Query(ctx, nsR, nil, 0)
		require.NoError(t, err)
		require.Len(t, again, 1)
		stored := again[0].Payload.(core.ValidationPayload).Result
		assert.Equal(t, []string{"holder count too low"}, stored.Reasons)
		assert.Equal(t, 3, stored.Metadata.HolderCount)
	})

	t.Run("QueryNewestFirstWithLimitAndPredicate", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			var p core.Payload = core.HealthCheckedPayload{ResourceID: fmt.Sprintf("pool-%d", i%2)}
			if i == 2 {
				p = core.ResourceCreatedPayload{ResourceID: "pool-0"}
			}
			require.NoError(t, s.Append(ctx, nsR, entry(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Minute), p)))
		}

		all, err := s.Query(ctx, nsR, nil, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, []string{"e4", "e3", "e2", "e1", "e0"}, ids(all))
		assert.Equal(t, nsR, all[0].Namespace)

		limited, err := s.Query(ctx, nsR, nil, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"e4", "e3"}, ids(limited))

		pool0, err := s.Query(ctx, nsR, memory.RefersTo("pool-0"), 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"e4", "e2", "e0"}, ids(pool0))

		created, err := s.Query(ctx, nsR, memory.OfKind(core.KindResourceCreated), 10)
		require.NoError(t, err)
		require.Len(t, created, 1)
		payload, ok := created[0].Payload.(core.ResourceCreatedPayload)
		require.True(t, ok, "payload decoded as %T", created[0].Payload)
		assert.Equal(t, "pool-0", payload.ResourceID)

		recent, err := s.Query(ctx, nsR, memory.Since(base.Add(3*time.Minute)), 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"e4", "e3"}, ids(recent))
	})

	t.Run("QuerySimilar", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		empty, err := s.QuerySimilar(ctx, nsR, "pool-alpha", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)

		now := time.Now()
		require.NoError(t, s.Append(ctx, nsR, entry("h1", now, core.HealthCheckedPayload{ResourceID: "pool-alpha"})))
		require.NoError(t, s.Append(ctx, nsR, entry("h2", now, core.HealthCheckedPayload{ResourceID: "pool-beta"})))

		hits, err := s.QuerySimilar(ctx, nsR, "resource_health_checked pool-alpha", -1, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "h1", hits[0].ID)

		strict, err := s.QuerySimilar(ctx, nsR, "completely unrelated words", 0.99, 10)
		require.NoError(t, err)
		assert.Empty(t, strict)

		one, err := s.QuerySimilar(ctx, nsR, "pool-alpha", -1, 1)
		require.NoError(t, err)
		assert.Len(t, one, 1)
	})

	t.Run("InvalidNamespace", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		err := s.Put(ctx, core.Namespace{AgentID: "finplan"}, "k", nil)
		assert.ErrorIs(t, err, core.ErrInvalidNamespace)
	})

	t.Run("ClosedStoreUnavailable", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Close())

		assert.ErrorIs(t, s.Put(ctx, nsA, "k", []byte("v")), core.ErrStoreUnavailable)
		_, _, err := s.Get(ctx, nsA, "k")
		assert.ErrorIs(t, err, core.ErrStoreUnavailable)
		assert.ErrorIs(t, s.Append(ctx, nsA, entry("x", time.Now(), core.ClaimPayload{})), core.ErrStoreUnavailable)
		_, err = s.Query(ctx, nsA, nil, 0)
		assert.ErrorIs(t, err, core.ErrStoreUnavailable)
		_, err = s.QuerySimilar(ctx, nsA, "x", 0, 1)
		assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	})
}

func ids(entries []core.AuditEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
