package chromem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory/embedder/hash"
	"github.com/becomeliminal/nim-finagent/memory/store/chromem"
)

func healthEntry(id, pool string) core.AuditEntry {
	return core.AuditEntry{
		ID:      id,
		Kind:    core.KindResourceHealthChecked,
		Payload: core.HealthCheckedPayload{ResourceID: pool},
	}
}

func TestIndex_SearchRanksAndThresholds(t *testing.T) {
	ctx := context.Background()
	idx := chromem.New(hash.New(256), nil)
	ns := core.Namespace{AgentID: "agent", OwnerID: "agent", Domain: core.DomainResource}

	require.NoError(t, idx.Add(ctx, ns, healthEntry("e1", "pool-alpha")))
	require.NoError(t, idx.Add(ctx, ns, healthEntry("e2", "pool-beta")))

	matches, err := idx.Search(ctx, ns, "resource_health_checked pool-alpha", -1, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "e1", matches[0].EntryID)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)

	none, err := idx.Search(ctx, ns, "something unrelated entirely", 0.99, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIndex_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	idx := chromem.New(hash.New(64), nil)
	alice := core.Namespace{AgentID: "agent", OwnerID: "alice", Domain: core.DomainResource}
	bob := core.Namespace{AgentID: "agent", OwnerID: "bob", Domain: core.DomainResource}

	require.NoError(t, idx.Add(ctx, alice, healthEntry("a1", "pool-1")))

	matches, err := idx.Search(ctx, bob, "pool-1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, matches, "bob must not see alice's entries")

	created, err := idx.Ensure(bob)
	require.NoError(t, err)
	assert.False(t, created, "search already created bob's collection")
	assert.True(t, idx.Has(alice))
}

func TestIndex_LimitClampedToCollectionSize(t *testing.T) {
	ctx := context.Background()
	idx := chromem.New(hash.New(64), nil)
	ns := core.Namespace{AgentID: "agent", OwnerID: "agent", Domain: core.DomainResource}
	require.NoError(t, idx.Add(ctx, ns, healthEntry("only", "pool-1")))

	matches, err := idx.Search(ctx, ns, "pool-1", -1, 50)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
