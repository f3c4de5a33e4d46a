package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
	"github.com/becomeliminal/nim-finagent/memory/memorytest"
	"github.com/becomeliminal/nim-finagent/memory/store/inmem"
)

func TestStoreContract(t *testing.T) {
	memorytest.RunStoreSuite(t, func(t *testing.T) memory.Store {
		return inmem.New()
	})
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	ns := core.Namespace{AgentID: "a", OwnerID: "o", Domain: core.DomainProfile}

	require.NoError(t, s.Put(ctx, ns, "k", []byte("abc")))
	v, _, err := s.Get(ctx, ns, "k")
	require.NoError(t, err)
	v[0] = 'z'

	again, _, err := s.Get(ctx, ns, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestStore_RejectsDuplicateEntryID(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	ns := core.Namespace{AgentID: "a", OwnerID: "o", Domain: core.DomainResource}
	e := core.AuditEntry{ID: "dup", Kind: core.KindResourceCreated, Payload: core.ResourceCreatedPayload{ResourceID: "p"}, Timestamp: time.Now()}

	require.NoError(t, s.Append(ctx, ns, e))
	assert.Error(t, s.Append(ctx, ns, e))

	all, err := s.Query(ctx, ns, nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
