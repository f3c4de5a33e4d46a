package capability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-finagent/capability"
	"github.com/becomeliminal/nim-finagent/core"
)

type chain struct{}

func (chain) GetMetadata(context.Context, string) (capability.Metadata, error) {
	return capability.Metadata{}, nil
}
func (chain) GetHolders(context.Context, string) ([]string, error) { return nil, nil }
func (chain) CommitCreate(context.Context, core.ResourceConfig) (string, error) {
	return "pool", nil
}
func (chain) GetMetrics(context.Context, string) (core.Health, error) { return core.Health{}, nil }

type scorer struct{}

func (scorer) Score(context.Context, capability.RiskInput) (float64, error) { return 0, nil }

func TestRegistry_ResolveAssignsEveryImplementedCapability(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(chain{}))
	require.NoError(t, reg.Register(scorer{}))

	set, err := reg.Resolve()
	require.NoError(t, err)
	assert.NotNil(t, set.Metadata)
	assert.NotNil(t, set.Commit)
	assert.NotNil(t, set.Risk)
	assert.Nil(t, set.Secure)

	assert.Error(t, reg.Register(scorer{}), "registry is frozen after resolve")
}

func TestRegistry_MissingRequired(t *testing.T) {
	reg := capability.NewRegistry().MustRegister(scorer{})
	_, err := reg.Resolve()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCapabilityUnavailable)
	assert.Contains(t, err.Error(), capability.NameMetadata)
	assert.Contains(t, err.Error(), capability.NameCommit)
}

func TestRegistry_RejectsUnknownProvider(t *testing.T) {
	assert.Error(t, capability.NewRegistry().Register(struct{}{}))
	assert.Panics(t, func() { capability.NewRegistry().MustRegister(42) })
}
