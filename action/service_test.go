package action_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/becomeliminal/nim-finagent/action"
	"github.com/becomeliminal/nim-finagent/capability"
	"github.com/becomeliminal/nim-finagent/capability/isolate"
	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
	"github.com/becomeliminal/nim-finagent/memory/memorytest"
	"github.com/becomeliminal/nim-finagent/memory/store/inmem"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const agentID = "poolkeeper"

// chain fakes the metadata and commit capabilities.
type chain struct {
	mu       sync.Mutex
	holders  int
	md       capability.Metadata
	mdErr    error
	metrics  []core.Health
	hang     bool
	commits  atomic.Int64
	lastCfg  core.ResourceConfig
	nextPool int
}

func newChain(holders int) *chain {
	return &chain{
		holders: holders,
		md:      capability.Metadata{Name: "Demo", Symbol: "DMO", TotalSupply: 1e9},
	}
}

func (c *chain) wait(ctx context.Context) error {
	if !c.hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *chain) GetMetadata(ctx context.Context, ref string) (capability.Metadata, error) {
	if err := c.wait(ctx); err != nil {
		return capability.Metadata{}, err
	}
	return c.md, c.mdErr
}

func (c *chain) GetHolders(ctx context.Context, ref string) ([]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out := make([]string, c.holders)
	for i := range out {
		out[i] = fmt.Sprintf("holder-%d", i)
	}
	return out, nil
}

func (c *chain) CommitCreate(ctx context.Context, cfg core.ResourceConfig) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits.Add(1)
	c.lastCfg = cfg
	c.nextPool++
	return fmt.Sprintf("pool-%d", c.nextPool), nil
}

func (c *chain) GetMetrics(ctx context.Context, id string) (core.Health, error) {
	if err := c.wait(ctx); err != nil {
		return core.Health{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.metrics) == 0 {
		return core.Health{}, errors.New("no metrics")
	}
	h := c.metrics[0]
	if len(c.metrics) > 1 {
		c.metrics = c.metrics[1:]
	}
	return h, nil
}

type fixedScorer float64

func (f fixedScorer) Score(context.Context, capability.RiskInput) (float64, error) {
	return float64(f), nil
}

func resolve(t *testing.T, providers ...any) capability.Set {
	t.Helper()
	set, err := capability.NewRegistry().MustRegister(providers...).Resolve()
	require.NoError(t, err)
	return set
}

var validConfig = core.ResourceConfig{
	PrimaryRef:       "mintA",
	SecondaryRef:     "usdc",
	InitialPrice:     0.5,
	InitialLiquidity: 10000,
}

func kinds(t *testing.T, store memory.Store, svc *action.Service, kind core.AuditKind) int {
	t.Helper()
	entries, err := store.Query(context.Background(), svc.Namespace(), memory.OfKind(kind), 0)
	require.NoError(t, err)
	return len(entries)
}

func TestValidateResource(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	svc := action.NewService(agentID, store, resolve(t, newChain(500), isolate.New()))

	result, err := svc.ValidateResource(ctx, "mintA")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Reasons)
	require.NotNil(t, result.Metadata)
	assert.Equal(t, 500, result.Metadata.HolderCount)
	assert.Equal(t, "DMO", result.Metadata.Symbol)
	assert.InDelta(t, 0.1, result.RiskScore, 0.01)

	assert.Equal(t, 1, kinds(t, store, svc, core.KindValidationPerformed))
}

func TestValidateResource_FailuresAreData(t *testing.T) {
	ctx := context.Background()

	t.Run("lookup error", func(t *testing.T) {
		c := newChain(500)
		c.mdErr = errors.New("token not found")
		store := inmem.New()
		svc := action.NewService(agentID, store, resolve(t, c))

		result, err := svc.ValidateResource(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, result.IsValid)
		require.Len(t, result.Reasons, 1)
		assert.Contains(t, result.Reasons[0], "token not found")
		assert.Equal(t, 1, kinds(t, store, svc, core.KindValidationPerformed))
	})

	t.Run("risk checks", func(t *testing.T) {
		store := inmem.New()
		svc := action.NewService(agentID, store, resolve(t, newChain(3)))

		result, err := svc.ValidateResource(ctx, "thin")
		require.NoError(t, err)
		assert.False(t, result.IsValid)
		assert.Contains(t, result.Reasons, action.ReasonHolderCountLow)
		assert.Greater(t, result.RiskScore, 0.7)
	})

	t.Run("empty ref", func(t *testing.T) {
		svc := action.NewService(agentID, inmem.New(), resolve(t, newChain(500)))
		result, err := svc.ValidateResource(ctx, "")
		require.NoError(t, err)
		assert.False(t, result.IsValid)
		assert.Equal(t, []string{action.ReasonRefRequired}, result.Reasons)
	})

	t.Run("external scorer raises risk", func(t *testing.T) {
		svc := action.NewService(agentID, inmem.New(), resolve(t, newChain(500), fixedScorer(0.9)))
		result, err := svc.ValidateResource(ctx, "mintA")
		require.NoError(t, err)
		assert.False(t, result.IsValid)
		assert.Equal(t, 0.9, result.RiskScore)
	})
}

// Scenario 3.
func TestCreateResource_RejectedWhenInvalid(t *testing.T) {
	ctx := context.Background()
	c := newChain(8)
	store := inmem.New()
	svc := action.NewService(agentID, store, resolve(t, c),
		action.WithRiskPolicy(action.RiskPolicy{MinHolders: 10, HealthyHolders: 1000, MaxRiskScore: 0.9}))

	id, err := svc.CreateResource(ctx, validConfig)
	assert.Empty(t, id)
	require.ErrorIs(t, err, core.ErrActionRejected)

	var rejected *core.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, []string{action.ReasonHolderCountLow}, rejected.Reasons)

	assert.Zero(t, c.commits.Load())
	assert.Equal(t, 1, kinds(t, store, svc, core.KindValidationPerformed))
	assert.Equal(t, 0, kinds(t, store, svc, core.KindResourceCreated))
}

func TestCreateResource_NeverCommitsWhenValidationFails(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	c := newChain(0)
	store := inmem.New()
	svc := action.NewService(agentID, store, resolve(t, c, fixedScorer(1)))

	for i := 0; i < 200; i++ {
		c.holders = rng.IntN(5000)
		cfg := core.ResourceConfig{
			PrimaryRef:       fmt.Sprintf("mint-%d", rng.IntN(50)),
			SecondaryRef:     "usdc",
			InitialPrice:     rng.Float64() * 10,
			InitialLiquidity: rng.Float64() * 1e6,
		}
		id, err := svc.CreateResource(ctx, cfg)
		require.ErrorIs(t, err, core.ErrActionRejected, "config %+v", cfg)
		require.Empty(t, id)
	}

	assert.Zero(t, c.commits.Load())
	assert.Equal(t, 200, kinds(t, store, svc, core.KindValidationPerformed))
	assert.Equal(t, 0, kinds(t, store, svc, core.KindResourceCreated))
	recent, err := svc.RecentResources(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestCreateResource_ConfigProblemsReject(t *testing.T) {
	c := newChain(500)
	svc := action.NewService(agentID, inmem.New(), resolve(t, c))

	cfg := validConfig
	cfg.SecondaryRef = cfg.PrimaryRef
	cfg.InitialLiquidity = 0

	_, err := svc.CreateResource(context.Background(), cfg)
	var rejected *core.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, []string{
		"primary and secondary refs must differ",
		"initial liquidity must be positive",
	}, rejected.Reasons)
	assert.Zero(t, c.commits.Load())
}

func TestCreateResource_Success(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newChain(2000)
	c.metrics = []core.Health{{Liquidity: 10000, NumHolders: 2000, TrustScore: 0.8}}
	store := inmem.New()
	svc := action.NewService(agentID, store, resolve(t, c, isolate.New()),
		action.WithClock(func() time.Time { return now }))

	id, err := svc.CreateResource(ctx, validConfig)
	require.NoError(t, err)
	assert.Equal(t, "pool-1", id)
	assert.Equal(t, validConfig, c.lastCfg)

	res, err := svc.Resource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, validConfig, res.Config)
	assert.Equal(t, now, res.CreatedAt)
	require.NotNil(t, res.Health)
	assert.Equal(t, 10000.0, res.Health.Liquidity)

	recent, err := svc.RecentResources(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, id, recent[0].ID)

	history, err := svc.History(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.KindResourceHealthChecked, history[0].Kind)
	assert.Equal(t, core.KindResourceCreated, history[1].Kind)

	_, err = svc.Resource(ctx, "pool-404")
	assert.ErrorIs(t, err, action.ErrResourceNotFound)
}

func TestCreateResource_SaveFailureKeepsID(t *testing.T) {
	ctx := context.Background()
	store := memorytest.NewFlakyStore(inmem.New())
	store.FailPut(true)
	svc := action.NewService(agentID, store, resolve(t, newChain(2000)))

	id, err := svc.CreateResource(ctx, validConfig)
	assert.Equal(t, "pool-1", id)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	// The commit happened, so the trail still has it.
	created, err := store.Query(ctx, svc.Namespace(), memory.OfKind(core.KindResourceCreated), 0)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "pool-1", created[0].Subject())
}

// Scenario 4.
func TestCheckHealth_NeverCached(t *testing.T) {
	ctx := context.Background()
	c := newChain(2000)
	c.metrics = []core.Health{{Liquidity: 100, NumHolders: 5}, {Liquidity: 250, NumHolders: 9}}
	store := inmem.New()
	svc := action.NewService(agentID, store, resolve(t, c))

	first, err := svc.CheckHealth(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, first.Liquidity)

	second, err := svc.CheckHealth(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, 250.0, second.Liquidity)
	assert.Equal(t, 9, second.NumHolders)

	entries, err := svc.History(ctx, "pool-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.Equal(t, core.HealthCheckedPayload{ResourceID: "pool-1", Health: second}, entries[0].Payload)
}

func TestTimeouts(t *testing.T) {
	t.Run("per-call timeout", func(t *testing.T) {
		c := newChain(2000)
		store := inmem.New()
		svc := action.NewService(agentID, store, resolve(t, c), action.WithCallTimeout(20*time.Millisecond))

		// Validation passes, then every call hangs.
		result, err := svc.ValidateResource(context.Background(), validConfig.PrimaryRef)
		require.NoError(t, err)
		require.True(t, result.IsValid)
		c.hang = true

		result, err = svc.ValidateResource(context.Background(), validConfig.PrimaryRef)
		require.ErrorIs(t, err, core.ErrExternalCallFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, result.IsValid)
		assert.NotEmpty(t, result.Reasons)

		id, err := svc.CreateResource(context.Background(), validConfig)
		assert.Empty(t, id)
		require.ErrorIs(t, err, core.ErrExternalCallFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, core.ErrActionRejected)
		assert.Zero(t, c.commits.Load())
		assert.Equal(t, 3, kinds(t, store, svc, core.KindValidationPerformed))

		_, err = svc.CheckHealth(context.Background(), "pool-1")
		require.ErrorIs(t, err, core.ErrExternalCallFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, kinds(t, store, svc, core.KindResourceHealthChecked))
	})

	t.Run("caller deadline during validation", func(t *testing.T) {
		c := newChain(2000)
		c.hang = true
		store := inmem.New()
		svc := action.NewService(agentID, store, resolve(t, c))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		id, err := svc.CreateResource(ctx, validConfig)
		assert.Empty(t, id)
		require.ErrorIs(t, err, core.ErrExternalCallFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		assert.Zero(t, c.commits.Load())
		assert.Equal(t, 1, kinds(t, store, svc, core.KindValidationPerformed))
		assert.Equal(t, 0, kinds(t, store, svc, core.KindResourceCreated))
	})
}

func TestCapabilityUnavailable(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	svc := action.NewService(agentID, store, capability.Set{})

	_, err := svc.ValidateResource(ctx, "mintA")
	assert.ErrorIs(t, err, core.ErrCapabilityUnavailable)
	_, err = svc.CreateResource(ctx, validConfig)
	assert.ErrorIs(t, err, core.ErrCapabilityUnavailable)
	_, err = svc.CheckHealth(ctx, "pool-1")
	assert.ErrorIs(t, err, core.ErrCapabilityUnavailable)

	entries, err := store.Query(ctx, svc.Namespace(), nil, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAuditFailureDoesNotMaskResult(t *testing.T) {
	ctx := context.Background()
	store := memorytest.NewFlakyStore(inmem.New())
	store.FailAppend(true)
	recorder := memory.NewRecorder(store)
	svc := action.NewService(agentID, store, resolve(t, newChain(2000)), action.WithRecorder(recorder))

	id, err := svc.CreateResource(ctx, validConfig)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, uint64(2), recorder.Failures())
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	c := newChain(2000)
	c.metrics = []core.Health{{Liquidity: 42}}
	svc := action.NewService(agentID, inmem.New(), resolve(t, c))

	id, err := svc.CreateResource(ctx, validConfig)
	require.NoError(t, err)

	matches, err := svc.Search(ctx, "resource_created "+id, -1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
}
