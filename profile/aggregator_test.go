package profile_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
	"github.com/becomeliminal/nim-finagent/memory/memorytest"
	"github.com/becomeliminal/nim-finagent/memory/store/inmem"
	"github.com/becomeliminal/nim-finagent/profile"
)

const agentID = "finplan"

var (
	annualIncome   = core.Claim{Type: core.ClaimIncome, Category: "salary", Timeframe: core.TimeframeAnnual, Value: 120000, Confidence: 1.0}
	monthlySavings = core.Claim{Type: core.ClaimSavings, Category: "regular", Timeframe: core.TimeframeMonthly, Value: 2000, Confidence: 1.0}
	totalSavings   = core.Claim{Type: core.ClaimSavings, Timeframe: core.TimeframeTotal, Value: 50000, Confidence: 0.9}
	houseGoal      = core.Claim{Type: core.ClaimGoal, Category: "house", Value: 400000, Confidence: 0.95}
)

func value(t *testing.T, p *core.Profile, path core.FieldPath) float64 {
	t.Helper()
	v, ok := p.Value(path)
	require.True(t, ok, "missing %s", path)
	return v
}

func TestIngest_Scenarios(t *testing.T) {
	ctx := context.Background()
	agg := profile.NewAggregator(agentID, inmem.New())

	p, err := agg.Ingest(ctx, "alice", []core.Claim{annualIncome, monthlySavings})
	require.NoError(t, err)
	assert.Equal(t, 120000.0, value(t, p, profile.IncomeAnnual))
	assert.Equal(t, 2000.0, value(t, p, profile.SavingsMonthly))
	assert.False(t, p.Complete)
	assert.Equal(t, []core.FieldPath{profile.SavingsCurrent, profile.HousingTargetPrice}, profile.Missing(p))

	p, err = agg.Ingest(ctx, "alice", []core.Claim{totalSavings, houseGoal})
	require.NoError(t, err)
	assert.True(t, p.Complete)
	assert.Equal(t, 50000.0, value(t, p, profile.SavingsCurrent))
	assert.Equal(t, 400000.0, value(t, p, profile.HousingTargetPrice))

	stored, ok, err := agg.Profile(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, stored)
}

func TestIngest_Idempotent(t *testing.T) {
	ctx := context.Background()
	batch := []core.Claim{annualIncome, monthlySavings, totalSavings}

	once := profile.NewAggregator(agentID, inmem.New())
	p1, err := once.Ingest(ctx, "alice", batch)
	require.NoError(t, err)

	twice := profile.NewAggregator(agentID, inmem.New())
	_, err = twice.Ingest(ctx, "alice", batch)
	require.NoError(t, err)
	p2, err := twice.Ingest(ctx, "alice", batch)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
}

func TestIngest_CompletenessIsMonotonic(t *testing.T) {
	ctx := context.Background()
	agg := profile.NewAggregator(agentID, inmem.New())

	p, err := agg.Ingest(ctx, "alice", []core.Claim{annualIncome, monthlySavings, totalSavings, houseGoal})
	require.NoError(t, err)
	require.True(t, p.Complete)

	followups := [][]core.Claim{
		{{Type: core.ClaimIncome, Timeframe: core.TimeframeAnnual, Value: 90000, Confidence: 0.99}},
		{{Type: core.ClaimExpense, Timeframe: core.TimeframeMonthly, Value: 3000, Confidence: 0.9}},
		{{Type: core.ClaimGoal, Category: "car", Value: 30000, Confidence: 1}},
		{{Type: core.ClaimSavings, Timeframe: core.TimeframeTotal, Value: 1, Confidence: 0.1}},
		nil,
	}
	for _, batch := range followups {
		p, err = agg.Ingest(ctx, "alice", batch)
		require.NoError(t, err)
		assert.True(t, p.Complete)
	}
	assert.Equal(t, 90000.0, value(t, p, profile.IncomeAnnual))
}

func TestIngest_ConfidenceGate(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	agg := profile.NewAggregator(agentID, store)

	_, err := agg.Ingest(ctx, "alice", []core.Claim{annualIncome})
	require.NoError(t, err)

	for _, conf := range []float64{0, 0.5, 0.79, 0.7999} {
		weak := annualIncome
		weak.Value = 1
		weak.Confidence = conf
		p, err := agg.Ingest(ctx, "alice", []core.Claim{weak})
		require.NoError(t, err)
		assert.Equal(t, 120000.0, value(t, p, profile.IncomeAnnual), "confidence %v must not overwrite", conf)
	}

	// Exactly at the threshold is accepted.
	edge := annualIncome
	edge.Value = 130000
	edge.Confidence = profile.MinConfidence
	p, err := agg.Ingest(ctx, "alice", []core.Claim{edge})
	require.NoError(t, err)
	assert.Equal(t, 130000.0, value(t, p, profile.IncomeAnnual))

	ns := core.Namespace{AgentID: agentID, OwnerID: "alice", Domain: core.DomainProfile}
	rejected, err := store.Query(ctx, ns, memory.OfKind(core.KindClaimRejected), 0)
	require.NoError(t, err)
	assert.Len(t, rejected, 4, "every gated claim is audited individually")
}

func TestIngest_LastClaimWinsWithinBatch(t *testing.T) {
	ctx := context.Background()
	agg := profile.NewAggregator(agentID, inmem.New())

	first := annualIncome
	second := annualIncome
	second.Value = 95000
	second.Confidence = 0.81

	p, err := agg.Ingest(ctx, "alice", []core.Claim{first, second})
	require.NoError(t, err)
	assert.Equal(t, 95000.0, value(t, p, profile.IncomeAnnual), "later claim wins regardless of confidence")
}

func TestIngest_AuditCompleteness(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	agg := profile.NewAggregator(agentID, store)

	unroutable := core.Claim{Type: core.ClaimGoal, Category: "vacation", Value: 5000, Confidence: 0.9}
	malformed := core.Claim{Type: "lottery", Value: 1, Confidence: 1}

	p, err := agg.Ingest(ctx, "alice", []core.Claim{annualIncome, unroutable, monthlySavings, malformed})
	require.NoError(t, err)
	assert.Len(t, p.Paths(), 2, "unroutable claim must not mutate the profile")

	claims, err := agg.Claims(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, claims, 3, "one entry per accepted claim")

	var routed, unrouted int
	for _, e := range claims {
		payload, ok := e.Payload.(core.ClaimPayload)
		require.True(t, ok)
		if payload.Routed {
			routed++
		} else {
			unrouted++
			assert.Equal(t, "vacation", payload.Claim.Category)
		}
	}
	assert.Equal(t, 2, routed)
	assert.Equal(t, 1, unrouted)

	ns := core.Namespace{AgentID: agentID, OwnerID: "alice", Domain: core.DomainProfile}
	rejected, err := store.Query(ctx, ns, memory.OfKind(core.KindClaimRejected), 0)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
}

func TestIngest_EmptyBatchReturnsDefinedProfile(t *testing.T) {
	agg := profile.NewAggregator(agentID, inmem.New())
	p, err := agg.Ingest(context.Background(), "alice", nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.OwnerID)
	assert.False(t, p.Complete)
	assert.Empty(t, p.Paths())
}

func TestIngest_OwnersAreIsolated(t *testing.T) {
	ctx := context.Background()
	agg := profile.NewAggregator(agentID, inmem.New())

	_, err := agg.Ingest(ctx, "alice", []core.Claim{annualIncome})
	require.NoError(t, err)

	_, ok, err := agg.Profile(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIngest_StoreUnavailableWritesNothing(t *testing.T) {
	ctx := context.Background()
	flaky := memorytest.NewFlakyStore(inmem.New())
	agg := profile.NewAggregator(agentID, flaky)

	flaky.FailGet(true)
	_, err := agg.Ingest(ctx, "alice", []core.Claim{annualIncome})
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	flaky.FailGet(false)
	flaky.FailPut(true)
	_, err = agg.Ingest(ctx, "alice", []core.Claim{annualIncome})
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	flaky.FailPut(false)
	_, ok, err := agg.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	claims, err := agg.Claims(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, claims, "no audit entries for a batch that was not persisted")
}

func TestIngest_AuditFailureDoesNotMaskResult(t *testing.T) {
	ctx := context.Background()
	flaky := memorytest.NewFlakyStore(inmem.New())
	rec := memory.NewRecorder(flaky)
	agg := profile.NewAggregator(agentID, flaky, profile.WithRecorder(rec))

	flaky.FailAppend(true)
	p, err := agg.Ingest(ctx, "alice", []core.Claim{annualIncome, monthlySavings})
	require.NoError(t, err)
	assert.Equal(t, 120000.0, value(t, p, profile.IncomeAnnual))
	assert.Equal(t, uint64(2), rec.Failures())
}

func TestProfile_StoredCompleteFlagIsRecomputed(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	agg := profile.NewAggregator(agentID, store)

	forged, err := json.Marshal(core.Profile{OwnerID: "alice", Complete: true})
	require.NoError(t, err)
	ns := core.Namespace{AgentID: agentID, OwnerID: "alice", Domain: core.DomainProfile}
	require.NoError(t, store.Put(ctx, ns, "financialProfile", forged))

	p, ok, err := agg.Profile(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, p.Complete)

	needs, err := agg.NeedsExtraction(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestNeedsExtraction(t *testing.T) {
	ctx := context.Background()
	agg := profile.NewAggregator(agentID, inmem.New())

	needs, err := agg.NeedsExtraction(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, needs)

	_, err = agg.Ingest(ctx, "alice", []core.Claim{annualIncome, monthlySavings, totalSavings, houseGoal})
	require.NoError(t, err)

	needs, err = agg.NeedsExtraction(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestIngest_InvalidOwner(t *testing.T) {
	agg := profile.NewAggregator(agentID, inmem.New())
	_, err := agg.Ingest(context.Background(), "", []core.Claim{annualIncome})
	assert.ErrorIs(t, err, core.ErrInvalidNamespace)
}
