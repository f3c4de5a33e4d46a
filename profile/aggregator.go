// Package profile merges extracted claims into per-owner financial profiles.
//
// The Aggregator is the only writer of core.Profile. It gates claims on
// MinConfidence, routes each accepted claim to one field through a fixed
// table, recomputes completeness, persists the profile with a single Put and
// records one audit entry per claim it saw.
package profile

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
)

// profileKey is the KV key holding an owner's profile.
const profileKey = "financialProfile"

// Aggregator merges claims into profiles.
type Aggregator struct {
	agentID  string
	store    memory.Store
	recorder *memory.Recorder
	logger   *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRecorder shares an audit recorder with other components.
func WithRecorder(r *memory.Recorder) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.recorder = r
		}
	}
}

// NewAggregator creates an Aggregator for agentID over store.
func NewAggregator(agentID string, store memory.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		agentID: agentID,
		store:   store,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.recorder == nil {
		a.recorder = memory.NewRecorder(store, memory.WithLogger(a.logger))
	}
	a.logger = a.logger.Named("profile")
	return a
}

func (a *Aggregator) namespace(ownerID string) core.Namespace {
	return core.Namespace{AgentID: a.agentID, OwnerID: ownerID, Domain: core.DomainProfile}
}

// Profile loads the stored profile for ownerID. ok is false when none exists.
func (a *Aggregator) Profile(ctx context.Context, ownerID string) (*core.Profile, bool, error) {
	raw, ok, err := a.store.Get(ctx, a.namespace(ownerID), profileKey)
	if err != nil {
		return nil, false, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var p core.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, fmt.Errorf("decode profile: %w", err)
	}
	if p.Fields == nil {
		p.Fields = make(map[string]map[string]float64)
	}
	p.OwnerID = ownerID
	// Never trust a stored flag; it is derived.
	p.Complete = IsComplete(&p)
	return &p, true, nil
}

// NeedsExtraction reports whether claims should still be extracted for
// ownerID, i.e. the profile is missing or incomplete.
func (a *Aggregator) NeedsExtraction(ctx context.Context, ownerID string) (bool, error) {
	p, ok, err := a.Profile(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return !ok || !p.Complete, nil
}

type decision struct {
	claim  core.Claim
	field  core.FieldPath
	routed bool
	reason string // non-empty when rejected
}

// Ingest merges claims into ownerID's profile and returns the result.
//
// Claims below MinConfidence or malformed are skipped. Accepted claims that
// match no route are audited but leave the profile untouched. Within a batch
// the last claim for a field wins. A batch that changes nothing still
// returns the current (possibly empty) profile.
//
// Store failures while loading or saving are returned and nothing is
// written. Audit append failures are reported by the recorder and never
// fail the call.
func (a *Aggregator) Ingest(ctx context.Context, ownerID string, claims []core.Claim) (*core.Profile, error) {
	ns := a.namespace(ownerID)
	if err := ns.Validate(); err != nil {
		return nil, err
	}

	current, ok, err := a.Profile(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		current = core.NewProfile(ownerID)
	}

	// Work on a copy so a failed Put leaves the caller's view unchanged.
	next := current.Clone()
	decisions := make([]decision, 0, len(claims))
	for _, c := range claims {
		d := decision{claim: c}
		if err := c.Check(); err != nil {
			d.reason = err.Error()
		} else if c.Confidence < MinConfidence {
			d.reason = fmt.Sprintf("confidence %.2f below %.2f", c.Confidence, MinConfidence)
		} else if d.field, d.routed = Route(c); d.routed {
			next.Set(d.field, c.Value)
		}
		decisions = append(decisions, d)
	}
	next.Complete = IsComplete(next)

	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	if err := a.store.Put(ctx, ns, profileKey, raw); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}

	var accepted, unrouted, rejected int
	for _, d := range decisions {
		var payload core.Payload
		switch {
		case d.reason != "":
			rejected++
			payload = core.RejectedClaimPayload{Claim: d.claim, Reason: d.reason}
		case d.routed:
			accepted++
			payload = core.ClaimPayload{Claim: d.claim, Field: d.field.String(), Routed: true}
		default:
			accepted++
			unrouted++
			payload = core.ClaimPayload{Claim: d.claim}
		}
		// Failures are logged and counted by the recorder.
		_, _ = a.recorder.Record(ctx, ns, payload)
	}

	a.logger.Info("claims ingested",
		zap.String("owner", ownerID),
		zap.Int("accepted", accepted),
		zap.Int("unrouted", unrouted),
		zap.Int("rejected", rejected),
		zap.Bool("complete", next.Complete))

	return next, nil
}

// Claims returns the audit trail of accepted claims for ownerID, newest first.
func (a *Aggregator) Claims(ctx context.Context, ownerID string, limit int) ([]core.AuditEntry, error) {
	return a.store.Query(ctx, a.namespace(ownerID), memory.OfKind(core.KindProfileClaim), limit)
}
