// Package action is the domain action service: it validates resource refs,
// creates resources only after a validation in the same call succeeds, and
// reads live resource health.
//
// Every external call goes through a typed capability resolved at startup.
// Every validation, creation and health read is recorded in the resource
// audit trail.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/nim-finagent/capability"
	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
)

// DefaultRecentLimit is used by RecentResources when no limit is given.
const DefaultRecentLimit = 10

// resourceKeyPrefix prefixes the KV key of each resource record.
const resourceKeyPrefix = "resource:"

// ErrResourceNotFound is returned by Resource for ids never created here.
var ErrResourceNotFound = errors.New("resource not found")

// Service runs validate, create and health-check actions.
type Service struct {
	agentID  string
	ownerID  string
	store    memory.Store
	caps     capability.Set
	recorder *memory.Recorder
	policy   RiskPolicy
	timeout  time.Duration
	clock    func() time.Time
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder shares an audit recorder with other components.
func WithRecorder(r *memory.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithRiskPolicy overrides DefaultRiskPolicy.
func WithRiskPolicy(p RiskPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithCallTimeout bounds every external call. Zero means only the caller's
// context applies.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithOwner sets the owner of the resource audit trail. Defaults to the
// agent itself.
func WithOwner(ownerID string) Option {
	return func(s *Service) {
		if ownerID != "" {
			s.ownerID = ownerID
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService creates a Service for agentID.
func NewService(agentID string, store memory.Store, caps capability.Set, opts ...Option) *Service {
	s := &Service{
		agentID: agentID,
		ownerID: agentID,
		store:   store,
		caps:    caps,
		policy:  DefaultRiskPolicy(),
		clock:   time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recorder == nil {
		s.recorder = memory.NewRecorder(store, memory.WithLogger(s.logger), memory.WithClock(s.clock))
	}
	s.logger = s.logger.Named("action")
	return s
}

// Namespace is where resource records and their audit trail live.
func (s *Service) Namespace() core.Namespace {
	return core.Namespace{AgentID: s.agentID, OwnerID: s.ownerID, Domain: core.DomainResource}
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// ValidateResource checks ref against the metadata capability and the risk
// policy. The result is recorded whatever it says.
//
// Lookup failures and risk-check failures both come back as IsValid=false
// with reasons. The error is non-nil only when the metadata capability is not
// wired, when an external call timed out, or when ctx ended before validation
// finished. In the last two cases the (invalid) result is still recorded and
// returned with an *core.ExternalCallError.
func (s *Service) ValidateResource(ctx context.Context, ref string) (core.ValidationResult, error) {
	if s.caps.Metadata == nil {
		return core.ValidationResult{}, &core.CapabilityError{Name: capability.NameMetadata}
	}

	result, timeout := s.validate(ctx, ref)

	// Recorder failures are logged and counted there.
	_, _ = s.recorder.Record(ctx, s.Namespace(), core.ValidationPayload{Ref: ref, Result: result})

	s.logger.Info("resource validated",
		zap.String("ref", ref),
		zap.Bool("valid", result.IsValid),
		zap.Float64("risk", result.RiskScore),
		zap.Strings("reasons", result.Reasons))

	if err := ctx.Err(); err != nil {
		return result, &core.ExternalCallError{Op: "validate " + ref, Cause: err}
	}
	if timeout != nil {
		return result, &core.ExternalCallError{Op: "validate " + ref, Cause: timeout}
	}
	return result, nil
}

// validate never fails; the returned error is the first external call that
// hit a deadline, which callers must not mistake for a rejection.
func (s *Service) validate(ctx context.Context, ref string) (core.ValidationResult, error) {
	if ref == "" {
		return core.ValidationResult{Reasons: []string{ReasonRefRequired}, RiskScore: 1}, nil
	}

	var (
		md      capability.Metadata
		holders []string
		reasons []string
	)
	// Each lookup reports its own failure so both show up as reasons.
	var mdErr, holdersErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cctx, cancel := s.callContext(gctx)
		defer cancel()
		md, mdErr = s.caps.Metadata.GetMetadata(cctx, ref)
		return nil
	})
	g.Go(func() error {
		cctx, cancel := s.callContext(gctx)
		defer cancel()
		holders, holdersErr = s.caps.Metadata.GetHolders(cctx, ref)
		return nil
	})
	_ = g.Wait()

	if mdErr != nil {
		reasons = append(reasons, fmt.Sprintf(reasonLookupFailedFmt, "metadata", mdErr))
	}
	if holdersErr != nil {
		reasons = append(reasons, fmt.Sprintf(reasonLookupFailedFmt, "holder", holdersErr))
	}
	if len(reasons) > 0 {
		return core.ValidationResult{Reasons: reasons, RiskScore: 1}, firstTimeout(mdErr, holdersErr)
	}

	a, err := s.score(ctx, ref, md, len(holders))
	if err != nil {
		return core.ValidationResult{
			Reasons:   []string{fmt.Sprintf(reasonScoringFailedFmt, err)},
			Metadata:  tokenMetadata(md, len(holders)),
			RiskScore: 1,
		}, firstTimeout(err)
	}
	return core.ValidationResult{
		IsValid:   len(a.reasons) == 0,
		Reasons:   a.reasons,
		Metadata:  tokenMetadata(md, len(holders)),
		RiskScore: a.score,
	}, nil
}

func firstTimeout(errs ...error) error {
	for _, err := range errs {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return nil
}

// score runs the policy, and the external scorer if wired, inside the
// secure execution capability when one is present.
func (s *Service) score(ctx context.Context, ref string, md capability.Metadata, holders int) (assessment, error) {
	run := func(ctx context.Context) (any, error) {
		external := -1.0
		if s.caps.Risk != nil {
			cctx, cancel := s.callContext(ctx)
			defer cancel()
			v, err := s.caps.Risk.Score(cctx, capability.RiskInput{Ref: ref, Metadata: md, HolderCount: holders})
			if err != nil {
				return nil, err
			}
			external = v
		}
		return s.policy.assess(md, holders, external), nil
	}

	var (
		out any
		err error
	)
	if s.caps.Secure != nil {
		out, err = s.caps.Secure.RunIsolated(ctx, run)
	} else {
		out, err = run(ctx)
	}
	if err != nil {
		return assessment{}, err
	}
	a, ok := out.(assessment)
	if !ok {
		return assessment{}, fmt.Errorf("unexpected scoring result %T", out)
	}
	return a, nil
}

func tokenMetadata(md capability.Metadata, holders int) *core.TokenMetadata {
	return &core.TokenMetadata{
		Name:        md.Name,
		Symbol:      md.Symbol,
		HolderCount: holders,
		TotalSupply: md.TotalSupply,
	}
}

// CreateResource validates cfg.PrimaryRef and, only if that validation and
// the config itself pass, commits the resource and records it.
//
// A rejected config returns *core.RejectedError and nothing is committed.
// A validation lookup that timed out, or a failed or timed-out commit,
// returns *core.ExternalCallError. If the
// commit succeeded but the record could not be saved, the committed id is
// returned alongside the error.
func (s *Service) CreateResource(ctx context.Context, cfg core.ResourceConfig) (string, error) {
	if s.caps.Commit == nil {
		return "", &core.CapabilityError{Name: capability.NameCommit}
	}

	// Always re-validated; a previous result is never reused.
	result, err := s.ValidateResource(ctx, cfg.PrimaryRef)
	if err != nil {
		return "", err
	}

	var reasons []string
	for _, r := range append(cfg.Problems(), result.Reasons...) {
		if !contains(reasons, r) {
			reasons = append(reasons, r)
		}
	}
	if !result.IsValid || len(reasons) > 0 {
		if len(reasons) == 0 {
			reasons = []string{"validation failed"}
		}
		s.logger.Info("resource rejected",
			zap.String("ref", cfg.PrimaryRef),
			zap.Strings("reasons", reasons))
		return "", &core.RejectedError{Reasons: reasons}
	}

	cctx, cancel := s.callContext(ctx)
	id, err := s.caps.Commit.CommitCreate(cctx, cfg)
	cancel()
	if err != nil {
		return "", &core.ExternalCallError{Op: "commit create", Cause: err}
	}

	res := core.Resource{ID: id, Config: cfg, CreatedAt: s.clock().UTC()}
	raw, err := json.Marshal(res)
	if err == nil {
		err = s.store.Put(ctx, s.Namespace(), resourceKeyPrefix+id, raw)
	}

	// The resource exists once committed, so the trail is written even when
	// the record is not.
	_, _ = s.recorder.Record(ctx, s.Namespace(), core.ResourceCreatedPayload{ResourceID: id, Config: cfg})
	if err != nil {
		return id, fmt.Errorf("save resource %s: %w", id, err)
	}

	s.logger.Info("resource created",
		zap.String("id", id),
		zap.String("ref", cfg.PrimaryRef))
	return id, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// CheckHealth reads live metrics for id and records them. Nothing is cached;
// every call hits the commit capability.
func (s *Service) CheckHealth(ctx context.Context, id string) (core.Health, error) {
	if s.caps.Commit == nil {
		return core.Health{}, &core.CapabilityError{Name: capability.NameCommit}
	}

	cctx, cancel := s.callContext(ctx)
	h, err := s.caps.Commit.GetMetrics(cctx, id)
	cancel()
	if err != nil {
		return core.Health{}, &core.ExternalCallError{Op: "get metrics " + id, Cause: err}
	}

	_, _ = s.recorder.Record(ctx, s.Namespace(), core.HealthCheckedPayload{ResourceID: id, Health: h})

	s.logger.Debug("resource health checked",
		zap.String("id", id),
		zap.Float64("liquidity", h.Liquidity),
		zap.Int("holders", h.NumHolders))
	return h, nil
}

// Resource returns the stored record for id with freshly read health.
func (s *Service) Resource(ctx context.Context, id string) (*core.Resource, error) {
	raw, ok, err := s.store.Get(ctx, s.Namespace(), resourceKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("load resource: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}

	var res core.Resource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode resource %s: %w", id, err)
	}

	h, err := s.CheckHealth(ctx, id)
	if err != nil {
		return nil, err
	}
	res.Health = &h
	return &res, nil
}

// History returns the audit entries about id, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]core.AuditEntry, error) {
	return s.store.Query(ctx, s.Namespace(), memory.RefersTo(id), limit)
}

// RecentResources returns the most recently created resources, newest first.
// Health is not populated.
func (s *Service) RecentResources(ctx context.Context, limit int) ([]core.Resource, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	entries, err := s.store.Query(ctx, s.Namespace(), memory.OfKind(core.KindResourceCreated), limit)
	if err != nil {
		return nil, err
	}

	out := make([]core.Resource, 0, len(entries))
	for _, e := range entries {
		p, ok := e.Payload.(core.ResourceCreatedPayload)
		if !ok {
			s.logger.Warn("skipping malformed resource entry",
				zap.String("entry", e.ID),
				zap.Bool("malformed", e.Malformed()))
			continue
		}
		out = append(out, core.Resource{ID: p.ResourceID, Config: p.Config, CreatedAt: e.Timestamp})
	}
	return out, nil
}

// Search returns resource audit entries similar to probe.
func (s *Service) Search(ctx context.Context, probe string, threshold float32, limit int) ([]core.AuditEntry, error) {
	return s.store.QuerySimilar(ctx, s.Namespace(), probe, threshold, limit)
}
