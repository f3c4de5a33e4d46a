package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-finagent/action"
	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
	"github.com/becomeliminal/nim-finagent/profile"
	"github.com/becomeliminal/nim-finagent/tools"
	"github.com/becomeliminal/nim-finagent/view"
)

var (
	// ErrConfirmationNotFound is returned by Confirm for unknown, cancelled
	// or already used confirmation ids.
	ErrConfirmationNotFound = errors.New("confirmation not found")

	// ErrConfirmationExpired is returned by Confirm after the TTL.
	ErrConfirmationExpired = errors.New("confirmation expired")
)

// PendingAction is a write operation waiting for user confirmation.
type PendingAction struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"`
	OwnerID        string          `json:"ownerId"`
	Tool           string          `json:"tool"`
	Input          json.RawMessage `json:"input"`
	Thought        string          `json:"thought"`
	Summary        string          `json:"summary"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

// Outcome is what Execute and Confirm return: either a tool result or a
// pending action awaiting confirmation.
type Outcome struct {
	Result  *tools.Result
	Pending *PendingAction
}

// Shell is the host-facing facade over the aggregator and action service.
type Shell struct {
	ac            Context
	recorder      *memory.Recorder
	profiles      *profile.Aggregator
	actions       *action.Service
	minSimilarity float32
	confirmTTL    time.Duration
	closers       []io.Closer
	logger        *zap.Logger

	mu      sync.Mutex
	pending map[string]*PendingAction // confirmation id -> action
}

// Context returns the capability bundle the shell was built with.
func (s *Shell) Context() Context { return s.ac }

// Profiles returns the claim aggregator.
func (s *Shell) Profiles() *profile.Aggregator { return s.profiles }

// Actions returns the action service.
func (s *Shell) Actions() *action.Service { return s.actions }

// AuditFailures returns how many audit appends have failed so far.
func (s *Shell) AuditFailures() uint64 { return s.recorder.Failures() }

// Tools returns the tool definitions Execute accepts.
func (s *Shell) Tools() []tools.Definition { return tools.Definitions() }

// Ingest merges a batch of extracted claims into ownerID's profile.
func (s *Shell) Ingest(ctx context.Context, ownerID string, claims []core.Claim) (*core.Profile, error) {
	return s.profiles.Ingest(ctx, ownerID, claims)
}

// ProfileSummary renders ownerID's profile, or the intake prompt if there is
// none yet.
func (s *Shell) ProfileSummary(ctx context.Context, ownerID string) (string, error) {
	p, ok, err := s.profiles.Profile(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return view.Profile(nil), nil
	}
	return view.Profile(p), nil
}

// NeedsExtraction reports whether the host should keep extracting claims
// from ownerID's conversation.
func (s *Shell) NeedsExtraction(ctx context.Context, ownerID string) (bool, error) {
	return s.profiles.NeedsExtraction(ctx, ownerID)
}

// ResourceSummary renders resource id with live health.
func (s *Shell) ResourceSummary(ctx context.Context, id string) (string, error) {
	res, err := s.actions.Resource(ctx, id)
	if err != nil {
		return "", err
	}
	return view.Resource(*res), nil
}

// Recall returns audit entries in ownerID's domain trail similar to probe,
// using the configured similarity threshold.
func (s *Shell) Recall(ctx context.Context, ownerID, domain, probe string, limit int) ([]core.AuditEntry, error) {
	ns := core.Namespace{AgentID: s.ac.AgentID, OwnerID: ownerID, Domain: domain}
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = memory.DefaultConfig.MaxResults
	}
	return s.ac.Store.QuerySimilar(ctx, ns, probe, s.minSimilarity, limit)
}

// Execute runs tool for ownerID. Write tools are not run: a thought is
// required and a PendingAction is returned for Confirm. Repeating the same
// write before it is confirmed returns the same PendingAction.
//
// Business failures (rejected, not found, bad input, external call failed)
// come back as an unsuccessful Result. The error is reserved for
// infrastructure failures: store or capability unavailable.
func (s *Shell) Execute(ctx context.Context, ownerID, tool string, input json.RawMessage) (*Outcome, error) {
	def, ok := tools.Lookup(tool)
	if !ok {
		return failed(fmt.Errorf("%w: unknown tool %s", tools.ErrInvalidInput, tool)), nil
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	var base tools.BaseInput
	if err := json.Unmarshal(input, &base); err != nil {
		return failed(fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)), nil
	}

	if !def.RequiresConfirmation {
		return s.run(ctx, ownerID, def, input)
	}

	thought := strings.TrimSpace(base.Thought)
	if thought == "" {
		return failed(fmt.Errorf("%w: write operations require a thought explaining what was verified and why", tools.ErrInvalidInput)), nil
	}
	return &Outcome{Pending: s.hold(ownerID, def, input, thought)}, nil
}

func failed(err error) *Outcome {
	return &Outcome{Result: tools.Failure(err)}
}

// IdempotencyKey identifies a write by owner, tool and input. The thought is
// not part of the write, and neither are key order or whitespace.
func IdempotencyKey(ownerID, tool string, input []byte) string {
	h := sha256.New()
	h.Write([]byte(ownerID))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonicalInput(input))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalInput(input []byte) []byte {
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil || fields == nil {
		return input
	}
	delete(fields, "thought")
	out, err := json.Marshal(fields)
	if err != nil {
		return input
	}
	return out
}

func (s *Shell) hold(ownerID string, def tools.Definition, input json.RawMessage, thought string) *PendingAction {
	now := s.ac.Clock()
	key := IdempotencyKey(ownerID, def.Name, input)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		if now.After(p.ExpiresAt) {
			delete(s.pending, id)
			continue
		}
		if p.IdempotencyKey == key {
			cp := *p
			return &cp
		}
	}

	p := &PendingAction{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		OwnerID:        ownerID,
		Tool:           def.Name,
		Input:          append(json.RawMessage(nil), input...),
		Thought:        thought,
		Summary:        def.Summary(input),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.confirmTTL),
	}
	s.pending[p.ID] = p

	s.logger.Info("write awaiting confirmation",
		zap.String("confirmation", p.ID),
		zap.String("owner", ownerID),
		zap.String("tool", def.Name),
		zap.String("summary", p.Summary))

	cp := *p
	return &cp
}

// Confirm runs a pending write. Each confirmation id can be used once.
func (s *Shell) Confirm(ctx context.Context, confirmationID string) (*Outcome, error) {
	s.mu.Lock()
	p, ok := s.pending[confirmationID]
	delete(s.pending, confirmationID)
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfirmationNotFound, confirmationID)
	}
	if s.ac.Clock().After(p.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrConfirmationExpired, confirmationID)
	}

	def, _ := tools.Lookup(p.Tool)
	s.logger.Info("write confirmed",
		zap.String("confirmation", p.ID),
		zap.String("tool", p.Tool))
	return s.run(ctx, p.OwnerID, def, p.Input)
}

// Cancel drops a pending write. It reports whether one existed.
func (s *Shell) Cancel(confirmationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[confirmationID]
	delete(s.pending, confirmationID)
	return ok
}

func (s *Shell) run(ctx context.Context, ownerID string, def tools.Definition, input json.RawMessage) (*Outcome, error) {
	start := time.Now()
	result, err := s.dispatch(ctx, ownerID, def.Name, input)

	fields := []zap.Field{
		zap.String("tool", def.Name),
		zap.String("owner", ownerID),
		zap.Duration("duration", time.Since(start)),
	}
	switch {
	case err != nil:
		s.logger.Error("tool failed", append(fields, zap.Error(err))...)
	case !result.Success:
		s.logger.Info("tool unsuccessful", append(fields, zap.String("error_type", result.ErrorType))...)
	default:
		s.logger.Debug("tool executed", fields...)
	}

	if result == nil {
		return nil, err
	}
	return &Outcome{Result: result}, err
}

// infrastructure reports whether err means the system, not the request, is
// broken.
func infrastructure(err error) bool {
	return errors.Is(err, core.ErrStoreUnavailable) || errors.Is(err, core.ErrCapabilityUnavailable)
}

func decode(input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
	}
	return nil
}

func (s *Shell) dispatch(ctx context.Context, ownerID, tool string, input json.RawMessage) (*tools.Result, error) {
	switch tool {
	case tools.GetFinancialProfile:
		p, ok, err := s.profiles.Profile(ctx, ownerID)
		if err != nil {
			if infrastructure(err) {
				return nil, err
			}
			return tools.Failure(err), nil
		}
		if !ok {
			return &tools.Result{Success: true, Summary: view.Profile(nil)}, nil
		}
		missing := make([]string, 0)
		for _, m := range profile.Missing(p) {
			missing = append(missing, m.String())
		}
		return &tools.Result{
			Success: true,
			Data: map[string]any{
				"profile":          p,
				"missing":          missing,
				"estimatedPayment": estimatedPayment(p),
			},
			Summary: view.Profile(p),
		}, nil

	case tools.ValidateResource:
		var in tools.ValidateResourceInput
		if err := decode(input, &in); err != nil {
			return tools.Failure(err), nil
		}
		if in.Ref == "" {
			return tools.Failure(fmt.Errorf("%w: ref is required", tools.ErrInvalidInput)), nil
		}
		result, err := s.actions.ValidateResource(ctx, in.Ref)
		if err != nil {
			if infrastructure(err) {
				return nil, err
			}
			return tools.Failure(err), nil
		}
		return &tools.Result{Success: true, Data: result, Summary: view.Validation(result)}, nil

	case tools.CreateResource:
		var in tools.CreateResourceInput
		if err := decode(input, &in); err != nil {
			return tools.Failure(err), nil
		}
		id, err := s.actions.CreateResource(ctx, in.ResourceConfig)
		if err != nil {
			r := tools.Failure(err)
			if id != "" {
				// Committed but not recorded.
				r.Data = map[string]string{"resourceId": id}
			}
			if infrastructure(err) {
				return r, err
			}
			return r, nil
		}
		return &tools.Result{
			Success: true,
			Data:    map[string]string{"resourceId": id},
			Summary: "Created pool " + id,
		}, nil

	case tools.CheckResourceHealth:
		var in tools.ResourceInput
		if err := decode(input, &in); err != nil {
			return tools.Failure(err), nil
		}
		if in.ResourceID == "" {
			return tools.Failure(fmt.Errorf("%w: resourceId is required", tools.ErrInvalidInput)), nil
		}
		res, err := s.actions.Resource(ctx, in.ResourceID)
		if err != nil {
			if infrastructure(err) {
				return nil, err
			}
			return tools.Failure(err), nil
		}
		return &tools.Result{Success: true, Data: res, Summary: view.Resource(*res)}, nil

	case tools.ResourceHistory:
		var in tools.ResourceInput
		if err := decode(input, &in); err != nil {
			return tools.Failure(err), nil
		}
		if in.ResourceID == "" {
			return tools.Failure(fmt.Errorf("%w: resourceId is required", tools.ErrInvalidInput)), nil
		}
		limit := in.Limit
		if limit <= 0 {
			limit = action.DefaultRecentLimit
		}
		entries, err := s.actions.History(ctx, in.ResourceID, limit)
		if err != nil {
			return nil, err
		}
		return &tools.Result{Success: true, Data: entries, Summary: historySummary(entries)}, nil
	}
	return tools.Failure(fmt.Errorf("%w: unknown tool %s", tools.ErrInvalidInput, tool)), nil
}

func estimatedPayment(p *core.Profile) int {
	price, ok := p.Value(profile.HousingTargetPrice)
	if !ok {
		return 0
	}
	savings, _ := p.Value(profile.SavingsCurrent)
	return view.EstimatedPayment(price, savings)
}

func historySummary(entries []core.AuditEntry) string {
	if len(entries) == 0 {
		return "No recorded activity."
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := e.Timestamp.UTC().Format(time.RFC3339) + " " + string(e.Kind)
		if e.Malformed() {
			line += " (unreadable)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Close closes registered closers in reverse order, then the store.
func (s *Shell) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	errs = append(errs, s.ac.Store.Close())
	return errors.Join(errs...)
}
