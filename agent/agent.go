// Package agent wires the pipeline together once at startup and exposes it
// to a host runtime through Shell.
//
// Everything a component needs arrives through Context; nothing is looked
// up from a global at call time.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-finagent/action"
	"github.com/becomeliminal/nim-finagent/capability"
	"github.com/becomeliminal/nim-finagent/capability/wsrpc"
	"github.com/becomeliminal/nim-finagent/config"
	"github.com/becomeliminal/nim-finagent/memory"
	"github.com/becomeliminal/nim-finagent/memory/embedder/hash"
	"github.com/becomeliminal/nim-finagent/memory/store/inmem"
	"github.com/becomeliminal/nim-finagent/memory/store/sqlite"
	"github.com/becomeliminal/nim-finagent/profile"
)

// Context is the capability bundle handed to every component.
type Context struct {
	AgentID      string
	Store        memory.Store
	Capabilities capability.Set
	Logger       *zap.Logger
	Clock        func() time.Time
}

// DefaultConfirmationTTL is how long a pending write waits for Confirm.
const DefaultConfirmationTTL = 10 * time.Minute

// Option configures New and Open.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	clock         func() time.Time
	store         memory.Store
	callTimeout   time.Duration
	policy        action.RiskPolicy
	minSimilarity float32
	confirmTTL    time.Duration
	closers       []io.Closer
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source for audit stamps and confirmations.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithStore makes Open use store instead of building one from config.
func WithStore(store memory.Store) Option {
	return func(o *options) { o.store = store }
}

// WithCallTimeout bounds each external capability call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithRiskPolicy sets the validation thresholds.
func WithRiskPolicy(p action.RiskPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithMinSimilarity sets the Recall threshold.
func WithMinSimilarity(t float32) Option {
	return func(o *options) { o.minSimilarity = t }
}

// WithConfirmationTTL sets how long pending writes stay confirmable.
func WithConfirmationTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.confirmTTL = d
		}
	}
}

// WithCloser registers c to be closed by Shell.Close before the store.
func WithCloser(c io.Closer) Option {
	return func(o *options) { o.closers = append(o.closers, c) }
}

func defaultOptions() options {
	return options{
		logger:        zap.NewNop(),
		clock:         time.Now,
		policy:        action.DefaultRiskPolicy(),
		minSimilarity: memory.DefaultConfig.MinSimilarity,
		confirmTTL:    DefaultConfirmationTTL,
	}
}

// Open builds the store for cfg.Store, dials the gateway when cfg.RPCURL is
// set, resolves reg and returns a ready Shell. It is the only fallible step
// of startup; on error everything opened so far is closed again.
func Open(ctx context.Context, cfg config.Config, reg *capability.Registry, opts ...Option) (*Shell, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	o := defaultOptions()
	o.callTimeout = cfg.CallTimeout
	o.minSimilarity = cfg.MinSimilarity
	o.policy.MinHolders = cfg.MinHolders
	o.policy.MaxRiskScore = cfg.MaxRiskScore
	for _, opt := range opts {
		opt(&o)
	}
	if reg == nil {
		reg = capability.NewRegistry()
	}

	store := o.store
	if store == nil {
		var err error
		store, err = openStore(ctx, cfg, o.logger)
		if err != nil {
			return nil, err
		}
	}

	// Everything below closes in reverse on failure.
	cleanup := func(err error) error {
		for i := len(o.closers) - 1; i >= 0; i-- {
			_ = o.closers[i].Close()
		}
		return errors.Join(err, store.Close())
	}

	if cfg.RPCURL != "" {
		client, err := wsrpc.Dial(ctx, cfg.RPCURL, wsrpc.WithLogger(o.logger))
		if err != nil {
			return nil, cleanup(err)
		}
		o.closers = append(o.closers, client)
		if err := reg.Register(client); err != nil {
			return nil, cleanup(err)
		}
	}

	caps, err := reg.Resolve()
	if err != nil {
		return nil, cleanup(err)
	}

	ac := Context{
		AgentID:      cfg.AgentID,
		Store:        store,
		Capabilities: caps,
		Logger:       o.logger,
		Clock:        o.clock,
	}
	s := newShell(ac, o)
	s.logger.Info("agent ready",
		zap.String("agent", cfg.AgentID),
		zap.String("store", cfg.Store),
		zap.Bool("gateway", cfg.RPCURL != ""),
		zap.Bool("secure_execution", caps.Secure != nil))
	return s, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (memory.Store, error) {
	embedder := hash.New(cfg.EmbeddingDims)
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:         cfg.SQLitePath,
			CacheMaxCost: cfg.CacheMaxCost,
			Embedder:     embedder,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return store, nil
	default:
		return inmem.New(inmem.WithEmbedder(embedder), inmem.WithLogger(logger)), nil
	}
}

// New builds a Shell over an already assembled Context.
func New(ac Context, opts ...Option) *Shell {
	o := defaultOptions()
	if ac.Logger != nil {
		o.logger = ac.Logger
	}
	if ac.Clock != nil {
		o.clock = ac.Clock
	}
	for _, opt := range opts {
		opt(&o)
	}
	ac.Logger = o.logger
	ac.Clock = o.clock
	return newShell(ac, o)
}

func newShell(ac Context, o options) *Shell {
	recorder := memory.NewRecorder(ac.Store,
		memory.WithLogger(ac.Logger),
		memory.WithClock(ac.Clock))

	profiles := profile.NewAggregator(ac.AgentID, ac.Store,
		profile.WithLogger(ac.Logger),
		profile.WithRecorder(recorder))

	actions := action.NewService(ac.AgentID, ac.Store, ac.Capabilities,
		action.WithLogger(ac.Logger),
		action.WithRecorder(recorder),
		action.WithRiskPolicy(o.policy),
		action.WithCallTimeout(o.callTimeout),
		action.WithClock(ac.Clock))

	return &Shell{
		ac:            ac,
		recorder:      recorder,
		profiles:      profiles,
		actions:       actions,
		minSimilarity: o.minSimilarity,
		confirmTTL:    o.confirmTTL,
		closers:       o.closers,
		pending:       make(map[string]*PendingAction),
		logger:        ac.Logger.Named("agent"),
	}
}
