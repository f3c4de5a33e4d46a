// Package config loads agent settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds every tunable setting. The confidence gate, routing table and
// required profile fields are fixed and deliberately absent.
type Config struct {
	AgentID string `env:"FINAGENT_AGENT_ID" envDefault:"finagent"`

	Store         string `env:"FINAGENT_STORE" envDefault:"memory"`
	SQLitePath    string `env:"FINAGENT_SQLITE_PATH" envDefault:"finagent.db"`
	CacheMaxCost  int64  `env:"FINAGENT_CACHE_MAX_COST" envDefault:"1048576"`
	EmbeddingDims int    `env:"FINAGENT_EMBEDDING_DIMS" envDefault:"256"`

	// MinSimilarity is the default QuerySimilar threshold for Recall.
	MinSimilarity float32 `env:"FINAGENT_MIN_SIMILARITY" envDefault:"0.5"`

	// CallTimeout bounds each external capability call.
	CallTimeout time.Duration `env:"FINAGENT_CALL_TIMEOUT" envDefault:"10s"`

	// RPCURL is the chain gateway. Empty means capabilities are registered
	// by the embedding program instead.
	RPCURL string `env:"FINAGENT_RPC_URL"`

	MinHolders   int     `env:"FINAGENT_MIN_HOLDERS" envDefault:"10"`
	MaxRiskScore float64 `env:"FINAGENT_MAX_RISK_SCORE" envDefault:"0.7"`

	LogLevel       string `env:"FINAGENT_LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"FINAGENT_LOG_DEVELOPMENT" envDefault:"false"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.AgentID == "" {
		errs = append(errs, errors.New("FINAGENT_AGENT_ID is required"))
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("FINAGENT_SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("FINAGENT_STORE %q is not one of %s, %s", c.Store, StoreMemory, StoreSQLite))
	}
	if c.CacheMaxCost <= 0 {
		errs = append(errs, errors.New("FINAGENT_CACHE_MAX_COST must be positive"))
	}
	if c.EmbeddingDims <= 0 {
		errs = append(errs, errors.New("FINAGENT_EMBEDDING_DIMS must be positive"))
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		errs = append(errs, errors.New("FINAGENT_MIN_SIMILARITY must be within [0,1]"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("FINAGENT_CALL_TIMEOUT must be positive"))
	}
	if c.MinHolders < 0 {
		errs = append(errs, errors.New("FINAGENT_MIN_HOLDERS must not be negative"))
	}
	if c.MaxRiskScore < 0 || c.MaxRiskScore > 1 {
		errs = append(errs, errors.New("FINAGENT_MAX_RISK_SCORE must be within [0,1]"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("FINAGENT_LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}
