// Package capability declares the external dependencies the action service
// consumes and resolves them once at startup.
//
// Providers register concrete values; Resolve checks that every required
// capability is present and returns a Set of typed interface values. Code
// downstream of Resolve never looks a capability up by name.
package capability

import (
	"context"

	"github.com/becomeliminal/nim-finagent/core"
)

// Metadata is what the metadata capability knows about a token.
type Metadata struct {
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	TotalSupply float64 `json:"supply"`
}

// ResourceMetadata looks up the resource a config refers to.
type ResourceMetadata interface {
	GetMetadata(ctx context.Context, ref string) (Metadata, error)
	GetHolders(ctx context.Context, ref string) ([]string, error)
}

// ResourceCommit creates resources and reads their live metrics.
type ResourceCommit interface {
	CommitCreate(ctx context.Context, cfg core.ResourceConfig) (string, error)
	GetMetrics(ctx context.Context, resourceID string) (core.Health, error)
}

// SecureExecution runs fn in an isolated context and returns its result.
type SecureExecution interface {
	RunIsolated(ctx context.Context, fn func(context.Context) (any, error)) (any, error)
}

// RiskInput is what an external risk scorer sees.
type RiskInput struct {
	Ref         string
	Metadata    Metadata
	HolderCount int
}

// RiskScorer scores a resource in [0,1]; higher is riskier.
type RiskScorer interface {
	Score(ctx context.Context, in RiskInput) (float64, error)
}

// Set is the resolved capability bundle. Secure and Risk are optional.
type Set struct {
	Metadata ResourceMetadata
	Commit   ResourceCommit
	Secure   SecureExecution
	Risk     RiskScorer
}

// Names of capabilities as reported in CapabilityError.
const (
	NameMetadata = "resource metadata"
	NameCommit   = "resource commit"
)
