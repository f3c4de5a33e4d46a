package core

import (
	"slices"
	"time"
)

// ResourceConfig describes a resource to create, e.g. a liquidity pool
// pairing PrimaryRef (the token being listed) with SecondaryRef.
type ResourceConfig struct {
	PrimaryRef       string  `json:"primaryRef"`
	SecondaryRef     string  `json:"secondaryRef"`
	InitialPrice     float64 `json:"initialPrice"`
	InitialLiquidity float64 `json:"initialLiquidity"`
}

// Problems lists the reasons the config cannot be committed as given.
func (c ResourceConfig) Problems() []string {
	var reasons []string
	if c.PrimaryRef == "" {
		reasons = append(reasons, "primary ref is required")
	}
	if c.SecondaryRef == "" {
		reasons = append(reasons, "secondary ref is required")
	}
	if c.PrimaryRef != "" && c.PrimaryRef == c.SecondaryRef {
		reasons = append(reasons, "primary and secondary refs must differ")
	}
	if !(c.InitialPrice > 0) {
		reasons = append(reasons, "initial price must be positive")
	}
	if !(c.InitialLiquidity > 0) {
		reasons = append(reasons, "initial liquidity must be positive")
	}
	return reasons
}

// Health is a point-in-time snapshot of a resource's external metrics.
type Health struct {
	Liquidity      float64 `json:"liquidity"`
	Volume24h      float64 `json:"volume24h"`
	PriceChange24h float64 `json:"priceChange24h"`
	NumHolders     int     `json:"numHolders"`
	TrustScore     float64 `json:"trustScore"`
}

// Resource is an externally backed entity created through the action service.
// Health is only populated when the caller has just read it live.
type Resource struct {
	ID        string         `json:"id"`
	Config    ResourceConfig `json:"config"`
	Health    *Health        `json:"health,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// TokenMetadata is what validation learned about the primary ref.
type TokenMetadata struct {
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	HolderCount int     `json:"holderCount"`
	TotalSupply float64 `json:"totalSupply"`
}

// ValidationResult is the outcome of validating a resource ref. It is always
// recomputed; nothing reads a stored result back as a precondition.
type ValidationResult struct {
	IsValid   bool           `json:"isValid"`
	Reasons   []string       `json:"reasons,omitempty"`
	Metadata  *TokenMetadata `json:"metadata,omitempty"`
	RiskScore float64        `json:"riskScore"`
}

// Clone returns a deep copy of r.
func (r ValidationResult) Clone() ValidationResult {
	r.Reasons = slices.Clone(r.Reasons)
	if r.Metadata != nil {
		md := *r.Metadata
		r.Metadata = &md
	}
	return r
}
