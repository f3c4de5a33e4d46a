package action

import (
	"fmt"
	"math"

	"github.com/becomeliminal/nim-finagent/capability"
)

// RiskPolicy holds the deterministic validation thresholds.
type RiskPolicy struct {
	// MinHolders is the holder count below which a ref is rejected outright.
	MinHolders int

	// HealthyHolders is the holder count at which holder risk reaches zero.
	HealthyHolders int

	// MaxRiskScore is the highest acceptable combined risk score.
	MaxRiskScore float64
}

// DefaultRiskPolicy returns the production thresholds.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		MinHolders:     10,
		HealthyHolders: 1000,
		MaxRiskScore:   0.7,
	}
}

// Reasons reported by validation.
const (
	ReasonRefRequired      = "ref is required"
	ReasonHolderCountLow   = "holder count too low"
	ReasonSupplyZero       = "total supply is zero"
	ReasonMetadataMissing  = "token name or symbol missing"
	reasonRiskTooHighFmt   = "risk score %.2f exceeds %.2f"
	reasonLookupFailedFmt  = "%s lookup failed: %v"
	reasonScoringFailedFmt = "risk scoring failed: %v"
)

// HolderRisk scores concentration risk on a log scale: 1 for no holders,
// 0 at HealthyHolders or more.
func (p RiskPolicy) HolderRisk(holders int) float64 {
	if holders <= 0 {
		return 1
	}
	if p.HealthyHolders <= 1 || holders >= p.HealthyHolders {
		return 0
	}
	r := 1 - math.Log10(float64(holders)+1)/math.Log10(float64(p.HealthyHolders)+1)
	return math.Max(0, math.Min(1, r))
}

// assessment is the outcome of scoring one ref.
type assessment struct {
	score   float64
	reasons []string
}

// assess applies the policy to looked-up metadata. external is the optional
// scorer's result; a negative value means none.
func (p RiskPolicy) assess(md capability.Metadata, holders int, external float64) assessment {
	var a assessment
	if md.Name == "" || md.Symbol == "" {
		a.reasons = append(a.reasons, ReasonMetadataMissing)
	}
	if !(md.TotalSupply > 0) {
		a.reasons = append(a.reasons, ReasonSupplyZero)
	}
	if holders < p.MinHolders {
		a.reasons = append(a.reasons, ReasonHolderCountLow)
	}

	a.score = p.HolderRisk(holders)
	if external > a.score {
		a.score = math.Min(1, external)
	}
	if a.score > p.MaxRiskScore {
		a.reasons = append(a.reasons, fmt.Sprintf(reasonRiskTooHighFmt, a.score, p.MaxRiskScore))
	}
	return a
}
