package core

import (
	"fmt"
	"math"
)

// ClaimType is the kind of financial fact a claim asserts.
type ClaimType string

const (
	ClaimIncome     ClaimType = "income"
	ClaimSavings    ClaimType = "savings"
	ClaimExpense    ClaimType = "expense"
	ClaimGoal       ClaimType = "goal"
	ClaimInvestment ClaimType = "investment"
)

// Timeframe qualifies the period a claim's value covers.
// The zero value means the claim carried no timeframe.
type Timeframe string

const (
	TimeframeNone    Timeframe = ""
	TimeframeMonthly Timeframe = "monthly"
	TimeframeAnnual  Timeframe = "annual"
	TimeframeTotal   Timeframe = "total"
)

// Claim is a single extracted assertion about a financial fact.
// Claims are values; nothing in this module mutates one after it is built.
type Claim struct {
	// Text is the extractor's natural-language rendering of the claim, if any.
	Text       string    `json:"claim,omitempty"`
	Type       ClaimType `json:"type"`
	Category   string    `json:"category,omitempty"`
	Value      float64   `json:"value"`
	Timeframe  Timeframe `json:"timeframe,omitempty"`
	Confidence float64   `json:"confidence"`
}

// Check reports whether the claim is well formed. It does not apply the
// confidence threshold; that is the aggregator's decision.
func (c Claim) Check() error {
	switch c.Type {
	case ClaimIncome, ClaimSavings, ClaimExpense, ClaimGoal, ClaimInvestment:
	default:
		return fmt.Errorf("unknown claim type %q", c.Type)
	}
	switch c.Timeframe {
	case TimeframeNone, TimeframeMonthly, TimeframeAnnual, TimeframeTotal:
	default:
		return fmt.Errorf("unknown timeframe %q", c.Timeframe)
	}
	if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
		return fmt.Errorf("value is not a finite number")
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", c.Confidence)
	}
	return nil
}
