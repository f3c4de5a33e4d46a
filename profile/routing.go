package profile

import (
	"strings"

	"github.com/becomeliminal/nim-finagent/core"
)

// MinConfidence is the minimum evidence a claim needs to touch a profile.
// It is a design constant, not a per-call setting.
const MinConfidence = 0.8

// Profile fields the routing table and RequiredFields refer to.
var (
	IncomeAnnual          = core.FieldPath{Category: "income", Name: "annual"}
	IncomeMonthlyTakeHome = core.FieldPath{Category: "income", Name: "monthlyTakeHome"}
	SavingsCurrent        = core.FieldPath{Category: "savings", Name: "current"}
	SavingsMonthly        = core.FieldPath{Category: "savings", Name: "monthly"}
	SavingsInvestments    = core.FieldPath{Category: "savings", Name: "investments"}
	ExpensesMonthlyTotal  = core.FieldPath{Category: "expenses", Name: "monthlyTotal"}
	HousingTargetPrice    = core.FieldPath{Category: "housingGoal", Name: "targetPrice"}
	HousingDownPayment    = core.FieldPath{Category: "housingGoal", Name: "downPayment"}
)

// rule routes a claim to one field. Empty Timeframe or Category in a rule
// match anything.
type rule struct {
	Type      core.ClaimType
	Timeframe core.Timeframe
	Category  string
	Field     core.FieldPath
}

// routes is evaluated in order; the first matching rule wins.
var routes = []rule{
	{Type: core.ClaimIncome, Timeframe: core.TimeframeAnnual, Field: IncomeAnnual},
	{Type: core.ClaimIncome, Timeframe: core.TimeframeMonthly, Field: IncomeMonthlyTakeHome},
	{Type: core.ClaimSavings, Timeframe: core.TimeframeTotal, Field: SavingsCurrent},
	{Type: core.ClaimSavings, Timeframe: core.TimeframeMonthly, Field: SavingsMonthly},
	{Type: core.ClaimExpense, Timeframe: core.TimeframeMonthly, Field: ExpensesMonthlyTotal},
	{Type: core.ClaimGoal, Category: "house", Field: HousingTargetPrice},
	{Type: core.ClaimGoal, Category: "downpayment", Field: HousingDownPayment},
	{Type: core.ClaimInvestment, Timeframe: core.TimeframeTotal, Field: SavingsInvestments},
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(c)
}

// Route returns the field a claim writes, or false if no rule matches.
func Route(c core.Claim) (core.FieldPath, bool) {
	category := normalizeCategory(c.Category)
	for _, r := range routes {
		if r.Type != c.Type {
			continue
		}
		if r.Timeframe != core.TimeframeNone && r.Timeframe != c.Timeframe {
			continue
		}
		if r.Category != "" && r.Category != category {
			continue
		}
		return r.Field, true
	}
	return core.FieldPath{}, false
}

// RequiredFields lists, per category, the fields a profile needs before it
// is complete.
var RequiredFields = map[string][]string{
	"income":      {"annual"},
	"savings":     {"current", "monthly"},
	"housingGoal": {"targetPrice"},
}

// requiredOrder fixes the reporting order of RequiredFields.
var requiredOrder = []core.FieldPath{IncomeAnnual, SavingsCurrent, SavingsMonthly, HousingTargetPrice}

// IsComplete reports whether every required field is present.
func IsComplete(p *core.Profile) bool {
	for category, fields := range RequiredFields {
		for _, name := range fields {
			if !p.Has(core.FieldPath{Category: category, Name: name}) {
				return false
			}
		}
	}
	return true
}

// Missing lists required fields that are absent, in a stable order.
func Missing(p *core.Profile) []core.FieldPath {
	var missing []core.FieldPath
	for _, path := range requiredOrder {
		if !p.Has(path) {
			missing = append(missing, path)
		}
	}
	return missing
}
