// Package view renders profiles, resources and validation results as plain
// text for a chat surface. Every function is pure.
package view

import (
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/profile"
)

// Mortgage assumptions behind EstimatedPayment.
const (
	DownPaymentShare = 0.20
	AnnualRate       = 0.07
	TermYears        = 30
)

// IntakePrompt is shown when no profile exists yet.
const IntakePrompt = `I'll help you plan for buying a home. First, I need some information about your finances. Could you tell me:
1. Your annual income
2. How much you can save monthly
3. Your target home price`

var printer = message.NewPrinter(language.AmericanEnglish)

var fieldLabels = map[core.FieldPath]string{
	profile.IncomeAnnual:       "annual income",
	profile.SavingsCurrent:     "current savings",
	profile.SavingsMonthly:     "monthly savings capacity",
	profile.HousingTargetPrice: "target home price",
}

// known lists the fields shown for an incomplete profile, in display order.
var known = []struct {
	path  core.FieldPath
	title string
}{
	{profile.IncomeAnnual, "Annual Income"},
	{profile.IncomeMonthlyTakeHome, "Monthly Take-Home"},
	{profile.SavingsCurrent, "Current Savings"},
	{profile.SavingsMonthly, "Monthly Savings"},
	{profile.ExpensesMonthlyTotal, "Monthly Expenses"},
	{profile.HousingTargetPrice, "Target Home Price"},
	{profile.HousingDownPayment, "Planned Down Payment"},
}

func dollars(v float64) string {
	return printer.Sprintf("$%d", int64(math.Round(v)))
}

// EstimatedPayment is the monthly principal and interest on a fixed-rate
// mortgage for price, putting down the smaller of savings and 20% of price.
func EstimatedPayment(price, savings float64) int {
	if !(price > 0) {
		return 0
	}
	down := math.Min(math.Max(savings, 0), price*DownPaymentShare)
	loan := price - down
	r := AnnualRate / 12
	n := float64(TermYears * 12)
	f := math.Pow(1+r, n)
	return int(math.Round(loan * r * f / (f - 1)))
}

// Profile renders p. A nil profile gets the intake prompt.
func Profile(p *core.Profile) string {
	if p == nil {
		return IntakePrompt
	}
	if p.Complete {
		return completeProfile(p)
	}
	return incompleteProfile(p)
}

func completeProfile(p *core.Profile) string {
	income, _ := p.Value(profile.IncomeAnnual)
	current, _ := p.Value(profile.SavingsCurrent)
	monthly, _ := p.Value(profile.SavingsMonthly)
	price, _ := p.Value(profile.HousingTargetPrice)
	payment := EstimatedPayment(price, current)

	var b strings.Builder
	b.WriteString("Based on your information:\n\n")
	b.WriteString("Income & Savings:\n")
	b.WriteString("• Annual Income: " + dollars(income) + "\n")
	b.WriteString("• Current Savings: " + dollars(current) + "\n")
	b.WriteString("• Monthly Savings: " + dollars(monthly) + "\n\n")
	b.WriteString("Home Purchase Goal:\n")
	b.WriteString("• Target Price: " + dollars(price) + "\n")
	b.WriteString("• Estimated Monthly Payment: " + dollars(float64(payment)) + "\n")
	b.WriteString("  (principal & interest only)\n")
	if income > 0 {
		ratio := float64(payment) * 12 / income * 100
		b.WriteString(printer.Sprintf("• Payment to Income: %.1f%%\n", ratio))
	}
	b.WriteString(`
Would you like to:
1. Review affordability analysis
2. Discuss saving strategy
3. Learn about mortgage options
4. Understand additional costs`)
	return b.String()
}

func incompleteProfile(p *core.Profile) string {
	var b strings.Builder
	b.WriteString("Here's what I know so far:\n\n")
	for _, f := range known {
		if v, ok := p.Value(f.path); ok {
			b.WriteString("• " + f.title + ": " + dollars(v) + "\n")
		}
	}

	missing := profile.Missing(p)
	labels := make([]string, 0, len(missing))
	for _, m := range missing {
		label, ok := fieldLabels[m]
		if !ok {
			label = m.String()
		}
		labels = append(labels, label)
	}
	if len(labels) > 0 {
		b.WriteString("\nI still need to know your " + strings.Join(labels, ", ") + ".")
	}
	return b.String()
}

// Resource renders a resource and, when present, its health snapshot.
func Resource(r core.Resource) string {
	var b strings.Builder
	b.WriteString("Pool " + r.ID + "\n")
	b.WriteString("• Pair: " + r.Config.PrimaryRef + " / " + r.Config.SecondaryRef + "\n")
	b.WriteString(printer.Sprintf("• Initial Price: %.4f\n", r.Config.InitialPrice))
	b.WriteString(printer.Sprintf("• Initial Liquidity: %.2f\n", r.Config.InitialLiquidity))
	if !r.CreatedAt.IsZero() {
		b.WriteString("• Created: " + r.CreatedAt.UTC().Format("2006-01-02 15:04 MST") + "\n")
	}
	if h := r.Health; h != nil {
		b.WriteString("\nHealth:\n")
		b.WriteString(printer.Sprintf("• Liquidity: %.2f\n", h.Liquidity))
		b.WriteString(printer.Sprintf("• 24h Volume: %.2f\n", h.Volume24h))
		b.WriteString(printer.Sprintf("• 24h Price Change: %+.2f%%\n", h.PriceChange24h))
		b.WriteString(printer.Sprintf("• Holders: %d\n", h.NumHolders))
		b.WriteString(printer.Sprintf("• Trust Score: %.2f\n", h.TrustScore))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Validation renders a validation result.
func Validation(v core.ValidationResult) string {
	var b strings.Builder
	if v.IsValid {
		b.WriteString("Validation passed")
	} else {
		b.WriteString("Validation failed")
	}
	b.WriteString(printer.Sprintf(" (risk score %.2f)\n", v.RiskScore))
	if md := v.Metadata; md != nil {
		b.WriteString("• Token: " + md.Name + " (" + md.Symbol + ")\n")
		b.WriteString(printer.Sprintf("• Holders: %d\n", md.HolderCount))
		b.WriteString(printer.Sprintf("• Total Supply: %.0f\n", md.TotalSupply))
	}
	for _, r := range v.Reasons {
		b.WriteString("• " + r + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
