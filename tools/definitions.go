// Package tools defines the tools the agent shell exposes: their JSON
// schemas, typed inputs and result envelope.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"text/template"

	"github.com/becomeliminal/nim-finagent/action"
	"github.com/becomeliminal/nim-finagent/core"
)

// Tool names.
const (
	GetFinancialProfile = "get_financial_profile"
	ValidateResource    = "validate_resource"
	CreateResource      = "create_resource"
	CheckResourceHealth = "check_resource_health"
	ResourceHistory     = "resource_history"
)

// Definition describes one tool.
type Definition struct {
	Name                 string         `json:"name"`
	Description          string         `json:"description"`
	RequiresConfirmation bool           `json:"requiresConfirmation,omitempty"`
	SummaryTemplate      string         `json:"summaryTemplate,omitempty"`
	InputSchema          map[string]any `json:"inputSchema"`
}

// Summary renders SummaryTemplate against input. It falls back to the tool
// name when there is no template or input does not fit it.
func (d Definition) Summary(input json.RawMessage) string {
	if d.SummaryTemplate == "" {
		return d.Name
	}
	tmpl, err := template.New(d.Name).Option("missingkey=zero").Parse(d.SummaryTemplate)
	if err != nil {
		return d.Name
	}
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return d.Name
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, fields); err != nil {
		return d.Name
	}
	return buf.String()
}

var definitions = []Definition{
	// Read operations (thought optional)
	{
		Name:        GetFinancialProfile,
		Description: "Get the user's home-buying financial profile: known income, savings and target price, what is still missing, and an estimated monthly payment once complete.",
		InputSchema: BuildSchemaWithThought(map[string]any{}, false),
	},
	{
		Name:        ValidateResource,
		Description: "Validate a token before creating a liquidity pool for it. Returns validity, reasons, holder count and a risk score between 0 and 1.",
		InputSchema: BuildSchemaWithThought(map[string]any{
			"ref": StringProperty("Token mint address to validate"),
		}, false, "ref"),
	},
	{
		Name:        CheckResourceHealth,
		Description: "Read live liquidity, volume, price change, holder count and trust score for a pool created by this agent.",
		InputSchema: BuildSchemaWithThought(map[string]any{
			"resourceId": StringProperty("Pool address"),
		}, false, "resourceId"),
	},
	{
		Name:        ResourceHistory,
		Description: "List recorded validations, creations and health checks for a pool or token, newest first.",
		InputSchema: BuildSchemaWithThought(map[string]any{
			"resourceId": StringProperty("Pool address or token mint"),
			"limit":      IntegerProperty("Number of entries to return (default: 10)"),
		}, false, "resourceId"),
	},

	// Write operations (thought required)
	{
		Name:                 CreateResource,
		Description:          "Create a liquidity pool pairing a token with a base token. The token is re-validated first and the pool is only created if validation passes. Requires confirmation.",
		RequiresConfirmation: true,
		SummaryTemplate:      "Create pool {{.primaryRef}}/{{.secondaryRef}} at price {{.initialPrice}} with {{.initialLiquidity}} liquidity",
		InputSchema: BuildSchemaWithThought(map[string]any{
			"primaryRef":       StringProperty("Mint address of the token being listed"),
			"secondaryRef":     StringProperty("Mint address of the base token, e.g. USDC"),
			"initialPrice":     NumberProperty("Initial price of the token in base units", 0, true),
			"initialLiquidity": NumberProperty("Initial liquidity in base units", 0, true),
		}, true, "primaryRef", "secondaryRef", "initialPrice", "initialLiquidity"),
	},
}

// Definitions returns every tool definition.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup returns the definition for name.
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// BaseInput provides common fields for all tool inputs.
type BaseInput struct {
	// Thought is the caller's reasoning. Required for write operations.
	Thought string `json:"thought,omitempty"`
}

// ValidateResourceInput is the input of validate_resource.
type ValidateResourceInput struct {
	BaseInput
	Ref string `json:"ref"`
}

// CreateResourceInput is the input of create_resource.
type CreateResourceInput struct {
	BaseInput
	core.ResourceConfig
}

// ResourceInput is the input of check_resource_health and resource_history.
type ResourceInput struct {
	BaseInput
	ResourceID string `json:"resourceId"`
	Limit      int    `json:"limit,omitempty"`
}

// Result is the envelope every tool execution returns.
type Result struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
}

// Error types reported in Result.ErrorType.
const (
	ErrorRejected     = "rejected"
	ErrorNotFound     = "not_found"
	ErrorInvalidInput = "invalid_input"
	ErrorTimeout      = "timeout"
	ErrorExternal     = "external_call_failed"
	ErrorUnknown      = "unknown"
)

// ErrInvalidInput marks tool input that does not fit the schema.
var ErrInvalidInput = errors.New("invalid tool input")

// Categorize maps an error to a Result error type.
func Categorize(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrActionRejected):
		return ErrorRejected
	case errors.Is(err, action.ErrResourceNotFound):
		return ErrorNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, core.ErrInvalidNamespace):
		return ErrorInvalidInput
	case isTimeout(err):
		return ErrorTimeout
	case errors.Is(err, core.ErrExternalCallFailed):
		return ErrorExternal
	default:
		return ErrorUnknown
	}
}

func isTimeout(err error) bool {
	var to interface{ Timeout() bool }
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &to) && to.Timeout())
}

// Failure builds an unsuccessful Result from err.
func Failure(err error) *Result {
	return &Result{Error: err.Error(), ErrorType: Categorize(err)}
}
