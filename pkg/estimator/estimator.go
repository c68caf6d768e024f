// Package estimator provides cheap token and cost approximations for
// savings reporting. Figures are heuristic budget projections, not
// provider-billed counts.
package estimator

import "math"

// Params controls the token-cap and pricing model. Zero value is not
// usable; start from DefaultParams.
type Params struct {
	StdCapBase  float64 `json:"std_cap_base"`
	StdCapScale float64 `json:"std_cap_scale"`
	UCPCapBase  float64 `json:"ucp_cap_base"`
	UCPCapScale float64 `json:"ucp_cap_scale"`

	DollarsPer1KTokens float64 `json:"dollars_per_1k_tokens"`
	RunsPerUserPerYear int     `json:"runs_per_user_per_year"`
	Users              int     `json:"users"`
}

// DefaultParams mirrors the tuned production defaults.
func DefaultParams() Params {
	return Params{
		StdCapBase:         650,
		StdCapScale:        550,
		UCPCapBase:         28,
		UCPCapScale:        40,
		DollarsPer1KTokens: 0.003,
		RunsPerUserPerYear: 500,
		Users:              10_000,
	}
}

// Estimate is the per-packet savings projection.
type Estimate struct {
	StandardCap          int     `json:"standard_cap"`
	UCPCap               int     `json:"ucp_cap"`
	SavingsPct           float64 `json:"savings_pct"`
	CostSavingsPerCall   float64 `json:"cost_savings_per_call"`
	AnnualizedSavingsUSD int     `json:"annualized_savings_usd"`
}

// Tokens approximates the token count of text at four characters per
// token, rounded up.
func Tokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// SavingsPct reports the relative token reduction as a percentage,
// clamped to [0, 100]. A zero or negative original count yields 0.
func SavingsPct(tokensOriginal, tokensCompiled int) float64 {
	if tokensOriginal <= 0 {
		return 0
	}
	pct := float64(tokensOriginal-tokensCompiled) / float64(tokensOriginal) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Caps projects standard and compiled token budgets for a packet of
// the given complexity.
func (p Params) Caps(complexity float64) (standard, ucp int) {
	standard = int(math.Round(p.StdCapBase + p.StdCapScale*complexity))
	ucp = int(math.Round(p.UCPCapBase + p.UCPCapScale*complexity))
	return standard, ucp
}

// Estimate builds the full savings projection for one compiled packet.
func (p Params) Estimate(complexity float64) Estimate {
	std, ucp := p.Caps(complexity)
	perRunTokens := std - ucp
	if perRunTokens < 0 {
		perRunTokens = 0
	}
	perRunUSD := float64(perRunTokens) / 1000 * p.DollarsPer1KTokens
	return Estimate{
		StandardCap:          std,
		UCPCap:               ucp,
		SavingsPct:           SavingsPct(std, ucp),
		CostSavingsPerCall:   perRunUSD,
		AnnualizedSavingsUSD: int(math.Round(perRunUSD * float64(p.RunsPerUserPerYear) * float64(p.Users))),
	}
}
