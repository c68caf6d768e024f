package estimator

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestTokens(t *testing.T) {
	assert.Equal(t, 0, Tokens(""))
	assert.Equal(t, 1, Tokens("abc"))
	assert.Equal(t, 1, Tokens("abcd"))
	assert.Equal(t, 2, Tokens("abcde"))
	assert.Equal(t, 25, Tokens(string(make([]byte, 100))))
}

func TestSavingsPctNeverNegative(t *testing.T) {
	// Compiled output larger than the original still reports zero.
	assert.Zero(t, SavingsPct(10, 50))
	assert.Zero(t, SavingsPct(0, 5))
	assert.Zero(t, SavingsPct(-3, 5))
	assert.InDelta(t, 50, SavingsPct(100, 50), 1e-9)
	assert.InDelta(t, 100, SavingsPct(100, 0), 1e-9)
}

func TestCapsScaleWithComplexity(t *testing.T) {
	p := DefaultParams()

	stdLow, ucpLow := p.Caps(0.15)
	stdHigh, ucpHigh := p.Caps(1.0)

	assert.Equal(t, 733, stdLow)
	assert.Equal(t, 34, ucpLow)
	assert.Equal(t, 1200, stdHigh)
	assert.Equal(t, 68, ucpHigh)
	assert.Greater(t, stdHigh, stdLow)
	assert.Greater(t, ucpHigh, ucpLow)
}

func TestEstimateProjection(t *testing.T) {
	p := DefaultParams()
	est := p.Estimate(0.5)

	assert.Equal(t, 925, est.StandardCap)
	assert.Equal(t, 48, est.UCPCap)
	assert.Greater(t, est.SavingsPct, 90.0)
	assert.InDelta(t, float64(925-48)/1000*0.003, est.CostSavingsPerCall, 1e-9)
	assert.Greater(t, est.AnnualizedSavingsUSD, 0)
}

func TestSavingsPctProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("bounded in [0,100]", prop.ForAll(
		func(orig, comp int) bool {
			pct := SavingsPct(orig, comp)
			return pct >= 0 && pct <= 100
		},
		gen.IntRange(-1000, 1000),
		gen.IntRange(-1000, 1000),
	))

	properties.TestingRun(t)
}
