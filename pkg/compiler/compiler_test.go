package compiler

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRuleset() Ruleset {
	return Ruleset{
		MaxInputLen: 1000,
		Rules: []Rule{
			{ID: "r-sum", Keywords: []string{"summar"}, Mode: ModeAny, Emit: []string{"SUM-1"}},
			{ID: "r-rpt", Keywords: []string{"report", "email"}, Mode: ModeAll, Emit: []string{"GEN-RPT", "SND-EML"}},
			{ID: "r-sum2", Keywords: []string{"summar"}, Mode: ModeAny, Emit: []string{"SUM-1", "SUM-2"}},
		},
	}
}

func TestCompileSingleMatch(t *testing.T) {
	c, err := New(testRuleset())
	require.NoError(t, err)

	res, err := c.Compile("please summarize this report")
	require.NoError(t, err)

	assert.Equal(t, []string{"SUM-1", "SUM-2"}, res.Codes)
	assert.Equal(t, "UCP::EXEC::[SUM-1]::[SUM-2]", res.IntentPacket)
}

func TestCompileNoMatch(t *testing.T) {
	c, err := New(testRuleset())
	require.NoError(t, err)

	res, err := c.Compile("xyz")
	require.NoError(t, err)

	assert.Empty(t, res.Codes)
	assert.Equal(t, "UCP::EXEC::[NO-MATCH]", res.IntentPacket)
}

func TestCompileModeAll(t *testing.T) {
	c, err := New(testRuleset())
	require.NoError(t, err)

	// Only one of the two "all" keywords present: rule must not fire.
	res, err := c.Compile("send the report")
	require.NoError(t, err)
	assert.NotContains(t, res.Codes, "GEN-RPT")

	res, err = c.Compile("email the quarterly report")
	require.NoError(t, err)
	assert.Equal(t, []string{"GEN-RPT", "SND-EML"}, res.Codes)
}

func TestCompileStableDeduplication(t *testing.T) {
	c, err := New(testRuleset())
	require.NoError(t, err)

	// r-sum fires first and claims SUM-1; r-sum2 contributes only SUM-2.
	res, err := c.Compile("summarize it")
	require.NoError(t, err)
	assert.Equal(t, []string{"SUM-1", "SUM-2"}, res.Codes)
	assert.Equal(t, []string{"r-sum", "r-sum2"}, res.MatchedRules)
}

func TestCompileCaseInsensitive(t *testing.T) {
	c, err := New(testRuleset())
	require.NoError(t, err)

	res, err := c.Compile("SUMMARIZE THE REPORT")
	require.NoError(t, err)
	assert.Contains(t, res.Codes, "SUM-1")
}

func TestCompileValidation(t *testing.T) {
	c, err := New(Ruleset{MaxInputLen: 20})
	require.NoError(t, err)

	_, err = c.Compile("   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = c.Compile(strings.Repeat("a", 21))
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	c, err := New(Ruleset{
		Normalization: []NormalizationRule{{Pattern: `please\s+`, Replacement: ""}},
	})
	require.NoError(t, err)

	assert.Equal(t, "summarize this", c.Normalize("  Please   summarize \t this  "))
}

func TestComplexityBounds(t *testing.T) {
	c, err := New(Ruleset{MaxInputLen: 8000})
	require.NoError(t, err)

	short, err := c.Compile("x")
	require.NoError(t, err)
	long, err := c.Compile(strings.Repeat("analyze generate summarize create ", 100))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, short.Complexity, 0.15)
	assert.LessOrEqual(t, long.Complexity, 1.0)
	assert.Greater(t, long.Complexity, short.Complexity)
}

func TestComplexityDoesNotAffectCodes(t *testing.T) {
	c, err := New(testRuleset())
	require.NoError(t, err)

	a, err := c.Compile("summarize")
	require.NoError(t, err)
	b, err := c.Compile("summarize and analyze and generate and create")
	require.NoError(t, err)

	assert.Equal(t, a.Codes, b.Codes)
	assert.NotEqual(t, a.Complexity, b.Complexity)
}

// Determinism: for any input, two compile calls yield identical output.
func TestCompileDeterministicProperty(t *testing.T) {
	c, err := New(testRuleset())
	require.NoError(t, err)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("compile twice is identical", prop.ForAll(
		func(text string) bool {
			first, err1 := c.Compile(text)
			second, err2 := c.Compile(text)
			if err1 != nil || err2 != nil {
				return (err1 == nil) == (err2 == nil)
			}
			if first.IntentPacket != second.IntentPacket {
				return false
			}
			if len(first.Codes) != len(second.Codes) {
				return false
			}
			for i := range first.Codes {
				if first.Codes[i] != second.Codes[i] {
					return false
				}
			}
			return first.Complexity == second.Complexity
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
