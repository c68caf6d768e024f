// Package compiler turns free-text intent into an ordered opcode list and a
// canonical UCP packet string.
//
// Compilation is pure: identical (text, ruleset) inputs always produce
// identical output. Nothing here reads the clock, randomness, or the network.
package compiler

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// Rule matching modes.
const (
	ModeAll = "all" // every keyword must appear
	ModeAny = "any" // at least one keyword must appear
)

// PacketPrefix is the canonical header of every compiled intent packet.
const PacketPrefix = "UCP::EXEC"

// NoMatchToken is emitted when no rule matched the input.
const NoMatchToken = "[NO-MATCH]"

var (
	ErrEmptyInput = errors.New("compiler: input command is empty")
	ErrTooLong    = errors.New("compiler: input command exceeds maximum length")
)

// Rule maps keywords found in the input to emitted opcodes.
// Rules are evaluated in configured order; order is significant.
type Rule struct {
	ID       string   `json:"id" yaml:"id"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Mode     string   `json:"mode" yaml:"mode"` // "all" | "any"; empty means "any"
	Emit     []string `json:"emit" yaml:"emit"`
}

// NormalizationRule rewrites the input before rule matching.
type NormalizationRule struct {
	Pattern     string `json:"pattern" yaml:"pattern"`
	Replacement string `json:"replacement" yaml:"replacement"`
}

// Ruleset is the full, ordered compile configuration.
type Ruleset struct {
	Rules         []Rule              `json:"rules" yaml:"rules"`
	Normalization []NormalizationRule `json:"normalization,omitempty" yaml:"normalization,omitempty"`
	MaxInputLen   int                 `json:"max_input_len" yaml:"max_input_len"`
	HintVerbs     []string            `json:"hint_verbs,omitempty" yaml:"hint_verbs,omitempty"`
}

// DefaultHintVerbs are the action verbs that raise the complexity score.
// Derived from the stock intent classifier categories.
var DefaultHintVerbs = []string{
	"analyze", "generate", "summarize", "create", "write", "explain",
	"translate", "convert", "review", "evaluate", "email", "schedule",
}

// Result is the immutable output of one compile call.
type Result struct {
	Input        string   `json:"inputCommand"`
	Codes        []string `json:"compiledCodes"`
	IntentPacket string   `json:"intentPacket"`
	Complexity   float64  `json:"complexity"`
	MatchedRules []string `json:"matchedRules,omitempty"`
}

// Compiler evaluates a fixed ruleset. Safe for concurrent use: all state is
// read-only after construction.
type Compiler struct {
	ruleset   Ruleset
	normRe    []*regexp.Regexp
	hintVerbs []string
}

// New builds a Compiler, pre-compiling normalization patterns.
// Invalid normalization patterns are a configuration error.
func New(rs Ruleset) (*Compiler, error) {
	if rs.MaxInputLen <= 0 {
		rs.MaxInputLen = 1000
	}
	c := &Compiler{
		ruleset:   rs,
		hintVerbs: rs.HintVerbs,
	}
	if len(c.hintVerbs) == 0 {
		c.hintVerbs = DefaultHintVerbs
	}
	for _, nr := range rs.Normalization {
		re, err := regexp.Compile("(?i)" + nr.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiler: normalization pattern %q: %w", nr.Pattern, err)
		}
		c.normRe = append(c.normRe, re)
	}
	return c, nil
}

// Normalize trims the input and applies the configured rewrite rules,
// then collapses runs of whitespace to single spaces.
func (c *Compiler) Normalize(text string) string {
	out := strings.TrimSpace(text)
	for i, re := range c.normRe {
		out = re.ReplaceAllString(out, c.ruleset.Normalization[i].Replacement)
	}
	return strings.Join(strings.Fields(out), " ")
}

// Compile evaluates the ruleset against the input and returns the ordered,
// de-duplicated opcode list plus the canonical packet string.
func (c *Compiler) Compile(text string) (*Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyInput
	}
	if len(trimmed) > c.ruleset.MaxInputLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLong, len(trimmed), c.ruleset.MaxInputLen)
	}

	normalized := c.Normalize(trimmed)
	haystack := fold(normalized)

	var codes []string
	var matched []string
	seen := make(map[string]bool)

	for _, rule := range c.ruleset.Rules {
		if !c.ruleMatches(rule, haystack) {
			continue
		}
		matched = append(matched, rule.ID)
		for _, code := range rule.Emit {
			if seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, code)
		}
	}

	return &Result{
		Input:        trimmed,
		Codes:        codes,
		IntentPacket: PacketString(codes),
		Complexity:   c.complexity(normalized, haystack),
		MatchedRules: matched,
	}, nil
}

func (c *Compiler) ruleMatches(rule Rule, haystack string) bool {
	if len(rule.Keywords) == 0 {
		return false
	}
	switch rule.Mode {
	case ModeAll:
		for _, kw := range rule.Keywords {
			if !strings.Contains(haystack, fold(kw)) {
				return false
			}
		}
		return true
	default: // ModeAny
		for _, kw := range rule.Keywords {
			if strings.Contains(haystack, fold(kw)) {
				return true
			}
		}
		return false
	}
}

// complexity is a bounded proxy for prompt richness. It scales token budgets
// only; it never changes which opcodes are emitted.
func (c *Compiler) complexity(normalized, haystack string) float64 {
	verbs := 0
	for _, v := range c.hintVerbs {
		if strings.Contains(haystack, fold(v)) {
			verbs++
		}
	}
	score := 0.25 + math.Min(float64(len(normalized)), 240)/400 + 0.12*float64(verbs)
	return clamp(score, 0.15, 1.0)
}

// PacketString renders the canonical intent packet for an opcode list.
func PacketString(codes []string) string {
	if len(codes) == 0 {
		return PacketPrefix + "::" + NoMatchToken
	}
	parts := make([]string, 0, len(codes)+1)
	parts = append(parts, PacketPrefix)
	for _, code := range codes {
		parts = append(parts, "["+code+"]")
	}
	return strings.Join(parts, "::")
}

// fold lowercases with full Unicode case folding. A fresh Caser per call:
// cases.Caser is stateful and not safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
