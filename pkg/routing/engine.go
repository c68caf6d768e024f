// Package routing selects an execution model for a request context by
// walking an ordered rule list. First match wins; the engine never calls a
// provider itself, it only decides which model id the caller should use.
package routing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoFallback     = errors.New("routing: no rule matched and no fallback model configured")
	ErrEmptyCondition = errors.New("routing: rule condition has no clauses")
	ErrUnknownModel   = errors.New("routing: rule references unknown model")
)

// FallbackRule is the rule index reported when the fallback model was used.
const FallbackRule = "fallback"

// Model is a static catalog entry used for routing decisions and cost
// estimation only, never execution.
type Model struct {
	ID           string  `json:"id" yaml:"id"`
	Description  string  `json:"description,omitempty" yaml:"description,omitempty"`
	MaxTokens    int     `json:"maxTokens" yaml:"max_tokens"`
	CostScore    float64 `json:"costScore" yaml:"cost_score"`
	QualityScore float64 `json:"qualityScore" yaml:"quality_score"`
}

// Condition is a sealed set of clauses; all present clauses must hold for
// the rule to match. ContainsKeywords matches if any listed keyword appears
// in the prompt, case-insensitive.
type Condition struct {
	PromptLengthLT   *int     `json:"prompt_length_lt,omitempty" yaml:"prompt_length_lt,omitempty"`
	PromptLengthGTE  *int     `json:"prompt_length_gte,omitempty" yaml:"prompt_length_gte,omitempty"`
	ContainsKeywords []string `json:"contains_keywords,omitempty" yaml:"contains_keywords,omitempty"`
}

func (c Condition) empty() bool {
	return c.PromptLengthLT == nil && c.PromptLengthGTE == nil && len(c.ContainsKeywords) == 0
}

// Rule binds a condition to a model choice. Rule order is significant and
// preserved exactly as configured.
type Rule struct {
	Condition   Condition `json:"condition" yaml:"condition"`
	ChooseModel string    `json:"choose_model" yaml:"choose_model"`
}

// Policy is the full routing configuration.
type Policy struct {
	Models        []Model `json:"models" yaml:"models"`
	Rules         []Rule  `json:"rules" yaml:"rules"`
	FallbackModel string  `json:"fallback_model" yaml:"fallback_model"`
}

// Decision reports the chosen model and which rule produced it.
type Decision struct {
	ModelID     string `json:"chosen_model"`
	MatchedRule string `json:"matched_rule"` // "0", "1", ... or "fallback"
	Fallback    bool   `json:"fallback"`
}

// Engine evaluates a validated policy. Read-only after construction, safe
// for concurrent use.
type Engine struct {
	policy Policy
	models map[string]Model
}

// NewEngine validates the policy and builds an engine. Every rule must have
// at least one clause and reference a cataloged model; malformed
// configuration fails fast instead of silently routing to the fallback.
func NewEngine(p Policy) (*Engine, error) {
	models := make(map[string]Model, len(p.Models))
	for _, m := range p.Models {
		models[m.ID] = m
	}
	for i, r := range p.Rules {
		if r.Condition.empty() {
			return nil, fmt.Errorf("%w: rule %d", ErrEmptyCondition, i)
		}
		if _, ok := models[r.ChooseModel]; !ok {
			return nil, fmt.Errorf("%w: rule %d references %q", ErrUnknownModel, i, r.ChooseModel)
		}
	}
	if p.FallbackModel != "" {
		if _, ok := models[p.FallbackModel]; !ok {
			return nil, fmt.Errorf("%w: fallback references %q", ErrUnknownModel, p.FallbackModel)
		}
	}
	return &Engine{policy: p, models: models}, nil
}

// Route walks the rules top to bottom and returns the first match. Later
// rules are never consulted once one matches.
func (e *Engine) Route(prompt string) (*Decision, error) {
	length := len(prompt)
	lower := strings.ToLower(prompt)

	for i, rule := range e.policy.Rules {
		if !matches(rule.Condition, length, lower) {
			continue
		}
		return &Decision{
			ModelID:     rule.ChooseModel,
			MatchedRule: fmt.Sprintf("%d", i),
		}, nil
	}

	if e.policy.FallbackModel == "" {
		return nil, ErrNoFallback
	}
	return &Decision{
		ModelID:     e.policy.FallbackModel,
		MatchedRule: FallbackRule,
		Fallback:    true,
	}, nil
}

// Model looks up a catalog entry by id.
func (e *Engine) Model(id string) (Model, bool) {
	m, ok := e.models[id]
	return m, ok
}

func matches(c Condition, length int, lowerPrompt string) bool {
	if c.PromptLengthLT != nil && !(length < *c.PromptLengthLT) {
		return false
	}
	if c.PromptLengthGTE != nil && !(length >= *c.PromptLengthGTE) {
		return false
	}
	if len(c.ContainsKeywords) > 0 {
		any := false
		for _, kw := range c.ContainsKeywords {
			if strings.Contains(lowerPrompt, strings.ToLower(kw)) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

// DefaultPolicy mirrors the stock two-model router configuration.
func DefaultPolicy() Policy {
	lt := 100
	gte := 400
	return Policy{
		Models: []Model{
			{ID: "fast_model", Description: "Lightweight model for short, simple prompts",
				MaxTokens: 512, CostScore: 1, QualityScore: 7},
			{ID: "smart_model", Description: "Advanced model for complex reasoning",
				MaxTokens: 4096, CostScore: 5, QualityScore: 9},
		},
		Rules: []Rule{
			{Condition: Condition{PromptLengthLT: &lt}, ChooseModel: "fast_model"},
			{Condition: Condition{PromptLengthGTE: &gte}, ChooseModel: "smart_model"},
		},
		FallbackModel: "smart_model",
	}
}
