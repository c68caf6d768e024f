package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Classifier asks a model to pick opcodes for prompts the rule compiler
// could not match. Its output is advisory: unknown codes are dropped and
// an empty answer leaves the packet at NO-MATCH.
type Classifier struct {
	client Client
}

func NewClassifier(client Client) *Classifier {
	return &Classifier{client: client}
}

const classifierSystemPrompt = `You map a user command onto opcodes from a fixed dictionary.
Reply with a JSON array of opcode strings from the allowed list, best match first.
Reply [] if nothing applies. No prose.`

// Classify returns dictionary codes for the prompt, restricted to the
// allowed set. Deterministic sampling (temperature 0, fixed seed) keeps
// repeated calls stable.
func (c *Classifier) Classify(ctx context.Context, prompt string, allowedCodes []string) ([]string, error) {
	if c.client == nil {
		return nil, nil
	}

	sorted := append([]string(nil), allowedCodes...)
	sort.Strings(sorted)

	resp, err := c.client.Chat(ctx, []Message{
		{Role: "system", Content: classifierSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Allowed: %s\nCommand: %s", strings.Join(sorted, ", "), prompt)},
	}, &SamplingOptions{Temperature: 0, Seed: 42, MaxTokens: 128})
	if err != nil {
		return nil, fmt.Errorf("llm: classify: %w", err)
	}

	var picked []string
	content := strings.TrimSpace(resp.Content)
	// Tolerate fenced output from chatty models.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &picked); err != nil {
		return nil, fmt.Errorf("llm: classify: unparseable answer: %w", err)
	}

	allowed := make(map[string]bool, len(allowedCodes))
	for _, code := range allowedCodes {
		allowed[code] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, code := range picked {
		if allowed[code] && !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out, nil
}
