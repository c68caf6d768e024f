package dictionary

// SanitizedStep is the externally visible form of a dictionary step: only
// action and target are exposed, annotated with the originating opcode.
// Internal params never cross this boundary.
type SanitizedStep struct {
	Action string `json:"action"`
	Target string `json:"target"`
	From   string `json:"from"`
}

// MissingCodeWarning reports an opcode that had no active dictionary entry.
// A stale code degrades to a noop step rather than aborting the packet.
type MissingCodeWarning struct {
	Code string `json:"code"`
}

// StepResult pairs one detokenized step with an optional gap warning, so
// callers can tell "ran fine" from "ran with gaps" without string sniffing.
type StepResult struct {
	Step    SanitizedStep       `json:"step"`
	Warning *MissingCodeWarning `json:"warning,omitempty"`
}

// Detokenize expands an ordered opcode list against the dictionary.
// It never fails: unknown codes produce noop results with a warning.
func Detokenize(codes []string, dict Dictionary) []StepResult {
	results := make([]StepResult, 0, len(codes))
	for _, code := range codes {
		entry, ok := dict[code]
		if !ok {
			results = append(results, StepResult{
				Step:    SanitizedStep{Action: "noop", Target: "dictionary", From: code},
				Warning: &MissingCodeWarning{Code: code},
			})
			continue
		}
		for _, step := range entry.Steps {
			results = append(results, StepResult{
				Step: SanitizedStep{Action: step.Action, Target: step.Target, From: code},
			})
		}
	}
	return results
}

// Steps flattens results to their sanitized steps.
func Steps(results []StepResult) []SanitizedStep {
	steps := make([]SanitizedStep, 0, len(results))
	for _, r := range results {
		steps = append(steps, r.Step)
	}
	return steps
}

// Warnings collects the gap warnings from a detokenization pass.
func Warnings(results []StepResult) []MissingCodeWarning {
	var warnings []MissingCodeWarning
	for _, r := range results {
		if r.Warning != nil {
			warnings = append(warnings, *r.Warning)
		}
	}
	return warnings
}
