package ledger

import (
	"encoding/json"
	"math"
)

// ScoreBreakdown itemizes a hop's quality score. Each component is the
// number of points retained out of its bucket.
type ScoreBreakdown struct {
	TokenEfficiency int `json:"token_efficiency"` // of 30
	LatencyPenalty  int `json:"latency_penalty"`  // of 20 (points lost)
	ContextPressure int `json:"context_pressure"` // of 30 (points lost)
	ParseValidity   int `json:"parse_validity"`   // of 20
}

// ScoreHop rates one hop 0-100: token efficiency, latency, context-window
// pressure, and packet parse validity.
func ScoreHop(hopType, content string, tokensIn, tokensOut int, latencyMS int64, contextWindow int) (int, ScoreBreakdown) {
	if contextWindow <= 0 {
		contextWindow = 4096
	}
	score := 100.0
	var bd ScoreBreakdown

	totalTokens := float64(tokensIn + tokensOut)

	tokenEfficiency := math.Max(0, 30-totalTokens/100)
	bd.TokenEfficiency = int(math.Round(tokenEfficiency))
	score -= 30 - tokenEfficiency

	latencyPenalty := math.Min(20, float64(latencyMS)/500)
	bd.LatencyPenalty = int(math.Round(latencyPenalty))
	score -= latencyPenalty

	pressurePenalty := math.Min(30, totalTokens/float64(contextWindow)*50)
	bd.ContextPressure = int(math.Round(pressurePenalty))
	score -= pressurePenalty

	if hopType == HopPacket {
		var parsed map[string]any
		switch {
		case json.Unmarshal([]byte(content), &parsed) != nil:
			bd.ParseValidity = 0
			score -= 20
		case parsed["intent_packet"] != nil && parsed["detokenized_steps"] != nil:
			bd.ParseValidity = 20
		default:
			bd.ParseValidity = 10
			score -= 10
		}
	} else {
		bd.ParseValidity = 20
	}

	final := int(math.Round(math.Max(0, math.Min(100, score))))
	return final, bd
}
