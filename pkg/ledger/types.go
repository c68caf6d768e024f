// Package ledger records sessions and their hops as an append-only,
// hash-chained audit trail.
//
// Each hop's hash is sha256(prevHash + content); the session's chain_hash
// always equals the hash of its latest hop. Hops are never edited or
// removed once written, only appended.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// GenesisHash seeds every session's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Hop types in compile order.
const (
	HopRawPrompt        = "RAW_PROMPT"
	HopNormalizedPrompt = "NORMALIZED_PROMPT"
	HopPacket           = "UCP_PACKET"
)

// Session statuses.
const (
	StatusCompiling = "compiling"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
)

var (
	ErrSessionNotFound = errors.New("ledger: session not found")
	ErrHopNotFound     = errors.New("ledger: hop not found")
	ErrNotOwner        = errors.New("ledger: caller does not own this session")
)

// ReplayData is the minimal original-input snapshot needed to re-issue an
// equivalent packet deterministically.
type ReplayData struct {
	RawPrompt        string `json:"raw_prompt"`
	NormalizedPrompt string `json:"normalized_prompt,omitempty"`
	IntentPacket     string `json:"intent_packet,omitempty"`
	ModelID          string `json:"model_id,omitempty"`
	MaxTokens        int    `json:"max_tokens,omitempty"`
}

// Session aggregates an ordered hop chain with running totals.
type Session struct {
	ID                string      `json:"id"`
	OwnerID           string      `json:"owner_id"`
	Status            string      `json:"status"`
	ChainHash         string      `json:"chain_hash"`
	HopCount          int         `json:"hop_count"`
	TotalTokens       int         `json:"total_tokens"`
	TotalCostEstimate float64     `json:"total_cost_estimate"`
	TotalLatencyMS    int64       `json:"total_latency_ms"`
	ReplayData        *ReplayData `json:"replay_data,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Hop is one immutable execution step within a session.
type Hop struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	HopIndex       int            `json:"hop_index"`
	HopType        string         `json:"hop_type"`
	Content        string         `json:"content"`
	TokensIn       int            `json:"tokens_in"`
	TokensOut      int            `json:"tokens_out"`
	LatencyMS      int64          `json:"latency_ms"`
	Score          int            `json:"score"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown"`
	Hash           string         `json:"sha256_hash"`
	PrevHash       string         `json:"prev_hash"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ReplaySnapshot tags replay data back to its provenance.
type ReplaySnapshot struct {
	SessionID string     `json:"session_id"`
	ChainHash string     `json:"chain_hash"`
	Replay    ReplayData `json:"replay"`
}

// Stats aggregates over a caller's sessions.
type Stats struct {
	SessionCount   int        `json:"session_count"`
	TotalTokens    int        `json:"total_tokens"`
	TotalCost      float64    `json:"total_cost_estimate"`
	AvgLatencyMS   float64    `json:"avg_latency_ms"`
	AvgHopScore    float64    `json:"avg_hop_score"`
	TotalHops      int        `json:"total_hops"`
	ChainIntactPct float64    `json:"chain_intact_pct"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// ChainHash computes a hop hash from its predecessor and content.
func ChainHash(prevHash, content string) string {
	h := sha256.Sum256([]byte(prevHash + content))
	return hex.EncodeToString(h[:])
}
