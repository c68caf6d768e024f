package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/glytch-labs/ucp/core/pkg/api"
	"github.com/glytch-labs/ucp/core/pkg/audit"
	"github.com/glytch-labs/ucp/core/pkg/auth"
	"github.com/glytch-labs/ucp/core/pkg/compiler"
	"github.com/glytch-labs/ucp/core/pkg/dictionary"
	"github.com/glytch-labs/ucp/core/pkg/estimator"
	"github.com/glytch-labs/ucp/core/pkg/ledger"
	"github.com/glytch-labs/ucp/core/pkg/routing"
)

// CompileRequest is the body of POST /compile. An anonymous caller must
// present an API key instead of a bearer token; an authenticated caller
// may additionally name a session to append the hop trail to.
type CompileRequest struct {
	InputCommand string `json:"inputCommand"`
	APIKey       string `json:"apiKey,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
}

// CompileResponse carries the full pipeline output for one command.
type CompileResponse struct {
	CompiledCodes    []string                        `json:"compiledCodes"`
	IntentPacket     string                          `json:"intentPacket"`
	DetokenizedSteps []dictionary.SanitizedStep      `json:"detokenizedSteps"`
	Warnings         []dictionary.MissingCodeWarning `json:"warnings,omitempty"`
	Complexity       float64                         `json:"complexity"`
	StandardCap      int                             `json:"standardCap"`
	UCPCap           int                             `json:"ucpCap"`
	Routing          *routing.Decision               `json:"routing,omitempty"`
	Estimate         estimator.Estimate              `json:"estimate"`
	AIAssisted       bool                            `json:"aiAssisted,omitempty"`
	SessionID        string                          `json:"sessionId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runPipeline executes compile, detokenize, route and estimate in strict
// sequence. The AI-assisted classifier is consulted only when rule
// matching emits no codes; a classifier failure degrades to the
// deterministic no-match result.
func (s *Server) runPipeline(ctx context.Context, input string) (*CompileResponse, error) {
	res, err := s.opts.Compiler.Compile(input)
	if err != nil {
		return nil, err
	}

	dict, err := s.opts.Dictionary.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	aiAssisted := false
	if len(res.Codes) == 0 && s.opts.Classifier != nil {
		allowed := make([]string, 0, len(dict))
		for code := range dict {
			allowed = append(allowed, code)
		}
		if codes, cerr := s.opts.Classifier.Classify(ctx, res.Input, allowed); cerr == nil && len(codes) > 0 {
			res.Codes = codes
			res.IntentPacket = compiler.PacketString(codes)
			aiAssisted = true
		}
	}

	stepResults := dictionary.Detokenize(res.Codes, dict)

	decision, err := s.opts.Router.Route(res.Input)
	if err != nil {
		return nil, err
	}

	standard, ucp := s.opts.Params.Caps(res.Complexity)
	return &CompileResponse{
		CompiledCodes:    res.Codes,
		IntentPacket:     res.IntentPacket,
		DetokenizedSteps: dictionary.Steps(stepResults),
		Warnings:         dictionary.Warnings(stepResults),
		Complexity:       res.Complexity,
		StandardCap:      standard,
		UCPCap:           ucp,
		Routing:          decision,
		Estimate:         s.opts.Params.Estimate(res.Complexity),
		AIAssisted:       aiAssisted,
	}, nil
}

// HandleCompile handles POST /compile.
func (s *Server) HandleCompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx := r.Context()
	actorID := ""
	principal, perr := auth.GetPrincipal(ctx)
	switch {
	case perr == nil:
		actorID = principal.GetID()
	case req.APIKey != "":
		key, err := s.opts.Authority.Validate(ctx, req.APIKey, nil)
		if err != nil {
			s.writeKeyRejection(ctx, w, err)
			return
		}
		actorID = key.OwnerID
	default:
		api.WriteUnauthorized(w, "A bearer token or apiKey is required")
		return
	}

	if s.opts.Compiler == nil || s.opts.Router == nil {
		api.WriteError(w, http.StatusInternalServerError, "Internal Server Error", "Config not initialized")
		return
	}

	start := time.Now()
	resp, err := s.runPipeline(ctx, req.InputCommand)
	if err != nil {
		if errors.Is(err, compiler.ErrEmptyInput) || errors.Is(err, compiler.ErrTooLong) {
			api.WriteBadRequest(w, err.Error())
			return
		}
		api.WriteInternal(w, err)
		return
	}

	if req.SessionID != "" {
		if perr != nil {
			api.WriteUnauthorized(w, "Appending to a session requires a bearer token")
			return
		}
		if err := s.appendHops(ctx, principal, req.SessionID, req.InputCommand, resp, time.Since(start)); err != nil {
			s.writeLedgerError(w, err)
			return
		}
		resp.SessionID = req.SessionID
	}

	_ = s.opts.Audit.Record(ctx, audit.EventAccess, audit.ActionCompile, resp.IntentPacket, map[string]any{
		"actor":      actorID,
		"codes":      resp.CompiledCodes,
		"complexity": resp.Complexity,
		"aiAssisted": resp.AIAssisted,
	})
	_ = s.opts.Audit.Record(ctx, audit.EventAccess, audit.ActionRoute, resp.Routing.ModelID, map[string]any{
		"matchedRule": resp.Routing.MatchedRule,
		"fallback":    resp.Routing.Fallback,
	})

	writeJSON(w, http.StatusOK, resp)
}

// appendHops records the raw prompt and the compiled packet on the named
// session. Ownership is checked before the first append.
func (s *Server) appendHops(ctx context.Context, principal auth.Principal, sessionID, input string, resp *CompileResponse, elapsed time.Duration) error {
	caller := ledger.Caller{ID: principal.GetID(), Admin: principal.IsAdmin()}
	if _, _, err := s.opts.Ledger.Get(ctx, caller, sessionID); err != nil {
		return err
	}

	latency := elapsed.Milliseconds()
	cost := float64(resp.UCPCap) / 1000 * s.opts.Params.DollarsPer1KTokens
	if _, err := s.opts.Ledger.Append(ctx, sessionID, ledger.HopRawPrompt, input,
		estimator.Tokens(input), 0, latency, 0); err != nil {
		return err
	}
	_, err := s.opts.Ledger.Append(ctx, sessionID, ledger.HopPacket, resp.IntentPacket,
		estimator.Tokens(input), estimator.Tokens(resp.IntentPacket), latency, cost)
	return err
}
