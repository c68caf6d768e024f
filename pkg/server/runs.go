package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/glytch-labs/ucp/core/pkg/api"
	"github.com/glytch-labs/ucp/core/pkg/audit"
	"github.com/glytch-labs/ucp/core/pkg/auth"
	"github.com/glytch-labs/ucp/core/pkg/compiler"
	"github.com/glytch-labs/ucp/core/pkg/runs"
)

// HandleRuns handles POST /runs (compile and persist) and GET /runs
// (paged list, newest first).
func (s *Server) HandleRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.GetPrincipal(ctx)
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r, principal.GetID())
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		records, lerr := s.opts.Runs.List(ctx, principal.GetID(), limit, offset)
		if lerr != nil {
			api.WriteInternal(w, lerr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": records})
	default:
		api.WriteMethodNotAllowed(w)
	}
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request, ownerID string) {
	if s.opts.Compiler == nil || s.opts.Router == nil {
		api.WriteError(w, http.StatusInternalServerError, "Internal Server Error", "Config not initialized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx := r.Context()
	resp, err := s.runPipeline(ctx, req.InputCommand)
	if err != nil {
		if errors.Is(err, compiler.ErrEmptyInput) || errors.Is(err, compiler.ErrTooLong) {
			api.WriteBadRequest(w, err.Error())
			return
		}
		api.WriteInternal(w, err)
		return
	}

	res := &compiler.Result{
		Input:        strings.TrimSpace(req.InputCommand),
		Codes:        resp.CompiledCodes,
		IntentPacket: resp.IntentPacket,
		Complexity:   resp.Complexity,
	}
	record, err := s.opts.Runs.Create(ctx, ownerID, res, resp.DetokenizedSteps)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	_ = s.opts.Audit.Record(ctx, audit.EventMutation, audit.ActionCompile, record.ID, map[string]any{
		"owner": ownerID,
		"codes": record.CompiledCodes,
	})
	writeJSON(w, http.StatusCreated, record)
}

// HandleRunByID handles GET /runs/{id}.
func (s *Server) HandleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}

	ctx := r.Context()
	principal, err := auth.GetPrincipal(ctx)
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" || strings.Contains(id, "/") {
		api.WriteNotFound(w, "Run not found")
		return
	}

	record, err := s.opts.Runs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			api.WriteNotFound(w, "Run not found")
			return
		}
		api.WriteInternal(w, err)
		return
	}

	// Not-found rather than forbidden: run ids are not probeable.
	if record.OwnerID != principal.GetID() && !principal.IsAdmin() {
		api.WriteNotFound(w, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}
