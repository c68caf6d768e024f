package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/glytch-labs/ucp/core/pkg/api"
	"github.com/glytch-labs/ucp/core/pkg/audit"
	"github.com/glytch-labs/ucp/core/pkg/auth"
	"github.com/glytch-labs/ucp/core/pkg/dictionary"
)

// DictionaryRequest is the body of POST /dictionary, dispatching on Action.
type DictionaryRequest struct {
	Action string            `json:"action"` // list | get | create | update | deactivate | seed
	ID     string            `json:"id,omitempty"`
	Entry  *dictionary.Entry `json:"entry,omitempty"`
}

// HandleDictionary handles dictionary administration. Reads are open to
// any authenticated caller; mutations require the admin role.
func (s *Server) HandleDictionary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	ctx := r.Context()
	principal, err := auth.GetPrincipal(ctx)
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req DictionaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	mutating := req.Action == "create" || req.Action == "update" ||
		req.Action == "deactivate" || req.Action == "seed"
	if mutating && !principal.IsAdmin() {
		api.WriteForbidden(w, "Dictionary mutation requires the admin role")
		return
	}
	actor := principal.GetID()

	switch req.Action {
	case "list":
		entries, lerr := s.opts.Dictionary.List(ctx)
		if lerr != nil {
			api.WriteInternal(w, lerr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})

	case "get":
		if req.ID == "" {
			api.WriteBadRequest(w, "id is required")
			return
		}
		entry, gerr := s.opts.Dictionary.Get(ctx, req.ID)
		if gerr != nil {
			s.writeDictionaryError(w, gerr)
			return
		}
		writeJSON(w, http.StatusOK, entry)

	case "create":
		if req.Entry == nil {
			api.WriteBadRequest(w, "entry is required")
			return
		}
		entry, cerr := s.opts.Dictionary.Create(ctx, req.Entry, actor)
		if cerr != nil {
			s.writeDictionaryError(w, cerr)
			return
		}
		s.auditDictionary(ctx, "create", entry.Code)
		writeJSON(w, http.StatusCreated, entry)

	case "update":
		if req.ID == "" || req.Entry == nil {
			api.WriteBadRequest(w, "id and entry are required")
			return
		}
		entry, uerr := s.opts.Dictionary.Update(ctx, req.ID, req.Entry, actor)
		if uerr != nil {
			s.writeDictionaryError(w, uerr)
			return
		}
		s.auditDictionary(ctx, "update", entry.Code)
		writeJSON(w, http.StatusOK, entry)

	case "deactivate":
		if req.ID == "" {
			api.WriteBadRequest(w, "id is required")
			return
		}
		entry, derr := s.opts.Dictionary.Deactivate(ctx, req.ID, actor)
		if derr != nil {
			s.writeDictionaryError(w, derr)
			return
		}
		s.auditDictionary(ctx, "deactivate", entry.Code)
		writeJSON(w, http.StatusOK, entry)

	case "seed":
		n, serr := s.opts.Dictionary.Seed(ctx, actor)
		if serr != nil {
			api.WriteInternal(w, serr)
			return
		}
		s.auditDictionary(ctx, "seed", "")
		writeJSON(w, http.StatusOK, map[string]any{"seeded": n})

	default:
		api.WriteBadRequest(w, "Unknown action (expected list, get, create, update, deactivate or seed)")
	}
}

func (s *Server) auditDictionary(ctx context.Context, op, code string) {
	_ = s.opts.Audit.Record(ctx, audit.EventMutation, audit.ActionDictionaryWrite, code, map[string]any{
		"op": op,
	})
}

func (s *Server) writeDictionaryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dictionary.ErrNotFound):
		api.WriteNotFound(w, "Dictionary entry not found")
	case errors.Is(err, dictionary.ErrDuplicateCode):
		api.WriteErrorCode(w, http.StatusConflict, "Conflict", "An entry with this code already exists", "DUPLICATE_CODE")
	case errors.Is(err, dictionary.ErrInvalidCategory), errors.Is(err, dictionary.ErrMissingFields):
		api.WriteBadRequest(w, err.Error())
	default:
		api.WriteInternal(w, err)
	}
}
