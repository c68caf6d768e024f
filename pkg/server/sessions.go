package server

import (
	"encoding/json"
	"net/http"

	"github.com/glytch-labs/ucp/core/pkg/api"
	"github.com/glytch-labs/ucp/core/pkg/audit"
	"github.com/glytch-labs/ucp/core/pkg/auth"
	"github.com/glytch-labs/ucp/core/pkg/ledger"
)

// SessionRequest is the body of POST /sessions, dispatching on Action.
type SessionRequest struct {
	Action    string             `json:"action"` // start | list | get | getHopContent | delete | replay | stats | export
	SessionID string             `json:"sessionId,omitempty"`
	HopIndex  int                `json:"hopIndex,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Offset    int                `json:"offset,omitempty"`
	Replay    *ledger.ReplayData `json:"replay,omitempty"` // for start
}

// HandleSessions handles the session manager endpoint. Every action
// requires an authenticated caller; session access enforces
// owner-or-admin inside the ledger service.
func (s *Server) HandleSessions(w http.ResponseWriter, r *http.Request) {
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
	caller := ledger.Caller{ID: principal.GetID(), Admin: principal.IsAdmin()}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	needsSession := req.Action == "get" || req.Action == "getHopContent" ||
		req.Action == "delete" || req.Action == "replay" || req.Action == "export"
	if needsSession && req.SessionID == "" {
		api.WriteBadRequest(w, "sessionId is required for this action")
		return
	}

	switch req.Action {
	case "start":
		sess, serr := s.opts.Ledger.Start(ctx, caller.ID, req.Replay)
		if serr != nil {
			api.WriteInternal(w, serr)
			return
		}
		_ = s.opts.Audit.Record(ctx, audit.EventMutation, audit.ActionSessionStart, sess.ID, nil)
		writeJSON(w, http.StatusCreated, sess)

	case "list":
		sessions, lerr := s.opts.Ledger.List(ctx, caller, req.Limit, req.Offset)
		if lerr != nil {
			api.WriteInternal(w, lerr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})

	case "get":
		sess, hops, gerr := s.opts.Ledger.Get(ctx, caller, req.SessionID)
		if gerr != nil {
			s.writeLedgerError(w, gerr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "hops": hops})

	case "getHopContent":
		hop, herr := s.opts.Ledger.HopContent(ctx, caller, req.SessionID, req.HopIndex)
		if herr != nil {
			s.writeLedgerError(w, herr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hop": hop})

	case "delete":
		if derr := s.opts.Ledger.Delete(ctx, caller, req.SessionID); derr != nil {
			s.writeLedgerError(w, derr)
			return
		}
		_ = s.opts.Audit.Record(ctx, audit.EventMutation, audit.ActionSessionDelete, req.SessionID, nil)
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})

	case "replay":
		snap, rerr := s.opts.Ledger.Replay(ctx, caller, req.SessionID)
		if rerr != nil {
			s.writeLedgerError(w, rerr)
			return
		}
		_ = s.opts.Audit.Record(ctx, audit.EventAccess, audit.ActionSessionReplay, req.SessionID, nil)
		writeJSON(w, http.StatusOK, snap)

	case "stats":
		stats, serr := s.opts.Ledger.Stats(ctx, caller)
		if serr != nil {
			api.WriteInternal(w, serr)
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case "export":
		if s.opts.Exporter == nil {
			api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Session export is not configured")
			return
		}
		sess, hops, gerr := s.opts.Ledger.Get(ctx, caller, req.SessionID)
		if gerr != nil {
			s.writeLedgerError(w, gerr)
			return
		}
		result, xerr := s.opts.Exporter.Export(ctx, caller.ID, sess, hops)
		if xerr != nil {
			api.WriteBadGateway(w, "Object storage upload failed")
			return
		}
		_ = s.opts.Audit.Record(ctx, audit.EventAccess, audit.ActionSessionExport, req.SessionID, map[string]any{
			"key": result.Key,
		})
		writeJSON(w, http.StatusOK, result)

	default:
		api.WriteBadRequest(w, "Unknown action (expected list, get, getHopContent, delete, replay, stats or export)")
	}
}
