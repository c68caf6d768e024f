package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/glytch-labs/ucp/core/pkg/api"
	"github.com/glytch-labs/ucp/core/pkg/audit"
	"github.com/glytch-labs/ucp/core/pkg/auth"
	"github.com/glytch-labs/ucp/core/pkg/ledger"
	"github.com/glytch-labs/ucp/core/pkg/signer"
)

// SignRequest is the body of POST /sign.
type SignRequest struct {
	Packet json.RawMessage `json:"packet"`
	APIKey string          `json:"apiKey"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Packet    json.RawMessage `json:"packet"`
	Signature string          `json:"signature"`
	APIKey    string          `json:"apiKey"`
}

// VerifyResponse reports the boolean outcome. Error carries the key
// rejection reason when validation failed before any HMAC comparison.
type VerifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// packetOps is the slice of a packet the authority needs: the declared
// operation tree, from which required permissions are derived.
type packetOps struct {
	Operations []signer.Operation `json:"operations"`
}

func decodePacket(raw json.RawMessage) (any, []signer.Operation, error) {
	if len(raw) == 0 {
		return nil, nil, errors.New("packet is required")
	}
	var packet any
	if err := json.Unmarshal(raw, &packet); err != nil {
		return nil, nil, errors.New("packet is not valid JSON")
	}
	var ops packetOps
	_ = json.Unmarshal(raw, &ops)
	return packet, ops.Operations, nil
}

// writeKeyRejection maps a key validation failure onto an HTTP status and
// records a security audit event. Non-validation errors stay internal.
func (s *Server) writeKeyRejection(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *signer.ValidationError
	if !errors.As(err, &verr) {
		api.WriteInternal(w, err)
		return
	}

	_ = s.opts.Audit.Record(ctx, audit.EventSecurity, audit.ActionKeyRejected, "", map[string]any{
		"reason": string(verr.Reason),
	})

	switch verr.Reason {
	case signer.ReasonInvalidFormat:
		api.WriteErrorCode(w, http.StatusBadRequest, "Bad Request", "API key format is invalid", string(verr.Reason))
	case signer.ReasonNotFound:
		api.WriteErrorCode(w, http.StatusUnauthorized, "Unauthorized", "API key not recognized", string(verr.Reason))
	case signer.ReasonRateLimited:
		w.Header().Set("Retry-After", fmt.Sprintf("%d", verr.Reset))
		api.WriteErrorCode(w, http.StatusTooManyRequests, "Too Many Requests", "API key rate limit exceeded", string(verr.Reason))
	default:
		api.WriteErrorCode(w, http.StatusForbidden, "Forbidden", "API key rejected", string(verr.Reason))
	}
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrSessionNotFound):
		api.WriteNotFound(w, "Session not found")
	case errors.Is(err, ledger.ErrHopNotFound):
		api.WriteNotFound(w, "Hop not found")
	case errors.Is(err, ledger.ErrNotOwner):
		api.WriteForbidden(w, "You do not own this session")
	default:
		api.WriteInternal(w, err)
	}
}

// HandleSign handles POST /sign.
func (s *Server) HandleSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	packet, ops, err := decodePacket(req.Packet)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	if req.APIKey == "" {
		api.WriteBadRequest(w, "apiKey is required")
		return
	}

	ctx := r.Context()
	key, err := s.opts.Authority.Validate(ctx, req.APIKey, ops)
	if err != nil {
		s.writeKeyRejection(ctx, w, err)
		return
	}

	env, err := signer.Sign(packet, req.APIKey)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	_ = s.opts.Audit.Record(ctx, audit.EventAccess, audit.ActionSign, key.KeyPrefix, map[string]any{
		"owner": key.OwnerID,
	})
	writeJSON(w, http.StatusOK, env)
}

// HandleVerify handles POST /verify. Key rejections are part of the
// verification outcome, not transport errors: a revoked key yields
// {valid:false, error:"REVOKED"} with a 200.
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	packet, ops, err := decodePacket(req.Packet)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	if req.APIKey == "" || req.Signature == "" {
		api.WriteBadRequest(w, "apiKey and signature are required")
		return
	}

	ctx := r.Context()
	if _, err := s.opts.Authority.Validate(ctx, req.APIKey, ops); err != nil {
		var verr *signer.ValidationError
		if errors.As(err, &verr) {
			_ = s.opts.Audit.Record(ctx, audit.EventSecurity, audit.ActionKeyRejected, "", map[string]any{
				"reason": string(verr.Reason),
			})
			writeJSON(w, http.StatusOK, VerifyResponse{Valid: false, Error: string(verr.Reason)})
			return
		}
		api.WriteInternal(w, err)
		return
	}

	valid := signer.Verify(packet, req.Signature, req.APIKey)
	_ = s.opts.Audit.Record(ctx, audit.EventAccess, audit.ActionVerify, "", map[string]any{
		"valid": valid,
	})
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: valid})
}

// KeyRequest is the body of POST /keys, dispatching on Action.
type KeyRequest struct {
	Action      string   `json:"action"` // issue | revoke | list
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	RateLimit   int      `json:"rateLimit,omitempty"`
	ExpiresAt   string   `json:"expiresAt,omitempty"` // RFC 3339
	KeyID       string   `json:"keyId,omitempty"`
	OwnerID     string   `json:"ownerId,omitempty"` // admin only
}

// keyView is the externally visible form of a key. The stored hash never
// crosses this boundary.
type keyView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	KeyPrefix   string     `json:"keyPrefix"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rateLimit"`
	UsageCount  int64      `json:"usageCount"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func viewOf(k *signer.Key) keyView {
	return keyView{
		ID:          k.ID,
		Name:        k.Name,
		KeyPrefix:   k.KeyPrefix,
		Permissions: k.Permissions,
		RateLimit:   k.RateLimit,
		UsageCount:  k.UsageCount,
		LastUsedAt:  k.LastUsedAt,
		Status:      k.Status,
		ExpiresAt:   k.ExpiresAt,
		CreatedAt:   k.CreatedAt,
	}
}

// HandleKeys handles POST /keys for the authenticated caller's keys.
func (s *Server) HandleKeys(w http.ResponseWriter, r *http.Request) {
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
	var req KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ownerID := principal.GetID()
	if req.OwnerID != "" && req.OwnerID != ownerID {
		if !principal.IsAdmin() {
			api.WriteForbidden(w, "Only admins may manage another owner's keys")
			return
		}
		ownerID = req.OwnerID
	}

	switch req.Action {
	case "issue":
		if req.Name == "" {
			api.WriteBadRequest(w, "name is required")
			return
		}
		rateLimit := req.RateLimit
		if rateLimit <= 0 {
			rateLimit = 1000
		}
		var expiresAt *time.Time
		if req.ExpiresAt != "" {
			t, perr := time.Parse(time.RFC3339, req.ExpiresAt)
			if perr != nil {
				api.WriteBadRequest(w, "expiresAt must be RFC 3339")
				return
			}
			expiresAt = &t
		}
		key, raw, ierr := s.opts.Authority.Issue(ctx, ownerID, req.Name, req.Permissions, rateLimit, expiresAt)
		if ierr != nil {
			api.WriteInternal(w, ierr)
			return
		}
		_ = s.opts.Audit.Record(ctx, audit.EventMutation, audit.ActionKeyIssued, key.ID, map[string]any{
			"owner": ownerID, "name": req.Name,
		})
		writeJSON(w, http.StatusCreated, map[string]any{
			"key":    viewOf(key),
			"rawKey": raw, // shown exactly once
		})

	case "revoke":
		if req.KeyID == "" {
			api.WriteBadRequest(w, "keyId is required")
			return
		}
		keys, lerr := s.opts.Authority.Keys(ctx, ownerID)
		if lerr != nil {
			api.WriteInternal(w, lerr)
			return
		}
		for _, k := range keys {
			if k.ID != req.KeyID {
				continue
			}
			if rerr := s.opts.Authority.Revoke(ctx, k); rerr != nil {
				api.WriteInternal(w, rerr)
				return
			}
			_ = s.opts.Audit.Record(ctx, audit.EventSecurity, audit.ActionKeyRevoked, k.ID, map[string]any{
				"owner": ownerID,
			})
			writeJSON(w, http.StatusOK, map[string]any{"key": viewOf(k)})
			return
		}
		api.WriteNotFound(w, "Key not found")

	case "list":
		keys, lerr := s.opts.Authority.Keys(ctx, ownerID)
		if lerr != nil {
			api.WriteInternal(w, lerr)
			return
		}
		views := make([]keyView, 0, len(keys))
		for _, k := range keys {
			views = append(views, viewOf(k))
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": views})

	default:
		api.WriteBadRequest(w, "Unknown action (expected issue, revoke or list)")
	}
}
