// Package server wires the UCP runtime pipeline behind an HTTP surface:
// compile, sign/verify, run records, session ledger, dictionary admin.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/glytch-labs/ucp/core/pkg/audit"
	"github.com/glytch-labs/ucp/core/pkg/auth"
	"github.com/glytch-labs/ucp/core/pkg/compiler"
	"github.com/glytch-labs/ucp/core/pkg/dictionary"
	"github.com/glytch-labs/ucp/core/pkg/estimator"
	"github.com/glytch-labs/ucp/core/pkg/export"
	"github.com/glytch-labs/ucp/core/pkg/kernel"
	"github.com/glytch-labs/ucp/core/pkg/ledger"
	"github.com/glytch-labs/ucp/core/pkg/llm"
	"github.com/glytch-labs/ucp/core/pkg/routing"
	"github.com/glytch-labs/ucp/core/pkg/runs"
	"github.com/glytch-labs/ucp/core/pkg/signer"
)

const maxBodyBytes = 1 << 20 // 1MB limit

// Exporter uploads a session bundle to object storage.
type Exporter interface {
	Export(ctx context.Context, actorID string, sess *ledger.Session, hops []*ledger.Hop) (*export.Result, error)
}

// Options carries every collaborator the server needs. Compiler, Router
// and Dictionary come from the loaded profile; nil Compiler or Router
// means the profile failed to load and the pipeline endpoints report a
// configuration error rather than guessing.
type Options struct {
	Compiler   *compiler.Compiler
	Dictionary *dictionary.Service
	Router     *routing.Engine
	Authority  *signer.Authority
	Ledger     *ledger.Service
	Runs       *runs.Service
	Params     estimator.Params
	Audit      audit.Logger
	Classifier *llm.Classifier // nil disables AI-assisted fallback
	Exporter   Exporter        // nil disables the session export action
	Limiter    kernel.LimiterStore
	Validator  *auth.JWTValidator

	// ActorPolicy is the per-actor request window applied after
	// authentication. Zero Limit disables it.
	ActorPolicy kernel.WindowPolicy
	// ThrottleRPS is the process-wide request ceiling. Zero disables it.
	ThrottleRPS   float64
	ThrottleBurst int
}

// Server is the HTTP surface of the runtime.
type Server struct {
	opts Options
}

// NewServer creates a server. A nil Audit logger is replaced with a nop.
func NewServer(opts Options) *Server {
	if opts.Audit == nil {
		opts.Audit = audit.Nop()
	}
	return &Server{opts: opts}
}

// Handler builds the full middleware chain and route table.
//
// Order: request-id, process throttle, then per-route authentication and
// the per-actor window. The actor window runs after auth so counters key
// on the principal rather than the remote address.
func (s *Server) Handler() http.Handler {
	required := auth.NewMiddleware(s.opts.Validator)
	optional := auth.NewOptionalMiddleware(s.opts.Validator)

	var actorWindow func(http.Handler) http.Handler
	if s.opts.ActorPolicy.Limit > 0 {
		actorWindow = auth.RateLimitMiddleware(s.opts.Limiter, s.opts.ActorPolicy)
	} else {
		actorWindow = func(next http.Handler) http.Handler { return next }
	}

	route := func(mw func(http.Handler) http.Handler, h http.HandlerFunc) http.Handler {
		return mw(actorWindow(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HandleHealthz)
	mux.HandleFunc("/readiness", s.HandleReadiness)
	mux.Handle("/compile", route(optional, s.HandleCompile))
	mux.Handle("/sign", route(optional, s.HandleSign))
	mux.Handle("/verify", route(optional, s.HandleVerify))
	mux.Handle("/runs", route(required, s.HandleRuns))
	mux.Handle("/runs/", route(required, s.HandleRunByID))
	mux.Handle("/sessions", route(required, s.HandleSessions))
	mux.Handle("/dictionary", route(required, s.HandleDictionary))
	mux.Handle("/keys", route(required, s.HandleKeys))

	var h http.Handler = mux
	if s.opts.ThrottleRPS > 0 {
		h = auth.ThrottleMiddleware(s.opts.ThrottleRPS, s.opts.ThrottleBurst)(h)
	}
	return auth.RequestIDMiddleware(h)
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
