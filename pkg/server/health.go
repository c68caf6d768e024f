package server

import (
	"encoding/json"
	"net/http"
)

// HandleHealthz reports liveness.
func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleReadiness reports whether the pipeline configuration is loaded.
func (s *Server) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	code := http.StatusOK
	if s.opts.Compiler == nil || s.opts.Router == nil {
		status = "config not loaded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
