package api

import (
	"encoding/json"
	"net/http"
)

// handleLLMStats reports rolling rewrite-call latency aggregates.
func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats())
}
