// Package api exposes the orchestrator over HTTP: batch management,
// quota usage and a WebSocket progress stream per project.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/clipforge/orchestrator/internal/batch"
	"github.com/clipforge/orchestrator/internal/checkpoint"
	"github.com/clipforge/orchestrator/internal/progress"
	"github.com/clipforge/orchestrator/internal/quota"
)

// Server is the HTTP API server
type Server struct {
	coord  *batch.Coordinator
	store  checkpoint.Store
	ledger *quota.Ledger
	hub    *progress.Hub
	addr   string
	mux    *http.ServeMux
}

// NewServer creates a new API server. ledger may be nil when quotas are
// not configured.
func NewServer(coord *batch.Coordinator, store checkpoint.Store, ledger *quota.Ledger, hub *progress.Hub, addr string) *Server {
	s := &Server{
		coord:  coord,
		store:  store,
		ledger: ledger,
		hub:    hub,
		addr:   addr,
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/batches", s.batchesHandler())
	s.mux.HandleFunc("/api/batches/", s.batchHandler())
	s.mux.HandleFunc("/api/projects/", s.projectHandler())
	s.mux.HandleFunc("/api/quota", s.quotaHandler())
	s.mux.HandleFunc("/api/quota/", s.quotaServiceHandler())
	s.mux.HandleFunc("/ws/projects/", s.progressHandler())
}

// Handler exposes the routed mux, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server. Blocks.
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
