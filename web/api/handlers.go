package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/clipforge/orchestrator/internal/batch"
	"github.com/clipforge/orchestrator/internal/checkpoint"
	"github.com/clipforge/orchestrator/internal/domain"
	"github.com/clipforge/orchestrator/internal/pipeline"
)

// CreateBatchRequest is the POST /api/batches payload
type CreateBatchRequest struct {
	Name     string               `json:"name"`
	Projects []domain.ProjectSpec `json:"projects"`
	Settings domain.Settings      `json:"settings"`
}

// CreateBatchResponse acknowledges a created batch
type CreateBatchResponse struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
	Status  string `json:"status"`
}

// BatchResponse is the aggregate batch view
type BatchResponse struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Status         string                `json:"status"`
	TotalCount     int                   `json:"total_count"`
	CompletedCount int                   `json:"completed_count"`
	FailedCount    int                   `json:"failed_count"`
	Projects       []batch.ProjectStatus `json:"projects,omitempty"`
}

// ProjectResponse is the single-project checkpoint view
type ProjectResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	BatchID  string `json:"batch_id,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func batchToResponse(b *domain.Batch, members []batch.ProjectStatus) BatchResponse {
	return BatchResponse{
		ID:             b.ID,
		Name:           b.Name,
		Status:         string(b.Status),
		TotalCount:     b.TotalCount,
		CompletedCount: b.CompletedCount,
		FailedCount:    b.FailedCount,
		Projects:       members,
	}
}

func checkpointToResponse(cp *checkpoint.Checkpoint) ProjectResponse {
	resp := ProjectResponse{
		ID:       cp.ProjectID,
		Name:     cp.Name,
		Status:   string(cp.Stage),
		Progress: pipeline.Progress(cp.Stage),
		BatchID:  cp.BatchID,
	}
	if cp.Stage == domain.StageCompleted {
		resp.VideoURL = cp.Artifacts[domain.ArtifactUpload]
	}
	if cp.LastError != nil {
		resp.Error = cp.LastError.Message
	}
	return resp
}

// batchesHandler serves POST (create) and GET (list) on /api/batches
func (s *Server) batchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req CreateBatchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
			b, err := s.coord.CreateBatch(req.Name, req.Projects, req.Settings)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(CreateBatchResponse{
				BatchID: b.ID,
				Total:   b.TotalCount,
				Status:  string(b.Status),
			})

		case http.MethodGet:
			batches, err := s.coord.ListBatches()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			resp := make([]BatchResponse, 0, len(batches))
			for _, b := range batches {
				resp = append(resp, batchToResponse(b, nil))
			}
			writeJSON(w, resp)

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// batchHandler serves /api/batches/{id} and /api/batches/{id}/{action}
func (s *Server) batchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/batches/")
		id, action, _ := strings.Cut(path, "/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "batch ID required")
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			b, members, err := s.coord.Status(id)
			if err != nil {
				writeError(w, http.StatusNotFound, "batch not found")
				return
			}
			writeJSON(w, batchToResponse(b, members))

		case action == "pause" && r.Method == http.MethodPost:
			if err := s.coord.Pause(id); err != nil {
				writeError(w, http.StatusNotFound, "batch not found")
				return
			}
			writeJSON(w, map[string]string{"status": "paused"})

		case action == "resume" && r.Method == http.MethodPost:
			if err := s.coord.Resume(id); err != nil {
				writeError(w, http.StatusNotFound, "batch not found")
				return
			}
			writeJSON(w, map[string]string{"status": "resumed"})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// projectHandler serves GET /api/projects/{id}
func (s *Server) projectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/projects/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "project ID required")
			return
		}

		cp, err := s.store.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeJSON(w, checkpointToResponse(cp))
	}
}

// quotaHandler serves GET /api/quota: usage for every known service
func (s *Server) quotaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.ledger == nil {
			writeJSON(w, []interface{}{})
			return
		}

		services := s.ledger.Services()
		out := make([]interface{}, 0, len(services))
		for _, svc := range services {
			u, err := s.ledger.Usage(svc)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			out = append(out, u)
		}
		writeJSON(w, out)
	}
}

// quotaServiceHandler serves GET /api/quota/{service}
func (s *Server) quotaServiceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.ledger == nil {
			writeError(w, http.StatusNotFound, "quota tracking disabled")
			return
		}

		svc := strings.TrimPrefix(r.URL.Path, "/api/quota/")
		u, err := s.ledger.Usage(svc)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, u)
	}
}
