package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rflorenc/jenkins-workbench/internal/models"
)

// ListJobs lists the async build, inventory and copy-job jobs, newest first.
// The type, connection_id and status query parameters narrow the list.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobs := []*models.Job{}
	for _, job := range s.Jobs.List() {
		if t := q.Get("type"); t != "" && job.Type != t {
			continue
		}
		if c := q.Get("connection_id"); c != "" && job.ConnectionID != c {
			continue
		}
		if st := q.Get("status"); st != "" && job.CurrentStatus() != st {
			continue
		}
		jobs = append(jobs, job)
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob cancels a running job. Build jobs withdraw their queue item or
// stop the running build; copy jobs stop before the next job.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Done() {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	job.AppendLog("CANCELLED: stopped by user")
	job.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
