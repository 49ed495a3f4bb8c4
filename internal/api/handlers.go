package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxRequestBody = 1 << 20

// handleJobs acts as a multiplexer: POST creates new job, other verbs not allowed.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createJob(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobByID routes GET and DELETE for specific job IDs.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	// Expected path: /jobs/{id}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		http.Error(w, "job id missing", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getJob(w, id)
	case http.MethodDelete:
		s.cancelJob(w, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// createJob handles POST /jobs
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req JobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch req.Kind {
	case KindScrape, KindMap:
	default:
		http.Error(w, fmt.Sprintf("kind must be %q or %q", KindScrape, KindMap), http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.jobs[jobID] = &jobEntry{
		status: &JobStatus{
			JobID:     jobID,
			Kind:      req.Kind,
			Status:    StatusQueued,
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runJob(ctx, jobID, req.Kind)
	}()

	writeJSON(w, http.StatusAccepted, JobResponse{JobID: jobID})
}

// runJob executes one cycle of the requested kind and records the outcome.
func (s *Server) runJob(ctx context.Context, jobID, kind string) {
	if !s.update(jobID, func(st *JobStatus) { st.Status = StatusRunning }) {
		return
	}

	switch kind {
	case KindScrape:
		refreshed, err := s.runner.RunScrapeCycle(ctx)
		if err != nil {
			s.markJobError(jobID, err)
			return
		}
		s.markJobFinished(jobID, func(st *JobStatus) { st.Refreshed = &refreshed })

	case KindMap:
		task, err := s.runner.RunMappingCycle(ctx)
		if err != nil {
			s.markJobError(jobID, err)
			return
		}
		summary, err := task.Wait(context.Background())
		if err != nil {
			s.markJobError(jobID, err)
			return
		}
		s.markJobFinished(jobID, func(st *JobStatus) { st.Summary = &summary })
	}
}

// getJob handles GET /jobs/{id}
func (s *Server) getJob(w http.ResponseWriter, id string) {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	var status JobStatus
	if ok {
		status = *entry.status
	}
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// cancelJob handles DELETE /jobs/{id}
func (s *Server) cancelJob(w http.ResponseWriter, id string) {
	s.mu.Lock()
	entry, ok := s.jobs[id]
	if ok && !isTerminal(entry.status.Status) {
		entry.status.Status = StatusCancelled
		finished := time.Now()
		entry.status.FinishedAt = &finished
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	entry.cancel()
	w.WriteHeader(http.StatusNoContent)
}

// markJobError sets the status of the job to error with the provided err.
func (s *Server) markJobError(jobID string, err error) {
	if errors.Is(err, context.Canceled) {
		s.log.WithField("job_id", jobID).Info("job cancelled")
	} else {
		s.log.WithField("job_id", jobID).WithError(err).Error("job failed")
	}
	s.finish(jobID, func(st *JobStatus) {
		st.Status = StatusError
		st.Error = err.Error()
	})
}

func (s *Server) markJobFinished(jobID string, set func(*JobStatus)) {
	s.finish(jobID, func(st *JobStatus) {
		st.Status = StatusFinished
		set(st)
	})
}

// finish records a terminal state unless the job was cancelled first.
func (s *Server) finish(jobID string, set func(*JobStatus)) {
	s.update(jobID, func(st *JobStatus) {
		set(st)
		finished := time.Now()
		st.FinishedAt = &finished
	})
}

// update applies fn to the job status under the lock. It reports false when
// the job is unknown or already cancelled.
func (s *Server) update(jobID string, fn func(*JobStatus)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok || entry.status.Status == StatusCancelled {
		return false
	}
	fn(entry.status)
	return true
}

func isTerminal(status string) bool {
	switch status {
	case StatusFinished, StatusError, StatusCancelled:
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
