package api

import (
	"time"

	"dailymed-etl/internal/mapping"
)

// Job kinds accepted by POST /jobs.
const (
	KindScrape = "scrape"
	KindMap    = "map"
)

// Job states.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusFinished  = "finished"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// JobRequest is the body of POST /jobs.
type JobRequest struct {
	Kind string `json:"kind"`
}

// JobResponse is returned after a successful job creation.
type JobResponse struct {
	JobID string `json:"job_id"`
}

// JobStatus represents the runtime state of a launched job.
type JobStatus struct {
	JobID      string     `json:"job_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"` // queued | running | finished | error | cancelled
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Refreshed is set by finished scrape jobs.
	Refreshed *bool `json:"refreshed,omitempty"`
	// Summary is set by finished map jobs.
	Summary *mapping.Summary `json:"summary,omitempty"`
}
